package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/matsen/annot/internal/annotation"
	"github.com/matsen/annot/internal/importer"
	"github.com/matsen/annot/internal/notes"
	"github.com/matsen/annot/internal/transcript"
	"github.com/matsen/annot/internal/workspace"
)

// Session is a State bound to a workspace store. Every command is applied
// with the pure reducer and its dirty records are scheduled for writing.
type Session struct {
	store  *workspace.Store
	logger *zap.Logger
	state  State
}

// Open loads a transcript's records. Each record loads independently. A
// record that cannot be decoded is logged, reported as a warning and replaced
// by its empty fallback; lost notes are rebuilt from the rows' note ids, and
// a corrupt annotation record is regenerated from the codebook. Only backend
// failures are returned.
func Open(ctx context.Context, store *workspace.Store, transcriptID string, logger *zap.Logger) (*Session, []string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{store: store, logger: logger.With(zap.String("transcript", transcriptID))}

	var warnings []string
	recoverable := func(record string, err error) bool {
		if !errors.Is(err, workspace.ErrCorruptRecord) {
			return false
		}
		s.logger.Warn("ignoring unreadable record", zap.String("record", record), zap.Error(err))
		warnings = append(warnings, fmt.Sprintf("%s record is unreadable and was reset: %v", record, err))
		return true
	}

	rows, err := store.LoadTable(ctx, transcriptID)
	tableLost := err != nil
	if tableLost && !recoverable(workspace.RecordTable, err) {
		return nil, nil, err
	}
	if err := transcript.Validate(rows); err != nil {
		s.logger.Warn("renumbering table rows", zap.Error(err))
		rows = transcript.Renumber(rows)
	}

	cb, err := store.LoadCodebook(ctx)
	if err != nil {
		if !recoverable(workspace.CodebookKey, err) {
			return nil, nil, fmt.Errorf("loading codebook: %w", err)
		}
		cb = nil
	}

	set, err := store.LoadAnnotations(ctx, transcriptID, len(rows))
	if err != nil {
		return nil, nil, fmt.Errorf("loading annotations: %w", err)
	}

	ns, err := store.LoadNotes(ctx, transcriptID, rows)
	if err != nil {
		if !recoverable(workspace.RecordNotes, err) {
			return nil, nil, fmt.Errorf("loading notes: %w", err)
		}
		ns = notes.Recover(rows)
	}

	annotators, err := store.LoadAnnotators(ctx, transcriptID)
	if err != nil {
		if !recoverable(workspace.RecordAnnotators, err) {
			return nil, nil, fmt.Errorf("loading annotators: %w", err)
		}
		annotators = nil
	}

	s.state = State{
		TranscriptID: transcriptID,
		Codebook:     cb,
		Annotations:  set,
		Notes:        ns,
		Annotators:   annotators,
	}

	// Without a table the stored annotations cannot be sized, so they are
	// left unwritten until rows are loaded again.
	if cb != nil && !tableLost {
		res, err := s.Do(Reconcile{})
		if err != nil {
			return nil, nil, err
		}
		warnings = append(warnings, res.warningStrings()...)
	}
	return s, warnings, nil
}

// State returns the current state snapshot.
func (s *Session) State() State {
	return s.state
}

// Do applies cmd and schedules writes for whatever it changed. Persistence
// trouble never fails a command; it comes back as a Result warning.
func (s *Session) Do(cmd Command) (Result, error) {
	next, res, err := Apply(s.state, cmd)
	if err != nil {
		return res, err
	}
	s.state = next

	for _, rec := range res.Dirty {
		w, err := s.persist(rec)
		if err != nil {
			return res, err
		}
		if w != nil {
			res.Warnings = append(res.Warnings, importer.Warning{Message: w.String()})
		}
	}
	if len(res.Dirty) > 0 {
		s.logger.Debug("applied command", zap.String("command", fmt.Sprintf("%T", cmd)), zap.Strings("dirty", res.Dirty))
	}
	return res, nil
}

func (s *Session) persist(record string) (*workspace.Warning, error) {
	id := s.state.TranscriptID
	switch record {
	case DirtyAnnotations:
		return s.store.SaveAnnotations(id, s.state.Annotations)
	case DirtyNotes:
		return s.store.SaveNotes(id, s.state.Notes)
	case DirtyTable:
		return s.store.SaveTable(id, s.state.Rows())
	case DirtyAnnotators:
		return s.store.SaveAnnotators(id, s.state.Annotators)
	case DirtyCodebook:
		return s.store.SaveCodebook(s.state.Codebook)
	default:
		return nil, fmt.Errorf("unknown record %q", record)
	}
}

// Flush writes pending records now.
func (s *Session) Flush(ctx context.Context) error {
	return s.store.Flush(ctx)
}

// Annotations returns the current annotation set.
func (s *Session) Annotations() annotation.Set {
	return s.state.Annotations
}

func (r Result) warningStrings() []string {
	out := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		out[i] = w.String()
	}
	return out
}
