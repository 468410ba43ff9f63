// Package workspace persists a transcript's logical records (table,
// annotations, notes, note allocator, imported annotators) as independent
// keys on a storage backend, so a corrupt record never takes the others
// down with it.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matsen/annot/internal/annotation"
	"github.com/matsen/annot/internal/codebook"
	"github.com/matsen/annot/internal/compact"
	"github.com/matsen/annot/internal/importer"
	"github.com/matsen/annot/internal/notes"
	"github.com/matsen/annot/internal/storage"
	"github.com/matsen/annot/internal/transcript"
)

// Record names. A record's key is "<transcript>/<record>".
const (
	RecordTable         = "table"
	RecordTableChunks   = "table.chunks"
	RecordAnnotations   = "annotations"
	RecordNotes         = "notes"
	RecordNoteAllocator = "note-allocator"
	RecordAnnotators    = "annotators"

	// CodebookKey is the repository-wide codebook record.
	CodebookKey = "codebook"
)

// Defaults for Options.
const (
	DefaultChunkSize        = 4 << 20
	DefaultAnnotationWindow = time.Second
	DefaultTableWindow      = 3 * time.Second
)

// ErrCorruptRecord marks a record that exists but cannot be decoded. The
// other records of the transcript are unaffected.
var ErrCorruptRecord = errors.New("corrupt record")

// Key returns the storage key of a transcript record.
func Key(transcriptID, record string) string {
	return transcriptID + "/" + record
}

// Options configures a Store. Zero fields take the defaults.
type Options struct {
	ChunkSize        int
	AnnotationWindow time.Duration
	TableWindow      time.Duration
	Logger           *zap.Logger
}

// Store reads records directly from the backend and writes them through a
// debounced storage.Writer.
type Store struct {
	backend storage.Backend
	writer  *storage.Writer
	logger  *zap.Logger
	opts    Options
}

// Warning reports that persistence is degraded. The in-memory state is
// still valid; it just will not survive the session.
type Warning struct {
	Record  string `json:"record"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return w.Record + ": " + w.Message
}

// New returns a Store over backend.
func New(backend storage.Backend, opts Options) *Store {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.AnnotationWindow <= 0 {
		opts.AnnotationWindow = DefaultAnnotationWindow
	}
	if opts.TableWindow <= 0 {
		opts.TableWindow = DefaultTableWindow
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Store{backend: backend, logger: opts.Logger, opts: opts}
	s.writer = storage.NewWriter(&chunkingSink{backend: backend, chunkSize: opts.ChunkSize}, opts.Logger)
	return s
}

// Flush writes everything pending.
func (s *Store) Flush(ctx context.Context) error {
	return s.writer.Flush(ctx)
}

// Close flushes pending writes and closes the backend.
func (s *Store) Close(ctx context.Context) error {
	err := s.writer.Close(ctx)
	if cerr := s.backend.Close(); err == nil {
		err = cerr
	}
	return err
}

// Degraded returns a warning once a write has exceeded the storage quota.
func (s *Store) Degraded() *Warning {
	if err := s.writer.Degraded(); err != nil {
		return &Warning{Record: "storage", Message: "persistence degraded, changes are kept in memory only: " + err.Error()}
	}
	return nil
}

func (s *Store) schedule(key string, v any, window time.Duration) (*Warning, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.scheduleRaw(key, data, window), nil
}

func (s *Store) scheduleRaw(key string, data []byte, window time.Duration) *Warning {
	if w := s.Degraded(); w != nil {
		w.Record = key
		return w
	}
	s.writer.Schedule(key, data, window)
	return nil
}

// get reads a record. A missing record returns (nil, nil).
func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.backend.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// LoadTable reads a transcript's rows, reassembling chunks when the table
// was stored in pieces. A missing table returns nil rows.
func (s *Store) LoadTable(ctx context.Context, transcriptID string) ([]transcript.Line, error) {
	data, err := readChunked(ctx, s.backend, Key(transcriptID, RecordTable))
	if err != nil || data == nil {
		return nil, err
	}
	var lines []transcript.Line
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, fmt.Errorf("%w: table of %s: %v", ErrCorruptRecord, transcriptID, err)
	}
	return lines, nil
}

// SaveTable schedules a table write on the table window.
func (s *Store) SaveTable(transcriptID string, lines []transcript.Line) (*Warning, error) {
	return s.schedule(Key(transcriptID, RecordTable), lines, s.opts.TableWindow)
}

// LoadAnnotations restores the annotation set for a table of n rows. A
// missing record returns nil. A corrupt record is logged and also returns
// nil, so the caller regenerates from the codebook.
func (s *Store) LoadAnnotations(ctx context.Context, transcriptID string, n int) (annotation.Set, error) {
	key := Key(transcriptID, RecordAnnotations)
	data, err := s.get(ctx, key)
	if err != nil || data == nil {
		return nil, err
	}
	set, err := compact.Restore(data, n)
	if errors.Is(err, annotation.ErrStructuralCorruption) {
		s.logger.Warn("discarding corrupt annotation record", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return set, err
}

// SaveAnnotations compacts the set and schedules it on the annotation
// window. Quota failures never surface as errors; once the backend is full
// the returned Warning says the session is memory-only.
func (s *Store) SaveAnnotations(transcriptID string, set annotation.Set) (*Warning, error) {
	data, err := compact.Encode(set)
	if err != nil {
		return nil, err
	}
	return s.scheduleRaw(Key(transcriptID, RecordAnnotations), data, s.opts.AnnotationWindow), nil
}

// LoadNotes reads the notes and allocator records and upgrades them to the
// current schema against rows. With no notes record the rows' legacy note
// titles, if any, are migrated. A notes record that cannot be decoded or
// upgraded returns ErrCorruptRecord; notes.Recover rebuilds from the rows.
func (s *Store) LoadNotes(ctx context.Context, transcriptID string, rows []transcript.Line) (notes.State, error) {
	doc := notes.Document{Version: notes.V0}

	data, err := s.get(ctx, Key(transcriptID, RecordNotes))
	if err != nil {
		return notes.State{}, err
	}
	if data != nil {
		if err := json.Unmarshal(data, &doc); err != nil {
			return notes.State{}, fmt.Errorf("%w: notes of %s: %v", ErrCorruptRecord, transcriptID, err)
		}
	}

	allocData, err := s.get(ctx, Key(transcriptID, RecordNoteAllocator))
	if err != nil {
		return notes.State{}, err
	}
	if allocData != nil {
		var alloc notes.Allocator
		if err := json.Unmarshal(allocData, &alloc); err != nil {
			s.logger.Warn("rebuilding unreadable note allocator", zap.String("transcript", transcriptID), zap.Error(err))
			doc.Version = min(doc.Version, notes.V1)
		} else {
			doc.Allocator = &alloc
		}
	} else if doc.Version == notes.CurrentVersion {
		doc.Version = notes.V1
	}

	doc.Rows = rows
	doc, err = notes.Upgrade(doc)
	if err != nil {
		return notes.State{}, fmt.Errorf("%w: notes of %s: %v", ErrCorruptRecord, transcriptID, err)
	}
	return doc.State(), nil
}

// SaveNotes schedules the notes, allocator and table records. The table is
// included because note ids live on its rows.
func (s *Store) SaveNotes(transcriptID string, st notes.State) (*Warning, error) {
	doc := notes.Document{Version: notes.CurrentVersion, Notes: st.Notes}
	if doc.Notes == nil {
		doc.Notes = []notes.Note{}
	}
	if w, err := s.schedule(Key(transcriptID, RecordNotes), doc, s.opts.AnnotationWindow); w != nil || err != nil {
		return w, err
	}
	if w, err := s.schedule(Key(transcriptID, RecordNoteAllocator), st.Alloc, s.opts.AnnotationWindow); w != nil || err != nil {
		return w, err
	}
	return s.SaveTable(transcriptID, st.Rows)
}

// LoadAnnotators reads the imported annotators of a transcript.
func (s *Store) LoadAnnotators(ctx context.Context, transcriptID string) ([]importer.AnnotatorData, error) {
	data, err := s.get(ctx, Key(transcriptID, RecordAnnotators))
	if err != nil || data == nil {
		return nil, err
	}
	var out []importer.AnnotatorData
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: annotators of %s: %v", ErrCorruptRecord, transcriptID, err)
	}
	return out, nil
}

// SaveAnnotators schedules the imported annotators record.
func (s *Store) SaveAnnotators(transcriptID string, annotators []importer.AnnotatorData) (*Warning, error) {
	if annotators == nil {
		annotators = []importer.AnnotatorData{}
	}
	return s.schedule(Key(transcriptID, RecordAnnotators), annotators, s.opts.AnnotationWindow)
}

// LoadCodebook reads the repository codebook. A missing codebook returns
// nil.
func (s *Store) LoadCodebook(ctx context.Context) (*codebook.Codebook, error) {
	data, err := s.get(ctx, CodebookKey)
	if err != nil || data == nil {
		return nil, err
	}
	cb, err := codebook.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, CodebookKey, err)
	}
	return cb, nil
}

// SaveCodebook schedules the codebook record.
func (s *Store) SaveCodebook(cb *codebook.Codebook) (*Warning, error) {
	return s.schedule(CodebookKey, cb, s.opts.AnnotationWindow)
}

// Transcripts lists the ids of transcripts that have a stored table.
func (s *Store) Transcripts(ctx context.Context) ([]string, error) {
	keys, err := s.backend.Keys(ctx, "")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, k := range keys {
		id, record, ok := strings.Cut(k, "/")
		if !ok {
			continue
		}
		if record == RecordTable || record == RecordTableChunks {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// Clear removes every record of a transcript. Pending writes are flushed
// first so none lands afterwards.
func (s *Store) Clear(ctx context.Context, transcriptID string) error {
	if err := s.writer.Flush(ctx); err != nil {
		return err
	}
	keys, err := s.backend.Keys(ctx, transcriptID+"/")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.backend.Remove(ctx, k); err != nil {
			return err
		}
	}
	s.logger.Info("cleared transcript", zap.String("transcript", transcriptID), zap.Int("records", len(keys)))
	return nil
}
