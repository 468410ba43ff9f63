// Package cloud shares annotation workbooks through S3-compatible object
// storage. Each rater pushes their exported workbook under the transcript,
// and any rater can pull the others' workbooks to import them.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// ContentType of pushed workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// ErrInvalidID is returned for ids that cannot be used in an object key.
var ErrInvalidID = errors.New("invalid id for object key")

// Objects is the object store the Repo works against.
type Objects interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// AnnotationKey returns the object key of an annotator's workbook.
func AnnotationKey(transcriptID, annotatorID string) string {
	return annotationPrefix(transcriptID) + annotatorID + ".xlsx"
}

func annotationPrefix(transcriptID string) string {
	return "transcripts/" + transcriptID + "/annotations/"
}

func checkID(kind, id string) error {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return fmt.Errorf("%w: %s %q", ErrInvalidID, kind, id)
	}
	return nil
}

// Repo pushes and pulls annotation workbooks.
type Repo struct {
	objects Objects
	logger  *zap.Logger
}

// NewRepo returns a Repo over objects. A nil logger logs nothing.
func NewRepo(objects Objects, logger *zap.Logger) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{objects: objects, logger: logger}
}

// Push uploads an annotator's workbook, replacing any earlier push, and
// returns its key.
func (r *Repo) Push(ctx context.Context, transcriptID, annotatorID string, workbook []byte) (string, error) {
	if err := checkID("transcript", transcriptID); err != nil {
		return "", err
	}
	if err := checkID("annotator", annotatorID); err != nil {
		return "", err
	}
	key := AnnotationKey(transcriptID, annotatorID)
	if err := r.objects.Put(ctx, key, workbook, ContentType); err != nil {
		return "", fmt.Errorf("pushing %s: %w", key, err)
	}
	r.logger.Info("pushed workbook", zap.String("key", key), zap.Int("bytes", len(workbook)))
	return key, nil
}

// ListAnnotators returns the ids of annotators with a pushed workbook for
// the transcript, sorted.
func (r *Repo) ListAnnotators(ctx context.Context, transcriptID string) ([]string, error) {
	if err := checkID("transcript", transcriptID); err != nil {
		return nil, err
	}
	prefix := annotationPrefix(transcriptID)
	keys, err := r.objects.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	var ids []string
	for _, k := range keys {
		name := strings.TrimPrefix(k, prefix)
		if strings.Contains(name, "/") || path.Ext(name) != ".xlsx" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".xlsx"))
	}
	slices.Sort(ids)
	return ids, nil
}

// Pull downloads an annotator's workbook.
func (r *Repo) Pull(ctx context.Context, transcriptID, annotatorID string) ([]byte, error) {
	if err := checkID("transcript", transcriptID); err != nil {
		return nil, err
	}
	if err := checkID("annotator", annotatorID); err != nil {
		return nil, err
	}
	key := AnnotationKey(transcriptID, annotatorID)
	data, err := r.objects.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("pulling %s: %w", key, err)
	}
	r.logger.Debug("pulled workbook", zap.String("key", key), zap.Int("bytes", len(data)))
	return data, nil
}

// Workbook is a pulled workbook and the filename it imports under.
type Workbook struct {
	AnnotatorID string
	Filename    string
	Data        []byte
}

// PullAll downloads every workbook pushed for the transcript except those
// whose annotator id is in skip.
func (r *Repo) PullAll(ctx context.Context, transcriptID string, skip ...string) ([]Workbook, error) {
	ids, err := r.ListAnnotators(ctx, transcriptID)
	if err != nil {
		return nil, err
	}
	var out []Workbook
	for _, id := range ids {
		if slices.Contains(skip, id) {
			continue
		}
		data, err := r.Pull(ctx, transcriptID, id)
		if err != nil {
			return out, err
		}
		out = append(out, Workbook{AnnotatorID: id, Filename: id + ".xlsx", Data: data})
	}
	return out, nil
}
