package cloud

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"
)

// memObjects is an in-memory Objects.
type memObjects map[string][]byte

func (m memObjects) Put(_ context.Context, key string, data []byte, _ string) error {
	m[key] = append([]byte(nil), data...)
	return nil
}

func (m memObjects) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m memObjects) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func TestAnnotationKey(t *testing.T) {
	if got := AnnotationKey("t1", "alice"); got != "transcripts/t1/annotations/alice.xlsx" {
		t.Errorf("AnnotationKey() = %q", got)
	}
}

func TestRepo_PushListPull(t *testing.T) {
	ctx := context.Background()
	objs := memObjects{}
	r := NewRepo(objs, nil)

	for _, id := range []string{"bob", "alice"} {
		if _, err := r.Push(ctx, "t1", id, []byte("wb-"+id)); err != nil {
			t.Fatalf("Push(%s) error = %v", id, err)
		}
	}
	r.Push(ctx, "t2", "carol", []byte("x"))
	objs["transcripts/t1/annotations/readme.txt"] = []byte("ignored")
	objs["transcripts/t1/annotations/old/dave.xlsx"] = []byte("ignored")

	ids, err := r.ListAnnotators(ctx, "t1")
	if err != nil {
		t.Fatalf("ListAnnotators() error = %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"alice", "bob"}) {
		t.Errorf("ListAnnotators() = %v", ids)
	}

	data, err := r.Pull(ctx, "t1", "alice")
	if err != nil || string(data) != "wb-alice" {
		t.Errorf("Pull() = %q, %v", data, err)
	}
	if _, err := r.Pull(ctx, "t1", "zed"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Pull(missing) error = %v, want ErrNotFound", err)
	}

	all, err := r.PullAll(ctx, "t1", "bob")
	if err != nil {
		t.Fatalf("PullAll() error = %v", err)
	}
	if len(all) != 1 || all[0].AnnotatorID != "alice" || all[0].Filename != "alice.xlsx" {
		t.Errorf("PullAll() = %+v", all)
	}
}

func TestRepo_InvalidIDs(t *testing.T) {
	ctx := context.Background()
	r := NewRepo(memObjects{}, nil)
	for _, id := range []string{"", "a/b", "..", `a\b`} {
		if _, err := r.Push(ctx, "t1", id, nil); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Push(annotator %q) error = %v, want ErrInvalidID", id, err)
		}
		if _, err := r.ListAnnotators(ctx, id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("ListAnnotators(%q) error = %v, want ErrInvalidID", id, err)
		}
	}
}

func TestOpenBucket_NeedsEndpoint(t *testing.T) {
	if _, err := OpenBucket(context.Background(), Options{Bucket: "b"}); err == nil {
		t.Error("OpenBucket() without endpoint should fail")
	}
}
