package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

// backends returns one fresh instance of every backend kind with the given
// quota.
func backends(t *testing.T, maxBytes int64) map[string]Backend {
	t.Helper()
	ctx := context.Background()

	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "annot.db"), maxBytes)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	mr := miniredis.RunT(t)
	rdb, err := OpenRedis(ctx, "redis://"+mr.Addr(), "test:", maxBytes)
	if err != nil {
		t.Fatalf("OpenRedis() error = %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	return map[string]Backend{
		"memory": NewMemory(maxBytes),
		"sqlite": sqlite,
		"redis":  rdb,
	}
}

func TestBackend_CRUD(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t, 0) {
		t.Run(name, func(t *testing.T) {
			if _, err := b.Get(ctx, "t1/notes"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get() missing key error = %v, want ErrNotFound", err)
			}

			for _, k := range []string{"t1/notes", "t1/annotations", "t2/notes"} {
				if err := b.Set(ctx, k, []byte("v-"+k)); err != nil {
					t.Fatalf("Set(%s) error = %v", k, err)
				}
			}
			if err := b.Set(ctx, "t1/notes", []byte("updated")); err != nil {
				t.Fatalf("Set() overwrite error = %v", err)
			}

			got, err := b.Get(ctx, "t1/notes")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(got) != "updated" {
				t.Errorf("Get() = %q, want updated", got)
			}

			keys, err := b.Keys(ctx, "t1/")
			if err != nil {
				t.Fatalf("Keys() error = %v", err)
			}
			if !reflect.DeepEqual(keys, []string{"t1/annotations", "t1/notes"}) {
				t.Errorf("Keys(t1/) = %v", keys)
			}

			if err := b.Remove(ctx, "t1/notes"); err != nil {
				t.Fatalf("Remove() error = %v", err)
			}
			if _, err := b.Get(ctx, "t1/notes"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() after Remove error = %v, want ErrNotFound", err)
			}
			if err := b.Remove(ctx, "never-set"); err != nil {
				t.Errorf("Remove() of a missing key error = %v", err)
			}
		})
	}
}

func TestBackend_Quota(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t, 10) {
		t.Run(name, func(t *testing.T) {
			if err := b.Set(ctx, "a", []byte("123456")); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			err := b.Set(ctx, "b", []byte("123456"))
			if !errors.Is(err, ErrQuotaExceeded) {
				t.Fatalf("Set() past quota error = %v, want ErrQuotaExceeded", err)
			}
			if _, err := b.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
				t.Error("rejected write must not be stored")
			}
			// Replacing a key only counts its new size.
			if err := b.Set(ctx, "a", []byte("1234567890")); err != nil {
				t.Errorf("Set() replacing within quota error = %v", err)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, Options{Kind: "memory"})
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	if _, ok := b.(*Memory); !ok {
		t.Errorf("Open(memory) = %T", b)
	}

	b, err = Open(ctx, Options{Kind: "sqlite", Path: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	defer b.Close()
	if v, err := b.(*SQLite).SchemaVersion(); err != nil || v != schemaVersion {
		t.Errorf("SchemaVersion() = %q, %v", v, err)
	}

	for _, opts := range []Options{{Kind: "sqlite"}, {Kind: "redis"}, {Kind: "etcd"}} {
		if _, err := Open(ctx, opts); err == nil {
			t.Errorf("Open(%+v) should fail", opts)
		}
	}
}

func TestRedis_Prefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	r, err := OpenRedis(ctx, "redis://"+mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("OpenRedis() error = %v", err)
	}
	defer r.Close()

	if err := r.Set(ctx, "t1/table", []byte("x")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := mr.Get(DefaultRedisPrefix + "t1/table")
	if err != nil || got != "x" {
		t.Errorf("raw key = %q, %v", got, err)
	}
}
