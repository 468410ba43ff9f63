package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "annot.db")

	db, err := OpenSQLite(dbPath, 0)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	if err := db.Set(ctx, "t1/table", []byte(`[{"lineNumber":1}]`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := db.Set(ctx, "t1/annotations", []byte(`{}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := db.Remove(ctx, "t1/annotations"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	db, err = OpenSQLite(dbPath, 0)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()

	got, err := db.Get(ctx, "t1/table")
	if err != nil || string(got) != `[{"lineNumber":1}]` {
		t.Errorf("Get() = %q, %v", got, err)
	}
	if _, err := db.Get(ctx, "t1/annotations"); !errors.Is(err, ErrNotFound) {
		t.Errorf("removed key: error = %v, want ErrNotFound", err)
	}
}

func TestSQLite_SchemaVersion(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "annot.db"), 0)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer db.Close()

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if v != schemaVersion {
		t.Errorf("SchemaVersion() = %q, want %q", v, schemaVersion)
	}
}

func TestSQLite_KeysPrefixIsLiteral(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "annot.db"), 0)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer db.Close()

	// LIKE wildcards in a transcript id must not widen the match.
	for _, k := range []string{"a_b/table", "axb/table", "a%/table"} {
		if err := db.Set(ctx, k, []byte("x")); err != nil {
			t.Fatal(err)
		}
	}
	keys, err := db.Keys(ctx, "a_b/")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "a_b/table" {
		t.Errorf("Keys(a_b/) = %v", keys)
	}
}
