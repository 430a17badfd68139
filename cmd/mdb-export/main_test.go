package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/atomicdeploy/mdb-export/pkg/mdb"
)

func TestStatDatabase(t *testing.T) {
	dir := t.TempDir()
	dbFile := filepath.Join(dir, "Example.mdb")
	if err := os.WriteFile(dbFile, []byte("data"), 0644); err != nil {
		t.Fatalf("Failed to write database: %v", err)
	}

	stat, err := statDatabase(dbFile)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if stat.Size() != 4 {
		t.Errorf("Expected size 4, got %d", stat.Size())
	}

	_, err = statDatabase(filepath.Join(dir, "nope.mdb"))
	if !errors.Is(err, mdb.ErrFileDoesNotExist) {
		t.Errorf("Expected ErrFileDoesNotExist, got %v", err)
	}
}

func TestStatDatabase_OtherErrorsPassThrough(t *testing.T) {
	dir := t.TempDir()
	notDir := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(notDir, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	// A path through a regular file fails with ENOTDIR, not ENOENT
	_, err := statDatabase(filepath.Join(notDir, "Example.mdb"))
	if err == nil {
		t.Fatal("Expected an error")
	}
	if errors.Is(err, mdb.ErrFileDoesNotExist) {
		t.Errorf("Expected the stat error to pass through, got %v", err)
	}
}
