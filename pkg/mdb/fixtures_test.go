package mdb

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// Export output of the Example database used by the real-file test
// suite, as mdb-export prints it with -d '|'. Text is Windows-1252.
var fixtureExports = map[string]string{
	"Actors": "ID|FirstName|LastName\n" +
		"1|\"Chris\"|\"Evans\"\n" +
		"2|\"Scarlett\"|\"Johansson\"\n" +
		"3|\"Pen\xe9lope\"|\"Cruz\"\n" +
		"4|\"Benicio\"|\"Del Toro\"\n",
	"Movies": "ID|Title|Year\n" +
		"1|\"The Avengers\"|2012\n" +
		"2|\"Lost in Translation\"|2003\n" +
		"3|\"Volver\"|2006\n" +
		"4|\"Traffic\"|2000\n" +
		"5|\"Sicario\"|2015\n" +
		"6|\"Her\"|2013\n" +
		"7|\"Snowpiercer\"|2013\n",
	"EmptyTable": "ID|Name\n",
}

const fixtureTables = "Actors\nEmptyTable\nMovies\n"

// fakeExtractor serves canned output and counts invocations
type fakeExtractor struct {
	mu          sync.Mutex
	tables      string
	exports     map[string]string
	listCalls   int
	exportCalls int
	lastDelim   string
	listErr     error
	exportErr   error
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		tables:  fixtureTables,
		exports: fixtureExports,
	}
}

func (f *fakeExtractor) ListTables(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []byte(f.tables), nil
}

func (f *fakeExtractor) ExportTable(ctx context.Context, path, table, delimiter string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.exportCalls++
	f.lastDelim = delimiter
	if f.exportErr != nil {
		return nil, f.exportErr
	}
	return []byte(f.exports[table]), nil
}

// fixtureFile creates an empty stand-in database file
func fixtureFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "Example 2000.mdb")
	if err := os.WriteFile(path, []byte("stand-in"), 0644); err != nil {
		t.Fatalf("Failed to create fixture file: %v", err)
	}
	return path
}

func openFixture(t *testing.T, opts ...Option) (*Database, *fakeExtractor) {
	t.Helper()

	fake := newFakeExtractor()
	db, err := Open(fixtureFile(t), append([]Option{WithExtractor(fake)}, opts...)...)
	if err != nil {
		t.Fatalf("Failed to open fixture: %v", err)
	}
	return db, fake
}
