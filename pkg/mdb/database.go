// Package mdb reads Microsoft Access databases through the mdb-tools
// command line programs. Table data is exported as delimited text, decoded
// from the legacy code page and split into records.
package mdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"sync"
	"time"

	"golang.org/x/text/encoding"
)

// tableNameRegex matches one table name per line of mdb-tables -1 output
var tableNameRegex = regexp.MustCompile(`(?m)^\w+$`)

// Database is a read-only handle on a database file. It holds no open file
// or process between calls.
type Database struct {
	path      string
	delim     string
	encoding  encoding.Encoding
	extractor Extractor
	timeout   time.Duration

	tablesMu     sync.Mutex
	tables       []string
	tablesLoaded bool
}

// Open validates that path exists and returns a handle on it
func Open(path string, opts ...Option) (*Database, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrFileDoesNotExist, path)
		}
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}

	db := &Database{
		path:     path,
		delim:    DefaultDelimiter,
		encoding: DefaultEncoding,
	}
	for _, opt := range opts {
		opt(db)
	}

	if db.extractor == nil {
		extractor := NewToolExtractor()
		extractor.Timeout = db.timeout
		db.extractor = extractor
	}

	return db, nil
}

// Path returns the database file path
func (db *Database) Path() string {
	return db.path
}

// Delimiter returns the field delimiter used for exports
func (db *Database) Delimiter() string {
	return db.delim
}

// Tables returns the table names in the order mdb-tables lists them. The
// list is fetched once per handle; failures are not cached.
func (db *Database) Tables(ctx context.Context) ([]string, error) {
	db.tablesMu.Lock()
	defer db.tablesMu.Unlock()

	if !db.tablesLoaded {
		raw, err := db.extractor.ListTables(ctx, db.path)
		if err != nil {
			return nil, fmt.Errorf("failed to list tables in %q: %w", db.path, err)
		}

		text, err := db.decode(raw)
		if err != nil {
			return nil, err
		}

		db.tables = tableNameRegex.FindAllString(text, -1)
		db.tablesLoaded = true
	}

	return slices.Clone(db.tables), nil
}

// HasTable reports whether table is listed in the database
func (db *Database) HasTable(ctx context.Context, table string) (bool, error) {
	tables, err := db.Tables(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(tables, table), nil
}

// ReadCSV exports table as decoded, delimited text including the header line.
// Empty output is an error: ErrTableDoesNotExist when the table is not
// listed, ErrExtraction otherwise.
func (db *Database) ReadCSV(ctx context.Context, table string) (string, error) {
	raw, err := db.extractor.ExportTable(ctx, db.path, table, db.delim)
	if err != nil {
		return "", fmt.Errorf("failed to export %q from %q: %w", table, db.path, err)
	}

	text, err := db.decode(raw)
	if err != nil {
		return "", err
	}

	if text == "" {
		exists, err := db.HasTable(ctx, table)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", fmt.Errorf("%w: %q in %q", ErrTableDoesNotExist, table, db.path)
		}
		return "", fmt.Errorf("%w: reading %q in %q produced no output", ErrExtraction, table, db.path)
	}

	return text, nil
}

// Columns returns the column names of table from its header line. Unnamed
// columns are returned as empty strings.
func (db *Database) Columns(ctx context.Context, table string) ([]string, error) {
	text, err := db.ReadCSV(ctx, table)
	if err != nil {
		return nil, err
	}
	return parseColumns(firstLine(text), db.delim), nil
}

func (db *Database) decode(raw []byte) (string, error) {
	decoded, err := db.encoding.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("%w: failed to decode output: %w", ErrExtraction, err)
	}
	return string(decoded), nil
}
