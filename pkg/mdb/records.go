package mdb

import (
	"bufio"
	"context"
	"iter"
	"slices"
	"strings"
)

// Record is one table row keyed by column name. A nil value means the row
// had no field for that column.
type Record map[string]*string

// Get returns the value of column and whether it is present and non-nil
func (r Record) Get(column string) (string, bool) {
	value, ok := r[column]
	if !ok || value == nil {
		return "", false
	}
	return *value, true
}

// EachRecord exports table and returns its rows as a lazy sequence. The
// header line is consumed for column names and never yielded. The sequence
// can only be ranged over once.
func (db *Database) EachRecord(ctx context.Context, table string) (iter.Seq[Record], error) {
	text, err := db.ReadCSV(ctx, table)
	if err != nil {
		return nil, err
	}
	return db.records(text), nil
}

func (db *Database) records(text string) iter.Seq[Record] {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), max(len(text)+1, bufio.MaxScanTokenSize))

	delim := db.delim
	return func(yield func(Record) bool) {
		var columns []string
		for scanner.Scan() {
			line := scanner.Text()
			if columns == nil {
				columns = parseColumns(line, delim)
				continue
			}

			if !yield(mapToRecord(splitValues(line, delim), columns)) {
				return
			}
		}
	}
}

// ReadRecords returns every row of table. An empty table yields an empty
// slice and no error.
func (db *Database) ReadRecords(ctx context.Context, table string) ([]Record, error) {
	seq, err := db.EachRecord(ctx, table)
	if err != nil {
		return nil, err
	}

	records := slices.Collect(seq)
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

// Table holds the columns and rows of one table
type Table struct {
	Name    string
	Columns []string
	Records []Record
}

// ReadTable returns the columns and rows of table from a single export
func (db *Database) ReadTable(ctx context.Context, table string) (*Table, error) {
	text, err := db.ReadCSV(ctx, table)
	if err != nil {
		return nil, err
	}

	records := slices.Collect(db.records(text))
	if records == nil {
		records = []Record{}
	}

	return &Table{
		Name:    table,
		Columns: parseColumns(firstLine(text), db.delim),
		Records: records,
	}, nil
}

// parseColumns splits a header line; empty names are kept as "" placeholders
// so positions still line up with data fields
func parseColumns(line, delim string) []string {
	return strings.Split(line, delim)
}

// splitValues splits a data line and drops empty trailing fields, which is
// how mdb-export leaves NULLs at the end of a row
func splitValues(line, delim string) []string {
	values := strings.Split(line, delim)
	for len(values) > 0 && values[len(values)-1] == "" {
		values = values[:len(values)-1]
	}
	return values
}

// mapToRecord pairs values with columns by position, skipping unnamed columns
// and stripping quotation marks
func mapToRecord(values, columns []string) Record {
	record := make(Record, len(columns))
	for i, column := range columns {
		if column == "" {
			continue
		}
		if i >= len(values) {
			record[column] = nil
			continue
		}
		value := strings.ReplaceAll(values[i], `"`, "")
		record[column] = &value
	}
	return record
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSuffix(text, "\r")
}
