package converter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/atomicdeploy/mdb-export/pkg/mdb"
)

// ExportFormat represents the export format type
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

// ParseFormat validates a format name given on the command line
func ParseFormat(name string) (ExportFormat, error) {
	switch format := ExportFormat(strings.ToLower(strings.TrimSpace(name))); format {
	case FormatJSON, FormatCSV:
		return format, nil
	default:
		return "", fmt.Errorf("unsupported format: %s (expected json or csv)", name)
	}
}

// Extension returns the file extension for the format, including the dot
func (f ExportFormat) Extension() string {
	return "." + string(f)
}

// Exporter writes tables read from an Access database
type Exporter struct {
	converter func(string) string
}

// NewExporter creates a new exporter with optional value converter function
func NewExporter(converter func(string) string) *Exporter {
	return &Exporter{
		converter: converter,
	}
}

// Export writes table to w in the given format
func (e *Exporter) Export(table *mdb.Table, format ExportFormat, w io.Writer) error {
	switch format {
	case FormatCSV:
		return e.ExportToCSVWriter(table, w)
	case FormatJSON:
		return e.ExportToJSONWriter(table, w)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// ExportToJSONWriter writes the table rows as a JSON array of objects. Keys
// follow column order and missing values are null.
func (e *Exporter) ExportToJSONWriter(table *mdb.Table, w io.Writer) error {
	columns := namedColumns(table.Columns)

	var buf bytes.Buffer
	buf.WriteString("[")
	for i, record := range table.Records {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  {")
		for j, column := range columns {
			if j > 0 {
				buf.WriteString(", ")
			}
			key, err := json.Marshal(column)
			if err != nil {
				return fmt.Errorf("failed to encode JSON: %w", err)
			}
			value, err := json.Marshal(e.value(record, column))
			if err != nil {
				return fmt.Errorf("failed to encode JSON: %w", err)
			}
			buf.Write(key)
			buf.WriteString(": ")
			buf.Write(value)
		}
		buf.WriteString("}")
	}
	if len(table.Records) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("]\n")

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}

// ExportToCSVWriter writes the table as RFC 4180 CSV with a header row of the
// named columns
func (e *Exporter) ExportToCSVWriter(table *mdb.Table, w io.Writer) error {
	columns := namedColumns(table.Columns)

	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	row := make([]string, len(columns))
	for _, record := range table.Records {
		for i, column := range columns {
			row[i] = ""
			if value := e.value(record, column); value != nil {
				row[i] = *value
			}
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

// ExportTable reads table from db and writes it to outputDir as
// <table>.<format>. It returns the written path.
func (e *Exporter) ExportTable(ctx context.Context, db *mdb.Database, table string, format ExportFormat, outputDir string) (string, error) {
	data, err := db.ReadTable(ctx, table)
	if err != nil {
		return "", err
	}

	outputPath := filepath.Join(outputDir, safeFileName(table)+format.Extension())
	if err := e.writeFile(data, format, outputPath); err != nil {
		return "", err
	}
	return outputPath, nil
}

// ExportDatabase exports the named tables, or every table when none are
// given. It stops at the first failure.
func (e *Exporter) ExportDatabase(ctx context.Context, db *mdb.Database, tables []string, format ExportFormat, outputDir string) ([]string, error) {
	if len(tables) == 0 {
		var err error
		tables, err = db.Tables(ctx)
		if err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	written := make([]string, 0, len(tables))
	for _, table := range tables {
		path, err := e.ExportTable(ctx, db, table, format, outputDir)
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func (e *Exporter) writeFile(table *mdb.Table, format ExportFormat, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	out := bufio.NewWriter(file)
	if err := e.Export(table, format, out); err != nil {
		return err
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return file.Close()
}

// value returns the converted value of column, or nil when it is missing
func (e *Exporter) value(record mdb.Record, column string) *string {
	value, ok := record.Get(column)
	if !ok {
		return nil
	}
	if e.converter != nil && strings.TrimSpace(value) != "" {
		value = e.converter(value)
	}
	return &value
}

// namedColumns drops unnamed columns, which never appear in records
func namedColumns(columns []string) []string {
	named := make([]string, 0, len(columns))
	for _, column := range columns {
		if column != "" {
			named = append(named, column)
		}
	}
	return named
}

func safeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}
