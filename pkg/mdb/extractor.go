package mdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"time"
)

const (
	// DefaultTablesCommand lists the user tables of a database, one per line
	DefaultTablesCommand = "mdb-tables"
	// DefaultExportCommand dumps a single table as delimited text
	DefaultExportCommand = "mdb-export"
)

// Extractor reads raw text out of a database file. Output is returned
// undecoded, in whatever code page the extractor emits.
type Extractor interface {
	ListTables(ctx context.Context, path string) ([]byte, error)
	ExportTable(ctx context.Context, path, table, delimiter string) ([]byte, error)
}

// ToolExtractor runs the mdb-tools programs found on PATH
type ToolExtractor struct {
	TablesCommand string
	ExportCommand string
	// Timeout bounds each process run. Zero disables it.
	Timeout time.Duration
}

// NewToolExtractor creates an extractor using the default mdb-tools commands
func NewToolExtractor() *ToolExtractor {
	return &ToolExtractor{
		TablesCommand: DefaultTablesCommand,
		ExportCommand: DefaultExportCommand,
	}
}

// ListTables runs `mdb-tables -1 <path>`
func (t *ToolExtractor) ListTables(ctx context.Context, path string) ([]byte, error) {
	return t.run(ctx, commandOrDefault(t.TablesCommand, DefaultTablesCommand), "-1", path)
}

// ExportTable runs `mdb-export -d <delimiter> <path> <table>`
func (t *ToolExtractor) ExportTable(ctx context.Context, path, table, delimiter string) ([]byte, error) {
	return t.run(ctx, commandOrDefault(t.ExportCommand, DefaultExportCommand), "-d", delimiter, path, table)
}

// run executes name with args and returns its standard output. Standard error
// is discarded and a non-zero exit status is not treated as a failure: the
// caller decides what empty output means.
func (t *ToolExtractor) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w: %s interrupted: %w", ErrExtraction, name, ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), nil
		}
		if isNotExecutable(err) {
			return nil, fmt.Errorf("%w: %s: %w", ErrToolNotInstalled, name, err)
		}
		return nil, fmt.Errorf("%w: failed to run %s: %w", ErrExtraction, name, err)
	}

	return stdout.Bytes(), nil
}

func isNotExecutable(err error) bool {
	return errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, exec.ErrDot) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission)
}

func commandOrDefault(command, fallback string) string {
	if command == "" {
		return fallback
	}
	return command
}
