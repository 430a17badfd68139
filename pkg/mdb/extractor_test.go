package mdb

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeTablesScript = `#!/bin/sh
if [ -n "$FAKE_MDB_LOG" ]; then echo "$@" >> "$FAKE_MDB_LOG"; fi
printf 'Actors\nEmptyTable\nMovies\n'
`

const fakeExportScript = `#!/bin/sh
case "$4" in
Actors)
	printf 'ID%sFirstName%sLastName\n' "$2" "$2"
	printf '1%s"Chris"%s"Evans"\n' "$2" "$2"
	printf '2%s"Scarlett"%s"Johansson"\n' "$2" "$2"
	printf '3%s"Pen\351lope"%s"Cruz"\n' "$2" "$2"
	printf '4%s"Benicio"%s"Del Toro"\n' "$2" "$2"
	;;
Movies)
	printf 'ID|Title\n1|"A"\n2|"B"\n3|"C"\n4|"D"\n5|"E"\n6|"F"\n7|"G"\n'
	;;
EmptyTable)
	printf 'ID|Name\n'
	;;
*)
	echo "Error: Table $4 does not exist in this database." >&2
	exit 1
	;;
esac
`

// installFakeTools writes stand-in mdb-tables and mdb-export scripts into a
// directory that becomes the whole PATH
func installFakeTools(t *testing.T) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("fake mdb-tools scripts need a POSIX shell")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}

	dir := t.TempDir()
	scripts := map[string]string{
		DefaultTablesCommand: fakeTablesScript,
		DefaultExportCommand: fakeExportScript,
	}
	for name, body := range scripts {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0755); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	t.Setenv("PATH", dir)
	return dir
}

func TestToolExtractor_FakeTools(t *testing.T) {
	installFakeTools(t)
	logFile := filepath.Join(t.TempDir(), "calls.log")
	t.Setenv("FAKE_MDB_LOG", logFile)

	db, err := Open(fixtureFile(t))
	require.NoError(t, err)
	ctx := context.Background()

	tables, err := db.Tables(ctx)
	require.NoError(t, err)
	slices.Sort(tables)
	assert.Equal(t, []string{"Actors", "EmptyTable", "Movies"}, tables)

	columns, err := db.Columns(ctx, "Actors")
	require.NoError(t, err)
	assert.Equal(t, []string{"ID", "FirstName", "LastName"}, columns)

	actors, err := db.ReadRecords(ctx, "Actors")
	require.NoError(t, err)
	require.Len(t, actors, 4)
	first, _ := actors[0].Get("FirstName")
	assert.Equal(t, "Chris", first)
	third, _ := actors[2].Get("FirstName")
	assert.Equal(t, "Penélope", third)

	movies, err := db.ReadRecords(ctx, "Movies")
	require.NoError(t, err)
	assert.Len(t, movies, 7)

	empty, err := db.ReadRecords(ctx, "EmptyTable")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = db.ReadRecords(ctx, "Villains")
	require.ErrorIs(t, err, ErrTableDoesNotExist)

	// The path contains a space and must reach the tool as one argument
	calls, err := os.ReadFile(logFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(calls)), "\n")
	assert.Equal(t, []string{"-1 " + db.Path()}, lines, "table list should be fetched once")
}

func TestToolExtractor_Delimiter(t *testing.T) {
	installFakeTools(t)

	db, err := Open(fixtureFile(t), WithDelimiter(","))
	require.NoError(t, err)

	records, err := db.ReadRecords(context.Background(), "Actors")
	require.NoError(t, err)
	require.Len(t, records, 4)

	last, _ := records[3].Get("LastName")
	assert.Equal(t, "Del Toro", last)
}

func TestToolExtractor_NotInstalled(t *testing.T) {
	// An empty directory as the only search path hides mdb-tools
	t.Setenv("PATH", t.TempDir())

	db, err := Open(fixtureFile(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = db.Tables(ctx)
	require.ErrorIs(t, err, ErrToolNotInstalled)

	_, err = db.ReadCSV(ctx, "Villains")
	require.ErrorIs(t, err, ErrToolNotInstalled)

	_, err = db.Columns(ctx, "Actors")
	require.ErrorIs(t, err, ErrToolNotInstalled)

	_, err = db.ReadRecords(ctx, "Villains")
	require.ErrorIs(t, err, ErrToolNotInstalled)
	assert.NotErrorIs(t, err, ErrTableDoesNotExist)

	_, err = db.EachRecord(ctx, "Actors")
	require.ErrorIs(t, err, ErrToolNotInstalled)
}

func TestToolExtractor_MissingAbsoluteCommand(t *testing.T) {
	extractor := &ToolExtractor{
		TablesCommand: filepath.Join(t.TempDir(), "mdb-tables"),
	}

	_, err := extractor.ListTables(context.Background(), "whatever.mdb")
	require.ErrorIs(t, err, ErrToolNotInstalled)
}

func TestToolExtractor_Canceled(t *testing.T) {
	installFakeTools(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	extractor := NewToolExtractor()
	_, err := extractor.ExportTable(ctx, "whatever.mdb", "Actors", "|")
	require.ErrorIs(t, err, ErrExtraction)
	require.ErrorIs(t, err, context.Canceled)
}

func TestToolExtractor_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "slow-tables")
	body := "#!" + sh + "\nwhile :; do :; done\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0755))

	extractor := &ToolExtractor{
		TablesCommand: script,
		Timeout:       100 * time.Millisecond,
	}

	start := time.Now()
	_, err = extractor.ListTables(context.Background(), "whatever.mdb")
	require.ErrorIs(t, err, ErrExtraction)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
