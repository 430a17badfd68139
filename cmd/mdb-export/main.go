package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/atomicdeploy/mdb-export/pkg/converter"
	"github.com/atomicdeploy/mdb-export/pkg/mdb"
	"github.com/atomicdeploy/mdb-export/pkg/server"
	"github.com/atomicdeploy/mdb-export/pkg/snapshot"
	"github.com/atomicdeploy/mdb-export/pkg/watcher"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Version information
	Version   = "1.0.0"
	BuildDate = "unknown"

	// Global flags
	delimiter     string
	encodingName  string
	timeoutString string
	tablesCommand string
	exportCommand string
	snapshotMode  bool

	// Export flags
	outputDir      string
	outputFormat   string
	watchMode      bool
	trimValues     bool
	debounceString string

	// Color definitions
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	warningColor = color.New(color.FgYellow)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mdb-export",
		Short: "📊 Microsoft Access database reader built on mdb-tools",
		Long: `
╔═══════════════════════════════════════════════════════════╗
║            🎯 MDB Export - Access Database Reader          ║
║     Lists tables and exports rows from .mdb/.accdb files   ║
╚═══════════════════════════════════════════════════════════╝

Reads Microsoft Access databases through mdb-tools (mdb-tables and
mdb-export must be on PATH) and converts tables to JSON or CSV.
`,
		Version: Version,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&delimiter, "delimiter", mdb.DefaultDelimiter, "Field delimiter passed to mdb-export")
	rootCmd.PersistentFlags().StringVarP(&encodingName, "encoding", "e", "windows-1252", "Code page of the mdb-tools output")
	rootCmd.PersistentFlags().StringVarP(&timeoutString, "timeout", "t", "0s", "Timeout for each mdb-tools run (0s disables)")
	rootCmd.PersistentFlags().StringVar(&tablesCommand, "tables-cmd", mdb.DefaultTablesCommand, "Program used to list tables")
	rootCmd.PersistentFlags().StringVar(&exportCommand, "export-cmd", mdb.DefaultExportCommand, "Program used to export a table")
	rootCmd.PersistentFlags().BoolVarP(&snapshotMode, "snapshot", "s", false, "Read from a temporary copy of the database")

	// Tables command
	tablesCmd := &cobra.Command{
		Use:   "tables [database-file]",
		Short: "🗂️  List the tables of a database",
		Args:  cobra.ExactArgs(1),
		Run:   runTables,
	}
	tablesCmd.Flags().Bool("sort", false, "Sort table names alphabetically")

	// Columns command
	columnsCmd := &cobra.Command{
		Use:   "columns [database-file] [table]",
		Short: "📝 List the columns of a table",
		Args:  cobra.ExactArgs(2),
		Run:   runColumns,
	}

	// Export command
	exportCmd := &cobra.Command{
		Use:   "export [database-file] [table...]",
		Short: "🔄 Export tables to JSON or CSV",
		Long: `🔄 Export tables to JSON or CSV.

Every table is exported when none are named. Each table is written to
<output>/<table>.<format>.`,
		Args: cobra.MinimumNArgs(1),
		Run:  runExport,
	}
	exportCmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Output directory for converted files")
	exportCmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "Output format (json or csv)")
	exportCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "Watch file for changes and auto-export")
	exportCmd.Flags().BoolVar(&trimValues, "trim", false, "Trim surrounding whitespace from values")
	exportCmd.Flags().StringVarP(&debounceString, "debounce", "d", "1s", "Debounce duration for watch mode (e.g., 0s, 500ms, 1s, 5s)")

	// Info command
	infoCmd := &cobra.Command{
		Use:   "info [database-file]",
		Short: "ℹ️  Show tables, columns and row counts",
		Args:  cobra.ExactArgs(1),
		Run:   runInfo,
	}

	// Serve command
	serveCmd := &cobra.Command{
		Use:   "serve [database-file]",
		Short: "🌐 Start REST API and WebSocket server",
		Args:  cobra.ExactArgs(1),
		Run:   runServe,
	}
	serveCmd.Flags().StringP("addr", "a", ":8080", "Server address (e.g., :8080)")
	serveCmd.Flags().BoolP("watch", "w", true, "Watch file for changes and broadcast updates")
	serveCmd.Flags().StringP("debounce", "d", "0s", "Debounce duration for watch mode (e.g., 0s, 500ms, 1s, 5s)")
	serveCmd.Flags().StringSlice("origin", nil, "Allowed WebSocket origins (default: any)")

	rootCmd.AddCommand(tablesCmd, columnsCmd, exportCmd, infoCmd, serveCmd)

	if err := rootCmd.Execute(); err != nil {
		errorColor.Fprintf(os.Stderr, "❌ Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Set up logging
	log.SetFlags(0)
	log.SetOutput(os.Stdout)
}

// databaseOptions builds mdb options from the global flags
func databaseOptions() []mdb.Option {
	enc, err := mdb.LookupEncoding(encodingName)
	if err != nil {
		errorColor.Printf("❌ %v\n", err)
		errorColor.Println("💡 Valid examples: windows-1252, windows-1256, iso-8859-1")
		os.Exit(1)
	}

	return []mdb.Option{
		mdb.WithDelimiter(delimiter),
		mdb.WithEncoding(enc),
		mdb.WithExtractor(&mdb.ToolExtractor{
			TablesCommand: tablesCommand,
			ExportCommand: exportCommand,
			Timeout:       parseDuration("timeout", timeoutString),
		}),
	}
}

// openDatabase opens dbFile directly or through a snapshot. The returned
// cleanup must always be called.
func openDatabase(dbFile string) (*mdb.Database, func() error) {
	db, cleanup, err := open(dbFile)
	if err != nil {
		fail("Failed to open database", err)
	}
	return db, cleanup
}

func open(dbFile string) (*mdb.Database, func() error, error) {
	opts := databaseOptions()
	if snapshotMode {
		return snapshot.Open(dbFile, opts...)
	}

	db, err := mdb.Open(dbFile, opts...)
	return db, func() error { return nil }, err
}

// fail prints err with a hint for the known error kinds and exits
func fail(message string, err error) {
	errorColor.Printf("❌ %s: %v\n", message, err)
	switch {
	case errors.Is(err, mdb.ErrToolNotInstalled):
		errorColor.Println("💡 Install mdb-tools (e.g. apt install mdbtools, brew install mdbtools)")
	case errors.Is(err, mdb.ErrTableDoesNotExist):
		errorColor.Println("💡 Run 'mdb-export tables <database-file>' to list the tables")
	}
	os.Exit(1)
}

func runTables(cmd *cobra.Command, args []string) {
	sortNames, _ := cmd.Flags().GetBool("sort")

	db, cleanup := openDatabase(args[0])
	defer cleanup()

	tables, err := db.Tables(cmd.Context())
	if err != nil {
		cleanup()
		fail("Failed to list tables", err)
	}
	if sortNames {
		slices.Sort(tables)
	}

	for _, table := range tables {
		fmt.Println(table)
	}
}

func runColumns(cmd *cobra.Command, args []string) {
	db, cleanup := openDatabase(args[0])
	defer cleanup()

	columns, err := db.Columns(cmd.Context(), args[1])
	if err != nil {
		cleanup()
		fail("Failed to read columns", err)
	}

	for i, column := range columns {
		if column == "" {
			column = "(unnamed)"
		}
		fmt.Printf("%2d. %s\n", i+1, column)
	}
}

func runExport(cmd *cobra.Command, args []string) {
	dbFile, tables := args[0], args[1:]

	format, err := converter.ParseFormat(outputFormat)
	if err != nil {
		errorColor.Printf("❌ %v\n", err)
		os.Exit(1)
	}

	var valueConverter func(string) string
	if trimValues {
		valueConverter = strings.TrimSpace
	}
	exp := converter.NewExporter(valueConverter)

	if !watchMode {
		if !exportFile(cmd.Context(), exp, dbFile, tables, format) {
			os.Exit(1)
		}
		return
	}

	debounceDuration := parseDuration("debounce", debounceString)

	infoColor.Printf("👀 Watching file: %s\n", dbFile)
	infoColor.Println("📝 Press Ctrl+C to stop watching")

	// Initial export
	exportFile(cmd.Context(), exp, dbFile, tables, format)

	fw, err := watcher.NewFileWatcher()
	if err != nil {
		errorColor.Printf("❌ Failed to create file watcher: %v\n", err)
		os.Exit(1)
	}
	defer fw.Close()

	if err := fw.Watch(dbFile, func(path string) {
		infoColor.Printf("🔄 File changed: %s\n", filepath.Base(path))
		exportFile(context.Background(), exp, path, tables, format)
	}, debounceDuration); err != nil {
		errorColor.Printf("❌ Failed to watch file: %v\n", err)
		os.Exit(1)
	}

	fw.Start()

	// Wait forever
	select {}
}

// exportFile exports tables from dbFile and reports the outcome. Failures are
// printed rather than fatal so watch mode keeps running.
func exportFile(ctx context.Context, exp *converter.Exporter, dbFile string, tables []string, format converter.ExportFormat) bool {
	infoColor.Printf("🔍 Opening database: %s\n", filepath.Base(dbFile))

	db, cleanup, err := open(dbFile)
	if err != nil {
		errorColor.Printf("❌ Failed to open database: %v\n", err)
		return false
	}
	defer cleanup()

	written, err := exp.ExportDatabase(ctx, db, tables, format, outputDir)
	for _, path := range written {
		successColor.Printf("✅ Exported: %s\n", path)
	}
	if err != nil {
		errorColor.Printf("❌ Failed to export: %v\n", err)
		if errors.Is(err, mdb.ErrToolNotInstalled) {
			errorColor.Println("💡 Install mdb-tools (e.g. apt install mdbtools, brew install mdbtools)")
		}
		return false
	}

	successColor.Printf("✅ Exported %d table(s) to: %s\n", len(written), outputDir)
	return true
}

func runInfo(cmd *cobra.Command, args []string) {
	dbFile := args[0]
	ctx := cmd.Context()

	infoColor.Printf("🔍 Reading database: %s\n", filepath.Base(dbFile))

	stat, err := statDatabase(dbFile)
	if err != nil {
		fail("Failed to open database", err)
	}

	db, cleanup := openDatabase(dbFile)
	defer cleanup()

	tables, err := db.Tables(ctx)
	if err != nil {
		cleanup()
		fail("Failed to list tables", err)
	}

	fmt.Println()
	successColor.Println("📋 Database Information")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	infoColor.Printf("📁 File: %s\n", filepath.Base(dbFile))
	infoColor.Printf("💾 Size: %.2f MB\n", float64(stat.Size())/(1024*1024))
	infoColor.Printf("📅 Modified: %s\n", stat.ModTime().Format("2006-01-02 15:04:05"))
	infoColor.Printf("🗂️  Tables: %d\n", len(tables))
	fmt.Println()

	successColor.Println("🗂️  Table Definitions")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	for i, name := range tables {
		table, err := db.ReadTable(ctx, name)
		if err != nil {
			warningColor.Printf("%2d. %-24s ⚠️  %v\n", i+1, name, err)
			continue
		}
		fmt.Printf("%2d. %-24s %6d rows  %s\n", i+1, name, len(table.Records), strings.Join(table.Columns, ", "))
	}
	fmt.Println()
}

// statDatabase reports a missing file as mdb.ErrFileDoesNotExist and passes
// any other stat error through
func statDatabase(path string) (os.FileInfo, error) {
	stat, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %q", mdb.ErrFileDoesNotExist, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}
	return stat, nil
}

func runServe(cmd *cobra.Command, args []string) {
	dbFile := args[0]
	addr, _ := cmd.Flags().GetString("addr")
	watchFile, _ := cmd.Flags().GetBool("watch")
	debounceStr, _ := cmd.Flags().GetString("debounce")
	origins, _ := cmd.Flags().GetStringSlice("origin")

	srv, err := server.NewServer(server.Config{
		DBPath:         dbFile,
		Options:        databaseOptions(),
		Snapshot:       snapshotMode,
		AllowedOrigins: origins,
	})
	if err != nil {
		errorColor.Printf("❌ Failed to create server: %v\n", err)
		os.Exit(1)
	}
	defer srv.Close()

	if len(origins) == 0 {
		warningColor.Println("⚠️  No --origin configured: WebSocket connections are accepted from any origin")
	}

	// Start file watching if enabled
	if watchFile {
		debounceDuration := parseDuration("debounce", debounceStr)

		if err := srv.StartWatching(debounceDuration); err != nil {
			errorColor.Printf("❌ Failed to start file watching: %v\n", err)
			os.Exit(1)
		}
	}

	successColor.Printf("🌐 Server running at http://localhost%s\n", addr)
	infoColor.Println("📝 Press Ctrl+C to stop the server")

	if err := srv.Start(addr); err != nil {
		errorColor.Printf("❌ Server error: %v\n", err)
		os.Exit(1)
	}
}

// parseDuration parses and validates a duration flag
func parseDuration(flag, durationStr string) time.Duration {
	duration, err := time.ParseDuration(durationStr)
	if err != nil || duration < 0 {
		errorColor.Printf("❌ Invalid %s duration '%s'\n", flag, durationStr)
		errorColor.Println("💡 Valid examples: 0s, 500ms, 1s, 5s, 1m")
		os.Exit(1)
	}
	return duration
}
