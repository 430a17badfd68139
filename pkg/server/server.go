package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/atomicdeploy/mdb-export/pkg/mdb"
	"github.com/atomicdeploy/mdb-export/pkg/snapshot"
	"github.com/atomicdeploy/mdb-export/pkg/watcher"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Config holds the server settings
type Config struct {
	// DBPath is the Access database to serve
	DBPath string
	// Options are passed to mdb.Open for every read
	Options []mdb.Option
	// Snapshot reads from a temporary copy instead of the live file
	Snapshot bool
	// AllowedOrigins limits WebSocket origins; empty allows any origin
	AllowedOrigins []string
}

// Server represents the HTTP/WebSocket server
type Server struct {
	router      *mux.Router
	cfg         Config
	watcher     *watcher.FileWatcher
	wsClients   map[*websocket.Conn]*wsClient
	wsClientsMu sync.RWMutex
	upgrader    websocket.Upgrader
}

// wsClient is a WebSocket subscriber to one table. last holds the rows the
// client has been sent so each update is a diff against what it already has.
type wsClient struct {
	conn    *websocket.Conn
	table   string
	writeMu sync.Mutex
	last    []mdb.Record
}

// ChangeSet represents incremental changes to a table
type ChangeSet struct {
	Type       string       `json:"type"`
	Table      string       `json:"table"`
	Timestamp  string       `json:"timestamp"`
	Added      []mdb.Record `json:"added,omitempty"`
	Deleted    []mdb.Record `json:"deleted,omitempty"`
	TotalCount int          `json:"total_count"`
	Error      string       `json:"error,omitempty"`
}

// recordKey generates a unique key for a record. Map keys marshal sorted,
// so equal records always produce the same key.
func recordKey(record mdb.Record) string {
	data, err := json.Marshal(record)
	if err != nil {
		return ""
	}
	return string(data)
}

// NewServer creates a new server instance
func NewServer(cfg Config) (*Server, error) {
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %q", mdb.ErrFileDoesNotExist, cfg.DBPath)
	}

	s := &Server{
		router:    mux.NewRouter(),
		cfg:       cfg,
		wsClients: make(map[*websocket.Conn]*wsClient),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	s.setupRoutes()

	return s, nil
}

// Handler returns the HTTP handler serving all routes
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Direct connections and tests send no origin
	if origin == "" {
		return true
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		log.Printf("⚠️  WebSocket connection from origin: %s (no allowed origins configured)", origin)
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleWelcome).Methods("GET")
	s.router.HandleFunc("/api/info", s.handleGetInfo).Methods("GET")
	s.router.HandleFunc("/api/tables", s.handleGetTables).Methods("GET")
	s.router.HandleFunc("/api/tables/{table}/columns", s.handleGetColumns).Methods("GET")
	s.router.HandleFunc("/api/tables/{table}/records", s.handleGetRecords).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// open returns a fresh handle on the database. Each call sees the file as it
// is now.
func (s *Server) open() (*mdb.Database, func() error, error) {
	if s.cfg.Snapshot {
		return snapshot.Open(s.cfg.DBPath, s.cfg.Options...)
	}

	db, err := mdb.Open(s.cfg.DBPath, s.cfg.Options...)
	if err != nil {
		return nil, nil, err
	}
	return db, func() error { return nil }, nil
}

func (s *Server) readTable(ctx context.Context, table string) (*mdb.Table, error) {
	db, cleanup, err := s.open()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return db.ReadTable(ctx, table)
}

// statusFor maps core errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, mdb.ErrTableDoesNotExist):
		return http.StatusNotFound
	case errors.Is(err, mdb.ErrToolNotInstalled):
		return http.StatusServiceUnavailable
	case errors.Is(err, mdb.ErrExtraction):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	})
}

// handleWelcome lists the available endpoints
func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"file":    filepath.Base(s.cfg.DBPath),
		"endpoints": []string{
			"GET /api/info",
			"GET /api/tables",
			"GET /api/tables/{table}/columns",
			"GET /api/tables/{table}/records",
			"GET /ws?table={table}",
		},
	})
}

// handleGetInfo returns file and table information
func (s *Server) handleGetInfo(w http.ResponseWriter, r *http.Request) {
	info, err := os.Stat(s.cfg.DBPath)
	if err != nil {
		writeError(w, fmt.Errorf("failed to stat database: %w", err))
		return
	}

	db, cleanup, err := s.open()
	if err != nil {
		writeError(w, err)
		return
	}
	defer cleanup()

	tables, err := db.Tables(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"file":       filepath.Base(s.cfg.DBPath),
		"size":       info.Size(),
		"modified":   info.ModTime().Format(time.RFC3339),
		"num_tables": len(tables),
		"delimiter":  db.Delimiter(),
	})
}

// handleGetTables returns the table names
func (s *Server) handleGetTables(w http.ResponseWriter, r *http.Request) {
	db, cleanup, err := s.open()
	if err != nil {
		writeError(w, err)
		return
	}
	defer cleanup()

	tables, err := db.Tables(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(tables),
		"tables":  tables,
	})
}

// handleGetColumns returns the column names of a table
func (s *Server) handleGetColumns(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]

	db, cleanup, err := s.open()
	if err != nil {
		writeError(w, err)
		return
	}
	defer cleanup()

	columns, err := db.Columns(r.Context(), table)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"table":   table,
		"columns": columns,
	})
}

// handleGetRecords returns all rows of a table
func (s *Server) handleGetRecords(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]

	data, err := s.readTable(r.Context(), table)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"table":   table,
		"columns": data.Columns,
		"count":   len(data.Records),
		"records": data.Records,
	})
}

// handleWebSocket subscribes a client to one table
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	if table == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "missing table query parameter",
		})
		return
	}

	data, err := s.readTable(r.Context(), table)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	client := &wsClient{conn: conn, table: table}

	// Send before registering so a concurrent broadcast cannot diff against
	// an empty baseline
	client.send(ChangeSet{
		Type:       "initial",
		Table:      table,
		Timestamp:  time.Now().Format(time.RFC3339),
		Added:      data.Records,
		TotalCount: len(data.Records),
	})
	client.last = data.Records

	s.wsClientsMu.Lock()
	s.wsClients[conn] = client
	total := len(s.wsClients)
	s.wsClientsMu.Unlock()

	log.Printf("🔌 New WebSocket connection for %s (total: %d)", table, total)

	// Handle disconnection
	go func() {
		defer func() {
			s.wsClientsMu.Lock()
			delete(s.wsClients, conn)
			remaining := len(s.wsClients)
			s.wsClientsMu.Unlock()
			conn.Close()
			log.Printf("🔌 WebSocket disconnected (remaining: %d)", remaining)
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (c *wsClient) send(message interface{}) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.sendLocked(message)
}

// sendLocked writes message; the caller holds writeMu
func (c *wsClient) sendLocked(message interface{}) {
	if err := c.conn.WriteJSON(message); err != nil {
		log.Printf("Failed to send to WebSocket: %v", err)
	}
}

// broadcastUpdate re-reads every subscribed table once and sends each client
// the difference from what it was sent last
func (s *Server) broadcastUpdate() {
	s.wsClientsMu.RLock()
	clients := make([]*wsClient, 0, len(s.wsClients))
	for _, client := range s.wsClients {
		clients = append(clients, client)
	}
	s.wsClientsMu.RUnlock()

	if len(clients) == 0 {
		return
	}

	log.Printf("📡 Broadcasting update to %d clients", len(clients))

	current := make(map[string]*mdb.Table)
	failures := make(map[string]error)
	for _, client := range clients {
		if _, done := current[client.table]; done {
			continue
		}
		if _, failed := failures[client.table]; failed {
			continue
		}
		data, err := s.readTable(context.Background(), client.table)
		if err != nil {
			log.Printf("Failed to read %s: %v", client.table, err)
			failures[client.table] = err
			continue
		}
		current[client.table] = data
	}

	for _, client := range clients {
		go func(c *wsClient) {
			if err, failed := failures[c.table]; failed {
				c.send(ChangeSet{
					Type:      "error",
					Table:     c.table,
					Timestamp: time.Now().Format(time.RFC3339),
					Error:     err.Error(),
				})
				return
			}

			// Diff and write under one lock so overlapping broadcasts reach
			// the client in the order their baselines were taken
			records := current[c.table].Records
			c.writeMu.Lock()
			defer c.writeMu.Unlock()

			changes := computeChanges(c.table, c.last, records)
			c.last = records
			if len(changes.Added) == 0 && len(changes.Deleted) == 0 {
				return
			}
			c.sendLocked(changes)
		}(client)
	}
}

// computeChanges computes the difference between old and new rows. Rows are
// compared by content; a modified row shows up as one deletion and one
// addition. Duplicate rows are counted.
func computeChanges(table string, oldRecords, newRecords []mdb.Record) ChangeSet {
	changes := ChangeSet{
		Type:       "update",
		Table:      table,
		Timestamp:  time.Now().Format(time.RFC3339),
		TotalCount: len(newRecords),
	}

	remaining := make(map[string]int, len(oldRecords))
	for _, record := range oldRecords {
		remaining[recordKey(record)]++
	}

	for _, record := range newRecords {
		key := recordKey(record)
		if remaining[key] > 0 {
			remaining[key]--
			continue
		}
		changes.Added = append(changes.Added, record)
	}

	for _, record := range oldRecords {
		key := recordKey(record)
		if remaining[key] > 0 {
			remaining[key]--
			changes.Deleted = append(changes.Deleted, record)
		}
	}

	return changes
}

// StartWatching starts watching the database file for changes with the specified debounce duration
func (s *Server) StartWatching(debounceDuration time.Duration) error {
	fw, err := watcher.NewFileWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := fw.Watch(s.cfg.DBPath, func(path string) {
		log.Printf("🔄 File changed: %s", filepath.Base(path))
		s.broadcastUpdate()
	}, debounceDuration); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch file: %w", err)
	}

	s.watcher = fw
	fw.Start()
	log.Printf("👀 Watching database file: %s", filepath.Base(s.cfg.DBPath))

	return nil
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	log.Printf("🚀 Starting server on %s", addr)
	log.Printf("📊 Serving database: %s", filepath.Base(s.cfg.DBPath))

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// Close cleans up server resources
func (s *Server) Close() error {
	s.wsClientsMu.Lock()
	for conn := range s.wsClients {
		conn.Close()
	}
	s.wsClientsMu.Unlock()

	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
