// Package watcher notifies callers when a database file's content changes.
// The parent directory is watched so a file replaced by rename keeps being
// tracked.
package watcher

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/atomicdeploy/mdb-export/pkg/snapshot"
	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches database files for changes
type FileWatcher struct {
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	targets map[string]*target // keyed by absolute path
	dirs    map[string]int     // watched directories and how many targets use them
}

type target struct {
	path     string // as given by the caller
	hash     string
	callback func(string)
	debounce time.Duration
	timer    *time.Timer
}

// NewFileWatcher creates a new file watcher
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		targets: make(map[string]*target),
		dirs:    make(map[string]int),
	}, nil
}

// Watch calls callback with path whenever the file's content changes. Events
// arriving within debounceDuration of each other are coalesced; zero means
// every event is handled immediately.
func (fw *FileWatcher) Watch(path string, callback func(string), debounceDuration time.Duration) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	hash, err := snapshot.Hash(absPath)
	if err != nil {
		return fmt.Errorf("failed to get initial hash: %w", err)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	dir := filepath.Dir(absPath)
	if _, exists := fw.targets[absPath]; !exists {
		if fw.dirs[dir] == 0 {
			if err := fw.watcher.Add(dir); err != nil {
				return fmt.Errorf("failed to watch directory: %w", err)
			}
		}
		fw.dirs[dir]++
	}

	fw.targets[absPath] = &target{
		path:     path,
		hash:     hash,
		callback: callback,
		debounce: debounceDuration,
	}

	return nil
}

// Unwatch stops watching a specific file
func (fw *FileWatcher) Unwatch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	t, exists := fw.targets[absPath]
	if !exists {
		return nil
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	delete(fw.targets, absPath)

	dir := filepath.Dir(absPath)
	fw.dirs[dir]--
	if fw.dirs[dir] > 0 {
		return nil
	}
	delete(fw.dirs, dir)
	return fw.watcher.Remove(dir)
}

// Start begins watching for file changes
func (fw *FileWatcher) Start() {
	go fw.watchLoop()
}

// Close stops the file watcher
func (fw *FileWatcher) Close() error {
	fw.mu.Lock()
	for _, t := range fw.targets {
		if t.timer != nil {
			t.timer.Stop()
		}
	}
	fw.mu.Unlock()

	return fw.watcher.Close()
}

func (fw *FileWatcher) watchLoop() {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				fw.schedule(filepath.Clean(event.Name))
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  Watcher error: %v", err)
		}
	}
}

// schedule runs the change check for absPath now or after its debounce
func (fw *FileWatcher) schedule(absPath string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	t, exists := fw.targets[absPath]
	if !exists {
		return
	}

	if t.debounce == 0 {
		go fw.handleFileChange(absPath)
		return
	}

	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.debounce, func() {
		fw.handleFileChange(absPath)
	})
}

// handleFileChange calls the callback only when the content hash moved
func (fw *FileWatcher) handleFileChange(absPath string) {
	newHash, err := snapshot.Hash(absPath)
	if err != nil {
		// Mid-replace the file may be briefly missing; the next event retries
		log.Printf("⚠️  Failed to get hash for %s: %v", filepath.Base(absPath), err)
		return
	}

	fw.mu.Lock()
	t, exists := fw.targets[absPath]
	if !exists || t.hash == newHash {
		fw.mu.Unlock()
		return
	}
	t.hash = newHash
	callback, path := t.callback, t.path
	fw.mu.Unlock()

	callback(path)
}
