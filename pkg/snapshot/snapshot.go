// Package snapshot copies a database file to a private temporary location so
// mdb-tools never reads a file that Access is writing at the same time.
package snapshot

import (
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/atomicdeploy/mdb-export/pkg/mdb"
)

const (
	// ChunkSize defines the size of chunks for file copying (10MB)
	ChunkSize = 10 * 1024 * 1024

	tempDirName = "mdb-export"
)

// Snapshot is a point-in-time copy of a database file
type Snapshot struct {
	SourcePath string
	Path       string
	Hash       string
	Size       int64
	ModTime    time.Time
}

// Hash calculates the CRC32 hash of a file
func Hash(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer file.Close()

	hash := crc32.NewIEEE()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to calculate hash: %w", err)
	}

	return fmt.Sprintf("%08x", hash.Sum32()), nil
}

// Take copies sourcePath into a fresh directory under the system temp
// directory, keeping its base name and modification time. The copy is hashed
// while it is written.
func Take(sourcePath string) (*Snapshot, error) {
	sourceInfo, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source file: %w", err)
	}

	source, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer source.Close()

	baseDir := filepath.Join(os.TempDir(), tempDirName)
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	dir, err := os.MkdirTemp(baseDir, "snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	snapPath := filepath.Join(dir, filepath.Base(sourcePath))
	size, hash, err := copyFile(source, snapPath)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	modTime := sourceInfo.ModTime()
	if err := os.Chtimes(snapPath, time.Now(), modTime); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to set modification time: %w", err)
	}

	return &Snapshot{
		SourcePath: sourcePath,
		Path:       snapPath,
		Hash:       hash,
		Size:       size,
		ModTime:    modTime,
	}, nil
}

func copyFile(source io.Reader, destPath string) (int64, string, error) {
	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer dest.Close()

	hash := crc32.NewIEEE()
	size, err := io.CopyBuffer(io.MultiWriter(dest, hash), source, make([]byte, ChunkSize))
	if err != nil {
		return 0, "", fmt.Errorf("failed to copy to temp file: %w", err)
	}

	if err := dest.Close(); err != nil {
		return 0, "", fmt.Errorf("failed to write temp file: %w", err)
	}

	return size, fmt.Sprintf("%08x", hash.Sum32()), nil
}

// Remove deletes the snapshot and its directory. It is safe to call twice.
func (s *Snapshot) Remove() error {
	if s == nil || s.Path == "" {
		return nil
	}

	if err := os.RemoveAll(filepath.Dir(s.Path)); err != nil {
		return fmt.Errorf("failed to remove snapshot: %w", err)
	}
	return nil
}

// Open snapshots path and opens the copy. The returned cleanup removes the
// snapshot and must be called once the database is no longer used.
func Open(path string, opts ...mdb.Option) (*mdb.Database, func() error, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("%w: %q", mdb.ErrFileDoesNotExist, path)
	}

	snap, err := Take(path)
	if err != nil {
		return nil, nil, err
	}

	db, err := mdb.Open(snap.Path, opts...)
	if err != nil {
		snap.Remove()
		return nil, nil, err
	}

	return db, snap.Remove, nil
}
