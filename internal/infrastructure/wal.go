// internal/infrastructure/wal.go
package infrastructure

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const defaultMaxRetries = 5

// WALEntry is one undelivered lifecycle event.
type WALEntry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Retries   int             `json:"retries"`
}

// WAL is an append-only JSON-lines file holding events that could not be
// delivered to the bus.
type WAL struct {
	path        string
	file        *os.File
	mu          sync.Mutex
	currentSize int64
	maxRetries  int
}

// NewWAL opens or creates the log at path.
func NewWAL(path string) (*WAL, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat WAL file: %w", err)
	}

	return &WAL{
		path:        path,
		file:        file,
		currentSize: stat.Size(),
		maxRetries:  defaultMaxRetries,
	}, nil
}

// Append writes one event and syncs it to disk.
func (w *WAL) Append(topic string, data []byte) (WALEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := WALEntry{
		ID:        ulid.Make().String(),
		Timestamp: time.Now().UTC(),
		Topic:     topic,
		Data:      json.RawMessage(data),
	}
	if err := w.writeLine(entry); err != nil {
		return WALEntry{}, err
	}
	return entry, nil
}

func (w *WAL) writeLine(entry WALEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal WAL entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := w.file.Write(line); err != nil {
		return fmt.Errorf("failed to write to WAL: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	w.currentSize += int64(len(line))
	return nil
}

// ReadAll returns the entries that still have retries left, oldest first.
// Corrupted lines are skipped.
func (w *WAL) ReadAll() ([]WALEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readLocked()
}

func (w *WAL) readLocked() ([]WALEntry, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL for reading: %w", err)
	}
	defer f.Close()

	var entries []WALEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry WALEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil || entry.ID == "" {
			continue
		}
		if entry.Retries < w.maxRetries {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read WAL: %w", err)
	}
	return entries, nil
}

// Compact rewrites the log without the delivered entries. Failed entries
// have their retry count bumped; entries out of retries are dropped.
// Entries appended since the caller's ReadAll are kept.
func (w *WAL) Compact(delivered, failed []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries, err := w.readLocked()
	if err != nil {
		return err
	}

	done := make(map[string]bool, len(delivered))
	for _, id := range delivered {
		done[id] = true
	}
	retry := make(map[string]bool, len(failed))
	for _, id := range failed {
		retry[id] = true
	}

	tempPath := w.path + ".tmp"
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp WAL file: %w", err)
	}
	defer tempFile.Close()

	writer := bufio.NewWriter(tempFile)
	newSize := int64(0)
	for _, entry := range entries {
		if done[entry.ID] {
			continue
		}
		if retry[entry.ID] {
			entry.Retries++
			if entry.Retries >= w.maxRetries {
				continue
			}
		}
		line, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal WAL entry: %w", err)
		}
		if _, err := writer.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("failed to write to temp WAL: %w", err)
		}
		newSize += int64(len(line) + 1)
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush temp WAL: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp WAL: %w", err)
	}

	w.file.Close()
	if err := os.Rename(tempPath, w.path); err != nil {
		return fmt.Errorf("failed to replace WAL file: %w", err)
	}

	w.file, err = os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to reopen WAL file: %w", err)
	}
	w.currentSize = newSize
	return nil
}

// Close closes the WAL.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL before closing: %w", err)
		}
		return w.file.Close()
	}
	return nil
}

// Stats returns WAL statistics.
func (w *WAL) Stats() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	return map[string]interface{}{
		"path": w.path,
		"size": w.currentSize,
	}
}
