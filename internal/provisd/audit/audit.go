// Package audit appends delivery access records to a JSONL log.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one access log record
type Entry struct {
	Time     time.Time `json:"time"`
	Addr     string    `json:"addr"`
	Region   string    `json:"region"`
	Artifact string    `json:"artifact"`
	Tool     string    `json:"tool"`
	Decision string    `json:"decision"`
}

// Log is an append-only JSONL access log. A nil file (empty path) makes
// every Append a no-op, so callers never need to branch on configuration.
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// New opens the access log at path for appending, creating parent
// directories as needed. An empty path returns a disabled log.
func New(path string) (*Log, error) {
	if path == "" {
		return &Log{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &Log{file: file}, nil
}

// Append writes one entry as a JSON line
func (l *Log) Append(entry Entry) error {
	if l == nil || l.file == nil {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// Close closes the underlying file
func (l *Log) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
