// Package audit emits structured records for every sync operation.
//
// Records deliberately carry no artifact content and no secret values:
// only who did what to which artifact, and how it came out.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Record is one audit log line.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	Author     string    `json:"author"`
	ArtifactID string    `json:"artifact_id"`
	Operation  string    `json:"operation"` // push, pull, resolve, drain
	Outcome    string    `json:"outcome"`
}

// Logger appends audit records somewhere durable.
type Logger interface {
	Log(rec Record) error
}

// FileLogger writes JSON lines through a size-rotated file.
type FileLogger struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewFileLogger opens (or creates) the audit log at path with rotation at
// 10MB, keeping 5 old files for 30 days.
func NewFileLogger(path string) *FileLogger {
	return &FileLogger{
		w: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}
}

// Log implements Logger.
func (l *FileLogger) Log(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(data); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Close()
}

// Nop discards all records. Used in tests and read-only commands.
type Nop struct{}

// Log implements Logger.
func (Nop) Log(Record) error { return nil }
