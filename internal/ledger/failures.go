package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// Failure is one skipped or failed item, kept for manual reprocessing.
type Failure struct {
	URL        string    `json:"url"`
	List       string    `json:"list,omitempty"`
	Stage      string    `json:"stage"`
	Error      string    `json:"error"`
	Screenshot string    `json:"screenshot,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	Time       time.Time `json:"time"`
}

// FailureLog appends failures as JSON lines.
type FailureLog struct {
	mu    sync.Mutex
	file  *os.File
	clock Clock
}

// OpenFailureLog opens (or creates) the failure log at path for appending.
// A nil clock stamps entries with the UTC wall clock.
func OpenFailureLog(path string, clock Clock) (*FailureLog, error) {
	if path == "" {
		return nil, errors.New("failure log path is required")
	}
	if clock == nil {
		clock = utcClock{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create failure log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	return &FailureLog{file: f, clock: clock}, nil
}

// Record appends f, stamping its time when unset. It writes even after ctx
// is cancelled, so items that fail during shutdown still reach the log.
func (l *FailureLog) Record(_ context.Context, f Failure) error {
	if f.Time.IsZero() {
		f.Time = l.clock.Now()
	}
	line, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode failure: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append failure log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync failure log: %w", err)
	}
	return nil
}

// Close releases the file handle.
func (l *FailureLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
