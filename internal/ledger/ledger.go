// Package ledger persists crawl progress: the set of completed item URLs and
// a log of items that failed or were skipped.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Ledger is an append-only set of completed item URLs backed by a file with
// one canonical URL per line. A missing file is an empty ledger.
type Ledger struct {
	mu   sync.Mutex
	path string
	file *os.File
	done map[string]struct{}
}

// Open loads the ledger at path, creating it on first Mark.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path is required")
	}
	l := &Ledger{path: path, done: make(map[string]struct{})}
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return l, nil
	case err != nil:
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		l.done[MustCanonicalize(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	return l, nil
}

// Has reports whether url was marked completed.
func (l *Ledger) Has(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.done[MustCanonicalize(url)]
	return ok
}

// Mark records url as completed. The entry is synced to disk before Mark
// returns. Marking an already completed url is a no-op.
func (l *Ledger) Mark(url string) error {
	key := MustCanonicalize(url)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.done[key]; ok {
		return nil
	}
	if l.file == nil {
		if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open ledger for append: %w", err)
		}
		l.file = f
	}
	if _, err := l.file.WriteString(key + "\n"); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	l.done[key] = struct{}{}
	return nil
}

// Len returns the number of completed urls.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.done)
}

// Close releases the append handle.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
