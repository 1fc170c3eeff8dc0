package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/noticewatch/noticewatch/engine/notice"
)

// SkipLog is an append-only JSON Lines file of notices dropped for lack of
// a genuine destination link. It is safe for concurrent use.
type SkipLog struct {
	mu   sync.Mutex
	path string
}

// NewSkipLog creates a skip log at path. The file is created on first
// append.
func NewSkipLog(path string) *SkipLog {
	return &SkipLog{path: path}
}

// Path returns the log file path.
func (l *SkipLog) Path() string { return l.path }

// Append writes one entry as a single line.
func (l *SkipLog) Append(e notice.SkipEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode skip entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(l.path), err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open skip log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append skip log: %w", err)
	}
	return f.Close()
}

// Tail returns up to the last n entries in file order. Lines that do not
// decode are ignored. A missing file yields no entries.
func (l *SkipLog) Tail(n int) ([]notice.SkipEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open skip log: %w", err)
	}
	defer f.Close()

	var out []notice.SkipEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), 4<<20)
	for sc.Scan() {
		var e notice.SkipEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
		if n > 0 && len(out) > n {
			out = out[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read skip log: %w", err)
	}
	return out, nil
}
