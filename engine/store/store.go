// Package store persists aggregation results as JSON bundles and keeps the
// append-only log of dropped notices.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/noticewatch/noticewatch/engine/notice"
	"github.com/noticewatch/noticewatch/pkg/fn"
	"github.com/noticewatch/noticewatch/pkg/logger"
)

// Origin tells where a loaded bundle came from.
type Origin string

const (
	OriginPrimary Origin = "primary"
	OriginBackup  Origin = "backup"
	OriginEmpty   Origin = "empty"
)

var errEmptyFile = errors.New("empty file")

// JSONStore reads and writes one bundle file. Writes go through a temp file
// in the same directory so readers observe either the old or the new
// bundle, never a partial one.
type JSONStore struct {
	path        string
	log         logger.Logger
	readRetries fn.RetryOpts
}

// NewJSONStore creates a store for path.
func NewJSONStore(path string, log logger.Logger) *JSONStore {
	if log == nil {
		log = logger.NewNop()
	}
	return &JSONStore{
		path: path,
		log:  log,
		readRetries: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 150 * time.Millisecond,
			MaxWait:     150 * time.Millisecond,
		},
	}
}

// Path returns the canonical file path.
func (s *JSONStore) Path() string { return s.path }

// BackupPath returns the path of the previous generation.
func (s *JSONStore) BackupPath() string { return s.path + ".bak" }

// Save atomically replaces the canonical file with b. The previous file
// becomes the backup only when it still decodes, so a corrupt canonical
// file never overwrites a good backup.
func (s *JSONStore) Save(_ context.Context, b notice.Bundle) error {
	if b.Items == nil {
		b.Items = []notice.Notice{}
	}
	data, err := encode(b)
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	if prev, err := os.ReadFile(s.path); err == nil {
		if _, derr := decode(prev); derr != nil {
			s.log.Warn("canonical bundle unreadable, keeping previous backup",
				logger.String("path", s.path), logger.Error(derr))
		} else if err := writeAtomic(s.BackupPath(), prev); err != nil {
			s.log.Warn("backup rotation failed",
				logger.String("path", s.path), logger.Error(err))
		}
	}
	if err := writeAtomic(s.path, data); err != nil {
		return err
	}
	s.log.Info("bundle saved",
		logger.String("path", s.path),
		logger.Int("count", b.Count),
	)
	return nil
}

// writeAtomic replaces path with data through a synced temp file in the
// same directory.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// Load returns the canonical bundle, falling back to the backup and then to
// an empty bundle. It never fails.
func (s *JSONStore) Load(ctx context.Context) (notice.Bundle, Origin) {
	if b, err := s.read(ctx, s.path); err == nil {
		return b, OriginPrimary
	} else if !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("bundle unreadable, trying backup",
			logger.String("path", s.path), logger.Error(err))
	}
	if b, err := s.read(ctx, s.BackupPath()); err == nil {
		return b, OriginBackup
	}
	return notice.EmptyBundle(), OriginEmpty
}

// read retries decode failures, which can occur when a writer on another
// host replaces the file non-atomically.
func (s *JSONStore) read(ctx context.Context, path string) (notice.Bundle, error) {
	return fn.Retry(ctx, s.readRetries, func(context.Context) fn.Result[notice.Bundle] {
		data, err := os.ReadFile(path)
		if err != nil {
			return fn.Err[notice.Bundle](fn.Permanent(err))
		}
		b, err := decode(data)
		if err != nil {
			return fn.Err[notice.Bundle](fmt.Errorf("decode %s: %w", path, err))
		}
		return fn.Ok(b)
	}).Get()
}

func decode(data []byte) (notice.Bundle, error) {
	var b notice.Bundle
	if len(bytes.TrimSpace(data)) == 0 {
		return b, errEmptyFile
	}
	if err := json.Unmarshal(data, &b); err != nil {
		return b, err
	}
	if b.Items == nil {
		b.Items = []notice.Notice{}
	}
	return b, nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
