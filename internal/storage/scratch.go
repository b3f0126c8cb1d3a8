package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Scratch is a temp directory for files that only live during one request.
// The directory is created on first use.
type Scratch struct {
	dir string
}

func NewScratch(dir string) *Scratch {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "imagegate")
	}
	return &Scratch{dir: dir}
}

func (s *Scratch) Dir() string {
	return s.dir
}

// Write stores data in a new file and returns its path. Callers remove the
// file when done; leftovers are handled by Sweep.
func (s *Scratch) Write(prefix string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	f, err := os.CreateTemp(s.dir, sanitizePathSegment(prefix)+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close scratch file: %w", err)
	}
	return f.Name(), nil
}

func (s *Scratch) Remove(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// Sweep deletes regular files older than maxAge and reports how many went.
func (s *Scratch) Sweep(maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
