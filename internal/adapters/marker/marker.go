// Package marker records the last time the active band changed so that
// processes sharing a filesystem can detect transitions by polling.
package marker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Marker stores a monotonically advancing change timestamp.
type Marker interface {
	// Touch records now as the latest change.
	Touch(ctx context.Context) error
	// Load returns the latest change, or the zero time if none was recorded.
	Load(ctx context.Context) (time.Time, error)
}

// File is a Marker backed by a text file holding unix milliseconds.
type File struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
	last int64
}

// NewFile returns a file marker at path. The parent directory is created on
// first Touch.
func NewFile(path string, opts ...Option) *File {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &File{path: path, now: o.now}
}

// Path returns the marker file location.
func (f *File) Path() string { return f.path }

// Touch replaces the file content through a rename so readers never see a
// partial write. Stamps never go backwards within one process.
func (f *File) Touch(ctx context.Context) error {
	const op = "marker.Touch"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	stamp := f.now().UnixMilli()
	if stamp <= f.last {
		stamp = f.last + 1
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrWrite, err)
	}
	tmp, err := os.CreateTemp(dir, ".marker-*")
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrWrite, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(strconv.FormatInt(stamp, 10)); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%s: %w: %w", op, ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrWrite, err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrWrite, err)
	}
	f.last = stamp
	return nil
}

// Load reads the file. A missing file means no change was ever recorded.
func (f *File) Load(ctx context.Context) (time.Time, error) {
	const op = "marker.Load"
	if err := ctx.Err(); err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", op, err)
	}
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w: %w", op, ErrRead, err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w: %q", op, ErrCorrupt, text)
	}
	return time.UnixMilli(ms), nil
}

// Memory is a Marker kept in process memory.
type Memory struct {
	now  func() time.Time
	mu   sync.RWMutex
	last time.Time
}

// NewMemory returns an empty in-memory marker.
func NewMemory(opts ...Option) *Memory {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Memory{now: o.now}
}

func (m *Memory) Touch(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if !now.After(m.last) {
		now = m.last.Add(time.Millisecond)
	}
	m.last = now
	return nil
}

func (m *Memory) Load(_ context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, nil
}

// Option configures a marker.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used for stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
