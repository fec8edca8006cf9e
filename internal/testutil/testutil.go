// Package testutil provides in-memory sources, sinks and archive builders
// for tests.
package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/meigma/asar/internal/asartype"
)

// MockByteSource implements a simple in-memory byte source for tests.
type MockByteSource struct {
	data []byte

	// ReadErr, when set, is returned by ReadAt for reads at or past FailAt.
	ReadErr error
	FailAt  int64

	reads atomic.Int64
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(data []byte) *MockByteSource {
	return &MockByteSource{data: data}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockByteSource) ReadAt(p []byte, off int64) (int, error) {
	m.reads.Add(1)
	if m.ReadErr != nil && off+int64(len(p)) > m.FailAt {
		return 0, m.ReadErr
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if off+int64(n) >= int64(len(m.data)) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// Bytes returns the backing slice for tests that need to mutate data.
func (m *MockByteSource) Bytes() []byte {
	return m.data
}

// Reads returns the number of ReadAt calls served so far.
func (m *MockByteSource) Reads() int64 {
	return m.reads.Load()
}

// Op is a single sink call recorded by MemSink.
type Op struct {
	Kind   string // "mkdir", "write", "chmod" or "symlink"
	Name   string
	Target string
}

// MemSink is a concurrency-safe in-memory Sink.
//
// Names are recorded exactly as passed by the extractor. Use Key to build
// the expected name for a destination and slash-separated entry path.
type MemSink struct {
	// NoSymlinks makes CreateSymlink fail with ErrSymlinkUnsupported.
	NoSymlinks bool

	// FailWrite maps names to errors returned by WriteFile.
	FailWrite map[string]error

	mu    sync.Mutex
	ops   []Op
	dirs  map[string]int
	files map[string][]byte
	exec  map[string]bool
	links map[string]string
}

// NewMemSink returns an empty MemSink.
func NewMemSink() *MemSink {
	return &MemSink{
		dirs:  make(map[string]int),
		files: make(map[string][]byte),
		exec:  make(map[string]bool),
		links: make(map[string]string),
	}
}

// Key joins dest and a slash-separated entry path the way the extractor does.
func Key(dest, p string) string {
	return filepath.Join(dest, filepath.FromSlash(p))
}

// CreateDirectory implements asartype.Sink.
func (s *MemSink) CreateDirectory(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, Op{Kind: "mkdir", Name: name})
	s.dirs[name]++
	return nil
}

// WriteFile implements asartype.Sink. Nothing is recorded when r fails.
func (s *MemSink) WriteFile(name string, r io.Reader, opts asartype.WriteOptions) error {
	if err := s.FailWrite[name]; err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	if int64(buf.Len()) != opts.Size {
		return fmt.Errorf("testutil: wrote %d bytes, want %d", buf.Len(), opts.Size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[name]; ok && !opts.Overwrite {
		return &fs.PathError{Op: "write", Path: name, Err: fs.ErrExist}
	}
	s.ops = append(s.ops, Op{Kind: "write", Name: name})
	s.files[name] = buf.Bytes()
	return nil
}

// MarkExecutable implements asartype.Sink.
func (s *MemSink) MarkExecutable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[name]; !ok {
		return &fs.PathError{Op: "chmod", Path: name, Err: fs.ErrNotExist}
	}
	s.ops = append(s.ops, Op{Kind: "chmod", Name: name})
	s.exec[name] = true
	return nil
}

// CreateSymlink implements asartype.Sink.
func (s *MemSink) CreateSymlink(name, target string) error {
	if s.NoSymlinks {
		return asartype.ErrSymlinkUnsupported
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, Op{Kind: "symlink", Name: name, Target: target})
	s.links[name] = target
	return nil
}

// Ops returns a copy of the recorded calls in call order.
func (s *MemSink) Ops() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ops)
}

// File returns the content written to name.
func (s *MemSink) File(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[name]
	return data, ok
}

// Files returns the number of files written.
func (s *MemSink) Files() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// HasDir reports whether name was created as a directory.
func (s *MemSink) HasDir(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirs[name] > 0
}

// IsExecutable reports whether name was marked executable.
func (s *MemSink) IsExecutable(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec[name]
}

// Link returns the symlink target recorded for name.
func (s *MemSink) Link(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.links[name]
	return target, ok
}

// ErrInjected is a generic failure for fault-injection tests.
var ErrInjected = errors.New("testutil: injected failure")
