package asar

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	defaultFileMode = 0o644
	defaultDirMode  = 0o755
)

// FileSink writes extracted entries to the local filesystem.
//
// All operations are confined to the destination directory with os.Root,
// so names or symlinks escaping it are rejected. By default files are
// written to a temporary file in the same directory and renamed into place
// once complete, so a failed or tampered write never leaves a partial file
// at the final path. FileSink is safe for concurrent use.
type FileSink struct {
	dir         string
	fileMode    fs.FileMode
	directWrite bool
	logger      *slog.Logger

	mu     sync.Mutex
	root   *os.Root
	closed bool
}

// Interface compliance.
var _ Sink = (*FileSink)(nil)

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// FileSinkWithFileMode sets the permission bits of written files before
// MarkExecutable adds the executable bits. The default is 0644.
func FileSinkWithFileMode(mode fs.FileMode) FileSinkOption {
	return func(s *FileSink) {
		s.fileMode = mode.Perm()
	}
}

// FileSinkWithDirectWrites disables temp files and writes directly to the
// final path. A failed write removes the file.
func FileSinkWithDirectWrites(enabled bool) FileSinkOption {
	return func(s *FileSink) {
		s.directWrite = enabled
	}
}

// FileSinkWithLogger sets the logger for sink operations.
func FileSinkWithLogger(logger *slog.Logger) FileSinkOption {
	return func(s *FileSink) {
		s.logger = logger
	}
}

// NewFileSink creates a FileSink rooted at dir. The directory and its
// parents are created on first use.
func NewFileSink(dir string, opts ...FileSinkOption) *FileSink {
	s := &FileSink{
		dir:      filepath.Clean(dir),
		fileMode: defaultFileMode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// log returns the logger, falling back to a discard logger if nil.
func (s *FileSink) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// CreateDirectory creates name and any missing parents.
func (s *FileSink) CreateDirectory(name string) error {
	rel, err := s.rel(name)
	if err != nil {
		return err
	}
	root, err := s.openRoot()
	if err != nil {
		return err
	}
	if rel == "." {
		return nil
	}
	if err := root.MkdirAll(rel, defaultDirMode); err != nil {
		return err
	}
	return nil
}

// WriteFile writes the content of r to name.
func (s *FileSink) WriteFile(name string, r io.Reader, opts WriteOptions) error {
	rel, err := s.rel(name)
	if err != nil {
		return err
	}
	root, err := s.openRoot()
	if err != nil {
		return err
	}

	parent := filepath.Dir(rel)
	if parent != "." {
		if err := root.MkdirAll(parent, defaultDirMode); err != nil {
			return err
		}
	}
	if !opts.Overwrite {
		if _, err := root.Lstat(rel); err == nil {
			return &fs.PathError{Op: "write", Path: name, Err: fs.ErrExist}
		}
	}

	if s.directWrite {
		return s.writeDirect(root, rel, r, opts)
	}

	tmp, tmpRel, err := createTempFile(root, parent, ".asar-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if err := copyExact(tmp, r, opts.Size); err != nil {
		_ = tmp.Close()         //nolint:errcheck // best-effort cleanup
		_ = root.Remove(tmpRel) //nolint:errcheck // best-effort cleanup
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = root.Remove(tmpRel) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := root.Chmod(tmpRel, s.fileMode); err != nil {
		_ = root.Remove(tmpRel) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("chmod: %w", err)
	}
	if err := root.Rename(tmpRel, rel); err != nil {
		_ = root.Remove(tmpRel) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", name, err)
	}
	s.log().Debug("wrote file", "path", name, "size", opts.Size)
	return nil
}

func (s *FileSink) writeDirect(root *os.Root, rel string, r io.Reader, opts WriteOptions) error {
	f, err := root.OpenFile(rel, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, s.fileMode)
	if err != nil {
		return err
	}
	if err := copyExact(f, r, opts.Size); err != nil {
		_ = f.Close()        //nolint:errcheck // best-effort cleanup
		_ = root.Remove(rel) //nolint:errcheck // best-effort cleanup
		return err
	}
	if err := f.Close(); err != nil {
		_ = root.Remove(rel) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close file: %w", err)
	}
	return root.Chmod(rel, s.fileMode)
}

// MarkExecutable adds the executable bits to a written file.
func (s *FileSink) MarkExecutable(name string) error {
	rel, err := s.rel(name)
	if err != nil {
		return err
	}
	root, err := s.openRoot()
	if err != nil {
		return err
	}
	info, err := root.Lstat(rel)
	if err != nil {
		return err
	}
	return root.Chmod(rel, info.Mode().Perm()|0o111)
}

// CreateSymlink creates name as a symlink to target. The target is stored
// as given and may be relative to the link's directory. An existing link
// with the same target is left in place.
func (s *FileSink) CreateSymlink(name, target string) error {
	rel, err := s.rel(name)
	if err != nil {
		return err
	}
	root, err := s.openRoot()
	if err != nil {
		return err
	}
	if parent := filepath.Dir(rel); parent != "." {
		if err := root.MkdirAll(parent, defaultDirMode); err != nil {
			return err
		}
	}

	err = root.Symlink(target, rel)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		if existing, rerr := root.Readlink(rel); rerr == nil && existing == target {
			return nil
		}
	}
	return err
}

// Close releases the handle on the destination directory.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.root == nil {
		return nil
	}
	err := s.root.Close()
	s.root = nil
	return err
}

// openRoot opens the destination directory, creating it if needed.
func (s *FileSink) openRoot() (*os.Root, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("file sink %s: %w", s.dir, fs.ErrClosed)
	}
	if s.root != nil {
		return s.root, nil
	}
	if err := os.MkdirAll(s.dir, defaultDirMode); err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(s.dir)
	if err != nil {
		return nil, err
	}
	s.root = root
	return root, nil
}

// rel converts a destination path to a path relative to the sink root.
func (s *FileSink) rel(name string) (string, error) {
	rel, err := filepath.Rel(s.dir, filepath.Clean(name))
	if err != nil {
		return "", &fs.PathError{Op: "resolve", Path: name, Err: ErrUnsafePath}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &fs.PathError{Op: "resolve", Path: name, Err: ErrUnsafePath}
	}
	return rel, nil
}

// copyExact copies exactly size bytes from r to w. The reader must reach
// EOF right after size bytes.
func copyExact(w io.Writer, r io.Reader, size int64) error {
	n, err := io.Copy(w, r)
	if err != nil {
		return err
	}
	if n != size {
		return fmt.Errorf("copied %d bytes, expected %d: %w", n, size, io.ErrUnexpectedEOF)
	}
	return nil
}

func createTempFile(root *os.Root, dir, prefix string) (*os.File, string, error) {
	const attempts = 10
	for range attempts {
		name, err := randomSuffix()
		if err != nil {
			return nil, "", err
		}
		relPath := filepath.Join(dir, prefix+name)
		f, err := root.OpenFile(relPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return f, relPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", errors.New("create temp file: exhausted retries")
}

func randomSuffix() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
