package asar

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/asar/internal/asartype"
	"github.com/meigma/asar/internal/header"
	"github.com/meigma/asar/internal/resolve"
	"github.com/meigma/asar/internal/sizing"
)

const (
	// DefaultMaxHeaderSize is the default limit on the JSON index size (64MB).
	DefaultMaxHeaderSize = header.DefaultMaxHeaderSize

	// MaxCachedFileSize is the largest file kept by the WithCache cache (1MB).
	MaxCachedFileSize = 1 << 20

	// maxLinkHops bounds link resolution, matching common OS limits.
	maxLinkHops = 40

	// maxReadPrealloc caps the buffer preallocated by ReadFile.
	maxReadPrealloc = 32 << 20
)

// rootEntry stands in for the archive root, which has no entry of its own.
var rootEntry = Entry{Path: ".", Kind: KindDirectory}

// Archive is an opened ASAR archive.
//
// The header is decoded and every entry validated when the archive is
// opened; file content is read on demand. Archive is safe for concurrent
// use. It implements fs.FS, fs.StatFS, fs.ReadFileFS, fs.ReadDirFS and
// fs.ReadLinkFS.
type Archive struct {
	src       ByteSource
	closer    io.Closer
	dataStart int64
	entries   []Entry
	paths     map[string]int   // entry path -> index into entries
	children  map[string][]int // directory path ("." for the root) -> child indices

	unpackedDir   string
	maxHeaderSize int64
	useMmap       bool
	verifyReads   bool
	cacheEntries  int
	cache         *lru.Cache[string, []byte]
	readGroup     singleflight.Group
	logger        *slog.Logger

	mu           sync.Mutex
	closed       bool
	unpackedRoot *os.Root
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Open decodes and validates the archive in src.
//
// The caller keeps ownership of src; Close does not close it. Open returns a
// *FormatError for malformed archives and an *IOError when src fails.
func Open(src ByteSource, opts ...Option) (*Archive, error) {
	a := newArchive(opts)
	if err := a.load(src); err != nil {
		return nil, err
	}
	return a, nil
}

// sourceCloser is a ByteSource owned by the Archive.
type sourceCloser interface {
	ByteSource
	io.Closer
}

// OpenFile opens the archive at path.
//
// The returned Archive owns the file handle (or memory mapping, see
// WithMmap) and must be closed. Unless WithUnpackedDir is given, unpacked
// files are read from path + ".unpacked".
func OpenFile(path string, opts ...Option) (*Archive, error) {
	a := newArchive(opts)

	var src sourceCloser
	if a.useMmap {
		m, err := openMmapSource(path)
		if err != nil {
			return nil, asartype.NewIOError("open", path, err)
		}
		src = m
	} else {
		f, err := os.Open(path) //nolint:gosec // user-provided path is intentional
		if err != nil {
			return nil, asartype.NewIOError("open", path, err)
		}
		fsrc, err := newFileSource(f)
		if err != nil {
			_ = f.Close() //nolint:errcheck // best-effort cleanup
			return nil, asartype.NewIOError("open", path, err)
		}
		src = fsrc
	}

	if a.unpackedDir == "" {
		a.unpackedDir = path + ".unpacked"
	}
	if err := a.load(src); err != nil {
		_ = src.Close() //nolint:errcheck // best-effort cleanup
		return nil, err
	}
	a.closer = src
	return a, nil
}

// WithArchive opens the archive at path, calls fn and closes the archive,
// whether or not fn succeeds.
func WithArchive(path string, fn func(*Archive) error, opts ...Option) error {
	a, err := OpenFile(path, opts...)
	if err != nil {
		return err
	}
	fnErr := fn(a)
	return errors.Join(fnErr, a.Close())
}

func newArchive(opts []Option) *Archive {
	a := &Archive{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// load decodes the header, resolves every entry and builds the lookup tables.
func (a *Archive) load(src ByteSource) error {
	limit := a.maxHeaderSize
	switch {
	case limit == 0:
		limit = DefaultMaxHeaderSize
	case limit < 0:
		limit = 0
	}

	h, err := header.Decode(src, limit)
	if err != nil {
		return err
	}
	entries, err := resolve.Resolve(h.Root, h.DataStart, src.Size())
	if err != nil {
		return err
	}

	a.src = src
	a.dataStart = h.DataStart
	a.entries = entries
	a.paths = make(map[string]int, len(entries))
	a.children = make(map[string][]int)
	for i := range entries {
		p := entries[i].Path
		a.paths[p] = i
		parent := path.Dir(p)
		a.children[parent] = append(a.children[parent], i)
	}

	if a.cacheEntries > 0 {
		c, err := lru.New[string, []byte](a.cacheEntries)
		if err != nil {
			return fmt.Errorf("asar: create cache: %w", err)
		}
		a.cache = c
	}

	a.log().Info("opened archive",
		"entries", len(entries),
		"header_size", h.StringSize,
		"data_start", h.DataStart,
		"size", src.Size())
	return nil
}

// Close releases the file handle owned by the archive, if any.
// Close is idempotent. Metadata methods such as List keep working after
// Close; content reads fail with ErrClosed.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	if a.unpackedRoot != nil {
		errs = append(errs, a.unpackedRoot.Close())
		a.unpackedRoot = nil
	}
	if a.closer != nil {
		errs = append(errs, a.closer.Close())
		a.closer = nil
	}
	if a.cache != nil {
		a.cache.Purge()
	}
	return errors.Join(errs...)
}

func (a *Archive) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// List returns every entry in pre-order: each directory precedes its
// children, and siblings keep their order in the header. The returned slice
// is a copy and is identical across calls.
func (a *Archive) List() []Entry {
	return slices.Clone(a.entries)
}

// Len returns the number of entries, excluding the root.
func (a *Archive) Len() int {
	return len(a.entries)
}

// DataStart returns the absolute offset of the data region.
func (a *Archive) DataStart() int64 {
	return a.dataStart
}

// Size returns the archive size in bytes.
func (a *Archive) Size() int64 {
	return a.src.Size()
}

// Entry returns the entry stored at name without following links.
func (a *Archive) Entry(name string) (Entry, bool) {
	i, ok := a.paths[NormalizePath(name)]
	if !ok {
		return Entry{}, false
	}
	return a.entries[i], true
}

// ReadFile reads the named file, following links inside the archive.
//
// It fails with ErrNotFound for unknown paths, ErrNotAFile for directories
// and ErrClosed after Close. With WithCache, content is served from memory
// and concurrent reads of the same file are deduplicated.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	e, err := a.lookupFile("readfile", name)
	if err != nil {
		return nil, err
	}

	data, err := a.readCached(e)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return data, nil
}

// OpenEntry opens the named file for streaming, following links inside the
// archive. The caller must close the returned reader.
func (a *Archive) OpenEntry(name string) (io.ReadCloser, error) {
	e, err := a.lookupFile("open", name)
	if err != nil {
		return nil, err
	}
	f, err := a.openFile(e, path.Base(name))
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return f, nil
}

// lookupFile resolves name to a file entry for a content read.
func (a *Archive) lookupFile(op, name string) (*Entry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	if a.isClosed() {
		return nil, &fs.PathError{Op: op, Path: name, Err: ErrClosed}
	}
	e, err := a.resolvePath(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: op, Path: name, Err: err}
	}
	if e.Kind != KindFile {
		return nil, &fs.PathError{Op: op, Path: name, Err: ErrNotAFile}
	}
	return e, nil
}

// readAll reads the whole content of a file entry.
func (a *Archive) readAll(e *Entry) ([]byte, error) {
	if _, err := sizing.ToInt(e.Size, ErrSizeOverflow); err != nil {
		return nil, err
	}
	f, err := a.openFile(e, e.Name())
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	buf.Grow(int(min(e.Size, maxReadPrealloc)))
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, err
	}
	if int64(buf.Len()) != e.Size {
		return nil, asartype.NewFormatError(asartype.SizeMismatch, e.Path, asartype.NoOffset,
			fmt.Errorf("read %d bytes, header records %d", buf.Len(), e.Size))
	}
	return buf.Bytes(), nil
}

// resolvePath finds the entry for a slash-separated path. Links in
// intermediate segments are always followed; a link in the last segment is
// followed when followLast is set.
func (a *Archive) resolvePath(name string, followLast bool) (*Entry, error) {
	if name == "." {
		return &rootEntry, nil
	}

	segs := strings.Split(name, "/")
	cur := ""
	hops := 0
	for i := 0; i < len(segs); i++ {
		p := segs[i]
		if cur != "" {
			p = cur + "/" + segs[i]
		}
		idx, ok := a.paths[p]
		if !ok {
			return nil, ErrNotFound
		}
		e := &a.entries[idx]
		last := i == len(segs)-1

		if e.Kind == KindLink && (!last || followLast) {
			hops++
			if hops > maxLinkHops {
				return nil, ErrLinkLoop
			}
			rest := segs[i+1:]
			if e.LinkPath == "." {
				segs = slices.Clone(rest)
			} else {
				segs = append(strings.Split(e.LinkPath, "/"), rest...)
			}
			if len(segs) == 0 {
				return &rootEntry, nil
			}
			cur = ""
			i = -1
			continue
		}
		if last {
			return e, nil
		}
		if e.Kind != KindDirectory {
			return nil, ErrNotFound
		}
		cur = p
	}
	return &rootEntry, nil
}

// openUnpacked opens the content of an unpacked file, confined to the
// unpacked directory.
func (a *Archive) openUnpacked(name string) (*os.File, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrClosed
	}
	if a.unpackedRoot == nil {
		if a.unpackedDir == "" {
			a.mu.Unlock()
			return nil, asartype.NewIOError("open", name, fmt.Errorf("no unpacked directory: %w", fs.ErrNotExist))
		}
		root, err := os.OpenRoot(a.unpackedDir)
		if err != nil {
			a.mu.Unlock()
			return nil, asartype.NewIOError("open", a.unpackedDir, err)
		}
		a.unpackedRoot = root
	}
	root := a.unpackedRoot
	a.mu.Unlock()

	f, err := root.Open(filepath.FromSlash(name))
	if err != nil {
		return nil, asartype.NewIOError("open", name, err)
	}
	return f, nil
}
