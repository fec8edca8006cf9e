package asar

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/meigma/asar/internal/asartype"
	"github.com/meigma/asar/internal/integrity"
)

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
	_ fs.ReadDirFS  = (*Archive)(nil)
	_ fs.ReadLinkFS = (*Archive)(nil)
)

// errSeekVerify is returned by Seek on files opened with WithVerifyReads.
var errSeekVerify = errors.New("seek not supported while verifying integrity")

// Open implements fs.FS.
//
// Links inside the archive are followed. Opened files support io.ReaderAt
// and io.Seeker; directories implement fs.ReadDirFile.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	e, err := a.resolvePath(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	if e.Kind == KindDirectory {
		return &openDir{a: a, name: name, entry: e}, nil
	}
	if a.isClosed() {
		return nil, &fs.PathError{Op: "open", Path: name, Err: ErrClosed}
	}
	f, err := a.openFile(e, path.Base(name))
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return f, nil
}

// Stat implements fs.StatFS. Links are followed.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	return a.stat("stat", name, true)
}

// Lstat implements fs.ReadLinkFS. A link in the last path element is
// described rather than followed.
func (a *Archive) Lstat(name string) (fs.FileInfo, error) {
	return a.stat("lstat", name, false)
}

func (a *Archive) stat(op, name string, follow bool) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	e, err := a.resolvePath(name, follow)
	if err != nil {
		return nil, &fs.PathError{Op: op, Path: name, Err: err}
	}
	return newFileInfo(e, path.Base(name)), nil
}

// ReadLink implements fs.ReadLinkFS.
//
// It returns the link target relative to the link's directory, the same
// text a symlink created by Extract holds.
func (a *Archive) ReadLink(name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: fs.ErrInvalid}
	}
	e, err := a.resolvePath(name, false)
	if err != nil {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: err}
	}
	if e.Kind != KindLink {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: fs.ErrInvalid}
	}
	return e.LinkTarget, nil
}

// ReadDir implements fs.ReadDirFS.
//
// ReadDir returns the entries of the named directory sorted by name. Links
// are reported as links.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	e, err := a.resolvePath(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	if e.Kind != KindDirectory {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: errors.New("not a directory")}
	}
	return slices.Collect(a.dirEntries(e)), nil
}

// dirEntries yields the children of directory e sorted by name.
func (a *Archive) dirEntries(e *Entry) iter.Seq[fs.DirEntry] {
	idxs := slices.Clone(a.children[e.Path])
	slices.SortFunc(idxs, func(x, y int) int {
		return strings.Compare(a.entries[x].Name(), a.entries[y].Name())
	})
	return func(yield func(fs.DirEntry) bool) {
		for _, i := range idxs {
			child := &a.entries[i]
			if !yield(fs.FileInfoToDirEntry(newFileInfo(child, child.Name()))) {
				return
			}
		}
	}
}

// openFile returns a file reading the content of e, verified when
// WithVerifyReads is set and e carries integrity metadata.
func (a *Archive) openFile(e *Entry, name string) (*archiveFile, error) {
	f := &archiveFile{info: newFileInfo(e, name)}

	if e.Unpacked {
		osf, err := a.openUnpacked(e.Path)
		if err != nil {
			return nil, err
		}
		info, err := osf.Stat()
		if err != nil {
			_ = osf.Close() //nolint:errcheck // read-only handle
			return nil, asartype.NewIOError("stat", e.Path, err)
		}
		if info.Size() != e.Size {
			_ = osf.Close() //nolint:errcheck // read-only handle
			return nil, asartype.NewFormatError(asartype.SizeMismatch, e.Path, asartype.NoOffset,
				fmt.Errorf("unpacked content is %d bytes, header declares %d", info.Size(), e.Size))
		}
		f.ra = io.NewSectionReader(osf, 0, e.Size)
		f.closer = osf
	} else {
		f.ra = io.NewSectionReader(a.src, e.Offset, e.Size)
	}

	f.r = f.ra
	if a.verifyReads && e.Integrity != nil {
		f.r = integrity.NewReader(f.ra, e.Size, e.Integrity, e.Path, e.Offset)
		f.verifying = true
	}
	return f, nil
}

// archiveFile implements fs.File for file entries.
type archiveFile struct {
	info      *fileInfo
	r         io.Reader
	ra        *io.SectionReader
	closer    io.Closer
	verifying bool
	closed    bool
}

// Interface compliance.
var (
	_ fs.File     = (*archiveFile)(nil)
	_ io.ReaderAt = (*archiveFile)(nil)
	_ io.Seeker   = (*archiveFile)(nil)
)

func (f *archiveFile) Read(p []byte) (int, error) {
	if f.closed {
		return 0, &fs.PathError{Op: "read", Path: f.info.name, Err: fs.ErrClosed}
	}
	return f.r.Read(p)
}

// ReadAt reads content at off without integrity verification.
func (f *archiveFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, &fs.PathError{Op: "read", Path: f.info.name, Err: fs.ErrClosed}
	}
	return f.ra.ReadAt(p, off)
}

func (f *archiveFile) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, &fs.PathError{Op: "seek", Path: f.info.name, Err: fs.ErrClosed}
	}
	if f.verifying {
		return 0, &fs.PathError{Op: "seek", Path: f.info.name, Err: errSeekVerify}
	}
	return f.ra.Seek(offset, whence)
}

func (f *archiveFile) Stat() (fs.FileInfo, error) {
	return f.info, nil
}

func (f *archiveFile) Close() error {
	if f.closed {
		return &fs.PathError{Op: "close", Path: f.info.name, Err: fs.ErrClosed}
	}
	f.closed = true
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

// openDir implements fs.File and fs.ReadDirFile for archive directories.
type openDir struct {
	a     *Archive
	name  string
	entry *Entry
	next  func() (fs.DirEntry, bool)
	stop  func()
}

func (d *openDir) Read(_ []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *openDir) Stat() (fs.FileInfo, error) {
	return newFileInfo(d.entry, path.Base(d.name)), nil
}

func (d *openDir) Close() error {
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
	return nil
}

func (d *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.next == nil {
		d.next, d.stop = iter.Pull(d.a.dirEntries(d.entry))
	}

	var entries []fs.DirEntry
	for n <= 0 || len(entries) < n {
		entry, ok := d.next()
		if !ok {
			break
		}
		entries = append(entries, entry)
	}
	if n > 0 && len(entries) == 0 {
		return nil, io.EOF
	}
	if entries == nil {
		entries = []fs.DirEntry{}
	}
	return entries, nil
}

// fileInfo implements fs.FileInfo for archive entries.
type fileInfo struct {
	name  string
	entry *Entry
}

func newFileInfo(e *Entry, name string) *fileInfo {
	return &fileInfo{name: name, entry: e}
}

func (fi *fileInfo) Name() string { return fi.name }

func (fi *fileInfo) Size() int64 {
	switch fi.entry.Kind {
	case KindFile:
		return fi.entry.Size
	case KindLink:
		return int64(len(fi.entry.LinkTarget))
	default:
		return 0
	}
}

func (fi *fileInfo) Mode() fs.FileMode {
	switch fi.entry.Kind {
	case KindDirectory:
		return fs.ModeDir | 0o755
	case KindLink:
		return fs.ModeSymlink | 0o777
	default:
		if fi.entry.Executable {
			return 0o755
		}
		return 0o644
	}
}

func (fi *fileInfo) ModTime() time.Time { return time.Time{} }
func (fi *fileInfo) IsDir() bool        { return fi.entry.Kind == KindDirectory }

// Sys returns a copy of the archive Entry.
func (fi *fileInfo) Sys() any { return *fi.entry }
