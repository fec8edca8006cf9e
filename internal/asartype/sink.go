package asartype

import "io"

// WriteOptions describes a file write requested from a Sink.
type WriteOptions struct {
	// Size is the exact number of bytes the reader yields.
	Size int64

	// Overwrite allows replacing an existing file at the destination.
	// When false, sinks must fail with an error wrapping fs.ErrExist.
	Overwrite bool
}

// Sink materializes extracted entries.
//
// Names passed to a Sink are destination paths: the extraction root joined
// with the entry path using the host separator. Implementations used with
// parallel extraction must be safe for concurrent use.
type Sink interface {
	// CreateDirectory creates a directory. An existing directory is not an error.
	CreateDirectory(name string) error

	// WriteFile writes the content yielded by r to name. If r returns an
	// error, the sink must not leave a partially written file visible at name.
	WriteFile(name string, r io.Reader, opts WriteOptions) error

	// MarkExecutable sets the executable bits of a written file.
	MarkExecutable(name string) error

	// CreateSymlink creates a symlink at name pointing to target. Sinks
	// without symlink support return an error wrapping ErrSymlinkUnsupported.
	CreateSymlink(name, target string) error
}
