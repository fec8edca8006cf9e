package asartype

import "io"

// ByteSource provides random access to archive bytes.
//
// Implementations exist for local files, memory-mapped files, in-memory
// buffers and HTTP range requests. ReadAt must be safe for concurrent use.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// RangeReader is implemented by sources that stream a byte range more
// cheaply than repeated ReadAt calls, such as HTTP sources where every
// ReadAt is a request. Extraction prefers it for file content.
type RangeReader interface {
	ReadRange(off, length int64) (io.ReadCloser, error)
}
