package asar

import (
	"bytes"
	"fmt"
	"os"

	"golang.org/x/exp/mmap"
)

// fileSource wraps *os.File to implement ByteSource.
// os.File has ReadAt but not Size, so we cache the size at construction.
type fileSource struct {
	file *os.File
	size int64
}

// newFileSource creates a fileSource from an open file.
func newFileSource(f *os.File) (*fileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("archive %s is not a regular file", f.Name())
	}
	return &fileSource{file: f, size: info.Size()}, nil
}

// ReadAt implements io.ReaderAt.
func (s *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

// Size returns the total size of the file.
func (s *fileSource) Size() int64 {
	return s.size
}

// Close closes the file.
func (s *fileSource) Close() error {
	return s.file.Close()
}

// mmapSource serves reads from a read-only memory mapping.
type mmapSource struct {
	r *mmap.ReaderAt
}

func openMmapSource(path string) (*mmapSource, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	return &mmapSource{r: r}, nil
}

// ReadAt implements io.ReaderAt.
func (s *mmapSource) ReadAt(p []byte, off int64) (int, error) {
	return s.r.ReadAt(p, off)
}

// Size returns the length of the mapping.
func (s *mmapSource) Size() int64 {
	return int64(s.r.Len())
}

// Close unmaps the file.
func (s *mmapSource) Close() error {
	return s.r.Close()
}

// NewBytesSource returns a ByteSource over an in-memory archive.
func NewBytesSource(data []byte) ByteSource {
	return bytes.NewReader(data)
}

// Interface compliance.
var (
	_ ByteSource = (*fileSource)(nil)
	_ ByteSource = (*mmapSource)(nil)
)
