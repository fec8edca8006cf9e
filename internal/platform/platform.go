// Package platform wraps filesystem calls whose behavior differs by OS.
package platform

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrSymlink is returned when the opened path is a symbolic link.
	ErrSymlink = errors.New("symbolic link")

	// ErrNotRegular is returned when the opened path is not a regular file.
	ErrNotRegular = errors.New("not a regular file")
)

func checkRegular(f *os.File) (*os.File, error) {
	info, err := f.Stat()
	if err != nil {
		_ = f.Close() //nolint:errcheck // best-effort cleanup
		return nil, err
	}
	if !info.Mode().IsRegular() {
		_ = f.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("%s: %w", f.Name(), ErrNotRegular)
	}
	return f, nil
}
