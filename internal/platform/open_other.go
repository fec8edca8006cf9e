//go:build !unix

package platform

import (
	"io/fs"
	"os"
)

// OpenRegular opens name inside root for reading without following a
// symlink in the last element. It fails with ErrSymlink for links and
// ErrNotRegular for anything other than a regular file.
func OpenRegular(root *os.Root, name string) (*os.File, error) {
	info, err := root.Lstat(name)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, ErrSymlink
	}
	f, err := root.Open(name)
	if err != nil {
		return nil, err
	}
	return checkRegular(f)
}
