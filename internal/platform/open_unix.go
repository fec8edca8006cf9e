//go:build unix

package platform

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
)

// OpenRegular opens name inside root for reading without following a
// symlink in the last element. It fails with ErrSymlink for links and
// ErrNotRegular for anything other than a regular file. FIFOs are opened
// non-blocking so they are rejected instead of stalling the caller.
func OpenRegular(root *os.Root, name string) (*os.File, error) {
	info, err := root.Lstat(name)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, ErrSymlink
	}
	f, err := root.OpenFile(name, os.O_RDONLY|syscall.O_NOFOLLOW|syscall.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, syscall.ELOOP) {
			return nil, ErrSymlink
		}
		return nil, err
	}
	return checkRegular(f)
}
