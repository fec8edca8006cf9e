package resolve

import (
	"fmt"
	"strings"

	"github.com/meigma/asar/internal/asartype"
)

// ExpectedBlocks returns the accepted block counts for a file of size bytes.
//
// Packers emit one hash per full block plus a hash of the trailing partial
// block. When size is an exact multiple of blockSize that trailing block is
// empty; some packers record its hash and some omit it, so both counts are
// accepted.
func ExpectedBlocks(size, blockSize int64) (lo, hi int64) {
	full := size / blockSize
	if size%blockSize != 0 {
		return full + 1, full + 1
	}
	return full, full + 1
}

// ValidateIntegrity checks that integrity metadata is consistent with size.
func ValidateIntegrity(in *asartype.Integrity, size int64) error {
	if !strings.EqualFold(in.Algorithm, asartype.AlgorithmSHA256) {
		return fmt.Errorf("unsupported integrity algorithm %q", in.Algorithm)
	}
	if in.BlockSize <= 0 {
		return fmt.Errorf("integrity block size %d is not positive", in.BlockSize)
	}
	lo, hi := ExpectedBlocks(size, in.BlockSize)
	n := int64(len(in.Blocks))
	if n < lo || n > hi {
		return fmt.Errorf("%d integrity blocks of %d bytes do not cover %d bytes", n, in.BlockSize, size)
	}
	return nil
}
