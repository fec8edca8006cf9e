package asar

import "log/slog"

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger for archive operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithCache keeps the content of up to n recently read files in memory.
// Concurrent ReadFile calls for the same file share a single read.
// Files larger than MaxCachedFileSize are never cached. n <= 0 disables
// the cache.
func WithCache(n int) Option {
	return func(a *Archive) {
		a.cacheEntries = n
	}
}

// WithUnpackedDir sets the directory holding the content of unpacked files.
// OpenFile defaults it to the archive path with ".unpacked" appended.
func WithUnpackedDir(dir string) Option {
	return func(a *Archive) {
		a.unpackedDir = dir
	}
}

// WithMaxHeaderSize limits the size of the JSON index read into memory.
// Zero uses DefaultMaxHeaderSize; negative disables the limit.
func WithMaxHeaderSize(limit int64) Option {
	return func(a *Archive) {
		a.maxHeaderSize = limit
	}
}

// WithMmap makes OpenFile memory-map the archive instead of using
// positioned reads. It has no effect on Open.
func WithMmap(enabled bool) Option {
	return func(a *Archive) {
		a.useMmap = enabled
	}
}

// WithVerifyReads verifies integrity metadata while files are read through
// ReadFile, OpenEntry and the fs.FS methods. Reads of files without
// integrity metadata are not affected.
func WithVerifyReads(enabled bool) Option {
	return func(a *Archive) {
		a.verifyReads = enabled
	}
}
