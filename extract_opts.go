package asar

// ExtractOption configures Extract.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	verify          bool
	overwrite       bool
	workers         int
	skipUnsupported bool
	prefix          string
	progress        ProgressFunc
}

// ExtractWithVerifyIntegrity checks file content against its integrity
// metadata while extracting. Files without metadata are written unchecked.
// A mismatch aborts extraction with an IntegrityMismatch FormatError before
// the affected file becomes visible in a FileSink.
func ExtractWithVerifyIntegrity(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.verify = enabled
	}
}

// ExtractWithOverwrite allows replacing existing files at the destination.
// By default an existing file fails extraction with an AlreadyExists IOError.
func ExtractWithOverwrite(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = enabled
	}
}

// ExtractWithWorkers writes files with up to n concurrent workers.
// Directories are always created first, in order. Values below 2 extract
// serially. The sink must be safe for concurrent use.
func ExtractWithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// ExtractWithSkipUnsupported skips links the sink cannot create instead of
// failing. Skipped links are counted in Report.Skipped.
func ExtractWithSkipUnsupported(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.skipUnsupported = enabled
	}
}

// ExtractWithPrefix restricts extraction to the entry at prefix and
// everything below it. Directories leading to prefix are created too.
func ExtractWithPrefix(prefix string) ExtractOption {
	return func(c *extractConfig) {
		c.prefix = prefix
	}
}

// ExtractWithProgress sets a callback invoked after every extracted entry.
func ExtractWithProgress(fn ProgressFunc) ExtractOption {
	return func(c *extractConfig) {
		c.progress = fn
	}
}
