package asar

import (
	"log/slog"

	"github.com/woozymasta/pathrules"
)

// PackOption configures Pack and PackFile.
type PackOption func(*packConfig)

type packConfig struct {
	unpackRules   []pathrules.Rule
	caseSensitive bool
	unpackedDir   string
	skipIntegrity bool
	blockSize     int64
	logger        *slog.Logger
	progress      ProgressFunc

	// exclude lists output paths the walk must not pack.
	exclude []string
}

// PackWithUnpack selects files whose content is stored in the unpacked
// directory instead of the archive. Rules use gitignore-style patterns
// matched against slash-separated paths relative to the packed directory;
// files match only through ActionInclude rules. A matching directory
// pattern unpacks everything below it.
//
// Example:
//
//	asar.PackWithUnpack(
//	    pathrules.Rule{Action: pathrules.ActionInclude, Pattern: "*.node"},
//	    pathrules.Rule{Action: pathrules.ActionInclude, Pattern: "bin/"},
//	)
func PackWithUnpack(rules ...pathrules.Rule) PackOption {
	return func(c *packConfig) {
		c.unpackRules = append(c.unpackRules, rules...)
	}
}

// PackWithCaseSensitiveUnpack makes unpack rules case-sensitive.
// By default patterns match regardless of case.
func PackWithCaseSensitiveUnpack(enabled bool) PackOption {
	return func(c *packConfig) {
		c.caseSensitive = enabled
	}
}

// PackWithUnpackedDir sets the directory receiving unpacked file content.
// PackFile defaults it to the destination path with ".unpacked" appended;
// Pack requires it whenever unpack rules match a file.
func PackWithUnpackedDir(dir string) PackOption {
	return func(c *packConfig) {
		c.unpackedDir = dir
	}
}

// PackWithIntegrity controls whether SHA256 integrity metadata is recorded
// for every file. It is enabled by default.
func PackWithIntegrity(enabled bool) PackOption {
	return func(c *packConfig) {
		c.skipIntegrity = !enabled
	}
}

// PackWithBlockSize sets the integrity block size. Values <= 0 use the
// default of 4MB.
func PackWithBlockSize(n int64) PackOption {
	return func(c *packConfig) {
		c.blockSize = n
	}
}

// PackWithLogger sets the logger for packing.
func PackWithLogger(logger *slog.Logger) PackOption {
	return func(c *packConfig) {
		c.logger = logger
	}
}

// PackWithProgress sets a callback invoked after every packed file.
func PackWithProgress(fn ProgressFunc) PackOption {
	return func(c *packConfig) {
		c.progress = fn
	}
}
