package asar

import (
	"path/filepath"
	"strings"
)

// NormalizePath converts a user-provided path to the slash-separated,
// root-relative form used by archive entries.
//
// It performs the following transformations:
//   - Converts host separators to slashes: `sub\a.txt` → "sub/a.txt" on Windows
//   - Strips leading and trailing slashes: "/sub/a.txt/" → "sub/a.txt"
//   - Drops empty and "." segments: "./sub//a.txt" → "sub/a.txt"
//   - Converts an empty result to the root: "" → "."
//
// ".." segments are preserved so that archive methods reject them via
// fs.ValidPath.
func NormalizePath(p string) string {
	parts := strings.Split(filepath.ToSlash(p), "/")
	result := parts[:0] // reuse backing array
	for _, part := range parts {
		if part != "" && part != "." {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return "."
	}
	return strings.Join(result, "/")
}
