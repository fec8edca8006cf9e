// Package resolve flattens a decoded header tree into validated entries.
//
// Resolution is pure: it performs no I/O and either returns the complete,
// validated extraction plan or the first FormatError it finds.
package resolve

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/meigma/asar/internal/asartype"
	"github.com/meigma/asar/internal/header"
	"github.com/meigma/asar/internal/sizing"
)

// Entry is an alias for asartype.Entry.
type Entry = asartype.Entry

// Resolve walks root in pre-order (parent first, then children in header
// order) and translates every file's relative offset into an absolute range.
//
// dataStart is the absolute offset of the data region and totalSize the
// archive length. The root directory itself is not part of the result.
func Resolve(root *header.Directory, dataStart, totalSize int64) ([]Entry, error) {
	if dataStart < 0 || dataStart > totalSize {
		return nil, asartype.NewFormatError(asartype.OffsetOutOfRange, "", dataStart,
			fmt.Errorf("data region starts past the archive end %d", totalSize))
	}
	r := &resolver{dataStart: dataStart, totalSize: totalSize}
	if err := r.walk(root, ""); err != nil {
		return nil, err
	}
	return r.entries, nil
}

type resolver struct {
	dataStart int64
	totalSize int64
	entries   []Entry
}

func (r *resolver) walk(dir *header.Directory, parent string) error {
	for name, node := range dir.Children() {
		p := header.JoinPath(parent, name)
		if err := ValidateName(name); err != nil {
			return asartype.NewFormatError(asartype.UnsafePath, p, asartype.NoOffset, err)
		}

		switch n := node.(type) {
		case *header.Directory:
			r.entries = append(r.entries, Entry{Path: p, Kind: asartype.KindDirectory})
			if err := r.walk(n, p); err != nil {
				return err
			}
		case *header.File:
			entry, err := r.file(p, n)
			if err != nil {
				return err
			}
			r.entries = append(r.entries, entry)
		case *header.Link:
			entry, err := resolveLink(p, n)
			if err != nil {
				return err
			}
			r.entries = append(r.entries, entry)
		default:
			return asartype.NewFormatError(asartype.InvalidHeaderJSON, p, asartype.NoOffset,
				fmt.Errorf("unknown node type %T", node))
		}
	}
	return nil
}

func (r *resolver) file(p string, f *header.File) (Entry, error) {
	size, err := sizing.ToInt64(f.Size, asartype.ErrSizeOverflow)
	if err != nil {
		return Entry{}, asartype.NewFormatError(asartype.OffsetOutOfRange, p, asartype.NoOffset, err)
	}
	entry := Entry{
		Path:       p,
		Kind:       asartype.KindFile,
		Size:       size,
		Executable: f.Executable,
		Unpacked:   f.Unpacked,
		Integrity:  f.Integrity,
	}

	if f.Integrity != nil {
		if err := ValidateIntegrity(f.Integrity, size); err != nil {
			return Entry{}, asartype.NewFormatError(asartype.SizeMismatch, p, asartype.NoOffset, err)
		}
	}
	if f.Unpacked {
		return entry, nil
	}

	rel, err := sizing.ToInt64(f.Offset, asartype.ErrSizeOverflow)
	if err != nil {
		return Entry{}, asartype.NewFormatError(asartype.OffsetOutOfRange, p, asartype.NoOffset, err)
	}
	start, ok := sizing.AddInt64(r.dataStart, rel)
	if !ok {
		return Entry{}, asartype.NewFormatError(asartype.OffsetOutOfRange, p, asartype.NoOffset, asartype.ErrSizeOverflow)
	}
	end, ok := sizing.AddInt64(start, size)
	if !ok || end > r.totalSize {
		return Entry{}, asartype.NewFormatError(asartype.OffsetOutOfRange, p, start,
			fmt.Errorf("range [%d, %d+%d) exceeds archive size %d", start, start, size, r.totalSize))
	}
	entry.Offset = start
	return entry, nil
}

// ValidateName rejects entry names that could escape their directory when
// materialized on a real filesystem. Names like "c:x" are legal here; sinks
// confine writes to their root, which refuses volume names on Windows.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.New("empty name")
	case name == "." || name == "..":
		return fmt.Errorf("name %q is a relative path segment", name)
	case strings.ContainsAny(name, "/\\"):
		return fmt.Errorf("name %q contains a path separator", name)
	case strings.IndexByte(name, 0) >= 0:
		return fmt.Errorf("name %q contains a NUL byte", name)
	}
	return nil
}

// resolveLink validates a link node. The stored target is relative to the
// archive root; the symlink text is rewritten relative to the link's own
// directory.
func resolveLink(p string, l *header.Link) (Entry, error) {
	target, err := CleanLinkTarget(l.Target)
	if err != nil {
		return Entry{}, asartype.NewFormatError(asartype.UnsafePath, p, asartype.NoOffset, err)
	}
	return Entry{
		Path:       p,
		Kind:       asartype.KindLink,
		LinkPath:   target,
		LinkTarget: RelativeTarget(path.Dir(p), target),
	}, nil
}

// CleanLinkTarget lexically cleans an archive-root-relative link target and
// rejects targets that are absolute or climb above the root.
func CleanLinkTarget(target string) (string, error) {
	t := strings.ReplaceAll(target, "\\", "/")
	switch {
	case t == "":
		return "", errors.New("empty link target")
	case strings.HasPrefix(t, "/"):
		return "", fmt.Errorf("link target %q is absolute", target)
	case len(t) >= 2 && t[1] == ':' && isASCIILetter(t[0]):
		return "", fmt.Errorf("link target %q has a drive letter", target)
	case strings.IndexByte(t, 0) >= 0:
		return "", fmt.Errorf("link target %q contains a NUL byte", target)
	}
	cleaned := path.Clean(t)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("link target %q escapes the archive root", target)
	}
	return cleaned, nil
}

// RelativeTarget returns the path of target (archive-root-relative) as seen
// from dir (archive-root-relative, "." for the root).
func RelativeTarget(dir, target string) string {
	if dir == "." || dir == "" {
		return target
	}
	from := strings.Split(dir, "/")
	to := strings.Split(target, "/")
	if target == "." {
		to = nil
	}
	common := 0
	for common < len(from) && common < len(to) && from[common] == to[common] {
		common++
	}
	parts := make([]string, 0, len(from)-common+len(to)-common)
	for range from[common:] {
		parts = append(parts, "..")
	}
	parts = append(parts, to[common:]...)
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, "/")
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
