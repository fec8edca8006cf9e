package asar

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/woozymasta/pathrules"

	"github.com/meigma/asar/internal/header"
	"github.com/meigma/asar/internal/integrity"
	"github.com/meigma/asar/internal/platform"
	"github.com/meigma/asar/internal/resolve"
)

// Pack builds an archive from the contents of dir and writes it to w.
//
// Entries are stored in lexical order. Empty directories, executable bits
// and symlinks pointing inside dir are preserved; symlinks are not followed
// and links escaping dir fail with ErrUnsafePath. Other special files are
// skipped. SHA256 integrity metadata is recorded unless disabled with
// PackWithIntegrity(false).
//
// Pack reads each file twice, once to build the header and once to copy
// its content. A file that changes size in between fails the operation.
func Pack(ctx context.Context, dir string, w io.Writer, opts ...PackOption) error {
	cfg := packConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return pack(ctx, dir, w, &cfg)
}

// PackFile builds an archive from dir and writes it atomically to dest.
// Unpacked content goes to dest + ".unpacked" unless PackWithUnpackedDir
// is given. The archive, its temp file and the unpacked directory are left
// out of the walk when they lie inside dir.
func PackFile(ctx context.Context, dir, dest string, opts ...PackOption) error {
	cfg := packConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.unpackedDir == "" {
		cfg.unpackedDir = dest + ".unpacked"
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	cfg.exclude = append(cfg.exclude, dest)
	return streamFileAtomic(dest, func(tmp *os.File) error {
		cfg.exclude = append(cfg.exclude, tmp.Name())
		bw := bufio.NewWriterSize(tmp, 1<<20)
		if err := pack(ctx, dir, bw, &cfg); err != nil {
			return err
		}
		return bw.Flush()
	})
}

// packedFile is a file collected by the walk, in header order.
type packedFile struct {
	path string
	node *header.File
}

// packer holds state for archive creation.
type packer struct {
	cfg     *packConfig
	root    *os.Root
	absDir  string
	matcher *pathrules.Matcher
	skip    map[string]bool // walked paths that are packer outputs

	dirs     map[string]*header.Directory
	unpacked map[string]bool // directories whose content is unpacked
	files    []packedFile
	dataSize uint64
}

// log returns the logger, falling back to a discard logger if nil.
func (p *packer) log() *slog.Logger {
	if p.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.cfg.logger
}

func pack(ctx context.Context, dir string, w io.Writer, cfg *packConfig) error {
	if cfg.blockSize <= 0 {
		cfg.blockSize = integrity.DefaultBlockSize
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return err
	}
	defer root.Close()

	p := &packer{
		cfg:      cfg,
		root:     root,
		absDir:   absDir,
		dirs:     map[string]*header.Directory{".": header.NewDirectory()},
		unpacked: make(map[string]bool),
		skip:     outputsUnder(absDir, cfg),
	}
	if len(cfg.unpackRules) > 0 {
		p.matcher, err = pathrules.NewMatcher(cfg.unpackRules, pathrules.MatcherOptions{
			CaseInsensitive: !cfg.caseSensitive,
			DefaultAction:   pathrules.ActionExclude,
		})
		if err != nil {
			return fmt.Errorf("compile unpack rules: %w", err)
		}
	}

	p.log().Info("packing archive", "dir", dir, "integrity", !cfg.skipIntegrity)

	if err := fs.WalkDir(root.FS(), ".", func(name string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if name == "." {
			return nil
		}
		if p.skip[name] {
			p.log().Debug("skipped packer output", "path", name)
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		return p.add(name, d)
	}); err != nil {
		return err
	}

	hdr, err := header.Encode(p.dirs["."])
	if err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	p.log().Debug("header written", "size", len(hdr), "files", len(p.files))

	if err := p.writeData(ctx, w); err != nil {
		return err
	}

	p.log().Info("packed archive",
		"dir", dir,
		"files", len(p.files),
		"header_size", len(hdr),
		"data_size", p.dataSize)
	return nil
}

// outputsUnder returns the slash-separated paths, relative to absDir, of
// the archive, its temp file and the unpacked directory that lie inside
// the packed tree.
func outputsUnder(absDir string, cfg *packConfig) map[string]bool {
	outputs := cfg.exclude
	if cfg.unpackedDir != "" {
		outputs = append(outputs[:len(outputs):len(outputs)], cfg.unpackedDir)
	}
	skip := make(map[string]bool)
	for _, out := range outputs {
		abs, err := filepath.Abs(out)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absDir, abs)
		if err != nil || !filepath.IsLocal(rel) {
			continue
		}
		skip[filepath.ToSlash(rel)] = true
	}
	return skip
}

// add records one walked path in the header tree.
func (p *packer) add(name string, d fs.DirEntry) error {
	base := path.Base(name)
	if err := resolve.ValidateName(base); err != nil {
		return fmt.Errorf("pack %s: %w", name, err)
	}
	parentPath := path.Dir(name)
	parent, ok := p.dirs[parentPath]
	if !ok {
		return fmt.Errorf("pack %s: parent directory not recorded", name)
	}
	inUnpacked := p.unpacked[parentPath]

	switch {
	case d.IsDir():
		dir := header.NewDirectory()
		if inUnpacked || (p.matcher != nil && p.matcher.Included(name, true)) {
			dir.Unpacked = true
			p.unpacked[name] = true
		}
		p.dirs[name] = dir
		return parent.Add(base, dir)

	case d.Type()&fs.ModeSymlink != 0:
		link, err := p.link(name)
		if err != nil {
			return err
		}
		return parent.Add(base, link)

	case d.Type().IsRegular():
		info, err := d.Info()
		if err != nil {
			return err
		}
		unpacked := inUnpacked || (p.matcher != nil && p.matcher.Included(name, false))
		if unpacked && p.cfg.unpackedDir == "" {
			return fmt.Errorf("pack %s: %w", name, ErrNoUnpackedDir)
		}
		file, err := p.file(name, info, unpacked)
		if err != nil {
			return err
		}
		p.files = append(p.files, packedFile{path: name, node: file})
		return parent.Add(base, file)

	default:
		p.log().Debug("skipped special file", "path", name, "type", d.Type().String())
		return nil
	}
}

// file builds the header node for a regular file.
func (p *packer) file(name string, info fs.FileInfo, unpacked bool) (*header.File, error) {
	node := &header.File{
		Size:       uint64(info.Size()), //nolint:gosec // regular file sizes are non-negative
		Executable: info.Mode().Perm()&0o111 != 0,
		Unpacked:   unpacked,
	}

	if !p.cfg.skipIntegrity {
		f, err := platform.OpenRegular(p.root, filepath.FromSlash(name))
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", name, err)
		}
		in, n, err := integrity.Compute(f, p.cfg.blockSize)
		_ = f.Close() //nolint:errcheck // read-only handle
		if err != nil {
			return nil, fmt.Errorf("pack %s: hash: %w", name, err)
		}
		node.Size = uint64(n) //nolint:gosec // byte counts are non-negative
		node.Integrity = in
	}

	if !unpacked {
		if node.Size > ^uint64(0)-p.dataSize {
			return nil, ErrSizeOverflow
		}
		node.Offset = p.dataSize
		p.dataSize += node.Size
	}
	return node, nil
}

// link converts a symlink on disk into a root-relative link node.
func (p *packer) link(name string) (*header.Link, error) {
	target, err := p.root.Readlink(filepath.FromSlash(name))
	if err != nil {
		return nil, err
	}

	var rel string
	if filepath.IsAbs(target) {
		r, err := filepath.Rel(p.absDir, target)
		if err != nil {
			return nil, fmt.Errorf("pack %s: link target %q: %w", name, target, ErrUnsafePath)
		}
		rel = filepath.ToSlash(r)
	} else {
		rel = path.Join(path.Dir(name), filepath.ToSlash(target))
	}

	cleaned, err := resolve.CleanLinkTarget(rel)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w: %w", name, ErrUnsafePath, err)
	}
	return &header.Link{Target: cleaned}, nil
}

// writeData copies file content in header order.
func (p *packer) writeData(ctx context.Context, w io.Writer) error {
	var unpackedRoot *os.Root
	defer func() {
		if unpackedRoot != nil {
			_ = unpackedRoot.Close() //nolint:errcheck // best-effort cleanup
		}
	}()

	var bytesDone, bytesTotal uint64
	for _, f := range p.files {
		bytesTotal += f.node.Size
	}
	for i, f := range p.files {
		if err := ctx.Err(); err != nil {
			return err
		}

		if f.node.Unpacked {
			if unpackedRoot == nil {
				if err := os.MkdirAll(p.cfg.unpackedDir, 0o755); err != nil {
					return fmt.Errorf("create unpacked directory: %w", err)
				}
				root, err := os.OpenRoot(p.cfg.unpackedDir)
				if err != nil {
					return err
				}
				unpackedRoot = root
			}
			if err := p.copyUnpacked(unpackedRoot, f); err != nil {
				return err
			}
		} else {
			if err := p.copyPacked(w, f); err != nil {
				return err
			}
		}

		bytesDone += f.node.Size
		p.reportProgress(f.path, bytesDone, bytesTotal, i+1)
		p.log().Debug("packed file", "path", f.path, "size", f.node.Size, "unpacked", f.node.Unpacked)
	}
	return nil
}

func (p *packer) copyPacked(w io.Writer, f packedFile) error {
	src, err := platform.OpenRegular(p.root, filepath.FromSlash(f.path))
	if err != nil {
		return fmt.Errorf("pack %s: %w", f.path, err)
	}
	defer src.Close()

	size := int64(f.node.Size) //nolint:gosec // sizes come from int64 file sizes
	if _, err := io.CopyN(w, src, size); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("pack %s: file shrank while packing: %w", f.path, ErrSizeMismatch)
		}
		return fmt.Errorf("pack %s: %w", f.path, err)
	}
	return nil
}

func (p *packer) copyUnpacked(root *os.Root, f packedFile) error {
	src, err := platform.OpenRegular(p.root, filepath.FromSlash(f.path))
	if err != nil {
		return fmt.Errorf("pack %s: %w", f.path, err)
	}
	defer src.Close()

	rel := filepath.FromSlash(f.path)
	if parent := filepath.Dir(rel); parent != "." {
		if err := root.MkdirAll(parent, 0o755); err != nil {
			return err
		}
	}
	mode := fs.FileMode(0o644)
	if f.node.Executable {
		mode = 0o755
	}
	dst, err := root.OpenFile(rel, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	size := int64(f.node.Size) //nolint:gosec // sizes come from int64 file sizes
	if err := copyExact(dst, io.LimitReader(src, size), size); err != nil {
		_ = dst.Close() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("pack %s: %w", f.path, err)
	}
	return dst.Close()
}

// reportProgress sends a progress event if a callback is configured.
func (p *packer) reportProgress(name string, bytesDone, bytesTotal uint64, filesDone int) {
	if p.cfg.progress == nil {
		return
	}
	p.cfg.progress(ProgressEvent{
		Stage:        StagePacking,
		Path:         name,
		BytesDone:    int64(bytesDone),  //nolint:gosec // bounded by file sizes
		BytesTotal:   int64(bytesTotal), //nolint:gosec // bounded by file sizes
		EntriesDone:  filesDone,
		EntriesTotal: len(p.files),
	})
}

// streamFileAtomic writes to a temp file next to target then renames it
// into place.
func streamFileAtomic(target string, write func(*os.File) error) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".asar-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if err := write(tmp); err != nil {
		_ = tmp.Close()        //nolint:errcheck // write error takes precedence
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return err
	}
	return nil
}
