package source

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Archive container format, detected from leading bytes.
type Format int

const (
	FormatRaw Format = iota // Not an archive; copied as a single file.
	FormatTar
	FormatGzip
	FormatBzip2
	FormatXz
	FormatZstd
	FormatZip
)

var magics = []struct {
	format Format
	offset int
	magic  []byte
}{
	{FormatGzip, 0, []byte{0x1f, 0x8b}},
	{FormatBzip2, 0, []byte("BZh")},
	{FormatXz, 0, []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}},
	{FormatZstd, 0, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{FormatZip, 0, []byte("PK\x03\x04")},
	{FormatTar, 257, []byte("ustar")},
}

// Reports the format of the file at path.
func Detect(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatRaw, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatRaw, err
	}
	return detect(head[:n]), nil
}

func detect(head []byte) Format {
	for _, m := range magics {
		end := m.offset + len(m.magic)
		if len(head) >= end && bytes.Equal(head[m.offset:end], m.magic) {
			return m.format
		}
	}
	return FormatRaw
}

// Extracts archive into dest, which must not exist yet.
//
// Entries are confined to dest: paths and link targets that would resolve
// outside it fail with [ErrExtract]. When the archive holds a single
// top-level directory, its contents become dest, so that steps run at the
// project root. A file that is not an archive is copied into dest under its
// original name.
func Unpack(archive, dest string) error {
	if _, err := os.Lstat(dest); err == nil {
		return fmt.Errorf("%w: %s already exists", ErrExtract, dest)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	tmp, err := os.MkdirTemp(filepath.Dir(dest), ".unpack-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if err := unpackInto(archive, tmp); err != nil {
		return err
	}

	root, err := singleTopDir(tmp)
	if err != nil {
		return err
	}
	return os.Rename(root, dest)
}

func unpackInto(archive, dir string) error {
	format, err := Detect(archive)
	if err != nil {
		return err
	}

	switch format {
	case FormatRaw:
		return copyRaw(archive, filepath.Join(dir, originalName(archive)))
	case FormatZip:
		return extractZip(archive, dir)
	}

	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	r, closeFn, err := decompress(format, bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExtract, err)
	}
	defer closeFn()

	return extractTar(r, dir)
}

// Wraps r with the decompressor for format. Compressed streams are assumed
// to hold a tar archive.
func decompress(format Format, r io.Reader) (io.Reader, func(), error) {
	nop := func() {}
	switch format {
	case FormatTar:
		return r, nop, nil
	case FormatGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, func() { gz.Close() }, nil
	case FormatBzip2:
		return bzip2.NewReader(r), nop, nil
	case FormatXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return xr, nop, nil
	case FormatZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported archive format %d", format)
}

func extractTar(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrExtract, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			err = makeDir(dir, hdr.Name, hdr.FileInfo().Mode())
		case tar.TypeReg:
			err = writeFile(dir, hdr.Name, tr, hdr.FileInfo().Mode(), hdr.ModTime)
		case tar.TypeSymlink:
			err = makeSymlink(dir, hdr.Name, hdr.Linkname)
		case tar.TypeLink:
			err = makeHardlink(dir, hdr.Name, hdr.Linkname)
		case tar.TypeXGlobalHeader:
			// pax metadata, no filesystem entry
		default:
			err = fmt.Errorf("%w: %s: unsupported entry type %q", ErrExtract, hdr.Name, hdr.Typeflag)
		}
		if err != nil {
			return err
		}
	}
}

func extractZip(archive, dir string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExtract, err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		mode := zf.Mode()
		switch {
		case mode.IsDir():
			err = makeDir(dir, zf.Name, mode)
		case mode&fs.ModeSymlink != 0:
			err = zipSymlink(dir, zf)
		default:
			err = zipFile(dir, zf)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func zipFile(dir string, zf *zip.File) error {
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExtract, zf.Name, err)
	}
	defer rc.Close()
	return writeFile(dir, zf.Name, rc, zf.Mode(), zf.Modified)
}

func zipSymlink(dir string, zf *zip.File) error {
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExtract, zf.Name, err)
	}
	defer rc.Close()
	target, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExtract, zf.Name, err)
	}
	return makeSymlink(dir, zf.Name, string(target))
}

// Resolves an entry name inside dir, following symlinks already extracted
// without leaving dir.
func entryPath(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: entry %q escapes the extraction root", ErrExtract, name)
	}
	p, err := securejoin.SecureJoin(dir, clean)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrExtract, name, err)
	}
	return p, nil
}

func makeDir(dir, name string, mode fs.FileMode) error {
	p, err := entryPath(dir, name)
	if err != nil {
		return err
	}
	return os.MkdirAll(p, mode.Perm()|0o700)
}

func writeFile(dir, name string, r io.Reader, mode fs.FileMode, mtime time.Time) error {
	p, err := entryPath(dir, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm()|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("%w: %s: %w", ErrExtract, name, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	// make compares timestamps; keep the ones the archive shipped with.
	if !mtime.IsZero() {
		return os.Chtimes(p, mtime, mtime)
	}
	return nil
}

// Creates a symlink after checking that its target stays inside dir when
// resolved from where the link actually lands.
func makeSymlink(dir, name, target string) error {
	if filepath.IsAbs(target) {
		return fmt.Errorf("%w: symlink %q points to absolute path %q", ErrExtract, name, target)
	}

	p, err := entryPath(dir, name)
	if err != nil {
		return err
	}
	if !linkInside(dir, filepath.Dir(p), target) {
		return fmt.Errorf("%w: symlink %q escapes the extraction root", ErrExtract, name)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	os.Remove(p)
	return os.Symlink(target, p)
}

// Reports whether target, relative to the directory from, names a path
// inside dir.
//
// ".." after a named component is refused: that component may be a symlink,
// and the kernel applies ".." to wherever it points.
func linkInside(dir, from, target string) bool {
	named := false
	for _, c := range strings.Split(filepath.ToSlash(target), "/") {
		switch c {
		case "", ".":
		case "..":
			if named {
				return false
			}
		default:
			named = true
		}
	}
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Join(from, filepath.FromSlash(target)))
	return err == nil && (rel == "." || filepath.IsLocal(rel))
}

func makeHardlink(dir, name, target string) error {
	src, err := entryPath(dir, target)
	if err != nil {
		return err
	}
	p, err := entryPath(dir, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	os.Remove(p)
	if err := os.Link(src, p); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrExtract, name, err)
	}
	return nil
}

// Returns the directory that should become the source root: the only entry
// of dir when that entry is a directory, otherwise dir itself.
func singleTopDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}

func copyRaw(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Recovers the file name a download was stored under. Cache entries are
// "<hex>--<name>" and staging files ".partial-<n>-<name>".
func originalName(p string) string {
	base := filepath.Base(p)
	if _, name, ok := strings.Cut(base, "--"); ok && name != "" {
		return name
	}
	if rest, ok := strings.CutPrefix(base, partialPrefix); ok {
		if _, name, ok := strings.Cut(rest, "-"); ok && name != "" {
			return name
		}
	}
	return base
}
