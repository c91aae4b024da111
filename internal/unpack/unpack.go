// Package unpack materializes project sources for scanning. The build
// service working directory contains either packed source archives or
// an already unpacked tree, both end up as directories under a run
// scoped temporary area.
package unpack

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	tarMarker    = ".tar"
	vendorMarker = "vendor"
	sigSuffix    = ".asc"
)

// Candidates lists source archives in dir: anything with a tar marker in
// its name, excluding vendor tarballs and detached signatures.
func Candidates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var ret []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() {
			continue
		}
		if !strings.Contains(name, tarMarker) {
			continue
		}
		if strings.Contains(name, vendorMarker) {
			continue
		}
		if strings.HasSuffix(name, sigSuffix) {
			continue
		}
		ret = append(ret, filepath.Join(dir, name))
	}
	return ret, nil
}

// Extract unpacks the tar archive into dst. Compression is detected by
// suffix: .zst is decompressed with a streaming zstd reader, .gz and
// .tgz with gzip, anything else is read as a plain tar.
func Extract(ctx context.Context, archive, dst string) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(archive, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("zstd reader for %s: %w", archive, err)
		}
		defer zr.Close()
		r = zr
	case strings.HasSuffix(archive, ".gz"), strings.HasSuffix(archive, ".tgz"):
		gr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip reader for %s: %w", archive, err)
		}
		defer func() {
			_ = gr.Close()
		}()
		r = gr
	}

	slog.DebugContext(ctx, "extracting archive", "archive", archive, "dst", dst)
	return untar(ctx, tar.NewReader(r), dst)
}

func untar(ctx context.Context, tr *tar.Reader, dst string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		name := filepath.FromSlash(header.Name)
		if !filepath.IsLocal(name) {
			return fmt.Errorf("archive entry escapes destination: %s", header.Name)
		}
		target := filepath.Join(dst, name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent directory: %w", err)
			}
			if err := writeFile(target, tr, header.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			// absolute linknames survive the Join below looking local,
			// they must be rejected on their own
			if filepath.IsAbs(header.Linkname) ||
				!filepath.IsLocal(filepath.Join(filepath.Dir(name), header.Linkname)) {
				return fmt.Errorf("symlink escapes destination: %s -> %s", header.Name, header.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent directory: %w", err)
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				slog.WarnContext(ctx, "can't create symlink, skipping", "target", target, "error", err)
			}
		default:
			slog.DebugContext(ctx, "ignoring tar entry", "name", header.Name, "type", header.Typeflag)
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return f.Close()
}

// CopyDir copies the directory src to dst/base(src), merging into an
// already existing destination rather than replacing it.
func CopyDir(src, dst string) (string, error) {
	src = filepath.Clean(src)
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", src, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", src)
	}

	target := filepath.Join(dst, filepath.Base(src))
	err = filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		out := filepath.Join(target, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(out, 0o755)
		case d.Type()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_ = os.Remove(out)
			return os.Symlink(link, out)
		case d.Type().IsRegular():
			in, err := os.Open(path)
			if err != nil {
				return err
			}
			defer func() {
				_ = in.Close()
			}()
			info, err := d.Info()
			if err != nil {
				return err
			}
			return writeFile(out, in, info.Mode().Perm())
		default:
			return nil
		}
	})
	if err != nil {
		return "", fmt.Errorf("copying %s: %w", src, err)
	}
	return target, nil
}

// TopDirs returns the top level directories found under dir.
func TopDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var ret []string
	for _, entry := range entries {
		if entry.IsDir() {
			ret = append(ret, filepath.Join(dir, entry.Name()))
		}
	}
	return ret, nil
}
