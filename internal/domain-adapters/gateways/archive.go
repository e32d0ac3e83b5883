package gateways

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxEntrySize caps a single extracted file (1GB) to stop decompression bombs
var maxEntrySize int64 = 1 << 30

type symlinkInfo struct {
	target   string
	linkname string
}

// extractZip extracts a zip archive into destDir, overwriting existing files
func extractZip(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	//nolint:errcheck // Defer close on read-only archive
	defer r.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	var symlinks []symlinkInfo

	for _, f := range r.File {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

		case mode&os.ModeSymlink != 0:
			linkname, err := readZipEntry(f, 4096)
			if err != nil {
				return err
			}
			symlinks = append(symlinks, symlinkInfo{target: target, linkname: string(linkname)})

		default:
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("failed to open %s in zip: %w", f.Name, err)
			}
			err = writeFile(target, rc, mode.Perm())
			_ = rc.Close()
			if err != nil {
				return err
			}
		}
	}

	return createSymlinks(symlinks)
}

func readZipEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s in zip: %w", f.Name, err)
	}
	//nolint:errcheck // Defer close on zip entry
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s in zip: %w", f.Name, err)
	}
	return data, nil
}

// extractTarball extracts a tar archive, gzip-compressed or not, into destDir.
// stripComponents drops that many leading path elements, like tar --strip-components.
func extractTarball(tarPath, destDir string, stripComponents int) error {
	//nolint:gosec // G304: File path tarPath is function parameter for extraction
	file, err := os.Open(tarPath)
	if err != nil {
		return fmt.Errorf("failed to open tarball: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer file.Close()

	br := bufio.NewReader(file)
	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader: %w", err)
		}
		//nolint:errcheck // Defer close on gzip reader
		defer gzr.Close()
		src = gzr
	}

	tr := tar.NewReader(src)

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	var symlinks []symlinkInfo
	entries := 0

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("tar read error: %w", err)
		}
		entries++

		name, ok := stripPath(header.Name, stripComponents)
		if !ok {
			continue
		}

		target, err := safeJoin(destDir, name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

		case tar.TypeReg:
			//nolint:gosec // G115: Integer overflow from tar header mode is acceptable
			if err := writeFile(target, tr, os.FileMode(header.Mode).Perm()); err != nil {
				return err
			}

		case tar.TypeSymlink:
			symlinks = append(symlinks, symlinkInfo{target: target, linkname: header.Linkname})

		default:
			// Hard links, devices and fifos never appear in tool release archives
			continue
		}
	}

	if entries == 0 {
		return fmt.Errorf("tarball %s has no entries", filepath.Base(tarPath))
	}

	return createSymlinks(symlinks)
}

// stripPath drops the first n elements of an archive path
func stripPath(name string, n int) (string, bool) {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	if n == 0 {
		return name, name != "" && name != "."
	}
	parts := strings.Split(strings.Trim(name, "/"), "/")
	if len(parts) <= n {
		return "", false
	}
	return strings.Join(parts[n:], "/"), true
}

// safeJoin joins an archive entry name onto destDir, rejecting path traversal
func safeJoin(destDir, name string) (string, error) {
	//nolint:gosec // G305: Path traversal validated below
	target := filepath.Join(destDir, name)
	cleanDest := filepath.Clean(destDir)
	if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid file path in archive: %s", name)
	}
	return target, nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	if perm == 0 {
		perm = 0644
	}

	//nolint:gosec // G304: target validated by safeJoin
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	n, err := io.Copy(out, io.LimitReader(r, maxEntrySize+1))
	if err == nil && n > maxEntrySize {
		err = fmt.Errorf("%s exceeds %d bytes", filepath.Base(target), maxEntrySize)
	}
	if err != nil {
		_ = out.Close()
		_ = os.Remove(target)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	// OpenFile keeps the mode of an existing file
	return os.Chmod(target, perm)
}

// createSymlinks runs after all regular files exist so targets resolve
func createSymlinks(links []symlinkInfo) error {
	for _, link := range links {
		if err := os.MkdirAll(filepath.Dir(link.target), 0755); err != nil {
			return fmt.Errorf("failed to create directory for symlink: %w", err)
		}
		_ = os.Remove(link.target)
		if err := os.Symlink(link.linkname, link.target); err != nil {
			return fmt.Errorf("failed to create symlink %s -> %s: %w", link.target, link.linkname, err)
		}
	}
	return nil
}
