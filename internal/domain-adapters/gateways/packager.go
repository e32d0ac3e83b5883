package gateways

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ochairo/devbox/internal/domain/entities"
)

// DockerfileName is the Dockerfile's name inside a packaged build context
const DockerfileName = "Dockerfile"

// ContextPackager packs a rendered Dockerfile and the files it copies into a tar build context
type ContextPackager struct {
	modTime time.Time
}

// NewContextPackager creates a new packager. Entries get a fixed mtime so
// identical inputs produce identical archives.
func NewContextPackager() *ContextPackager {
	return &ContextPackager{modTime: time.Unix(0, 0).UTC()}
}

// Write streams the build context as an uncompressed tar, the format the Docker Engine expects
func (p *ContextPackager) Write(w io.Writer, rendered *entities.RenderedDockerfile, buildContext fs.FS) error {
	tw := tar.NewWriter(w)

	if err := p.writeEntry(tw, DockerfileName, 0644, []byte(rendered.Dockerfile)); err != nil {
		return err
	}

	for _, name := range rendered.ContextFiles {
		if name == DockerfileName {
			return fmt.Errorf("build context file %s collides with the rendered Dockerfile", name)
		}
		if buildContext == nil {
			return fmt.Errorf("copy source %s: no build context configured", name)
		}

		info, err := fs.Stat(buildContext, name)
		if err != nil {
			return fmt.Errorf("copy source %s: %w", name, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("copy source %s is not a regular file", name)
		}

		data, err := fs.ReadFile(buildContext, name)
		if err != nil {
			return fmt.Errorf("copy source %s: %w", name, err)
		}
		if err := p.writeEntry(tw, name, int64(info.Mode().Perm()), data); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish build context: %w", err)
	}
	return nil
}

// WriteFile saves the build context as a tar.gz, for `docker build - < ctx.tar.gz`
func (p *ContextPackager) WriteFile(path string, rendered *entities.RenderedDockerfile, buildContext fs.FS) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	//nolint:gosec // G304: output path is user-provided
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create context file: %w", err)
	}

	gz := gzip.NewWriter(file)
	if err := p.Write(gz, rendered, buildContext); err != nil {
		_ = file.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return file.Close()
}

func (p *ContextPackager) writeEntry(tw *tar.Writer, name string, mode int64, data []byte) error {
	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     mode,
		Size:     int64(len(data)),
		ModTime:  p.modTime,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s to tar: %w", name, err)
	}
	return nil
}
