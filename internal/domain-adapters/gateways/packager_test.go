package gateways

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/ochairo/devbox/internal/domain/entities"
)

func TestContextPackager_Write(t *testing.T) {
	rendered := &entities.RenderedDockerfile{
		Dockerfile:   "FROM alpine\nCOPY [\"entrypoint.sh\",\"/entrypoint.sh\"]\n",
		ContextFiles: []string{"entrypoint.sh"},
	}
	buildContext := fstest.MapFS{
		"entrypoint.sh": {Data: []byte("#!/bin/sh\nexec \"$@\"\n"), Mode: 0755},
		"unused.txt":    {Data: []byte("not copied")},
	}

	var buf bytes.Buffer
	if err := NewContextPackager().Write(&buf, rendered, buildContext); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	entries := readTarEntries(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("entries = %v, want Dockerfile and entrypoint.sh", entries)
	}
	if entries[DockerfileName] != rendered.Dockerfile {
		t.Errorf("Dockerfile content = %q", entries[DockerfileName])
	}
	if !strings.HasPrefix(entries["entrypoint.sh"], "#!/bin/sh") {
		t.Errorf("entrypoint.sh content = %q", entries["entrypoint.sh"])
	}
}

func TestContextPackager_Write_Deterministic(t *testing.T) {
	rendered := &entities.RenderedDockerfile{Dockerfile: "FROM alpine\n"}

	var a, b bytes.Buffer
	p := NewContextPackager()
	if err := p.Write(&a, rendered, nil); err != nil {
		t.Fatal(err)
	}
	if err := p.Write(&b, rendered, nil); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("identical inputs produced different archives")
	}
}

func TestContextPackager_Write_Errors(t *testing.T) {
	tests := []struct {
		name    string
		files   []string
		fsys    fstest.MapFS
		wantErr string
	}{
		{
			name:    "missing file",
			files:   []string{"missing.sh"},
			fsys:    fstest.MapFS{},
			wantErr: "copy source missing.sh",
		},
		{
			name:    "no context",
			files:   []string{"entrypoint.sh"},
			wantErr: "no build context",
		},
		{
			name:    "collides with Dockerfile",
			files:   []string{DockerfileName},
			fsys:    fstest.MapFS{DockerfileName: {Data: []byte("x")}},
			wantErr: "collides",
		},
		{
			name:    "directory",
			files:   []string{"dir"},
			fsys:    fstest.MapFS{"dir/file": {Data: []byte("x")}},
			wantErr: "not a regular file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rendered := &entities.RenderedDockerfile{Dockerfile: "FROM alpine\n", ContextFiles: tt.files}
			var buildContext fs.FS
			if tt.fsys != nil {
				buildContext = tt.fsys
			}
			err := NewContextPackager().Write(io.Discard, rendered, buildContext)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Write() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestContextPackager_WriteFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out", "context.tar.gz")
	rendered := &entities.RenderedDockerfile{Dockerfile: "FROM alpine\n"}

	if err := NewContextPackager().WriteFile(out, rendered, nil); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	//nolint:gosec // G304: test output path
	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	//nolint:errcheck // Defer close in test
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("output is not gzip: %v", err)
	}
	entries := readTarEntries(t, gz)
	if entries[DockerfileName] != "FROM alpine\n" {
		t.Errorf("entries = %v", entries)
	}
}

// readTarEntries returns name -> content for every regular file in a tar stream
func readTarEntries(t *testing.T, r io.Reader) map[string]string {
	t.Helper()

	entries := make(map[string]string)
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Failed to read tar entry: %v", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		entries[header.Name] = string(data)
	}
	return entries
}
