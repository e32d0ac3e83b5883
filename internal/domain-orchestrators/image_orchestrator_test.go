package orchestrators

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/ochairo/devbox/internal/domain-adapters/gateways"
	"github.com/ochairo/devbox/internal/domain/entities"
	igateways "github.com/ochairo/devbox/internal/domain/interfaces/gateways"
	"github.com/ochairo/devbox/internal/domain/services"
)

type mockImageBuilder struct {
	req     igateways.ImageBuildRequest
	entries map[string]string
	err     error
}

func (m *mockImageBuilder) BuildImage(_ context.Context, req igateways.ImageBuildRequest) (string, error) {
	m.req = req
	if m.err != nil {
		return "", m.err
	}
	m.entries = make(map[string]string)
	tr := tar.NewReader(req.Context)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return "", err
		}
		m.entries[hdr.Name] = string(data)
	}
	return "sha256:abc123", nil
}

type failingWriter struct{}

func (failingWriter) Write(_ io.Writer, _ *entities.RenderedDockerfile, _ fs.FS) error {
	return errors.New("context file missing")
}

func newTestImageOrchestrator(builder igateways.ImageBuilder, packager ContextWriter) *ImageOrchestrator {
	return NewImageOrchestrator(ImageOrchestratorConfig{
		RecipeRepo: &mockRecipeRepository{recipe: testRecipe()},
		Planner:    services.NewPlanner(),
		Renderer:   gateways.NewDockerfileRenderer(),
		Packager:   packager,
		Builder:    builder,
		BuildContext: fstest.MapFS{
			"entrypoint.sh": &fstest.MapFile{Data: []byte("#!/bin/sh\nexec \"$@\"\n"), Mode: 0755},
		},
	})
}

func TestImageOrchestrator_Render(t *testing.T) {
	o := newTestImageOrchestrator(&mockImageBuilder{}, gateways.NewContextPackager())

	rendered, err := o.Render(context.Background(), BuildRequest{Recipe: "box", Variant: "proto"})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.HasPrefix(strings.SplitN(rendered.Dockerfile, "\n", 3)[1], "FROM golang:1.22") {
		t.Errorf("Dockerfile does not start with the expanded base image:\n%s", rendered.Dockerfile)
	}
	if strings.Contains(rendered.Dockerfile, "mkcert") {
		t.Error("proto variant should not install mkcert")
	}
	if len(rendered.ContextFiles) != 1 || rendered.ContextFiles[0] != "entrypoint.sh" {
		t.Errorf("ContextFiles = %v", rendered.ContextFiles)
	}
}

func TestImageOrchestrator_BuildImage(t *testing.T) {
	builder := &mockImageBuilder{}
	o := newTestImageOrchestrator(builder, gateways.NewContextPackager())

	result, err := o.BuildImage(context.Background(), ImageRequest{
		BuildRequest: BuildRequest{Recipe: "box"},
		Tags:         []string{"ldhcpd-dev:latest"},
		NoCache:      true,
	})
	if err != nil {
		t.Fatalf("BuildImage() error = %v", err)
	}

	if result.ImageID != "sha256:abc123" {
		t.Errorf("ImageID = %q", result.ImageID)
	}
	if result.Variant != "full" {
		t.Errorf("Variant = %q, want full", result.Variant)
	}
	if builder.req.Dockerfile != "Dockerfile" || !builder.req.NoCache {
		t.Errorf("request = %+v", builder.req)
	}
	if len(builder.req.Tags) != 1 || builder.req.Tags[0] != "ldhcpd-dev:latest" {
		t.Errorf("Tags = %v", builder.req.Tags)
	}

	if !strings.Contains(builder.entries["Dockerfile"], "FROM golang:1.22") {
		t.Errorf("context Dockerfile = %q", builder.entries["Dockerfile"])
	}
	if _, ok := builder.entries["entrypoint.sh"]; !ok {
		t.Errorf("context entries = %v, want entrypoint.sh", builder.entries)
	}
}

func TestImageOrchestrator_BuildImage_BuilderError(t *testing.T) {
	builder := &mockImageBuilder{err: errors.New("daemon unreachable")}
	o := newTestImageOrchestrator(builder, gateways.NewContextPackager())

	_, err := o.BuildImage(context.Background(), ImageRequest{BuildRequest: BuildRequest{Recipe: "box"}})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "daemon unreachable") {
		t.Errorf("error = %v", err)
	}
}

func TestImageOrchestrator_BuildImage_PackagingError(t *testing.T) {
	o := newTestImageOrchestrator(&mockImageBuilder{}, failingWriter{})

	_, err := o.BuildImage(context.Background(), ImageRequest{BuildRequest: BuildRequest{Recipe: "box"}})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "context file missing") {
		t.Errorf("error = %v", err)
	}
}

func TestImageOrchestrator_BuildImage_UnknownRecipe(t *testing.T) {
	builder := &mockImageBuilder{}
	o := newTestImageOrchestrator(builder, gateways.NewContextPackager())

	if _, err := o.BuildImage(context.Background(), ImageRequest{BuildRequest: BuildRequest{Recipe: "nope"}}); err == nil {
		t.Fatal("Expected error, got nil")
	}
	if builder.req.Context != nil {
		t.Error("builder should not be called")
	}
}
