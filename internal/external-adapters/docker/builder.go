// Package docker builds container images through the Docker Engine API.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/ochairo/devbox/internal/domain/interfaces"
	"github.com/ochairo/devbox/internal/domain/interfaces/gateways"
)

// imageAPI is the part of the Docker client the builder uses
type imageAPI interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	Close() error
}

// Builder implements gateways.ImageBuilder
type Builder struct {
	api    imageAPI
	output io.Writer
	logger interfaces.Logger
}

var _ gateways.ImageBuilder = (*Builder)(nil)

// NewBuilder connects to the daemon named by host, or by DOCKER_HOST when host is empty.
// Build output is copied to output when it is not nil.
func NewBuilder(host string, output io.Writer, logger interfaces.Logger) (*Builder, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client init failed: %w", err)
	}
	return newBuilder(cli, output, logger), nil
}

func newBuilder(api imageAPI, output io.Writer, logger interfaces.Logger) *Builder {
	if output == nil {
		output = io.Discard
	}
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &Builder{api: api, output: output, logger: logger}
}

// Close releases the client's connections
func (b *Builder) Close() error {
	return b.api.Close()
}

// BuildImage sends the build context to the daemon and follows the build stream.
// An error message anywhere in the stream fails the build.
func (b *Builder) BuildImage(ctx context.Context, req gateways.ImageBuildRequest) (string, error) {
	if req.Context == nil {
		return "", errors.New("build context is required")
	}

	resp, err := b.api.ImageBuild(ctx, req.Context, types.ImageBuildOptions{
		Dockerfile:  req.Dockerfile,
		Tags:        req.Tags,
		NoCache:     req.NoCache,
		PullParent:  req.Pull,
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return "", fmt.Errorf("image build request failed: %w", err)
	}
	//nolint:errcheck // Defer close
	defer resp.Body.Close()

	return b.follow(resp.Body)
}

// follow prints the daemon's JSON message stream and returns the built image ID
func (b *Builder) follow(r io.Reader) (string, error) {
	var imageID string
	aux := func(msg jsonmessage.JSONMessage) {
		if msg.Aux == nil {
			return
		}
		var result types.BuildResult
		if err := json.Unmarshal(*msg.Aux, &result); err == nil && result.ID != "" {
			imageID = result.ID
		}
	}

	lines := &lineLogger{logger: b.logger}
	err := jsonmessage.DisplayJSONMessagesStream(r, io.MultiWriter(b.output, lines), 0, false, aux)
	lines.flush()
	if err != nil {
		var jsonErr *jsonmessage.JSONError
		if errors.As(err, &jsonErr) {
			return "", fmt.Errorf("image build failed: %s", strings.TrimSpace(jsonErr.Message))
		}
		return "", fmt.Errorf("failed to read build output: %w", err)
	}

	if imageID == "" {
		return "", errors.New("image build finished without an image ID")
	}
	return imageID, nil
}

// lineLogger sends each complete line of build output to the debug log
type lineLogger struct {
	logger interfaces.Logger
	buf    bytes.Buffer
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf.Write(p)
	for {
		line, err := l.buf.ReadString('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			l.buf.Reset()
			l.buf.WriteString(line)
			return len(p), nil
		}
		l.log(line)
	}
}

func (l *lineLogger) flush() {
	l.log(l.buf.String())
	l.buf.Reset()
}

func (l *lineLogger) log(line string) {
	if line = strings.TrimSpace(line); line != "" {
		l.logger.Debug("build output", interfaces.F("line", line))
	}
}
