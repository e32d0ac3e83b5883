// Package gateways defines interfaces for external service adapters.
package gateways

import (
	"context"
	"io"

	"github.com/ochairo/devbox/internal/domain/entities"
)

// Fetcher runs a fetch-transform-cleanup download step.
// The artifact never outlives the call, whatever the outcome.
type Fetcher interface {
	Fetch(ctx context.Context, step entities.DownloadStep) error
}

// ImageBuildRequest describes an image build from a packed build context
type ImageBuildRequest struct {
	Context    io.Reader
	Dockerfile string
	Tags       []string
	NoCache    bool
	Pull       bool
}

// ImageBuilder builds container images from a build context
type ImageBuilder interface {
	BuildImage(ctx context.Context, req ImageBuildRequest) (imageID string, err error)
}
