package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/ochairo/devbox/internal/domain/entities"
	"github.com/ochairo/devbox/internal/domain/interfaces"
	"github.com/ochairo/devbox/internal/domain/interfaces/gateways"
	"github.com/ochairo/devbox/internal/domain/interfaces/repositories"
	"github.com/ochairo/devbox/internal/domain/interfaces/services"
)

var errBuildFinished = errors.New("image builder stopped reading the build context")

// DockerfileRenderer renders a plan as a Dockerfile
type DockerfileRenderer interface {
	Render(plan *entities.Plan) (*entities.RenderedDockerfile, error)
}

// ContextWriter packs a rendered Dockerfile and its COPY sources into a tar stream
type ContextWriter interface {
	Write(w io.Writer, rendered *entities.RenderedDockerfile, buildContext fs.FS) error
}

// ImageRequest selects what to build and how to tag it
type ImageRequest struct {
	BuildRequest
	Tags    []string
	NoCache bool
	Pull    bool
}

// ImageResult contains the outcome of an image build
type ImageResult struct {
	ImageID  string
	Tags     []string
	Recipe   string
	Variant  string
	Duration time.Duration
}

// ImageOrchestratorConfig contains dependencies for ImageOrchestrator
type ImageOrchestratorConfig struct {
	RecipeRepo   repositories.RecipeRepository
	Planner      services.PlanService
	Renderer     DockerfileRenderer
	Packager     ContextWriter
	Builder      gateways.ImageBuilder
	BuildContext fs.FS
	Dockerfile   string // Name of the Dockerfile inside the context; defaults to "Dockerfile"
	Logger       interfaces.Logger
}

// ImageOrchestrator renders a recipe and hands it to an image builder
type ImageOrchestrator struct {
	recipeRepo   repositories.RecipeRepository
	planner      services.PlanService
	renderer     DockerfileRenderer
	packager     ContextWriter
	builder      gateways.ImageBuilder
	buildContext fs.FS
	dockerfile   string
	logger       interfaces.Logger
}

// NewImageOrchestrator creates a new image orchestrator
func NewImageOrchestrator(config ImageOrchestratorConfig) *ImageOrchestrator {
	dockerfile := config.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	logger := config.Logger
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}

	return &ImageOrchestrator{
		recipeRepo:   config.RecipeRepo,
		planner:      config.Planner,
		renderer:     config.Renderer,
		packager:     config.Packager,
		builder:      config.Builder,
		buildContext: config.BuildContext,
		dockerfile:   dockerfile,
		logger:       logger,
	}
}

// Render resolves a recipe and renders it without building anything
func (o *ImageOrchestrator) Render(ctx context.Context, req BuildRequest) (*entities.RenderedDockerfile, error) {
	plan, err := resolvePlan(ctx, o.recipeRepo, o.planner, req)
	if err != nil {
		return nil, err
	}
	rendered, err := o.renderer.Render(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", plan.Recipe, err)
	}
	return rendered, nil
}

// BuildImage renders a recipe and streams the packed context to the image builder
func (o *ImageOrchestrator) BuildImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	startTime := time.Now()

	// Step 1: Resolve and render
	plan, err := resolvePlan(ctx, o.recipeRepo, o.planner, req.BuildRequest)
	if err != nil {
		return nil, err
	}
	rendered, err := o.renderer.Render(plan)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", plan.Recipe, err)
	}

	log := interfaces.With(o.logger, interfaces.F("recipe", plan.Recipe), interfaces.F("variant", plan.Variant))
	log.Info("building image", interfaces.F("tags", req.Tags), interfaces.F("context_files", len(rendered.ContextFiles)))

	// Step 2: Pack the context while the builder reads it
	pr, pw := io.Pipe()
	packed := make(chan error, 1)
	go func() {
		err := o.packager.Write(pw, rendered, o.buildContext)
		_ = pw.CloseWithError(err)
		packed <- err
	}()

	// Step 3: Build
	imageID, buildErr := o.builder.BuildImage(ctx, gateways.ImageBuildRequest{
		Context:    pr,
		Dockerfile: o.dockerfile,
		Tags:       req.Tags,
		NoCache:    req.NoCache,
		Pull:       req.Pull,
	})
	_ = pr.CloseWithError(errBuildFinished)
	packErr := <-packed

	if buildErr != nil {
		return nil, fmt.Errorf("image build failed: %w", buildErr)
	}
	if packErr != nil {
		return nil, fmt.Errorf("failed to package build context: %w", packErr)
	}

	result := &ImageResult{
		ImageID:  imageID,
		Tags:     req.Tags,
		Recipe:   plan.Recipe,
		Variant:  plan.Variant,
		Duration: time.Since(startTime),
	}
	log.Info("image built", interfaces.F("image_id", imageID), interfaces.F("duration", result.Duration))
	return result, nil
}
