package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ochairo/devbox/internal/config"
	"github.com/ochairo/devbox/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/devbox/internal/domain-orchestrators"
	"github.com/ochairo/devbox/internal/domain/interfaces"
	igateways "github.com/ochairo/devbox/internal/domain/interfaces/gateways"
	"github.com/ochairo/devbox/internal/domain/services"
	"github.com/ochairo/devbox/internal/external-adapters/docker"
)

func runImage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("image", flag.ExitOnError)
	common := addCommonFlags(fs)
	var tags tagsFlag
	fs.Var(&tags, "tag", "Image tag, name:tag (repeatable)")
	var (
		contextDir = fs.String("context", "", "Directory copy steps read from (default: bundled files)")
		dockerHost = fs.String("docker-host", "", "Docker daemon address (default: $DOCKER_HOST)")
		noCache    = fs.Bool("no-cache", false, "Do not use the build cache")
		pull       = fs.Bool("pull", false, "Always pull the base image")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: devbox image [options]

Render a recipe and build it into a container image through the Docker Engine.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  devbox image --tag ldhcpd-dev:latest
  devbox image --variant proto --tag ldhcpd-dev:proto --no-cache
`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load(map[string]interface{}{
		"context_dir": *contextDir,
		"docker.host": *dockerHost,
	})
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	//nolint:errcheck // Best effort flush
	defer logger.Sync()

	builder, err := docker.NewBuilder(cfg.Docker.Host, os.Stdout, logger)
	if err != nil {
		return err
	}
	//nolint:errcheck // Close on exit
	defer builder.Close()

	return executeImage(ctx, cfg, builder, imageOptions{tags: tags, noCache: *noCache, pull: *pull}, logger, os.Stdout)
}

type imageOptions struct {
	tags    []string
	noCache bool
	pull    bool
}

func executeImage(ctx context.Context, cfg config.Config, builder igateways.ImageBuilder, opts imageOptions, logger interfaces.Logger, out io.Writer) error {
	imageOrch := orchestrators.NewImageOrchestrator(orchestrators.ImageOrchestratorConfig{
		RecipeRepo:   newRecipeRepository(cfg, logger),
		Planner:      services.NewPlanner(),
		Renderer:     gateways.NewDockerfileRenderer(),
		Packager:     gateways.NewContextPackager(),
		Builder:      builder,
		BuildContext: buildContext(cfg),
		Dockerfile:   gateways.DockerfileName,
		Logger:       logger,
	})

	result, err := imageOrch.BuildImage(ctx, orchestrators.ImageRequest{
		BuildRequest: orchestrators.BuildRequest{
			Recipe:  cfg.Recipe,
			Variant: cfg.Variant,
			Vars:    cfg.Vars,
		},
		Tags:    opts.tags,
		NoCache: opts.noCache,
		Pull:    opts.pull,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Image built: %s (%s/%s, %v)\n", result.ImageID, result.Recipe, result.Variant, result.Duration.Round(time.Millisecond))
	for _, tag := range result.Tags {
		fmt.Fprintf(out, "  tagged %s\n", tag)
	}
	return nil
}
