package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ochairo/devbox/internal/config"
	"github.com/ochairo/devbox/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/devbox/internal/domain-orchestrators"
	"github.com/ochairo/devbox/internal/domain/interfaces"
	"github.com/ochairo/devbox/internal/domain/services"
)

func runRender(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	common := addCommonFlags(fs)
	var (
		output     = fs.String("o", "", "Write the Dockerfile to this file (default: stdout)")
		contextOut = fs.String("context-out", "", "Also write a tar.gz build context to this file")
		contextDir = fs.String("context", "", "Directory copy steps read from (default: bundled files)")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: devbox render [options]

Render a recipe as a Dockerfile. Each tool step becomes a single RUN that
removes its downloaded artifact on exit.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  devbox render > Dockerfile
  devbox render --variant base -o Dockerfile.base
  devbox render --context-out ctx.tar.gz && docker build - < ctx.tar.gz
`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load(map[string]interface{}{"context_dir": *contextDir})
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	//nolint:errcheck // Best effort flush
	defer logger.Sync()

	out := io.Writer(os.Stdout)
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", *output, err)
		}
		//nolint:errcheck // Close error surfaces as a short write
		defer f.Close()
		out = f
	}

	return executeRender(ctx, cfg, *contextOut, logger, out)
}

func executeRender(ctx context.Context, cfg config.Config, contextOut string, logger interfaces.Logger, out io.Writer) error {
	imageOrch := orchestrators.NewImageOrchestrator(orchestrators.ImageOrchestratorConfig{
		RecipeRepo: newRecipeRepository(cfg, logger),
		Planner:    services.NewPlanner(),
		Renderer:   gateways.NewDockerfileRenderer(),
		Logger:     logger,
	})

	rendered, err := imageOrch.Render(ctx, orchestrators.BuildRequest{
		Recipe:  cfg.Recipe,
		Variant: cfg.Variant,
		Vars:    cfg.Vars,
	})
	if err != nil {
		return err
	}

	if _, err := io.WriteString(out, rendered.Dockerfile); err != nil {
		return fmt.Errorf("failed to write Dockerfile: %w", err)
	}

	if contextOut != "" {
		if err := gateways.NewContextPackager().WriteFile(contextOut, rendered, buildContext(cfg)); err != nil {
			return err
		}
		logger.Info("build context written", interfaces.F("path", contextOut), interfaces.F("files", len(rendered.ContextFiles)+1))
	}
	return nil
}
