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
	"github.com/ochairo/devbox/internal/external-adapters/metrics"
)

func runBuild(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	common := addCommonFlags(fs)
	var (
		root        = fs.String("root", "", "Directory the box is provisioned into (default: /)")
		contextDir  = fs.String("context", "", "Directory copy steps read from (default: bundled files)")
		manifest    = fs.String("manifest", "", "Write a JSON build manifest to this file")
		metricsFile = fs.String("metrics-file", "", "Write Prometheus metrics to this file")
		allowHost   = fs.Bool("allow-host-run", false, "Run recipe scripts on this machine even when --root is not /")
	)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: devbox build [options]

Run a recipe's steps in order on this machine. The first failing step stops
the build; downloaded artifacts are always removed.

With --root, files land under that directory but scripts still run on this
machine with ROOT set to it. Recipes with scripts are refused there unless
--allow-host-run is given.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  devbox build                                  # Bundled ldhcpd recipe, default variant
  devbox build --variant proto --set gocache=/var/cache/go
  devbox build --root /tmp/box --allow-host-run --manifest build.json
`)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load(map[string]interface{}{
		"root":           *root,
		"context_dir":    *contextDir,
		"metrics_file":   *metricsFile,
		"allow_host_run": *allowHost,
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

	return executeBuild(ctx, cfg, *manifest, logger, os.Stdout)
}

func executeBuild(ctx context.Context, cfg config.Config, manifest string, logger interfaces.Logger, out io.Writer) error {
	recorder := metrics.NewRecorder()
	scripts := gateways.NewScriptExecutor()

	buildOrch := orchestrators.NewBuildOrchestrator(orchestrators.BuildOrchestratorConfig{
		RecipeRepo: newRecipeRepository(cfg, logger),
		Planner:    services.NewPlanner(),
		Fetcher: gateways.NewFetcher(gateways.FetcherConfig{
			Root:     cfg.Root,
			Timeout:  cfg.HTTP.Timeout,
			Verifier: gateways.NewCompositeVerificationGateway(logger),
			Observer: recorder,
			Logger:   logger,
		}),
		Transforms: gateways.NewTransformer(cfg.Root, scripts, out, logger),
		Runner:     scripts,
		FileSystem: gateways.NewFileSystem(cfg.Root, buildContext(cfg)),
		Observer:   recorder,
		Logger:     logger,
		Root:       cfg.Root,
		Output:     out,

		AllowHostRun: cfg.AllowHostRun,
	})

	result, buildErr := buildOrch.Build(ctx, orchestrators.BuildRequest{
		Recipe:  cfg.Recipe,
		Variant: cfg.Variant,
		Vars:    cfg.Vars,
	})
	if result == nil {
		return buildErr
	}

	recorder.ObserveBuild(result.BuildID, result.Recipe, result.Variant, result.Success)
	fmt.Fprintln(out, result.GetBuildSummary())

	if manifest != "" {
		if err := result.WriteManifest(manifest); err != nil {
			logger.Error("failed to write manifest", interfaces.F("path", manifest), interfaces.F("error", err))
		}
	}
	if cfg.MetricsFile != "" {
		if err := recorder.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Error("failed to write metrics", interfaces.F("path", cfg.MetricsFile), interfaces.F("error", err))
		}
	}

	return buildErr
}
