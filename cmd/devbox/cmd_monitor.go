package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ochairo/devbox/internal/config"
	"github.com/ochairo/devbox/internal/domain-adapters/gateways"
	"github.com/ochairo/devbox/internal/domain/interfaces"
)

func runMonitor(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	common := addCommonFlags(fs)
	jsonOutput := fs.Bool("json", false, "Output results as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: devbox monitor [options] [tool...]

Check each tool's pinned version against its upstream source. Set
GITHUB_TOKEN (or github.token) to raise the GitHub API rate limit.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  devbox monitor                 # Every tool with a source in the recipe
  devbox monitor protoc mkcert   # Specific tools
  devbox monitor --json
`)
	}

	tools, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}

	cfg, err := common.load(nil)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	//nolint:errcheck // Best effort flush
	defer logger.Sync()

	fetcher := gateways.NewVersionFetcher(gateways.VersionFetcherConfig{
		GitHubToken: cfg.GitHub.Token,
		Logger:      logger,
	})
	return executeMonitor(ctx, cfg, fetcher, tools, *jsonOutput, logger, os.Stdout)
}

// executeMonitor always succeeds once the recipe loads; per-tool errors are part of the report
func executeMonitor(ctx context.Context, cfg config.Config, fetcher *gateways.VersionFetcher, only []string, jsonOutput bool, logger interfaces.Logger, out io.Writer) error {
	recipe, err := newRecipeRepository(cfg, logger).GetRecipe(ctx, cfg.Recipe)
	if err != nil {
		return err
	}

	names := only
	if len(names) == 0 {
		for name, tool := range recipe.Tools {
			if tool.Source != "" {
				names = append(names, name)
			}
		}
		sort.Strings(names)
	}

	statuses := make([]gateways.VersionStatus, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		tool, ok := recipe.Tools[name]
		if !ok {
			statuses = append(statuses, gateways.VersionStatus{Tool: name, Error: "not defined in recipe " + recipe.Name})
			continue
		}
		if tool.Source == "" {
			statuses = append(statuses, gateways.VersionStatus{Tool: name, Current: tool.Version, Error: "no version source configured"})
			continue
		}
		statuses = append(statuses, fetcher.CheckTool(ctx, tool))
	}

	if jsonOutput {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(statuses)
	}
	outputHuman(out, recipe.Name, statuses)
	return nil
}

func outputHuman(out io.Writer, recipe string, statuses []gateways.VersionStatus) {
	fmt.Fprintf(out, "Tool Version Check Results (%s)\n", recipe)
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintln(out)

	outdated := 0
	errors := 0

	for _, s := range statuses {
		switch {
		case s.Error != "":
			fmt.Fprintf(out, "❌ %-20s ERROR: %s\n", s.Tool, s.Error)
			errors++
		case s.Outdated:
			fmt.Fprintf(out, "📦 %-20s %s -> %s (new version available)\n", s.Tool, s.Current, s.Latest)
			outdated++
		default:
			fmt.Fprintf(out, "✅ %-20s %s (up to date)\n", s.Tool, s.Current)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Summary: %d tools checked, %d updates available, %d errors\n",
		len(statuses), outdated, errors)
}
