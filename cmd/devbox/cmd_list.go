package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ochairo/devbox/internal/config"
	"github.com/ochairo/devbox/internal/domain/entities"
	"github.com/ochairo/devbox/internal/domain/interfaces"
	"github.com/ochairo/devbox/internal/domain/services"
)

func runList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	common := addCommonFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: devbox list [options]

List available recipes. With --recipe, show that recipe's tools, variants and
the steps of the selected variant.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  devbox list
  devbox list --recipe ldhcpd --variant proto
`)
	}

	if err := fs.Parse(args); err != nil {
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

	if *common.recipe == "" {
		return executeListRecipes(ctx, cfg, logger, os.Stdout)
	}
	return executeShowRecipe(ctx, cfg, logger, os.Stdout)
}

func executeListRecipes(ctx context.Context, cfg config.Config, logger interfaces.Logger, out io.Writer) error {
	defs, err := newRecipeRepository(cfg, logger).ListRecipes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list recipes: %w", err)
	}

	fmt.Fprintf(out, "Available recipes (%d total):\n\n", len(defs))
	for _, def := range defs {
		fmt.Fprintf(out, "  %-20s %s\n", def.Name, def.Description)
		fmt.Fprintf(out, "  %-20s Base image: %s\n", "", def.From)
		fmt.Fprintf(out, "  %-20s Variants: %s\n", "", strings.Join(services.VariantNames(def), ", "))
		fmt.Fprintln(out)
	}
	return nil
}

func executeShowRecipe(ctx context.Context, cfg config.Config, logger interfaces.Logger, out io.Writer) error {
	def, err := newRecipeRepository(cfg, logger).GetRecipe(ctx, cfg.Recipe)
	if err != nil {
		return err
	}
	plan, err := services.NewPlanner().Resolve(def, services.PlanOptions{Variant: cfg.Variant, Vars: cfg.Vars})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %s\n", def.Name, def.Description)
	fmt.Fprintf(out, "Base image: %s\n\n", plan.From)

	fmt.Fprintln(out, "Tools:")
	names := make([]string, 0, len(def.Tools))
	for name := range def.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tool := def.Tools[name]
		var checks []string
		if tool.SHA256 != "" {
			checks = append(checks, "sha256")
		}
		if tool.Signature.Enabled() {
			checks = append(checks, "gpg")
		}
		line := fmt.Sprintf("  %-16s %-10s", name, tool.Version)
		if len(checks) > 0 {
			line += " verified: " + strings.Join(checks, "+")
		}
		fmt.Fprintln(out, strings.TrimRight(line, " "))
	}

	fmt.Fprintln(out, "\nVariants:")
	for _, name := range services.VariantNames(def) {
		v := def.Variants[name]
		marker := " "
		if name == plan.Variant {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %-16s %s [%s]\n", marker, name, v.Description, strings.Join(v.Tools, ", "))
	}

	fmt.Fprintf(out, "\nSteps (%s, %d):\n", plan.Variant, len(plan.Steps))
	for _, ps := range plan.Steps {
		fmt.Fprintf(out, "  %3d  %s\n", ps.Index, describeStep(ps))
	}
	return nil
}

func describeStep(ps entities.PlannedStep) string {
	if ps.Step.Kind == entities.StepTool && ps.Tool != nil {
		return ps.Describe() + " -> /" + ps.Tool.Artifact
	}
	return ps.Describe()
}
