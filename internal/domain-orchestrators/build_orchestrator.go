// Package orchestrators coordinates complex workflows across multiple domain services.
package orchestrators

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ochairo/devbox/internal/domain/entities"
	"github.com/ochairo/devbox/internal/domain/interfaces"
	"github.com/ochairo/devbox/internal/domain/interfaces/gateways"
	"github.com/ochairo/devbox/internal/domain/interfaces/repositories"
	"github.com/ochairo/devbox/internal/domain/interfaces/services"
)

// TransformBuilder turns recipe transform ops into a TransformFunc
type TransformBuilder interface {
	Build(ops []entities.TransformOp, env []entities.EnvVar) entities.TransformFunc
}

// StepRunner executes literal run steps
type StepRunner interface {
	RunStep(ctx context.Context, script, workingDir string, env []entities.EnvVar, output io.Writer) error
}

// BoxFileSystem applies copy, mkdir and env steps
type BoxFileSystem interface {
	Copy(spec entities.CopySpec) error
	Mkdir(spec entities.MkdirSpec) error
	WriteEnv(env []entities.EnvVar) error
}

// StepObserver records the outcome of every executed step
type StepObserver interface {
	ObserveStep(kind entities.StepKind, status entities.StepStatus, duration time.Duration)
}

// BuildRequest selects what to build
type BuildRequest struct {
	Recipe  string
	Variant string
	Vars    map[string]string
}

// BuildResult contains the outcome of a build
type BuildResult struct {
	BuildID    string                `json:"build_id"`
	Recipe     string                `json:"recipe"`
	Variant    string                `json:"variant"`
	Root       string                `json:"root"`
	StartedAt  time.Time             `json:"started_at"`
	Duration   time.Duration         `json:"duration_ns"`
	Steps      []entities.StepReport `json:"steps"`
	FailedStep int                   `json:"failed_step,omitempty"`
	Success    bool                  `json:"success"`
	Error      error                 `json:"-"`
}

// BuildOrchestratorConfig contains dependencies for BuildOrchestrator
type BuildOrchestratorConfig struct {
	RecipeRepo repositories.RecipeRepository
	Planner    services.PlanService
	Fetcher    gateways.Fetcher
	Transforms TransformBuilder
	Runner     StepRunner
	FileSystem BoxFileSystem
	Observer   StepObserver
	Logger     interfaces.Logger
	Root       string
	Output     io.Writer // Receives run step output; defaults to io.Discard
	// AllowHostRun lets run steps and run transforms execute when Root is not "/".
	// They run against the host either way; only ROOT points them at the box.
	AllowHostRun bool
}

// BuildOrchestrator provisions a box by running a plan's steps in order
type BuildOrchestrator struct {
	recipeRepo repositories.RecipeRepository
	planner    services.PlanService
	fetcher    gateways.Fetcher
	transforms TransformBuilder
	runner     StepRunner
	fs         BoxFileSystem
	observer   StepObserver
	logger     interfaces.Logger
	root       string
	output     io.Writer
	allowHost  bool
}

// NewBuildOrchestrator creates a new build orchestrator
func NewBuildOrchestrator(config BuildOrchestratorConfig) *BuildOrchestrator {
	root := filepath.Clean(config.Root)
	if config.Root == "" {
		root = "/"
	}
	output := config.Output
	if output == nil {
		output = io.Discard
	}
	logger := config.Logger
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}

	return &BuildOrchestrator{
		recipeRepo: config.RecipeRepo,
		planner:    config.Planner,
		fetcher:    config.Fetcher,
		transforms: config.Transforms,
		runner:     config.Runner,
		fs:         config.FileSystem,
		observer:   config.Observer,
		logger:     logger,
		root:       root,
		output:     output,
		allowHost:  config.AllowHostRun,
	}
}

// Plan loads a recipe and resolves it for the requested variant
func (o *BuildOrchestrator) Plan(ctx context.Context, req BuildRequest) (*entities.Plan, error) {
	return resolvePlan(ctx, o.recipeRepo, o.planner, req)
}

func resolvePlan(ctx context.Context, repo repositories.RecipeRepository, planner services.PlanService, req BuildRequest) (*entities.Plan, error) {
	recipe, err := repo.GetRecipe(ctx, req.Recipe)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipe: %w", err)
	}

	plan, err := planner.Resolve(recipe, services.PlanOptions{Variant: req.Variant, Vars: req.Vars})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipe %s: %w", recipe.Name, err)
	}
	return plan, nil
}

// Build plans and executes a recipe
func (o *BuildOrchestrator) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	plan, err := o.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, plan)
}

// Execute runs every planned step in order and stops at the first failure.
// Steps after the failing one are reported as skipped.
func (o *BuildOrchestrator) Execute(ctx context.Context, plan *entities.Plan) (*BuildResult, error) {
	if err := o.checkHostRun(plan); err != nil {
		return nil, err
	}

	result := &BuildResult{
		BuildID:   uuid.NewString(),
		Recipe:    plan.Recipe,
		Variant:   plan.Variant,
		Root:      o.root,
		StartedAt: time.Now(),
		Steps:     make([]entities.StepReport, 0, len(plan.Steps)),
	}
	log := interfaces.With(o.logger,
		interfaces.F("build_id", result.BuildID),
		interfaces.F("recipe", plan.Recipe),
		interfaces.F("variant", plan.Variant))

	log.Info("build started", interfaces.F("steps", len(plan.Steps)), interfaces.F("root", o.root))

	var env []entities.EnvVar
	for _, ps := range plan.Steps {
		report := entities.StepReport{Index: ps.Index, Kind: ps.Step.Kind, Description: ps.Describe()}

		if result.Error != nil {
			report.Status = entities.StepSkipped
			result.Steps = append(result.Steps, report)
			continue
		}

		stepLog := interfaces.With(log, interfaces.F("step", ps.Index), interfaces.F("kind", string(ps.Step.Kind)))
		stepLog.Debug("step started", interfaces.F("description", report.Description))

		start := time.Now()
		var err error
		if err = ctx.Err(); err == nil {
			env, err = o.runStep(ctx, ps, env)
		}
		report.Duration = time.Since(start)

		if err != nil {
			report.Status = entities.StepFailed
			report.Error = err.Error()
			result.FailedStep = ps.Index
			result.Error = &entities.StepError{Index: ps.Index, Description: report.Description, Err: err}
			stepLog.Error("step failed", interfaces.F("error", err), interfaces.F("duration", report.Duration))
		} else {
			report.Status = entities.StepSucceeded
			stepLog.Info("step done", interfaces.F("duration", report.Duration))
		}

		if o.observer != nil {
			o.observer.ObserveStep(ps.Step.Kind, report.Status, report.Duration)
		}
		result.Steps = append(result.Steps, report)
	}

	result.Duration = time.Since(result.StartedAt)
	if result.Error != nil {
		log.Error("build failed", interfaces.F("failed_step", result.FailedStep), interfaces.F("duration", result.Duration))
		return result, result.Error
	}

	result.Success = true
	log.Info("build finished", interfaces.F("duration", result.Duration))
	return result, nil
}

// checkHostRun refuses a plan with scripts when root is a directory other
// than "/" and host runs were not allowed
func (o *BuildOrchestrator) checkHostRun(plan *entities.Plan) error {
	if o.root == "/" || o.allowHost {
		return nil
	}
	for _, ps := range plan.Steps {
		if ps.Step.Kind == entities.StepRun {
			return fmt.Errorf("%w: step %d (%s) with root %s", entities.ErrHostRun, ps.Index, ps.Describe(), o.root)
		}
		if ps.Tool == nil {
			continue
		}
		for _, op := range ps.Tool.Transform {
			if op.Kind == entities.OpRun {
				return fmt.Errorf("%w: tool %s transform with root %s", entities.ErrHostRun, ps.Tool.Name, o.root)
			}
		}
	}
	return nil
}

// runStep executes one step and returns the environment for later steps
func (o *BuildOrchestrator) runStep(ctx context.Context, ps entities.PlannedStep, env []entities.EnvVar) ([]entities.EnvVar, error) {
	step := ps.Step
	switch step.Kind {
	case entities.StepRun:
		runEnv := append(append(make([]entities.EnvVar, 0, len(env)+1), env...), entities.EnvVar{Key: "ROOT", Value: o.root})
		return env, o.runner.RunStep(ctx, step.Run, o.root, runEnv, o.output)

	case entities.StepEnv:
		env = MergeEnv(env, step.Env)
		return env, o.fs.WriteEnv(env)

	case entities.StepCopy:
		return env, o.fs.Copy(step.Copy)

	case entities.StepMkdir:
		return env, o.fs.Mkdir(step.Mkdir)

	case entities.StepTool:
		if ps.Tool == nil {
			return env, fmt.Errorf("%w: %s", entities.ErrUnknownTool, step.Tool)
		}
		return env, o.fetcher.Fetch(ctx, o.downloadStep(ps.Tool, env))

	default:
		return env, fmt.Errorf("%w: unknown kind %q", entities.ErrInvalidStep, step.Kind)
	}
}

func (o *BuildOrchestrator) downloadStep(tool *entities.Tool, env []entities.EnvVar) entities.DownloadStep {
	return entities.DownloadStep{
		Name:      tool.Artifact,
		URL:       tool.URL,
		SHA256:    tool.SHA256,
		Signature: tool.Signature,
		Transform: o.transforms.Build(tool.Transform, env),
	}
}

// MergeEnv applies assignments in order. Reassigning a key moves it to the end
// so the persisted file keeps the order the values took effect in.
func MergeEnv(env, assignments []entities.EnvVar) []entities.EnvVar {
	out := make([]entities.EnvVar, 0, len(env)+len(assignments))
	out = append(out, env...)
	for _, a := range assignments {
		for i := 0; i < len(out); i++ {
			if out[i].Key == a.Key {
				out = append(out[:i], out[i+1:]...)
				i--
			}
		}
		out = append(out, a)
	}
	return out
}

// WriteManifest saves the result as indented JSON
func (r *BuildResult) WriteManifest(path string) error {
	manifest := struct {
		*BuildResult
		Error string `json:"error,omitempty"`
	}{BuildResult: r}
	if r.Error != nil {
		manifest.Error = r.Error.Error()
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create manifest directory: %w", err)
		}
	}
	//nolint:gosec // G306: manifests are not secret
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// GetBuildSummary returns a human-readable summary of the build
func (r *BuildResult) GetBuildSummary() string {
	var b strings.Builder
	for _, s := range r.Steps {
		fmt.Fprintf(&b, "  %-9s %3d  %-50s %v\n", s.Status, s.Index, s.Description, s.Duration.Round(time.Millisecond))
	}

	if !r.Success {
		return fmt.Sprintf("Build failed: %v\n%s", r.Error, b.String())
	}

	return fmt.Sprintf(`Build successful!
Recipe: %s
Variant: %s
Build: %s
Total: %v
%s`,
		r.Recipe,
		r.Variant,
		r.BuildID,
		r.Duration.Round(time.Millisecond),
		b.String(),
	)
}
