// Package services implements domain business logic.
package services

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/ochairo/devbox/internal/domain/entities"
	"github.com/ochairo/devbox/internal/domain/interfaces/services"
)

// AllToolsVariant is the variant name used when a recipe declares no variants
const AllToolsVariant = "all"

// reservedVars are expanded at execution time, never by the planner
var reservedVars = map[string]bool{
	"artifact": true,
}

type planner struct{}

// NewPlanner creates a new plan service
func NewPlanner() services.PlanService {
	return &planner{}
}

// Resolve selects the variant, merges vars and validates every step
func (p *planner) Resolve(recipe *entities.Recipe, opts services.PlanOptions) (*entities.Plan, error) {
	if recipe == nil {
		return nil, fmt.Errorf("recipe is nil")
	}

	variant, err := selectVariant(recipe, opts.Variant)
	if err != nil {
		return nil, err
	}

	vars := MergeVars(recipe.Vars, opts.Vars)
	expand := newExpander(vars)

	plan := &entities.Plan{
		Recipe:     recipe.Name,
		Variant:    variant.Name,
		From:       expand(recipe.From),
		Vars:       vars,
		Entrypoint: expandAll(expand, recipe.Entrypoint),
		Cmd:        expandAll(expand, recipe.Cmd),
	}

	if plan.From == "" {
		return nil, fmt.Errorf("recipe %s has no base image (from)", recipe.Name)
	}

	for i, step := range recipe.Steps {
		if err := validateStep(step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}

		planned := entities.PlannedStep{Index: len(plan.Steps) + 1}

		if step.Kind == entities.StepTool {
			tool, ok := recipe.Tools[step.Tool]
			if !ok {
				return nil, fmt.Errorf("step %d: %w: %s", i+1, entities.ErrUnknownTool, step.Tool)
			}
			if !variant.Includes(step.Tool) {
				continue
			}
			resolved, err := resolveTool(step.Tool, tool, vars)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i+1, err)
			}
			planned.Tool = resolved
		}

		planned.Step = expandStep(expand, step)
		plan.Steps = append(plan.Steps, planned)
	}

	return plan, nil
}

func selectVariant(recipe *entities.Recipe, name string) (entities.Variant, error) {
	if name == "" {
		name = recipe.DefaultVariant
	}

	if name == "" || (name == AllToolsVariant && len(recipe.Variants) == 0) {
		tools := make([]string, 0, len(recipe.Tools))
		for t := range recipe.Tools {
			tools = append(tools, t)
		}
		sort.Strings(tools)
		return entities.Variant{Name: AllToolsVariant, Tools: tools}, nil
	}

	variant, ok := recipe.Variants[name]
	if !ok {
		return entities.Variant{}, fmt.Errorf("%w: %s (available: %s)",
			entities.ErrUnknownVariant, name, strings.Join(VariantNames(recipe), ", "))
	}
	variant.Name = name

	for _, t := range variant.Tools {
		if _, ok := recipe.Tools[t]; !ok {
			return entities.Variant{}, fmt.Errorf("variant %s: %w: %s", name, entities.ErrUnknownTool, t)
		}
	}

	return variant, nil
}

// VariantNames returns the recipe's variant names in sorted order
func VariantNames(recipe *entities.Recipe) []string {
	names := make([]string, 0, len(recipe.Variants))
	for n := range recipe.Variants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MergeVars layers overrides on top of base without mutating either
func MergeVars(base map[string]string, overrides ...map[string]string) map[string]string {
	merged := make(map[string]string, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for _, o := range overrides {
		for k, v := range o {
			merged[k] = v
		}
	}
	return merged
}

func resolveTool(name string, tool entities.Tool, vars map[string]string) (*entities.Tool, error) {
	toolVars := MergeVars(vars, map[string]string{
		"name":    name,
		"version": tool.Version,
	})
	expand := newExpander(toolVars)

	resolved := tool
	resolved.Name = name
	resolved.URL = expand(tool.URL)
	resolved.Signature.URL = expand(tool.Signature.URL)
	resolved.Signature.KeysURL = expand(tool.Signature.KeysURL)

	if err := entities.ValidateDownloadURL(resolved.URL); err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	resolved.Artifact = expand(tool.Artifact)
	if resolved.Artifact == "" {
		resolved.Artifact = path.Base(strings.SplitN(resolved.URL, "?", 2)[0])
	}
	if err := entities.ValidateArtifactName(resolved.Artifact); err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	resolved.Transform = make([]entities.TransformOp, 0, len(tool.Transform))
	for i, op := range tool.Transform {
		if err := validateOp(op); err != nil {
			return nil, fmt.Errorf("tool %s transform %d: %w", name, i+1, err)
		}
		resolved.Transform = append(resolved.Transform, expandOp(expand, op))
	}

	return &resolved, nil
}

func validateStep(step entities.Step) error {
	switch step.Kind {
	case entities.StepRun:
		if strings.TrimSpace(step.Run) == "" {
			return fmt.Errorf("%w: empty run script", entities.ErrInvalidStep)
		}
	case entities.StepEnv:
		if len(step.Env) == 0 {
			return fmt.Errorf("%w: env step without variables", entities.ErrInvalidStep)
		}
		for _, e := range step.Env {
			if e.Key == "" || strings.ContainsAny(e.Key, "= ") {
				return fmt.Errorf("%w: invalid env key %q", entities.ErrInvalidStep, e.Key)
			}
		}
	case entities.StepCopy:
		if step.Copy.Src == "" || step.Copy.Dest == "" {
			return fmt.Errorf("%w: copy needs src and dest", entities.ErrInvalidStep)
		}
	case entities.StepMkdir:
		if step.Mkdir.Path == "" {
			return fmt.Errorf("%w: mkdir needs a path", entities.ErrInvalidStep)
		}
	case entities.StepTool:
		if step.Tool == "" {
			return fmt.Errorf("%w: tool step without a name", entities.ErrInvalidStep)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", entities.ErrInvalidStep, step.Kind)
	}
	return nil
}

func validateOp(op entities.TransformOp) error {
	switch op.Kind {
	case entities.OpUnzip, entities.OpUntar, entities.OpMkdir:
		if op.Dest == "" {
			return fmt.Errorf("%w: %s needs a destination", entities.ErrInvalidStep, op.Kind)
		}
		if op.StripComponents < 0 {
			return fmt.Errorf("%w: negative strip_components", entities.ErrInvalidStep)
		}
	case entities.OpChmod:
		if op.Mode == "" || len(op.Paths) == 0 {
			return fmt.Errorf("%w: chmod needs mode and paths", entities.ErrInvalidStep)
		}
	case entities.OpMove:
		if op.To == "" {
			return fmt.Errorf("%w: move needs a target", entities.ErrInvalidStep)
		}
	case entities.OpRemove:
		if op.Path == "" {
			return fmt.Errorf("%w: remove needs a path", entities.ErrInvalidStep)
		}
	case entities.OpRun:
		if strings.TrimSpace(op.Script) == "" {
			return fmt.Errorf("%w: empty run script", entities.ErrInvalidStep)
		}
	default:
		return fmt.Errorf("%w: unknown transform %q", entities.ErrInvalidStep, op.Kind)
	}
	return nil
}

// newExpander replaces {key} placeholders. Unknown placeholders are kept.
func newExpander(vars map[string]string) func(string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		if !reservedVars[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	r := strings.NewReplacer(pairs...)

	return func(s string) string {
		if s == "" || len(pairs) == 0 {
			return s
		}
		return r.Replace(s)
	}
}

func expandAll(expand func(string) string, in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = expand(s)
	}
	return out
}

func expandStep(expand func(string) string, step entities.Step) entities.Step {
	out := step
	out.Run = expand(step.Run)
	if step.Env != nil {
		out.Env = make([]entities.EnvVar, len(step.Env))
		for i, e := range step.Env {
			out.Env[i] = entities.EnvVar{Key: e.Key, Value: expand(e.Value)}
		}
	}
	out.Copy = entities.CopySpec{Src: expand(step.Copy.Src), Dest: expand(step.Copy.Dest), Mode: step.Copy.Mode}
	out.Mkdir = entities.MkdirSpec{Path: expand(step.Mkdir.Path), Owner: expand(step.Mkdir.Owner), Mode: step.Mkdir.Mode}
	return out
}

func expandOp(expand func(string) string, op entities.TransformOp) entities.TransformOp {
	out := op
	out.Dest = expand(op.Dest)
	out.Paths = expandAll(expand, op.Paths)
	out.From = expand(op.From)
	out.To = expand(op.To)
	out.Path = expand(op.Path)
	out.Script = expand(op.Script)
	return out
}
