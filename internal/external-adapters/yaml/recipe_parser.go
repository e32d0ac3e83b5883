// Package yaml provides YAML-based recipe parsing and repository implementations.
package yaml

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ochairo/devbox/internal/domain/entities"
	"gopkg.in/yaml.v3"
)

// yamlRecipe represents the raw YAML structure
type yamlRecipe struct {
	Name           string                 `yaml:"name"`
	Description    string                 `yaml:"description"`
	From           string                 `yaml:"from"`
	Vars           map[string]string      `yaml:"vars"`
	Tools          map[string]yamlTool    `yaml:"tools"`
	Steps          []yamlStep             `yaml:"steps"`
	Variants       map[string]yamlVariant `yaml:"variants"`
	DefaultVariant string                 `yaml:"default_variant"`
	Entrypoint     []string               `yaml:"entrypoint"`
	Cmd            []string               `yaml:"cmd"`
}

type yamlTool struct {
	Version      string   `yaml:"version"`
	URL          string   `yaml:"url"`
	Artifact     string   `yaml:"artifact"`
	SHA256       string   `yaml:"sha256"`
	Source       string   `yaml:"source"`
	SignatureURL string   `yaml:"signature_url"`
	GPGKeysURL   string   `yaml:"gpg_keys_url"`
	GPGKeyIDs    []string `yaml:"gpg_key_ids"`
	Transform    []yamlOp `yaml:"transform"`
}

type yamlVariant struct {
	Description string   `yaml:"description"`
	Tools       []string `yaml:"tools"`
}

// yamlStep is a single-key mapping; the key names the step kind
type yamlStep struct {
	Run   *string    `yaml:"run"`
	Env   yamlEnv    `yaml:"env"`
	Copy  *yamlCopy  `yaml:"copy"`
	Mkdir *yamlMkdir `yaml:"mkdir"`
	Tool  *string    `yaml:"tool"`
}

type yamlCopy struct {
	Src  string `yaml:"src"`
	Dest string `yaml:"dest"`
	Mode string `yaml:"mode"`
}

type yamlMkdir struct {
	Path  string `yaml:"path"`
	Owner string `yaml:"owner"`
	Mode  string `yaml:"mode"`
}

// yamlEnv keeps env assignments in the order they were written
type yamlEnv []entities.EnvVar

// UnmarshalYAML accepts a mapping or a list of single-key mappings
func (e *yamlEnv) UnmarshalYAML(node *yaml.Node) error {
	var pairs []*yaml.Node
	switch node.Kind {
	case yaml.MappingNode:
		pairs = node.Content
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.MappingNode {
				return fmt.Errorf("line %d: env list entries must be mappings", item.Line)
			}
			pairs = append(pairs, item.Content...)
		}
	default:
		return fmt.Errorf("line %d: env must be a mapping", node.Line)
	}

	vars := make(yamlEnv, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		vars = append(vars, entities.EnvVar{Key: pairs[i].Value, Value: pairs[i+1].Value})
	}
	*e = vars
	return nil
}

type yamlOp struct {
	Unzip  *yamlDest  `yaml:"unzip"`
	Untar  *yamlUntar `yaml:"untar"`
	Chmod  *yamlChmod `yaml:"chmod"`
	Move   *yamlMove  `yaml:"move"`
	Remove *yamlPath  `yaml:"remove"`
	Mkdir  *yamlPath  `yaml:"mkdir"`
	Run    *string    `yaml:"run"`
}

type yamlDest struct {
	Dest string `yaml:"dest"`
}

type yamlUntar struct {
	Dest            string `yaml:"dest"`
	StripComponents int    `yaml:"strip_components"`
}

type yamlChmod struct {
	Mode      string   `yaml:"mode"`
	Paths     []string `yaml:"paths"`
	Recursive bool     `yaml:"recursive"`
}

type yamlMove struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// yamlPath accepts either "op: /some/path" or "op: {path: /some/path}"
type yamlPath struct {
	Path string `yaml:"path"`
}

// UnmarshalYAML implements the scalar shorthand
func (p *yamlPath) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		p.Path = node.Value
		return nil
	}
	type plain yamlPath
	return node.Decode((*plain)(p))
}

// RecipeParser parses YAML recipe files
type RecipeParser struct{}

// NewRecipeParser creates a new YAML parser
func NewRecipeParser() *RecipeParser {
	return &RecipeParser{}
}

// ParseFile parses a YAML recipe file into a Recipe entity
func (p *RecipeParser) ParseFile(filePath string) (*entities.Recipe, error) {
	//nolint:gosec // G304: filePath is recipe definition path from repository
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	return p.Parse(data)
}

// Parse parses YAML bytes into a Recipe entity. Unknown keys are rejected.
func (p *RecipeParser) Parse(data []byte) (*entities.Recipe, error) {
	var raw yamlRecipe
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: empty document")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if raw.Name == "" {
		return nil, fmt.Errorf("recipe must have a name")
	}
	if raw.From == "" {
		return nil, fmt.Errorf("recipe %s must have a base image (from)", raw.Name)
	}

	recipe := &entities.Recipe{
		Name:           raw.Name,
		Description:    raw.Description,
		From:           raw.From,
		Vars:           raw.Vars,
		Tools:          make(map[string]entities.Tool, len(raw.Tools)),
		Steps:          make([]entities.Step, 0, len(raw.Steps)),
		Variants:       make(map[string]entities.Variant, len(raw.Variants)),
		DefaultVariant: raw.DefaultVariant,
		Entrypoint:     raw.Entrypoint,
		Cmd:            raw.Cmd,
	}
	if recipe.Vars == nil {
		recipe.Vars = map[string]string{}
	}

	for name, t := range raw.Tools {
		tool, err := convertTool(name, t)
		if err != nil {
			return nil, err
		}
		recipe.Tools[name] = tool
	}

	for i, s := range raw.Steps {
		step, err := convertStep(s)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		step.Source = i + 1
		recipe.Steps = append(recipe.Steps, step)
	}

	for name, v := range raw.Variants {
		recipe.Variants[name] = entities.Variant{
			Name:        name,
			Description: v.Description,
			Tools:       v.Tools,
		}
	}

	return recipe, nil
}

func convertTool(name string, yt yamlTool) (entities.Tool, error) {
	tool := entities.Tool{
		Name:     name,
		Version:  yt.Version,
		URL:      yt.URL,
		Artifact: yt.Artifact,
		SHA256:   yt.SHA256,
		Source:   yt.Source,
		Signature: entities.ToolSignature{
			URL:     yt.SignatureURL,
			KeysURL: yt.GPGKeysURL,
			KeyIDs:  yt.GPGKeyIDs,
		},
	}
	if tool.URL == "" {
		return entities.Tool{}, fmt.Errorf("tool %s must have a url", name)
	}

	for i, yo := range yt.Transform {
		op, err := convertOp(yo)
		if err != nil {
			return entities.Tool{}, fmt.Errorf("tool %s transform %d: %w", name, i+1, err)
		}
		tool.Transform = append(tool.Transform, op)
	}
	return tool, nil
}

func convertStep(ys yamlStep) (entities.Step, error) {
	var steps []entities.Step
	if ys.Run != nil {
		steps = append(steps, entities.Step{Kind: entities.StepRun, Run: *ys.Run})
	}
	if ys.Env != nil {
		steps = append(steps, entities.Step{Kind: entities.StepEnv, Env: []entities.EnvVar(ys.Env)})
	}
	if ys.Copy != nil {
		steps = append(steps, entities.Step{Kind: entities.StepCopy, Copy: entities.CopySpec(*ys.Copy)})
	}
	if ys.Mkdir != nil {
		steps = append(steps, entities.Step{Kind: entities.StepMkdir, Mkdir: entities.MkdirSpec(*ys.Mkdir)})
	}
	if ys.Tool != nil {
		steps = append(steps, entities.Step{Kind: entities.StepTool, Tool: *ys.Tool})
	}

	if len(steps) != 1 {
		return entities.Step{}, fmt.Errorf("%w: expected exactly one of run, env, copy, mkdir, tool (got %d)",
			entities.ErrInvalidStep, len(steps))
	}
	return steps[0], nil
}

func convertOp(yo yamlOp) (entities.TransformOp, error) {
	var ops []entities.TransformOp
	if yo.Unzip != nil {
		ops = append(ops, entities.TransformOp{Kind: entities.OpUnzip, Dest: yo.Unzip.Dest})
	}
	if yo.Untar != nil {
		ops = append(ops, entities.TransformOp{
			Kind:            entities.OpUntar,
			Dest:            yo.Untar.Dest,
			StripComponents: yo.Untar.StripComponents,
		})
	}
	if yo.Chmod != nil {
		ops = append(ops, entities.TransformOp{
			Kind:      entities.OpChmod,
			Mode:      yo.Chmod.Mode,
			Paths:     yo.Chmod.Paths,
			Recursive: yo.Chmod.Recursive,
		})
	}
	if yo.Move != nil {
		ops = append(ops, entities.TransformOp{Kind: entities.OpMove, From: yo.Move.From, To: yo.Move.To})
	}
	if yo.Remove != nil {
		ops = append(ops, entities.TransformOp{Kind: entities.OpRemove, Path: yo.Remove.Path})
	}
	if yo.Mkdir != nil {
		ops = append(ops, entities.TransformOp{Kind: entities.OpMkdir, Dest: yo.Mkdir.Path})
	}
	if yo.Run != nil {
		ops = append(ops, entities.TransformOp{Kind: entities.OpRun, Script: *yo.Run})
	}

	if len(ops) != 1 {
		return entities.TransformOp{}, fmt.Errorf("%w: expected exactly one transform operation (got %d)",
			entities.ErrInvalidStep, len(ops))
	}
	return ops[0], nil
}
