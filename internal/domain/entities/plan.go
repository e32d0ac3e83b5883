package entities

import "time"

// Plan is a recipe resolved for one variant, with every var expanded
type Plan struct {
	Recipe     string
	Variant    string
	From       string
	Vars       map[string]string
	Steps      []PlannedStep
	Entrypoint []string
	Cmd        []string
}

// PlannedStep is a step ready to execute. Tool is set for StepTool.
type PlannedStep struct {
	Index int
	Step  Step
	Tool  *Tool
}

// Describe returns a short human-readable label for the step
func (s PlannedStep) Describe() string {
	switch s.Step.Kind {
	case StepRun:
		return "run: " + truncate(s.Step.Run, 60)
	case StepEnv:
		label := "env:"
		for _, e := range s.Step.Env {
			label += " " + e.Key
		}
		return label
	case StepCopy:
		return "copy: " + s.Step.Copy.Src + " -> " + s.Step.Copy.Dest
	case StepMkdir:
		return "mkdir: " + s.Step.Mkdir.Path
	case StepTool:
		if s.Tool != nil && s.Tool.Version != "" {
			return "tool: " + s.Tool.Name + " " + s.Tool.Version
		}
		return "tool: " + s.Step.Tool
	default:
		return string(s.Step.Kind)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// StepStatus is the outcome of an executed step
type StepStatus string

// Step outcomes
const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepReport records what happened to one planned step
type StepReport struct {
	Index       int           `json:"index"`
	Kind        StepKind      `json:"kind"`
	Description string        `json:"description"`
	Status      StepStatus    `json:"status"`
	Duration    time.Duration `json:"duration_ns"`
	Error       string        `json:"error,omitempty"`
}

// RenderedDockerfile is a plan rendered for an image builder
type RenderedDockerfile struct {
	Dockerfile string
	// ContextFiles are the build-context paths the COPY instructions read
	ContextFiles []string
}
