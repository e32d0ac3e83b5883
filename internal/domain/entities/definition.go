package entities

// Recipe represents a development box recipe from YAML
type Recipe struct {
	Name           string
	Description    string
	From           string
	Vars           map[string]string
	Tools          map[string]Tool
	Steps          []Step
	Variants       map[string]Variant
	DefaultVariant string
	Entrypoint     []string
	Cmd            []string
}

// Tool represents an optional binary tool installed through a download step
type Tool struct {
	Name      string
	Version   string
	URL       string // e.g., "https://example.com/v{version}/tool-{version}.zip"
	Artifact  string // Download name, the artifact lands at <root>/<artifact>
	SHA256    string
	Source    string // Version source for monitoring, e.g., "github-release:owner/repo"
	Signature ToolSignature
	Transform []TransformOp
}

// ToolSignature represents detached GPG signature configuration
type ToolSignature struct {
	URL     string
	KeysURL string
	KeyIDs  []string
}

// Enabled reports whether a signature check is configured
func (s ToolSignature) Enabled() bool {
	return s.URL != "" && (s.KeysURL != "" || len(s.KeyIDs) > 0)
}

// Variant selects which optional tools a build includes
type Variant struct {
	Name        string
	Description string
	Tools       []string
}

// Includes reports whether the variant installs the named tool
func (v Variant) Includes(tool string) bool {
	for _, t := range v.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// StepKind identifies what a recipe step does
type StepKind string

// Recipe step kinds
const (
	StepRun   StepKind = "run"
	StepEnv   StepKind = "env"
	StepCopy  StepKind = "copy"
	StepMkdir StepKind = "mkdir"
	StepTool  StepKind = "tool"
)

// Step represents a single recipe step. Only the fields matching Kind are set.
type Step struct {
	Kind   StepKind
	Run    string
	Env    []EnvVar
	Copy   CopySpec
	Mkdir  MkdirSpec
	Tool   string
	Source int // 1-based position in the recipe, for error messages
}

// EnvVar is an ordered environment assignment
type EnvVar struct {
	Key   string
	Value string
}

// CopySpec copies a file from the build context into the box
type CopySpec struct {
	Src  string
	Dest string
	Mode string
}

// MkdirSpec creates a directory with optional ownership
type MkdirSpec struct {
	Path  string
	Owner string // "uid:gid"
	Mode  string
}

// TransformOpKind identifies a transform operation applied to a fetched artifact
type TransformOpKind string

// Transform operation kinds
const (
	OpUnzip  TransformOpKind = "unzip"
	OpUntar  TransformOpKind = "untar"
	OpChmod  TransformOpKind = "chmod"
	OpMove   TransformOpKind = "move"
	OpRemove TransformOpKind = "remove"
	OpMkdir  TransformOpKind = "mkdir"
	OpRun    TransformOpKind = "run"
)

// TransformOp is one operation in a tool's transform chain
type TransformOp struct {
	Kind            TransformOpKind
	Dest            string   // unzip, untar, mkdir
	StripComponents int      // untar
	Mode            string   // chmod
	Paths           []string // chmod
	Recursive       bool     // chmod
	From            string   // move; empty means the artifact itself
	To              string   // move
	Path            string   // remove
	Script          string   // run
}
