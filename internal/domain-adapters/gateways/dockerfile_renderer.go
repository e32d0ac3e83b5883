package gateways

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"text/template"

	"al.essio.dev/pkg/shellescape"

	"github.com/ochairo/devbox/internal/domain/entities"
)

// DefaultKeyserver is used by rendered gpg --recv-keys calls
const DefaultKeyserver = "hkps://keys.openpgp.org"

var dockerfileTemplate = template.Must(template.New("Dockerfile").Parse(
	`# Rendered by devbox from recipe {{.Recipe}} (variant {{.Variant}})
FROM {{.From}}
{{range .Instructions}}
{{.}}
{{- end}}
{{with .Entrypoint}}
ENTRYPOINT {{.}}
{{- end}}
{{- with .Cmd}}
CMD {{.}}
{{- end}}
`))

type dockerfileData struct {
	Recipe       string
	Variant      string
	From         string
	Instructions []string
	Entrypoint   string
	Cmd          string
}

// DockerfileRenderer turns a Plan into Dockerfile text
type DockerfileRenderer struct {
	keyserver string
}

// NewDockerfileRenderer creates a new renderer
func NewDockerfileRenderer() *DockerfileRenderer {
	return &DockerfileRenderer{keyserver: DefaultKeyserver}
}

// Render renders every planned step as one Dockerfile instruction (copy with a
// mode adds a chmod RUN). Tool steps become a single RUN that removes the
// artifact on exit, whether or not the transform succeeded.
func (r *DockerfileRenderer) Render(plan *entities.Plan) (*entities.RenderedDockerfile, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan is nil")
	}

	data := dockerfileData{
		Recipe:  plan.Recipe,
		Variant: plan.Variant,
		From:    plan.From,
	}
	var files []string
	seen := make(map[string]bool)

	for _, ps := range plan.Steps {
		instructions, err := r.renderStep(ps)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", ps.Index, ps.Describe(), err)
		}
		data.Instructions = append(data.Instructions, instructions...)

		if ps.Step.Kind == entities.StepCopy {
			src, _ := ContextPath(ps.Step.Copy.Src)
			if !seen[src] {
				seen[src] = true
				files = append(files, src)
			}
		}
	}

	var err error
	if data.Entrypoint, err = jsonArray(plan.Entrypoint); err != nil {
		return nil, err
	}
	if data.Cmd, err = jsonArray(plan.Cmd); err != nil {
		return nil, err
	}

	var b strings.Builder
	if err := dockerfileTemplate.Execute(&b, data); err != nil {
		return nil, fmt.Errorf("failed to render Dockerfile: %w", err)
	}

	return &entities.RenderedDockerfile{Dockerfile: b.String(), ContextFiles: files}, nil
}

func (r *DockerfileRenderer) renderStep(ps entities.PlannedStep) ([]string, error) {
	step := ps.Step
	switch step.Kind {
	case entities.StepRun:
		return []string{"RUN " + continueLines(step.Run)}, nil

	case entities.StepEnv:
		pairs := make([]string, 0, len(step.Env))
		for _, e := range step.Env {
			pairs = append(pairs, e.Key+"="+dockerQuote(e.Value))
		}
		return []string{"ENV " + strings.Join(pairs, " ")}, nil

	case entities.StepCopy:
		src, err := ContextPath(step.Copy.Src)
		if err != nil {
			return nil, err
		}
		args, _ := json.Marshal([]string{src, step.Copy.Dest})
		out := []string{"COPY " + string(args)}
		if step.Copy.Mode != "" {
			if _, err := ParseMode(step.Copy.Mode, 0); err != nil {
				return nil, err
			}
			dest := step.Copy.Dest
			if strings.HasSuffix(dest, "/") {
				dest = path.Join(dest, path.Base(src))
			}
			out = append(out, fmt.Sprintf("RUN chmod %s %s", step.Copy.Mode, shellescape.Quote(dest)))
		}
		return out, nil

	case entities.StepMkdir:
		dir := shellescape.Quote(step.Mkdir.Path)
		cmds := []string{"mkdir -p " + dir}
		if step.Mkdir.Owner != "" {
			cmds = append(cmds, "chown "+shellescape.Quote(step.Mkdir.Owner)+" "+dir)
		}
		if step.Mkdir.Mode != "" {
			if _, err := ParseMode(step.Mkdir.Mode, 0); err != nil {
				return nil, err
			}
			cmds = append(cmds, "chmod "+step.Mkdir.Mode+" "+dir)
		}
		return []string{"RUN " + strings.Join(cmds, " && ")}, nil

	case entities.StepTool:
		if ps.Tool == nil {
			return nil, fmt.Errorf("%w: %s", entities.ErrUnknownTool, step.Tool)
		}
		run, err := r.renderTool(ps.Tool)
		if err != nil {
			return nil, err
		}
		return []string{run}, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", entities.ErrInvalidStep, step.Kind)
	}
}

// renderTool produces the shell form of fetch-transform-cleanup
func (r *DockerfileRenderer) renderTool(tool *entities.Tool) (string, error) {
	if err := entities.ValidateArtifactName(tool.Artifact); err != nil {
		return "", err
	}
	artifact := "/" + tool.Artifact
	q := shellescape.Quote

	cleanup := []string{artifact}
	cmds := []string{
		"export ARTIFACT=" + q(artifact) + " ROOT=/",
		"curl -fsSL -o " + q(artifact) + " " + q(tool.URL),
	}

	if tool.SHA256 != "" {
		sum := strings.ToLower(strings.TrimPrefix(tool.SHA256, "sha256:"))
		cmds = append(cmds, "echo "+q(sum+"  "+artifact)+" | sha256sum -c -")
	}

	if tool.Signature.Enabled() {
		sig := artifact + ".sig"
		cleanup = append(cleanup, sig)
		if tool.Signature.KeysURL != "" {
			cmds = append(cmds, "curl -fsSL "+q(tool.Signature.KeysURL)+" | gpg --batch --import")
		}
		if len(tool.Signature.KeyIDs) > 0 {
			ids := make([]string, len(tool.Signature.KeyIDs))
			for i, id := range tool.Signature.KeyIDs {
				ids[i] = q(id)
			}
			cmds = append(cmds, "gpg --batch --keyserver "+q(r.keyserver)+" --recv-keys "+strings.Join(ids, " "))
		}
		cmds = append(cmds,
			"curl -fsSL -o "+q(sig)+" "+q(tool.Signature.URL),
			"gpg --batch --verify "+q(sig)+" "+q(artifact))
	}

	for i, op := range tool.Transform {
		cmd, err := shellOp(substituteArtifact(op, artifact), artifact)
		if err != nil {
			return "", fmt.Errorf("transform %d: %w", i+1, err)
		}
		cmds = append(cmds, cmd)
	}

	quoted := make([]string, len(cleanup))
	for i, c := range cleanup {
		quoted[i] = q(c)
	}
	trap := "trap " + q("rm -f "+strings.Join(quoted, " ")) + " EXIT"

	lines := append([]string{"set -e", trap}, cmds...)
	return "RUN " + strings.Join(lines, "; \\\n    "), nil
}

// shellOp renders one transform op the way Transformer applies it
func shellOp(op entities.TransformOp, artifact string) (string, error) {
	q := shellescape.Quote
	switch op.Kind {
	case entities.OpUnzip:
		return "unzip -o -q " + q(artifact) + " -d " + q(op.Dest), nil

	case entities.OpUntar:
		cmd := "mkdir -p " + q(op.Dest) + " && tar -xf " + q(artifact) + " -C " + q(op.Dest)
		if op.StripComponents > 0 {
			cmd += fmt.Sprintf(" --strip-components=%d", op.StripComponents)
		}
		return cmd, nil

	case entities.OpChmod:
		if _, err := ParseMode(op.Mode, 0); err != nil {
			return "", err
		}
		cmd := "chmod "
		if op.Recursive {
			cmd += "-R "
		}
		cmd += op.Mode
		for _, p := range op.Paths {
			cmd += " " + q(p)
		}
		return cmd, nil

	case entities.OpMove:
		from := op.From
		if from == "" {
			from = artifact
		}
		parent := path.Dir(strings.TrimSuffix(op.To, "/"))
		if strings.HasSuffix(op.To, "/") {
			parent = op.To
		}
		return "mkdir -p " + q(parent) + " && mv -f " + q(from) + " " + q(op.To), nil

	case entities.OpRemove:
		return "rm -rf " + q(op.Path), nil

	case entities.OpMkdir:
		return "mkdir -p " + q(op.Dest), nil

	case entities.OpRun:
		return "(" + continueLines(op.Script) + ")", nil

	default:
		return "", fmt.Errorf("unsupported transform %q", op.Kind)
	}
}

// dockerQuote double-quotes an ENV value; $ is escaped so values stay literal
func dockerQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}

func jsonArray(args []string) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// A newline after these must not become ";"
var (
	openerSymbols = []string{"&&", "||", "|", ";", "{", "("}
	openerWords   = []string{"then", "do", "else"}
)

// continueLines folds a multi-line script into Dockerfile line continuations
func continueLines(script string) string {
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(script), "\n") {
		if l = strings.TrimRight(l, " \t"); strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) <= 1 {
		return strings.Join(lines, "")
	}

	var b strings.Builder
	for i, l := range lines {
		switch {
		case i == len(lines)-1:
			b.WriteString(l)
		case strings.HasSuffix(l, "\\"):
			b.WriteString(l + "\n")
		case endsWithOpener(l):
			b.WriteString(l + " \\\n")
		default:
			b.WriteString(l + "; \\\n")
		}
	}
	return b.String()
}

func endsWithOpener(line string) bool {
	for _, o := range openerSymbols {
		if strings.HasSuffix(line, o) {
			return true
		}
	}
	fields := strings.Fields(line)
	last := fields[len(fields)-1]
	for _, w := range openerWords {
		if last == w {
			return true
		}
	}
	return false
}
