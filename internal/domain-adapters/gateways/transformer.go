package gateways

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/ochairo/devbox/internal/domain/entities"
	"github.com/ochairo/devbox/internal/domain/interfaces"
)

// Transformer turns a tool's transform ops into a TransformFunc.
// Paths in ops are box paths and resolve under root.
// Run ops execute on the host, so {artifact} in a script is the host path.
type Transformer struct {
	root    string
	scripts *ScriptExecutor
	output  io.Writer
	logger  interfaces.Logger
}

// NewTransformer creates a new transformer rooted at root; run op output goes to output when set
func NewTransformer(root string, scripts *ScriptExecutor, output io.Writer, logger interfaces.Logger) *Transformer {
	if root == "" {
		root = "/"
	}
	if scripts == nil {
		scripts = NewScriptExecutor()
	}
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &Transformer{root: root, scripts: scripts, output: output, logger: logger}
}

// Build returns a TransformFunc applying ops in order, stopping at the first error
func (t *Transformer) Build(ops []entities.TransformOp, env []entities.EnvVar) entities.TransformFunc {
	return func(ctx context.Context, artifactPath string) error {
		boxArtifact := "/" + filepath.Base(artifactPath)
		for i, op := range ops {
			if err := ctx.Err(); err != nil {
				return err
			}
			if op.Kind == entities.OpRun {
				op = substituteArtifact(op, artifactPath)
			} else {
				op = substituteArtifact(op, boxArtifact)
			}
			t.logger.Debug("transform", interfaces.F("op", string(op.Kind)), interfaces.F("index", i+1))
			if err := t.apply(ctx, op, artifactPath, env); err != nil {
				return fmt.Errorf("%s (op %d): %w", op.Kind, i+1, err)
			}
		}
		return nil
	}
}

// HostPath maps a box path onto the host filesystem
func (t *Transformer) HostPath(boxPath string) string {
	return filepath.Join(t.root, filepath.FromSlash(boxPath))
}

func (t *Transformer) apply(ctx context.Context, op entities.TransformOp, artifactPath string, env []entities.EnvVar) error {
	switch op.Kind {
	case entities.OpUnzip:
		return extractZip(artifactPath, t.HostPath(op.Dest))

	case entities.OpUntar:
		return extractTarball(artifactPath, t.HostPath(op.Dest), op.StripComponents)

	case entities.OpChmod:
		mode, err := ParseMode(op.Mode, 0)
		if err != nil {
			return err
		}
		for _, p := range op.Paths {
			if err := chmodPath(t.HostPath(p), mode, op.Recursive); err != nil {
				return err
			}
		}
		return nil

	case entities.OpMove:
		from := artifactPath
		if op.From != "" {
			from = t.HostPath(op.From)
		}
		return movePath(from, t.HostPath(op.To), strings.HasSuffix(op.To, "/"))

	case entities.OpRemove:
		return os.RemoveAll(t.HostPath(op.Path))

	case entities.OpMkdir:
		return os.MkdirAll(t.HostPath(op.Dest), 0755)

	case entities.OpRun:
		env := append(append([]entities.EnvVar{}, env...),
			entities.EnvVar{Key: "ARTIFACT", Value: artifactPath},
			entities.EnvVar{Key: "ROOT", Value: t.root})
		if err := t.scripts.Run(ctx, Script{Source: op.Script, WorkingDir: t.root, Env: env, Output: t.output}); err != nil {
			return fmt.Errorf("script failed: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported transform %q", op.Kind)
	}
}

func substituteArtifact(op entities.TransformOp, artifact string) entities.TransformOp {
	sub := func(s string) string { return strings.ReplaceAll(s, "{artifact}", artifact) }
	out := op
	out.Dest = sub(op.Dest)
	out.From = sub(op.From)
	out.To = sub(op.To)
	out.Path = sub(op.Path)
	out.Script = sub(op.Script)
	if op.Paths != nil {
		out.Paths = make([]string, len(op.Paths))
		for i, p := range op.Paths {
			out.Paths[i] = sub(p)
		}
	}
	return out
}

// ParseMode parses an octal permission string such as "0755".
// An empty string yields def.
func ParseMode(s string, def os.FileMode) (os.FileMode, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil || v > 0o7777 {
		return 0, fmt.Errorf("invalid mode %q", s)
	}
	return os.FileMode(v & 0o777), nil
}

func chmodPath(path string, mode os.FileMode, recursive bool) error {
	if !recursive {
		return os.Chmod(path, mode)
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		return os.Chmod(p, mode)
	})
}

// movePath behaves like mv: a destination directory receives the source by name
func movePath(from, to string, intoDir bool) error {
	if info, err := os.Stat(to); err == nil && info.IsDir() {
		intoDir = true
	}
	if intoDir {
		if err := os.MkdirAll(to, 0755); err != nil {
			return err
		}
		to = filepath.Join(to, filepath.Base(from))
	} else if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return err
	}

	err := os.Rename(from, to)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	// Cross-device: copy then remove
	if err := copyFile(from, to); err != nil {
		return err
	}
	return os.Remove(from)
}

func copyFile(from, to string) error {
	info, err := os.Stat(from)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("cannot copy directory %s across devices", from)
	}

	//nolint:gosec // G304: from is a recipe-controlled path
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	//nolint:errcheck // Defer close on read-only file
	defer in.Close()

	return writeFile(to, in, info.Mode().Perm())
}
