package gateways

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ochairo/devbox/internal/domain/entities"
)

// stderrTail is how much of a failed script's stderr ends up in its error
const stderrTail = 4 << 10

// ScriptExecutorConfig contains configuration for a ScriptExecutor
type ScriptExecutorConfig struct {
	Shell   string        // Defaults to /bin/sh, the shell a Dockerfile RUN uses
	Timeout time.Duration // Per script; defaults to 30m
}

// ScriptExecutor runs recipe shell snippets the way an image builder's RUN would
type ScriptExecutor struct {
	shell   string
	timeout time.Duration
}

// NewScriptExecutor creates a script executor with default settings
func NewScriptExecutor() *ScriptExecutor {
	return NewScriptExecutorWithConfig(ScriptExecutorConfig{})
}

// NewScriptExecutorWithConfig creates a script executor
func NewScriptExecutorWithConfig(config ScriptExecutorConfig) *ScriptExecutor {
	se := &ScriptExecutor{shell: config.Shell, timeout: config.Timeout}
	if se.shell == "" {
		se.shell = "/bin/sh"
	}
	if se.timeout == 0 {
		se.timeout = 30 * time.Minute
	}
	return se
}

// Script is one snippet to run
type Script struct {
	Source     string
	WorkingDir string
	Env        []entities.EnvVar // Appended to the process environment, later entries win
	Timeout    time.Duration
	Output     io.Writer // Receives stdout and stderr as they are written
}

// ScriptError reports a script that did not exit cleanly
type ScriptError struct {
	ExitCode int    // -1 when the script never produced an exit status
	Stderr   string // Last few KiB of stderr
	Err      error
}

func (e *ScriptError) Error() string {
	msg := fmt.Sprintf("exit %d: %v", e.ExitCode, e.Err)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += "\nStderr: " + stderr
	}
	return msg
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Run executes s with the configured shell. A non-zero exit, a timeout or a
// canceled context is returned as a *ScriptError.
func (se *ScriptExecutor) Run(ctx context.Context, s Script) error {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = se.timeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // G204: running recipe scripts is the point
	cmd := exec.CommandContext(execCtx, se.shell, "-c", s.Source)
	cmd.Dir = s.WorkingDir

	cmd.Env = os.Environ()
	for _, e := range s.Env {
		cmd.Env = append(cmd.Env, e.Key+"="+e.Value)
	}

	stderr := &tailBuffer{max: stderrTail}
	output := s.Output
	if output == nil {
		output = io.Discard
	}
	cmd.Stdout = output
	cmd.Stderr = io.MultiWriter(stderr, output)

	err := cmd.Run()
	if err == nil {
		return nil
	}

	scriptErr := &ScriptError{ExitCode: -1, Stderr: stderr.String(), Err: err}
	var exitErr *exec.ExitError
	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		scriptErr.Err = fmt.Errorf("timed out after %v", timeout)
	case ctx.Err() != nil:
		scriptErr.Err = ctx.Err()
	case errors.As(err, &exitErr):
		scriptErr.ExitCode = exitErr.ExitCode()
	}
	return scriptErr
}

// RunStep executes a literal recipe run step inside workingDir
func (se *ScriptExecutor) RunStep(ctx context.Context, script, workingDir string, env []entities.EnvVar, output io.Writer) error {
	err := se.Run(ctx, Script{Source: script, WorkingDir: workingDir, Env: env, Output: output})
	if err != nil {
		return fmt.Errorf("run step failed: %w", err)
	}
	return nil
}

// tailBuffer keeps only the last max bytes written to it
type tailBuffer struct {
	max  int
	buf  []byte
	lost bool
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.lost = true
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	if t.lost {
		return "..." + string(t.buf)
	}
	return string(t.buf)
}
