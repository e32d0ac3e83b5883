package entities

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrInvalidName    = errors.New("invalid artifact name")
	ErrInvalidURL     = errors.New("invalid download URL")
	ErrUnknownTool    = errors.New("unknown tool")
	ErrUnknownVariant = errors.New("unknown variant")
	ErrInvalidStep    = errors.New("invalid step")
	ErrHostRun        = errors.New("run steps execute on the host, not inside root")
)

// StepError identifies the plan step that aborted a build
type StepError struct {
	Index       int
	Description string
	Err         error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Index, e.Description, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
