package workflow

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = eris.New("workflow: run already in progress")

// SetupError reports a failed setup step. The scraper was not invoked.
type SetupError struct {
	Step     string
	ExitCode int
	Err      error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("workflow: setup step %q failed (exit %d): %v", e.Step, e.ExitCode, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// ExecutionError reports a failed scraper step.
type ExecutionError struct {
	Step     string
	ExitCode int
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("workflow: step %q failed (exit %d): %v", e.Step, e.ExitCode, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// exitError is the cause recorded for a non-zero exit.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
