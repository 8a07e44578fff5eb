package core

import (
	"fmt"
	"strings"
)

// CommandError reports an external command that exited non-zero or could not be spawned.
// ExitCode is -1 when the process never started.
type CommandError struct {
	Argv     []string
	ExitCode int
	Stderr   []string
	Err      error
}

func (e *CommandError) Error() string {
	cmd := strings.Join(e.Argv, " ")
	if e.ExitCode < 0 {
		return fmt.Sprintf("command %q could not be started: %v", cmd, e.Err)
	}
	msg := fmt.Sprintf("command %q exited with code %d", cmd, e.ExitCode)
	if len(e.Stderr) > 0 {
		msg += ": " + strings.Join(e.Stderr, "; ")
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError reports malformed task definition input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StateInconsistency reports machine state that contradicts what a step expected,
// such as an unparsable migration listing.
type StateInconsistency struct {
	What   string
	Detail string
}

func (e *StateInconsistency) Error() string {
	return fmt.Sprintf("inconsistent state (%s): %s", e.What, e.Detail)
}
