package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"videojobs/internal/common"
)

// Exit codes for jobctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // store, queue or connection failure
	ExitCommandError = 2 // bad arguments or flags
	ExitRejected     = 3 // the orchestrator refused the request
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from err. Plain errors map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// fromOrchestrator classifies an orchestrator error for the exit code.
func fromOrchestrator(message string, err error) error {
	if rej, ok := common.AsRejection(err); ok {
		return WrapExitError(ExitRejected, message, rej)
	}
	return WrapExitError(ExitFailure, message, err)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
