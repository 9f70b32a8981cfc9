package commands

import (
	"errors"
	"fmt"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitError   = 1
	ExitUsage   = 2
	ExitDiffers = 5
)

// exitError carries a message for the user and the exit code to end with.
// It is not logged as a failure.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return e.msg
}

func usageError(format string, args ...interface{}) error {
	return &exitError{code: ExitUsage, msg: fmt.Sprintf(format, args...)}
}

// ExitCode maps an Execute result to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitError
}
