package lifecycle

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when no recognised marker appeared within the allotted window.
var ErrTimeout = errors.New("timed out waiting for marker")

// ExecutionError reports that the application printed the broken marker.
// Result carries the extracted ERROR payload, if any.
type ExecutionError struct {
	Service string
	Result  string
}

func (e *ExecutionError) Error() string {
	msg := "application execution failed."
	if e.Service != "" {
		msg = e.Service + ": " + msg
	}
	if e.Result != "" {
		msg += " " + e.Result
	}
	return msg
}

// AssertionError reports that the environment violated an invariant the
// caller relies on (a node that will not stop, a wrong number of results).
// It is never recovered from internally.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string { return "assertion failed: " + e.Msg }

func assertionf(format string, args ...any) *AssertionError {
	return &AssertionError{Msg: fmt.Sprintf(format, args...)}
}

func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

func IsExecution(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

func IsAssertion(err error) bool {
	var ae *AssertionError
	return errors.As(err, &ae)
}
