package pipeline

import (
	"errors"
	"strings"
)

// ErrInvalidArgument marks blank or missing required input to a stage. The
// caller's fault; never retried.
var ErrInvalidArgument = errors.New("invalid argument")

// Error is a pipeline failure: an operation could not produce a structurally
// valid Rule even after the fallback retry and deterministic backfill. It
// always carries a human-readable reason; Issues holds critic output when
// one was involved.
type Error struct {
	Reason string
	Issues []string
}

func (e *Error) Error() string {
	if len(e.Issues) == 0 {
		return e.Reason
	}
	return e.Reason + ": " + strings.Join(e.Issues, "; ")
}

// IsPipelineError reports whether err is (or wraps) a pipeline Error.
func IsPipelineError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}
