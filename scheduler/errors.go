package scheduler

import (
	"errors"
	"fmt"
)

// ErrUnknownTask is returned by manual invocation when the task name does not
// resolve against the registry.
var ErrUnknownTask = errors.New("unknown task")

// ConfigError marks fatal misconfiguration: an unloadable time zone or a
// malformed trigger catalog. It aborts startup.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("scheduler configuration error: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// InconsistencyError marks a defensive invariant violation: duplicate tags
// after a rebuild or a session whose boundaries do not form a valid day. In
// strict mode it halts the process; otherwise the offending trigger is
// skipped and the loop stays live.
type InconsistencyError struct {
	Reason string
}

func (e *InconsistencyError) Error() string {
	return "scheduling inconsistency: " + e.Reason
}
