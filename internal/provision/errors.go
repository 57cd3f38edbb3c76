package provision

import (
	"fmt"
	"time"
)

// ConfigurationError reports invalid operator input. It is raised before
// any call leaves the machine.
type ConfigurationError struct {
	Param  string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Detail)
}

func newConfigurationError(param, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Param: param, Detail: fmt.Sprintf(format, args...)}
}

// TimeoutError reports a resource that never became visible while polling.
// The run stops, resources created so far stay in place for the next run
// to pick up.
type TimeoutError struct {
	Resource string
	Attempts int
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s after %d attempts (%s)", e.Resource, e.Attempts, e.Elapsed)
}
