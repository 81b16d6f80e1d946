package health

import "fmt"

// ConfigurationError reports invalid sampler setup. It is the only error
// Start returns.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("health: invalid %s: %s", e.Field, e.Reason)
}

// ProbeError wraps a failed dependency check. Samplers convert it into an
// UNREACHABLE record; it never reaches CurrentStatus callers.
type ProbeError struct {
	Dependency string
	Err        error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s failed: %v", e.Dependency, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}
