package model

import "fmt"

// ConfigError reports a missing or invalid configuration value or seed
// parameter. It is raised before any network I/O happens.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
