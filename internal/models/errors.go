package models

import (
	"errors"
	"fmt"
)

// ConfigurationError is a fatal problem with the inputs (cyclic
// dependencies, malformed progress store). It aborts before any work starts.
type ConfigurationError struct {
	Source string // File or component the problem was found in
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error in %s: %v", e.Source, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError wraps err as a ConfigurationError.
func NewConfigurationError(source string, err error) *ConfigurationError {
	return &ConfigurationError{Source: source, Err: err}
}

// IsConfigurationError checks if an error is a ConfigurationError
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
