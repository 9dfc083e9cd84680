package config

import (
	"errors"
	"fmt"
)

// ConfigurationError reports malformed or missing configuration.
// It is fatal before any stage runs.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

func fieldError(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Err: fmt.Errorf(format, args...)}
}
