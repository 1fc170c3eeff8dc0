package notice

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline.
var (
	ErrMissingCredential = errors.New("missing credential")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrUnexpectedMarkup  = errors.New("unexpected markup")
)

// ConfigError reports a mandatory configuration value a source cannot run
// without.
type ConfigError struct {
	Source  string
	Field   string
	Wrapped error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s: %s", e.Source, e.Wrapped, e.Field)
}

func (e *ConfigError) Unwrap() error { return e.Wrapped }

// NewConfigError creates a ConfigError.
func NewConfigError(source, field string, wrapped error) *ConfigError {
	return &ConfigError{Source: source, Field: field, Wrapped: wrapped}
}

// SourceError wraps a failure of a whole source adapter.
type SourceError struct {
	Source  string
	Wrapped error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Wrapped)
}

func (e *SourceError) Unwrap() error { return e.Wrapped }

// NewSourceError creates a SourceError.
func NewSourceError(source string, wrapped error) *SourceError {
	return &SourceError{Source: source, Wrapped: wrapped}
}

// IsConfigFailure reports whether err is a configuration failure.
func IsConfigFailure(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce) || errors.Is(err, ErrMissingCredential)
}
