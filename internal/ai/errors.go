package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch indicates a backend returned vectors of the wrong width.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrBackendFailed indicates an inference backend returned an error response.
	ErrBackendFailed = errors.New("inference backend failed")
)

// ConfigError reports malformed or missing model configuration.
type ConfigError struct {
	Msg string
	Err error
}

func newConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return "invalid configuration: " + e.Msg + ": " + e.Err.Error()
	}
	return "invalid configuration: " + e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// UnsupportedBackendError reports a backend tag with no adapter implementation.
type UnsupportedBackendError struct {
	Kind    ModelKind
	Backend string
}

func (e *UnsupportedBackendError) Error() string {
	return fmt.Sprintf("unsupported %s backend %q", e.Kind, e.Backend)
}

// ProvisioningError wraps a failure to provision the storage table of one embedding model.
type ProvisioningError struct {
	Table string
	Err   error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision table %s: %v", e.Table, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// SchemaMismatchError reports an existing table whose vector column width
// differs from the dimensions declared by its embedding model.
type SchemaMismatchError struct {
	Table string
	Want  int
	Got   int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("table %s has vector(%d), model declares %d dimensions", e.Table, e.Got, e.Want)
}

func fmtDimErr(model string, got, want int) error {
	return fmt.Errorf("%w: %s returned %d dimensions, want %d", ErrDimensionMismatch, model, got, want)
}
