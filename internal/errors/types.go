package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeRender     ErrorType = "render"
	ErrorTypeWatch      ErrorType = "watch"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// PreviewError is a structured error type with context.
type PreviewError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Path        string
	Recoverable bool
}

// Error implements the error interface.
func (e *PreviewError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Path != "" {
		parts = append(parts, e.Path)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *PreviewError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *PreviewError) Is(target error) bool {
	var t *PreviewError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *PreviewError) WithContext(key string, value interface{}) *PreviewError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithPath records the file the error is about.
func (e *PreviewError) WithPath(path string) *PreviewError {
	e.Path = path

	return e
}

// Error creation functions

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewRenderError creates a render error. Render errors never stop the
// process; the next change is processed independently.
func NewRenderError(code, message string, cause error) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeRender,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewNetworkError creates a network error.
func NewNetworkError(code, message string, cause error) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeNetwork,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewWatchError creates a filesystem watch error.
func NewWatchError(code, message string, cause error) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeWatch,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *PreviewError {
	return &PreviewError{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var pe *PreviewError
	if errors.As(err, &pe) {
		return pe.Recoverable
	}

	return false
}

// IsFatal reports whether err should stop the process. Plain errors are
// treated as fatal.
func IsFatal(err error) bool {
	return err != nil && !IsRecoverable(err)
}

// IsRenderError checks if an error came from the render step.
func IsRenderError(err error) bool {
	var pe *PreviewError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeRender
	}

	return false
}

// IsWatchError checks if an error came from the filesystem watch.
func IsWatchError(err error) bool {
	var pe *PreviewError
	if errors.As(err, &pe) {
		return pe.Type == ErrorTypeWatch
	}

	return false
}

// Common error codes.
const (
	ErrCodeInvalidPath      = "ERR_INVALID_PATH"
	ErrCodeRenderFailed     = "ERR_RENDER_FAILED"
	ErrCodeRenderSpawn      = "ERR_RENDER_SPAWN"
	ErrCodeWatchUnavailable = "ERR_WATCH_UNAVAILABLE"
	ErrCodeWatchLost        = "ERR_WATCH_LOST"
	ErrCodePortInUse        = "ERR_PORT_IN_USE"
	ErrCodeServeFailed      = "ERR_SERVE_FAILED"
	ErrCodeIndexScan        = "ERR_INDEX_SCAN"
	ErrCodeIndexWrite       = "ERR_INDEX_WRITE"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
)

// Helper functions for common errors

// ErrInvalidPath creates a path validation error.
func ErrInvalidPath(path, reason string) *PreviewError {
	return NewValidationError(ErrCodeInvalidPath, "invalid path: "+reason).WithPath(path)
}

// ErrRenderFailed creates an error for a renderer that ran and exited non-zero.
func ErrRenderFailed(path string, output []byte, cause error) *PreviewError {
	err := NewRenderError(ErrCodeRenderFailed, "render failed", cause).WithPath(path)
	if out := strings.TrimSpace(string(output)); out != "" {
		err.WithContext("output", out)
	}

	return err
}

// ErrRenderSpawn creates an error for a renderer that could not be started.
func ErrRenderSpawn(path, command string, cause error) *PreviewError {
	return NewRenderError(ErrCodeRenderSpawn, "cannot start renderer "+command, cause).WithPath(path)
}

// ErrWatchUnavailable creates a fatal watch subscription error.
func ErrWatchUnavailable(dir string, cause error) *PreviewError {
	return NewWatchError(ErrCodeWatchUnavailable, "cannot watch directory", cause).WithPath(dir)
}

// ErrPortInUse creates a fatal listen error.
func ErrPortInUse(addr string, cause error) *PreviewError {
	return NewNetworkError(ErrCodePortInUse, "cannot listen on "+addr, cause)
}

// ErrConfigInvalid creates a configuration validation error.
func ErrConfigInvalid(field, reason string) *PreviewError {
	return NewConfigError(ErrCodeConfigInvalid, field+": "+reason).WithContext("field", field)
}
