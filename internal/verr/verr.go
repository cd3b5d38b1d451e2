// Package verr defines the internal error taxonomy shared across vortex's
// core subsystems. Errors are plain values checked with errors.Is/As and
// wrapped with fmt.Errorf("...: %w", err) at each layer, the same way the
// teacher store package distinguishes ErrNotFound from wrapped driver errors.
package verr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is against these, not string comparison.
var (
	// ErrBackendUnavailable is returned when no registered backend satisfies
	// is_available().
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrResourceLimitExceeded is returned when a spec would exceed a
	// configured resource cap.
	ErrResourceLimitExceeded = errors.New("resource limit exceeded")

	// ErrInvalidInput is returned by validation failures.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTemplateNotFound is returned when a named dev-template isn't in the catalog.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrTemplateExists is returned when registering a template name that's already taken.
	ErrTemplateExists = errors.New("template already exists")

	// ErrNotFound is a generic "no such record" sentinel. The session,
	// lifecycle, and workspace lookups report a missing record as a *VmError,
	// which does not wrap this sentinel.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyAttached names the "session already has an attached client"
	// condition. session.Manager.Attach reports that case as a *VmError with
	// the message "already attached", which does not wrap this sentinel.
	ErrAlreadyAttached = errors.New("already attached")
)

// VmError wraps a message describing a generic VM lifecycle failure,
// including backend errors surfaced verbatim and "VM <id> not found" cases.
type VmError struct {
	Message string
}

func (e *VmError) Error() string { return e.Message }

// NewVmError builds a VmError from a formatted message.
func NewVmError(format string, args ...any) *VmError {
	return &VmError{Message: fmt.Sprintf(format, args...)}
}

// BackendError carries the verbatim message produced by a backend operation
// (e.g. child process stderr).
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string { return e.Message }

// ConfigError signals a config parse/serialize/path-resolution failure.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

// ResourceLimitExceeded names which resource's cap was exceeded.
type ResourceLimitExceeded struct {
	Resource string
}

func (e *ResourceLimitExceeded) Error() string {
	return fmt.Sprintf("resource limit exceeded: %s", e.Resource)
}

func (e *ResourceLimitExceeded) Unwrap() error { return ErrResourceLimitExceeded }

// InvalidInput names the offending field alongside a human message.
type InvalidInput struct {
	Field   string
	Message string
}

func (e *InvalidInput) Error() string {
	return fmt.Sprintf("Invalid input: %s - %s", e.Field, e.Message)
}

func (e *InvalidInput) Unwrap() error { return ErrInvalidInput }

// TemplateNotFound names the missing template.
type TemplateNotFound struct {
	Name string
}

func (e *TemplateNotFound) Error() string {
	return fmt.Sprintf("template %q not found", e.Name)
}

func (e *TemplateNotFound) Unwrap() error { return ErrTemplateNotFound }

// TemplateExists names the template that was already registered.
type TemplateExists struct {
	Name string
}

func (e *TemplateExists) Error() string {
	return fmt.Sprintf("template %q already exists", e.Name)
}

func (e *TemplateExists) Unwrap() error { return ErrTemplateExists }

// PluginError surfaces the message from a failing event handler. It is
// always logged and swallowed by the producer — it must never be returned
// to an RPC caller.
type PluginError struct {
	Message string
}

func (e *PluginError) Error() string { return e.Message }
