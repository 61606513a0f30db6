// Package errs defines the structured fault type shared by every package in this module. It
// lives under internal so that internal/scheduler, internal/executor, and the rest of the
// internal tree can construct it without importing the root package (which itself imports
// them), and the root package re-exports it as part of the public API.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode names one of the three fault kinds the runtime can raise: a misconfiguration
// caught before any device starts, a failure reported by the underlying compute backend, or
// an argument that could not be resolved to a known buffer handle.
type ErrorCode string

const (
	ErrCodeConfiguration   ErrorCode = "configuration error"
	ErrCodeComputeAPI      ErrorCode = "compute API error"
	ErrCodeArgumentBinding ErrorCode = "argument binding error"
)

// Phase names the lifecycle stage a fault occurred in, so a terminal diagnostic can say where
// things went wrong, not just what went wrong.
type Phase string

const (
	PhaseInit          Phase = "init"
	PhaseWriteBuffers  Phase = "write-buffers"
	PhaseKernelBuild   Phase = "kernel-build"
	PhaseEnqueueKernel Phase = "enqueue-kernel"
	PhaseEnqueueRead   Phase = "enqueue-read"
	PhaseSchedulerMath Phase = "scheduler-arithmetic"
)

// Error is the structured fault type every package in this module raises. It implements
// Unwrap and Is so callers can use errors.Is/errors.As against the ErrorCode sentinels above.
type Error struct {
	Op       string
	DeviceID string
	Phase    Phase
	Code     ErrorCode
	Msg      string
	Inner    error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.DeviceID != "" {
		parts = append(parts, fmt.Sprintf("device=%s", e.DeviceID))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if len(parts) > 0 {
		return fmt.Sprintf("enginecl: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("enginecl: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/errors.As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports comparing an *Error against another *Error by code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// NewConfigError builds a Configuration-kind error: bad proportions, misaligned sizes,
// unparseable tuning input, invalid device indices.
func NewConfigError(op, msg string) *Error {
	return &Error{Op: op, Code: ErrCodeConfiguration, Phase: PhaseSchedulerMath, Msg: msg}
}

// NewComputeAPIError builds a ComputeAPI-kind error: a non-success status surfaced by
// the backend during a named phase, on a named device.
func NewComputeAPIError(op, deviceID string, phase Phase, inner error) *Error {
	msg := ""
	if inner != nil {
		msg = inner.Error()
	}
	return &Error{Op: op, DeviceID: deviceID, Phase: phase, Code: ErrCodeComputeAPI, Msg: msg, Inner: inner}
}

// NewArgumentError builds an ArgumentBinding-kind error: a BufferRef argument whose
// handle this executor does not recognize and which supplies zero fallback bytes.
func NewArgumentError(op, deviceID string, argIndex int) *Error {
	return &Error{
		Op:       op,
		DeviceID: deviceID,
		Phase:    PhaseInit,
		Code:     ErrCodeArgumentBinding,
		Msg:      fmt.Sprintf("argument %d resolves to no known buffer and declares zero fallback bytes", argIndex),
	}
}

// WrapError re-tags an existing error with a new operation name, preserving its code/device/phase
// if it was already one of ours, otherwise treating it as a ComputeAPI-kind failure.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ee, ok := inner.(*Error); ok {
		return &Error{Op: op, DeviceID: ee.DeviceID, Phase: ee.Phase, Code: ee.Code, Msg: ee.Msg, Inner: ee.Inner}
	}
	return &Error{Op: op, Code: ErrCodeComputeAPI, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err (or something it wraps) carries the given ErrorCode.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
