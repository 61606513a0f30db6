package enginecl

import "github.com/atc-unican/enginecl/internal/errs"

// ErrorCode names one of the three fault kinds the runtime can raise. See internal/errs for
// the underlying implementation shared by every package in this module.
type ErrorCode = errs.ErrorCode

const (
	ErrCodeConfiguration   = errs.ErrCodeConfiguration
	ErrCodeComputeAPI      = errs.ErrCodeComputeAPI
	ErrCodeArgumentBinding = errs.ErrCodeArgumentBinding
)

// Phase names the lifecycle stage a fault occurred in.
type Phase = errs.Phase

const (
	PhaseInit          = errs.PhaseInit
	PhaseWriteBuffers  = errs.PhaseWriteBuffers
	PhaseKernelBuild   = errs.PhaseKernelBuild
	PhaseEnqueueKernel = errs.PhaseEnqueueKernel
	PhaseEnqueueRead   = errs.PhaseEnqueueRead
	PhaseSchedulerMath = errs.PhaseSchedulerMath
)

// Error is the structured fault type every package in this module raises. It implements
// Unwrap and Is so callers can use errors.Is/errors.As against the ErrorCode sentinels above.
type Error = errs.Error

// NewConfigError builds a Configuration-kind error: bad proportions, misaligned sizes,
// unparseable tuning input, invalid device indices.
func NewConfigError(op, msg string) *Error { return errs.NewConfigError(op, msg) }

// NewComputeAPIError builds a ComputeAPI-kind error: a non-success status surfaced by
// the backend during a named phase, on a named device.
func NewComputeAPIError(op, deviceID string, phase Phase, inner error) *Error {
	return errs.NewComputeAPIError(op, deviceID, phase, inner)
}

// NewArgumentError builds an ArgumentBinding-kind error: a BufferRef argument whose
// handle this executor does not recognize and which supplies zero fallback bytes.
func NewArgumentError(op, deviceID string, argIndex int) *Error {
	return errs.NewArgumentError(op, deviceID, argIndex)
}

// WrapError re-tags an existing error with a new operation name, preserving its code/device/phase
// if it was already one of ours, otherwise treating it as a ComputeAPI-kind failure.
func WrapError(op string, inner error) *Error { return errs.WrapError(op, inner) }

// IsCode reports whether err (or something it wraps) carries the given ErrorCode.
func IsCode(err error, code ErrorCode) bool { return errs.IsCode(err, code) }
