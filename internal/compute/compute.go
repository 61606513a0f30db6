// Package compute defines the vendor-neutral contract a DeviceExecutor drives: platform and
// device discovery, context/queue/program/kernel/buffer creation, and the enqueue operations
// do_work needs. Two implementations satisfy it: a cgo-based adapter over a real OpenCL
// binding (build-tagged "opencl", see opencl.go) and an always-buildable in-process simulator
// (simulated.go) used by default and by every test in this module.
package compute

import "context"

// Backend is the entry point for discovering platforms. Exactly one Backend is constructed
// per process; each Platform/Device/Context/Queue/Kernel/Buffer it returns belongs to exactly
// one DeviceExecutor for the lifetime of a run, per the "no cross-thread sharing" rule.
type Backend interface {
	Name() string
	Platforms(ctx context.Context) ([]Platform, error)
}

// Platform groups the devices exposed by one compute-API implementation (e.g. one ICD).
type Platform interface {
	Name() string
	Devices() ([]Device, error)
}

// Device is one selectable compute device: a CPU, a GPU, or an accelerator.
type Device interface {
	Name() string
	// SupportsGlobalWorkOffset reports whether this device's NDRange enqueue accepts a
	// non-zero native offset, or whether the executor must fall back to a trailing kernel
	// argument.
	SupportsGlobalWorkOffset() bool
	CreateContext() (Context, error)
}

// Context owns queue, program, and buffer creation for one device.
type Context interface {
	CreateQueue() (Queue, error)
	CreateProgramWithSource(source string) (Program, error)
	CreateBuffer(byteSize uint64) (Buffer, error)
	Release() error
}

// Program is a compute-API program object prior to kernel extraction.
type Program interface {
	Build(options string) error
	CreateKernel(entryPoint string) (Kernel, error)
}

// Kernel is a buildable, dispatchable compute-API kernel.
type Kernel struct {
	impl kernelImpl
}

type kernelImpl interface {
	SetArgScalar(index int, value any) error
	SetArgBuffer(index int, buf Buffer) error
	SetArgLocal(index int, bytes uint32) error
	NumArgsDeclared() int
}

// SetArgScalar binds a plain value (e.g. the out-pattern's trailing offset, or a user scalar).
func (k Kernel) SetArgScalar(index int, value any) error { return k.impl.SetArgScalar(index, value) }

// SetArgBuffer binds a previously-created device Buffer.
func (k Kernel) SetArgBuffer(index int, buf Buffer) error { return k.impl.SetArgBuffer(index, buf) }

// SetArgLocal binds a local-memory placeholder of the given byte size.
func (k Kernel) SetArgLocal(index int, bytes uint32) error { return k.impl.SetArgLocal(index, bytes) }

// Buffer is an opaque device-side memory allocation.
type Buffer interface {
	Release() error
}

// Event represents an asynchronous compute-API operation's completion.
type Event interface {
	// Wait blocks the calling goroutine until the event completes.
	Wait() error
}

// Queue is a per-device command queue: the ordering domain for everything enqueued on it.
type Queue interface {
	// EnqueueWriteBuffer uploads data into buf starting at the given byte offset. If blocking
	// is true the call does not return until the transfer completes.
	EnqueueWriteBuffer(buf Buffer, blocking bool, byteOffset uint64, data []byte, waitList []Event) (Event, error)

	// EnqueueNDRangeKernel dispatches k over [globalOffset, globalOffset+globalSize) with the
	// given local work-group size, after waitList completes. globalOffset is only honored when
	// the owning Device reports SupportsGlobalWorkOffset(); callers targeting a device that does
	// not must instead bind a trailing offset argument on k themselves.
	EnqueueNDRangeKernel(k Kernel, globalOffset, globalSize, localSize uint64, waitList []Event) (Event, error)

	// EnqueueReadBuffer downloads data from buf starting at the given byte offset. If blocking
	// is true, the completion callback registered by the caller must be invoked inline rather
	// than asynchronously.
	EnqueueReadBuffer(buf Buffer, blocking bool, byteOffset uint64, data []byte, waitList []Event, onComplete func(error)) (Event, error)

	Finish() error
}
