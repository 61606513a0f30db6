package compute

import (
	"context"
	"fmt"
	"math"
	"sync"
	"unsafe"
)

// SimKernelFunc is the signature a simulated kernel registers under a name: given the
// dispatch's effective global size and its bound arguments (in declaration order, including
// any automatically-appended trailing offset argument), it computes the chunk's output.
type SimKernelFunc func(globalSize uint64, args []SimArg) error

// SimArg is one bound argument as seen by a simulated kernel function.
type SimArg struct {
	scalar any
	buffer *SimBuffer
	local  []byte
}

// IsBuffer reports whether this argument is a device buffer rather than a scalar or local alloc.
func (a SimArg) IsBuffer() bool { return a.buffer != nil }

// Bytes returns the backing bytes of a buffer argument.
func (a SimArg) Bytes() []byte {
	if a.buffer == nil {
		return nil
	}
	return a.buffer.data
}

// Uint32 coerces a scalar argument to uint32 (the convention used for the trailing offset arg
// and for small integer kernel parameters like `size`).
func (a SimArg) Uint32() uint32 {
	switch v := a.scalar.(type) {
	case uint32:
		return v
	case uint64:
		return uint32(v)
	case int:
		return uint32(v)
	case int32:
		return uint32(v)
	default:
		return 0
	}
}

// Float64 coerces a scalar argument to float64.
func (a SimArg) Float64() float64 {
	switch v := a.scalar.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	default:
		return 0
	}
}

var (
	registryMu sync.RWMutex
	registry   = map[string]SimKernelFunc{}
)

// RegisterKernel makes a Go function available to the simulated backend under name, standing
// in for a compiled kernel entry point the way CreateKernel(name) would resolve a real one.
func RegisterKernel(name string, fn SimKernelFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

func lookupKernel(name string) (SimKernelFunc, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

func asFloat32Slice(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func init() {
	// saxpy: out[i] = round(c*a[i] + b[i]), the same formula ecl-saxpy's --check verifies, so
	// that check validates both the simulated backend and a real OpenCL kernel computing it.
	RegisterKernel("saxpy", func(globalSize uint64, args []SimArg) error {
		if len(args) < 5 {
			return fmt.Errorf("saxpy: expected 5 args (a, b, out, constant, offset), got %d", len(args))
		}
		a := asFloat32Slice(args[0].Bytes())
		b := asFloat32Slice(args[1].Bytes())
		out := asFloat32Slice(args[2].Bytes())
		c := args[3].Float64()
		offset := uint64(args[4].Uint32())
		for i := uint64(0); i < globalSize; i++ {
			idx := offset + i
			out[idx] = float32(math.Round(c*float64(a[idx]) + float64(b[idx])))
		}
		return nil
	})

	// square: out[i] = in[i] * in[i]
	RegisterKernel("square", func(globalSize uint64, args []SimArg) error {
		if len(args) < 3 {
			return fmt.Errorf("square: expected 3 args (in, out, offset), got %d", len(args))
		}
		in := asFloat32Slice(args[0].Bytes())
		out := asFloat32Slice(args[1].Bytes())
		offset := uint64(args[2].Uint32())
		for i := uint64(0); i < globalSize; i++ {
			idx := offset + i
			out[idx] = in[idx] * in[idx]
		}
		return nil
	})

	// copy: out[i] = in[i], used by tests that only care about chunk coverage, not arithmetic.
	RegisterKernel("copy", func(globalSize uint64, args []SimArg) error {
		if len(args) < 3 {
			return fmt.Errorf("copy: expected 3 args (in, out, offset), got %d", len(args))
		}
		in := asFloat32Slice(args[0].Bytes())
		out := asFloat32Slice(args[1].Bytes())
		offset := uint64(args[2].Uint32())
		for i := uint64(0); i < globalSize; i++ {
			idx := offset + i
			out[idx] = in[idx]
		}
		return nil
	})
}

// SimulatedBackend is a cgo-free, hardware-free ComputeBackend. It exists both as the default
// backend for environments with no OpenCL ICD and as the backend every test in this module
// drives, by executing a SimKernelFunc in place of a compiled kernel.
type SimulatedBackend struct {
	numDevices int
}

// NewSimulatedBackend returns a backend exposing numDevices identical simulated devices under
// a single simulated platform.
func NewSimulatedBackend(numDevices int) *SimulatedBackend {
	if numDevices < 1 {
		numDevices = 1
	}
	return &SimulatedBackend{numDevices: numDevices}
}

func (s *SimulatedBackend) Name() string { return "simulated" }

func (s *SimulatedBackend) Platforms(ctx context.Context) ([]Platform, error) {
	devices := make([]Device, s.numDevices)
	for i := range devices {
		devices[i] = &simDevice{index: i}
	}
	return []Platform{&simPlatform{devices: devices}}, nil
}

type simPlatform struct {
	devices []Device
}

func (p *simPlatform) Name() string             { return "simulated-platform" }
func (p *simPlatform) Devices() ([]Device, error) { return p.devices, nil }

type simDevice struct {
	index int
}

func (d *simDevice) Name() string { return fmt.Sprintf("sim-device-%d", d.index) }

// SupportsGlobalWorkOffset deliberately returns false so every test in this module exercises
// the trailing-offset-argument portability path, the one most OpenCL 1.0 devices need.
func (d *simDevice) SupportsGlobalWorkOffset() bool { return false }

func (d *simDevice) CreateContext() (Context, error) {
	return &simContext{}, nil
}

type simContext struct {
	mu      sync.Mutex
	buffers []*SimBuffer
}

func (c *simContext) CreateQueue() (Queue, error) {
	return &simQueue{}, nil
}

func (c *simContext) CreateProgramWithSource(source string) (Program, error) {
	return &simProgram{source: source}, nil
}

func (c *simContext) CreateBuffer(byteSize uint64) (Buffer, error) {
	buf := &SimBuffer{data: make([]byte, byteSize)}
	c.mu.Lock()
	c.buffers = append(c.buffers, buf)
	c.mu.Unlock()
	return buf, nil
}

func (c *simContext) Release() error { return nil }

// SimBuffer is a plain in-process byte slice standing in for device memory.
type SimBuffer struct {
	data []byte
}

func (b *SimBuffer) Release() error { return nil }

type simProgram struct {
	source string
}

func (p *simProgram) Build(options string) error { return nil }

func (p *simProgram) CreateKernel(entryPoint string) (Kernel, error) {
	fn, ok := lookupKernel(entryPoint)
	if !ok {
		return Kernel{}, fmt.Errorf("compute: no simulated kernel registered for %q", entryPoint)
	}
	return Kernel{impl: &simKernel{name: entryPoint, fn: fn, args: map[int]SimArg{}}}, nil
}

type simKernel struct {
	mu       sync.Mutex
	name     string
	fn       SimKernelFunc
	args     map[int]SimArg
	maxIndex int
}

func (k *simKernel) SetArgScalar(index int, value any) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.args[index] = SimArg{scalar: value}
	if index+1 > k.maxIndex {
		k.maxIndex = index + 1
	}
	return nil
}

func (k *simKernel) SetArgBuffer(index int, buf Buffer) error {
	sb, ok := buf.(*SimBuffer)
	if !ok {
		return fmt.Errorf("compute: simulated kernel received a non-simulated buffer")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.args[index] = SimArg{buffer: sb}
	if index+1 > k.maxIndex {
		k.maxIndex = index + 1
	}
	return nil
}

func (k *simKernel) SetArgLocal(index int, bytes uint32) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.args[index] = SimArg{local: make([]byte, bytes)}
	if index+1 > k.maxIndex {
		k.maxIndex = index + 1
	}
	return nil
}

func (k *simKernel) NumArgsDeclared() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.maxIndex
}

func (k *simKernel) orderedArgs() []SimArg {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]SimArg, k.maxIndex)
	for i := 0; i < k.maxIndex; i++ {
		out[i] = k.args[i]
	}
	return out
}

type simQueue struct{}

type simEvent struct{ err error }

func (e *simEvent) Wait() error { return e.err }

func waitAll(events []Event) error {
	for _, e := range events {
		if e == nil {
			continue
		}
		if err := e.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (q *simQueue) EnqueueWriteBuffer(buf Buffer, blocking bool, byteOffset uint64, data []byte, waitList []Event) (Event, error) {
	if err := waitAll(waitList); err != nil {
		return nil, err
	}
	sb, ok := buf.(*SimBuffer)
	if !ok {
		return nil, fmt.Errorf("compute: simulated queue received a non-simulated buffer")
	}
	copy(sb.data[byteOffset:], data)
	return &simEvent{}, nil
}

func (q *simQueue) EnqueueNDRangeKernel(k Kernel, globalOffset, globalSize, localSize uint64, waitList []Event) (Event, error) {
	if err := waitAll(waitList); err != nil {
		return nil, err
	}
	sk, ok := k.impl.(*simKernel)
	if !ok {
		return nil, fmt.Errorf("compute: simulated queue received a non-simulated kernel")
	}
	if err := sk.fn(globalSize, sk.orderedArgs()); err != nil {
		return nil, err
	}
	return &simEvent{}, nil
}

func (q *simQueue) EnqueueReadBuffer(buf Buffer, blocking bool, byteOffset uint64, data []byte, waitList []Event, onComplete func(error)) (Event, error) {
	if err := waitAll(waitList); err != nil {
		if onComplete != nil {
			if blocking {
				onComplete(err)
			} else {
				go onComplete(err)
			}
		}
		return nil, err
	}
	sb, ok := buf.(*SimBuffer)
	if !ok {
		return nil, fmt.Errorf("compute: simulated queue received a non-simulated buffer")
	}
	copy(data, sb.data[byteOffset:byteOffset+uint64(len(data))])
	if onComplete != nil {
		if blocking {
			onComplete(nil)
		} else {
			go onComplete(nil)
		}
	}
	return &simEvent{}, nil
}

func (q *simQueue) Finish() error { return nil }
