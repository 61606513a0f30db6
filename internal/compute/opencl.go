//go:build opencl

package compute

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"
)

// NewOpenCLBackend returns the real, hardware-backed ComputeBackend. Building it requires the
// "opencl" build tag (this file is cgo, linked against the platform's OpenCL ICD loader), which
// is why callers go through this constructor rather than a plain composite literal: on a
// default build the stub in opencl_stub.go reports why it is unavailable instead.
func NewOpenCLBackend() (Backend, error) {
	return &openclBackend{}, nil
}

type openclBackend struct{}

func (b *openclBackend) Name() string { return "opencl" }

func (b *openclBackend) Platforms(ctx context.Context) ([]Platform, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, fmt.Errorf("compute: GetPlatforms: %w", err)
	}
	out := make([]Platform, len(platforms))
	for i, p := range platforms {
		out[i] = &oclPlatform{p: p}
	}
	return out, nil
}

type oclPlatform struct {
	p *cl.Platform
}

func (p *oclPlatform) Name() string { return p.p.Name() }

func (p *oclPlatform) Devices() ([]Device, error) {
	devices, err := p.p.GetDevices(cl.DeviceTypeAll)
	if err != nil {
		return nil, fmt.Errorf("compute: GetDevices: %w", err)
	}
	out := make([]Device, len(devices))
	for i, d := range devices {
		out[i] = &oclDevice{d: d}
	}
	return out, nil
}

type oclDevice struct {
	d *cl.Device
}

func (d *oclDevice) Name() string { return d.d.Name() }

// SupportsGlobalWorkOffset is true for every OpenCL 1.1+ device; this binding targets a
// context built from a single device list, so the native offset path is always available.
func (d *oclDevice) SupportsGlobalWorkOffset() bool { return true }

func (d *oclDevice) CreateContext() (Context, error) {
	ctx, err := cl.CreateContext([]*cl.Device{d.d})
	if err != nil {
		return nil, fmt.Errorf("compute: CreateContext: %w", err)
	}
	return &oclContext{ctx: ctx, device: d.d}, nil
}

type oclContext struct {
	ctx    *cl.Context
	device *cl.Device
}

func (c *oclContext) CreateQueue() (Queue, error) {
	q, err := c.ctx.CreateCommandQueue(c.device, 0)
	if err != nil {
		return nil, fmt.Errorf("compute: CreateCommandQueue: %w", err)
	}
	return &oclQueue{q: q}, nil
}

func (c *oclContext) CreateProgramWithSource(source string) (Program, error) {
	p, err := c.ctx.CreateProgramWithSource([]string{source})
	if err != nil {
		return nil, fmt.Errorf("compute: CreateProgramWithSource: %w", err)
	}
	return &oclProgram{p: p}, nil
}

func (c *oclContext) CreateBuffer(byteSize uint64) (Buffer, error) {
	buf, err := c.ctx.CreateEmptyBuffer(cl.MemReadWrite, int(byteSize))
	if err != nil {
		return nil, fmt.Errorf("compute: CreateEmptyBuffer: %w", err)
	}
	return &oclBuffer{buf: buf}, nil
}

func (c *oclContext) Release() error {
	return c.ctx.Release()
}

type oclBuffer struct {
	buf *cl.MemObject
}

func (b *oclBuffer) Release() error { return b.buf.Release() }

type oclProgram struct {
	p *cl.Program
}

func (p *oclProgram) Build(options string) error {
	if err := p.p.BuildProgram(nil, options); err != nil {
		return fmt.Errorf("compute: BuildProgram: %w", err)
	}
	return nil
}

func (p *oclProgram) CreateKernel(entryPoint string) (Kernel, error) {
	k, err := p.p.CreateKernel(entryPoint)
	if err != nil {
		return Kernel{}, fmt.Errorf("compute: CreateKernel(%q): %w", entryPoint, err)
	}
	return Kernel{impl: &oclKernel{k: k}}, nil
}

// oclKernel binds arguments directly via the underlying clSetKernelArg-style per-index call,
// mirroring how this binding's SetArgs helper sets every argument in one pass but letting this
// module populate them incrementally as SetInBuffer/SetOutBuffer/SetKernelArg are called.
type oclKernel struct {
	k        *cl.Kernel
	numArgs  int
}

func (k *oclKernel) SetArgScalar(index int, value any) error {
	if err := k.k.SetArg(index, argSize(value), argPtr(value)); err != nil {
		return fmt.Errorf("compute: SetArg(%d): %w", index, err)
	}
	k.bump(index)
	return nil
}

func (k *oclKernel) SetArgBuffer(index int, buf Buffer) error {
	ob, ok := buf.(*oclBuffer)
	if !ok {
		return fmt.Errorf("compute: SetArgBuffer(%d): not an OpenCL buffer", index)
	}
	if err := k.k.SetArg(index, unsafe.Sizeof(ob.buf), unsafe.Pointer(&ob.buf)); err != nil {
		return fmt.Errorf("compute: SetArg(%d) buffer: %w", index, err)
	}
	k.bump(index)
	return nil
}

func (k *oclKernel) SetArgLocal(index int, bytes uint32) error {
	if err := k.k.SetArg(index, uintptr(bytes), nil); err != nil {
		return fmt.Errorf("compute: SetArg(%d) local: %w", index, err)
	}
	k.bump(index)
	return nil
}

func (k *oclKernel) bump(index int) {
	if index+1 > k.numArgs {
		k.numArgs = index + 1
	}
}

func (k *oclKernel) NumArgsDeclared() int { return k.numArgs }

func argSize(value any) uintptr {
	switch v := value.(type) {
	case uint32:
		return unsafe.Sizeof(v)
	case int32:
		return unsafe.Sizeof(v)
	case float32:
		return unsafe.Sizeof(v)
	case float64:
		return unsafe.Sizeof(v)
	case uint64:
		return unsafe.Sizeof(v)
	default:
		return 0
	}
}

func argPtr(value any) unsafe.Pointer {
	switch v := value.(type) {
	case uint32:
		return unsafe.Pointer(&v)
	case int32:
		return unsafe.Pointer(&v)
	case float32:
		return unsafe.Pointer(&v)
	case float64:
		return unsafe.Pointer(&v)
	case uint64:
		return unsafe.Pointer(&v)
	default:
		return nil
	}
}

type oclQueue struct {
	q *cl.CommandQueue
}

func toOCLEvents(events []Event) []*cl.Event {
	out := make([]*cl.Event, 0, len(events))
	for _, e := range events {
		if oe, ok := e.(*oclEvent); ok && oe.e != nil {
			out = append(out, oe.e)
		}
	}
	return out
}

type oclEvent struct {
	e *cl.Event
}

func (e *oclEvent) Wait() error {
	if e.e == nil {
		return nil
	}
	return e.e.Wait()
}

func (q *oclQueue) EnqueueWriteBuffer(buf Buffer, blocking bool, byteOffset uint64, data []byte, waitList []Event) (Event, error) {
	ob, ok := buf.(*oclBuffer)
	if !ok {
		return nil, fmt.Errorf("compute: EnqueueWriteBuffer: not an OpenCL buffer")
	}
	var ptr unsafe.Pointer
	if len(data) > 0 {
		ptr = unsafe.Pointer(&data[0])
	}
	e, err := q.q.EnqueueWriteBuffer(ob.buf, blocking, int(byteOffset), len(data), ptr, toOCLEvents(waitList))
	if err != nil {
		return nil, fmt.Errorf("compute: EnqueueWriteBuffer: %w", err)
	}
	return &oclEvent{e: e}, nil
}

func (q *oclQueue) EnqueueNDRangeKernel(k Kernel, globalOffset, globalSize, localSize uint64, waitList []Event) (Event, error) {
	ok2, ok := k.impl.(*oclKernel)
	if !ok {
		return nil, fmt.Errorf("compute: EnqueueNDRangeKernel: not an OpenCL kernel")
	}
	var offsets []int
	if globalOffset != 0 {
		offsets = []int{int(globalOffset)}
	}
	e, err := q.q.EnqueueNDRangeKernel(ok2.k, offsets, []int{int(globalSize)}, []int{int(localSize)}, toOCLEvents(waitList))
	if err != nil {
		return nil, fmt.Errorf("compute: EnqueueNDRangeKernel: %w", err)
	}
	return &oclEvent{e: e}, nil
}

func (q *oclQueue) EnqueueReadBuffer(buf Buffer, blocking bool, byteOffset uint64, data []byte, waitList []Event, onComplete func(error)) (Event, error) {
	ob, ok := buf.(*oclBuffer)
	if !ok {
		return nil, fmt.Errorf("compute: EnqueueReadBuffer: not an OpenCL buffer")
	}
	var ptr unsafe.Pointer
	if len(data) > 0 {
		ptr = unsafe.Pointer(&data[0])
	}
	e, err := q.q.EnqueueReadBuffer(ob.buf, blocking, int(byteOffset), len(data), ptr, toOCLEvents(waitList))
	if err != nil {
		if onComplete != nil {
			onComplete(err)
		}
		return nil, fmt.Errorf("compute: EnqueueReadBuffer: %w", err)
	}
	if onComplete != nil {
		if blocking {
			onComplete(nil)
		} else {
			e.SetCallback(cl.Complete, func(_ *cl.Event, _ cl.EventCallbackStatus) { onComplete(nil) })
		}
	}
	return &oclEvent{e: e}, nil
}

func (q *oclQueue) Finish() error {
	if err := q.q.Finish(); err != nil {
		return fmt.Errorf("compute: Finish: %w", err)
	}
	return nil
}
