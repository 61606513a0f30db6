// Package enginecl is the top-level façade: construct a Runtime bound to a set of compute
// devices, describe buffers/kernel/args once, bind a scheduling discipline, and call Run.
package enginecl

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atc-unican/enginecl/internal/compute"
	"github.com/atc-unican/enginecl/internal/errs"
	"github.com/atc-unican/enginecl/internal/executor"
	"github.com/atc-unican/enginecl/internal/gate"
	"github.com/atc-unican/enginecl/internal/inspector"
	"github.com/atc-unican/enginecl/internal/logging"
	"github.com/atc-unican/enginecl/internal/scheduler"
	"github.com/atc-unican/enginecl/internal/work"
)

// DeviceSpec names one device a Runtime will drive: which platform/device pair to discover at
// init time, and the per-device tuning a manifest may override.
type DeviceSpec struct {
	PlatformIndex      int
	DeviceIndex        int
	CPUAffinity        []int
	MinChunkMultiplier int // 0 leaves the executor's default (and MIN_CHUNK_MULTIPLIER) in effect.
}

// Runtime is the top-level façade: it owns every DeviceExecutor, the bound Scheduler, the
// shutdown barrier, and the ready gate, and drives one complete run end to end.
type Runtime struct {
	backend compute.Backend

	devices    []*executor.DeviceExecutor
	schedDevs  []scheduler.Device
	scheduler  scheduler.Scheduler

	gws                      work.NDRange
	lws                      uint64
	outWorkitems, outPositions uint32

	blockingRead bool
	waitAllReady bool
	saveChunks   bool

	log *logging.Logger

	correlationID string
	kernelName    string

	readyGate *gate.Gate
	barrier   *gate.Gate

	mu      sync.Mutex
	faults  []error
	faultCh chan error
	cancel  context.CancelFunc
}

// New constructs a Runtime over specs, bound to backend. gws must be one-dimensional: the core only ever splits along dimension 0. lws, outWorkitems, and
// outPositions fall back to DefaultLWS/DefaultOutWorkitems/DefaultOutPositions when zero.
func New(backend compute.Backend, specs []DeviceSpec, gws work.NDRange, lws uint64, outWorkitems, outPositions uint32) (*Runtime, error) {
	if backend == nil {
		return nil, errs.NewConfigError("New", "backend must not be nil")
	}
	if len(specs) == 0 {
		return nil, errs.NewConfigError("New", "at least one device is required")
	}
	if gws.Dimensions() > 1 {
		return nil, errs.NewConfigError("New", "multi-dimensional global work size is not supported; flatten to dimension 0")
	}
	if lws == 0 {
		lws = DefaultLWS
	}
	if outWorkitems == 0 {
		outWorkitems = DefaultOutWorkitems
	}
	if outPositions == 0 {
		outPositions = DefaultOutPositions
	}
	if gws.Total()%lws != 0 {
		return nil, errs.NewConfigError("New", fmt.Sprintf("N=%d is not a multiple of L=%d", gws.Total(), lws))
	}

	r := &Runtime{
		backend:      backend,
		gws:          gws,
		lws:          lws,
		outWorkitems: outWorkitems,
		outPositions: outPositions,
		log:          logging.Default(),
	}

	r.devices = make([]*executor.DeviceExecutor, len(specs))
	r.schedDevs = make([]scheduler.Device, len(specs))
	for i, spec := range specs {
		e := executor.New(i, spec.PlatformIndex, spec.DeviceIndex)
		e.SetLWS(lws)
		if len(spec.CPUAffinity) > 0 {
			e.SetCPUAffinity(spec.CPUAffinity)
		}
		if spec.MinChunkMultiplier > 0 {
			e.SetMinChunkMultiplier(spec.MinChunkMultiplier)
		}
		e.SetRuntime(r)
		r.devices[i] = e
		r.schedDevs[i] = e
	}
	return r, nil
}

// SetScheduler binds the work-distribution discipline. Must be called before Run.
func (r *Runtime) SetScheduler(s scheduler.Scheduler) { r.scheduler = s }

// SetBlockingRead toggles between synchronous read-backs with an inline
// completion callback versus an asynchronous callback registered with the compute runtime.
func (r *Runtime) SetBlockingRead(v bool) {
	r.blockingRead = v
	for _, d := range r.devices {
		d.SetBlockingRead(v)
	}
}

// SetWaitAllReady controls whether Run waits for every device to report ready before
// releasing any of them.
func (r *Runtime) SetWaitAllReady(v bool) { r.waitAllReady = v }

// SetSaveChunks toggles per-chunk timing history retention on every bound device.
func (r *Runtime) SetSaveChunks(v bool) {
	r.saveChunks = v
	for _, d := range r.devices {
		d.SetSaveChunks(v)
	}
}

// SetKernel fans the program source and entry point out to every device.
func (r *Runtime) SetKernel(source, entryPoint string) {
	r.kernelName = entryPoint
	for _, d := range r.devices {
		d.SetKernel(source, entryPoint)
	}
}

// SetInBuffer fans buf out to every device as an input and returns the handle every device
// assigned it — identical across devices, since each processes the same call sequence.
func (r *Runtime) SetInBuffer(buf *work.Buffer) work.BufferHandle {
	var h work.BufferHandle
	for _, d := range r.devices {
		h = d.SetInBuffer(buf)
	}
	return h
}

// SetOutBuffer fans buf out to every device as an output and returns the shared handle.
func (r *Runtime) SetOutBuffer(buf *work.Buffer) work.BufferHandle {
	var h work.BufferHandle
	for _, d := range r.devices {
		h = d.SetOutBuffer(buf)
	}
	return h
}

// SetKernelArg fans one kernel argument descriptor out to every device. value is either a
// plain scalar or a BufferHandle previously returned by SetInBuffer/SetOutBuffer.
func (r *Runtime) SetKernelArg(index int, value any) {
	for _, d := range r.devices {
		d.SetKernelArg(index, value)
	}
}

// SetKernelArgLocalAlloc fans a local-memory placeholder argument out to every device.
func (r *Runtime) SetKernelArgLocalAlloc(index int, bytes uint32) {
	for _, d := range r.devices {
		d.SetKernelArgLocalAlloc(index, bytes)
	}
}

// Backend, NotifyReady, ReportError, and CorrelationID satisfy executor.Runtime.
func (r *Runtime) Backend() compute.Backend { return r.backend }

func (r *Runtime) NotifyReady() {
	if r.readyGate != nil {
		r.readyGate.Notify(1)
	}
}

// ReportError records a fatal fault and cancels the run so sibling device goroutines unwind
// promptly instead of leaking.
func (r *Runtime) ReportError(err error) {
	r.mu.Lock()
	r.faults = append(r.faults, err)
	r.mu.Unlock()
	r.log.Errorf("run %s: %v", r.correlationID, err)
	select {
	case r.faultCh <- err:
	default:
	}
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Runtime) CorrelationID() string { return r.correlationID }

// Run starts the scheduler thread and one thread per DeviceExecutor, waits for the run to reach
// the shutdown barrier, and returns. A context cancellation unblocks the barrier wait and causes
// Run to return ctx.Err(); a fatal fault reported by any device also unblocks it, and Run
// returns that fault.
func (r *Runtime) Run(ctx context.Context) error {
	if r.scheduler == nil {
		return errs.NewConfigError("Run", "no scheduler bound")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	defer cancel()

	r.correlationID = uuid.NewString()
	r.faultCh = make(chan error, len(r.devices))
	r.readyGate = gate.New(int64(len(r.devices)))
	r.barrier = gate.New(int64(len(r.devices)))

	r.scheduler.SetDevices(r.schedDevs)
	r.scheduler.SetLWS(r.lws)
	r.scheduler.SetOutPattern(r.outWorkitems, r.outPositions)
	if err := r.scheduler.SetTotalSize(r.gws.Total()); err != nil {
		return err
	}
	// PreEnqueueWork/CalcProportions run here, synchronously, strictly before the scheduler
	// goroutine starts or any device's run gate opens. This is what makes StaticScheduler's
	// sizes/offsets maps safe to read without locking later: every reader runs after this
	// happens-before edge, never concurrently with the write that populates them.
	r.scheduler.PreEnqueueWork()
	if err := r.scheduler.CalcProportions(); err != nil {
		return err
	}

	for _, d := range r.devices {
		d.SetScheduler(r.scheduler)
		d.SetBarrier(r.barrier)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.scheduler.Run(runCtx)
	}()

	var devWG sync.WaitGroup
	for _, d := range r.devices {
		d.Start(runCtx, &devWG)
	}

	// joinInBackground lets sibling goroutines that are still blocked on a gate the
	// cancellation cannot reach (the core itself has no internal cancellation) finish
	// on their own time without holding up Run's return once the outcome is already decided.
	joinInBackground := func() {
		go func() { devWG.Wait(); wg.Wait() }()
	}

	if r.waitAllReady {
		select {
		case <-runCtx.Done():
		case <-r.faultCh:
		case <-waitGateAsync(r.readyGate, int64(len(r.devices))):
		}
	}

	// Every device is released unconditionally here, whatever the wait above ended on: each
	// one checks ctx.Done() immediately after its run gate opens (executor.run) and retires on
	// its own instead of being left parked on a gate no one will ever notify again.
	for _, d := range r.devices {
		d.NotifyRun()
	}

	// ctx.Done() takes priority over a barrier that raced it closed: a canceled run must report
	// context.Err() even if every device happened to retire in the same instant.
	select {
	case <-ctx.Done():
		cancel()
		joinInBackground()
		return ctx.Err()
	default:
	}

	select {
	case <-ctx.Done():
		cancel()
		joinInBackground()
		return ctx.Err()
	case err := <-r.faultCh:
		cancel()
		joinInBackground()
		return err
	case <-waitGateAsync(r.barrier, int64(len(r.devices))):
		devWG.Wait()
		wg.Wait()
		return r.firstFault()
	}
}

// waitGateAsync runs g.Wait(count) on a background goroutine and returns a channel that closes
// once the wait is satisfied, so Run can select it against ctx.Done()/faultCh instead of
// busy-polling Gate.WaitFor.
func waitGateAsync(g *gate.Gate, count int64) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		g.Wait(count)
		close(done)
	}()
	return done
}

func (r *Runtime) firstFault() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.faults) == 0 {
		return nil
	}
	return r.faults[0]
}

// Report assembles the completed run's Inspector report from every device's stats and the
// scheduler's own phase timestamps and stats text.
func (r *Runtime) Report() inspector.Report {
	var schedText string
	if r.scheduler != nil {
		var buf strings.Builder
		r.scheduler.PrintStats(&buf)
		schedText = buf.String()
	}

	devices := make([]inspector.DeviceReport, len(r.devices))
	var initAt time.Time
	for i, d := range r.devices {
		st := d.Stats()
		if initAt.IsZero() || (!st.ReadyAt.IsZero() && st.ReadyAt.Before(initAt)) {
			initAt = st.ReadyAt
		}
		chunks := make([]inspector.ChunkRecord, len(st.ChunkHistory))
		for j, c := range st.ChunkHistory {
			chunks[j] = inspector.ChunkRecord{Offset: c.Offset, Size: c.Size, TimestampMS: c.TimestampMS, DurationMS: c.DurationMS}
		}
		devices[i] = inspector.DeviceReport{
			ID:            st.ID,
			PlatformIndex: st.PlatformIndex,
			DeviceIndex:   st.DeviceIndex,
			Phases:        st.Phases,
			IssuedWorks:   st.IssuedWorks,
			ElementsDone:  st.ElementsDone,
			ChunkHistory:  chunks,
		}
	}

	if sp, ok := r.scheduler.(interface{ Phases() []inspector.Phase }); ok {
		schedPhases := sp.Phases()
		if len(devices) > 0 {
			devices[0].Phases = append(append([]inspector.Phase(nil), devices[0].Phases...), schedPhases...)
		}
	}

	return inspector.Report{
		CorrelationID: r.correlationID,
		KernelName:    r.kernelName,
		InitAt:        initAt,
		Devices:       devices,
		SchedulerText: schedText,
	}
}

// PrintStats renders the Inspector report for the just-finished run to w.
func (r *Runtime) PrintStats(w io.Writer) {
	inspector.Render(w, r.Report())
}

var _ executor.Runtime = (*Runtime)(nil)
