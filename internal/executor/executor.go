// Package executor implements DeviceExecutor, the per-device worker goroutine: it walks a
// compute device through context/queue/buffer/kernel creation, waits at the Runtime's gated
// start, pulls chunks from a bound Scheduler, and dispatches each one's kernel and read-back.
package executor

import (
	"context"
	"os"
	goruntime "runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/atc-unican/enginecl/internal/compute"
	"github.com/atc-unican/enginecl/internal/constants"
	"github.com/atc-unican/enginecl/internal/errs"
	"github.com/atc-unican/enginecl/internal/gate"
	"github.com/atc-unican/enginecl/internal/inspector"
	"github.com/atc-unican/enginecl/internal/logging"
	"github.com/atc-unican/enginecl/internal/scheduler"
	"github.com/atc-unican/enginecl/internal/work"
)

// Runtime is the narrow view a DeviceExecutor has of its owning Runtime: enough to reach the
// shared compute backend, announce readiness, report a fatal fault, and tag log lines with the
// run's correlation id.
type Runtime interface {
	Backend() compute.Backend
	NotifyReady()
	ReportError(err error)
	CorrelationID() string
}

type boundBuffer struct {
	handle work.BufferHandle
	host   *work.Buffer
}

// DeviceExecutor owns one compute device end to end, driving it through the Init / Ready /
// Gated-start / First-request / Main-loop / Shutdown protocol.
type DeviceExecutor struct {
	id                 int
	platformIndex      int
	deviceIndex        int
	minChunkMultiplier int
	cpuAffinity        []int
	lws                uint64
	blockingRead       bool
	saveChunks         bool

	scheduler scheduler.Scheduler
	runtime   Runtime
	barrier   *gate.Gate

	workGate  *gate.Gate
	runGate   *gate.Gate
	eventGate *gate.Gate

	log *logging.Logger

	mu           sync.Mutex
	inBuffers    []boundBuffer
	outBuffers   []boundBuffer
	nextHandleID int
	args         []work.Arg
	chunkHistory []work.Chunk
	issuedWorks  uint64
	elementsDone uint64

	kernelSource string
	entryPoint   string

	backend    compute.Backend
	device     compute.Device
	cctx       compute.Context
	queue      compute.Queue
	kernel     compute.Kernel
	deviceBufs map[int]compute.Buffer

	pendingEvents   []compute.Event
	hasIssuedWork   bool
	numDeclaredArgs int
	supportsOffset  bool

	initAt, readyAt, startAt, endAt time.Time

	rec              *inspector.Recorder
	completeWorkTime time.Duration
}

// New returns a DeviceExecutor bound to the platform/device pair it will discover at Init time.
func New(id, platformIndex, deviceIndex int) *DeviceExecutor {
	return &DeviceExecutor{
		id:                 id,
		platformIndex:      platformIndex,
		deviceIndex:        deviceIndex,
		minChunkMultiplier: constants.DefaultMinChunkMultiplier,
		lws:                constants.DefaultLWS,
		workGate:           gate.New(1),
		runGate:            gate.New(1),
		eventGate:          gate.New(1),
		deviceBufs:         map[int]compute.Buffer{},
		log:                logging.Default(),
		rec:                inspector.NewRecorder(),
	}
}

// ID, MinChunkMultiplier, NotifyWork, and NotifyEvent satisfy scheduler.Device.
func (e *DeviceExecutor) ID() int                 { return e.id }
func (e *DeviceExecutor) MinChunkMultiplier() int { return e.minChunkMultiplier }
func (e *DeviceExecutor) NotifyWork()             { e.workGate.Notify(1) }
func (e *DeviceExecutor) NotifyEvent()            { e.eventGate.Notify(1) }

// NotifyRun releases the gated-start wait; Runtime calls this once every device has reported
// ready (or immediately, if RuntimeWaitAllReady is false).
func (e *DeviceExecutor) NotifyRun() { e.runGate.Notify(1) }

func (e *DeviceExecutor) SetScheduler(s scheduler.Scheduler) { e.scheduler = s }
func (e *DeviceExecutor) SetRuntime(r Runtime)               { e.runtime = r }
func (e *DeviceExecutor) SetBarrier(g *gate.Gate)            { e.barrier = g }
func (e *DeviceExecutor) SetLWS(l uint64)                    { e.lws = l }
func (e *DeviceExecutor) SetTimeInit(t time.Time)            { e.initAt = t }
func (e *DeviceExecutor) SetMinChunkMultiplier(m int)        { e.minChunkMultiplier = m }
func (e *DeviceExecutor) SetCPUAffinity(cpus []int)          { e.cpuAffinity = cpus }
func (e *DeviceExecutor) SetBlockingRead(v bool)             { e.blockingRead = v }
func (e *DeviceExecutor) SetSaveChunks(v bool)               { e.saveChunks = v }

// SetKernel chooses the program source and entry point; the trailing-offset argument, if the
// device requires one, is bound automatically by doWork on every dispatch, at the position
// NumArgsDeclared reported during Init.
func (e *DeviceExecutor) SetKernel(source, entryPoint string) {
	e.kernelSource = source
	e.entryPoint = entryPoint
}

// SetInBuffer appends a host input descriptor and returns its handle.
func (e *DeviceExecutor) SetInBuffer(buf *work.Buffer) work.BufferHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextHandleID++
	h := work.BufferHandle{ID: e.nextHandleID, Dir: work.In}
	e.inBuffers = append(e.inBuffers, boundBuffer{handle: h, host: buf})
	return h
}

// SetOutBuffer appends a host output descriptor and returns its handle.
func (e *DeviceExecutor) SetOutBuffer(buf *work.Buffer) work.BufferHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextHandleID++
	h := work.BufferHandle{ID: e.nextHandleID, Dir: work.Out}
	e.outBuffers = append(e.outBuffers, boundBuffer{handle: h, host: buf})
	return h
}

// SetKernelArg appends an ordered argument descriptor: value is either a plain scalar or a
// BufferHandle previously returned by SetInBuffer/SetOutBuffer.
func (e *DeviceExecutor) SetKernelArg(index int, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := value.(work.BufferHandle); ok {
		e.args = append(e.args, work.Arg{Index: index, Kind: work.ArgBufferRef, Handle: h})
		return
	}
	e.args = append(e.args, work.Arg{Index: index, Kind: work.ArgScalar, Scalar: value})
}

// SetKernelArgLocalAlloc appends a local-memory placeholder argument of the given byte size.
func (e *DeviceExecutor) SetKernelArgLocalAlloc(index int, bytes uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.args = append(e.args, work.Arg{Index: index, Kind: work.ArgLocalAlloc, LocalBytes: bytes})
}

// Start launches the worker goroutine; it returns immediately. wg.Done is called when the
// goroutine exits, whether from a clean shutdown or a fatal fault.
func (e *DeviceExecutor) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go e.run(ctx, wg)
}

func (e *DeviceExecutor) idString() string { return strconv.Itoa(e.id) }

func (e *DeviceExecutor) applyCPUAffinity() {
	if len(e.cpuAffinity) == 0 {
		return
	}
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range e.cpuAffinity {
		set.Set(cpu)
	}
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		e.log.Warnf("device %d: SchedSetaffinity failed: %v", e.id, err)
	}
}

// applyMinChunkMultiplierFromEnv parses MIN_CHUNK_MULTIPLIER at the moment the device exits
// wait_run(), per the redesign note: an explicit per-device value set via
// SetMinChunkMultiplier takes precedence and the environment is left unconsulted.
func (e *DeviceExecutor) applyMinChunkMultiplierFromEnv() {
	if e.minChunkMultiplier != constants.DefaultMinChunkMultiplier {
		return
	}
	raw := os.Getenv(constants.MinChunkMultiplierEnv)
	if raw == "" {
		return
	}
	parts := strings.Split(raw, ",")
	if e.id >= len(parts) {
		return
	}
	v, err := strconv.Atoi(strings.TrimSpace(parts[e.id]))
	if err != nil {
		e.runtime.ReportError(errs.NewConfigError("applyMinChunkMultiplierFromEnv",
			"unparseable "+constants.MinChunkMultiplierEnv+" entry for device "+e.idString()))
		return
	}
	e.minChunkMultiplier = v
}

func (e *DeviceExecutor) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	goruntime.LockOSThread()
	defer goruntime.UnlockOSThread()

	e.applyCPUAffinity()
	e.backend = e.runtime.Backend()

	stopReady := e.rec.Mark(inspector.DeviceReady)
	if err := e.init(ctx); err != nil {
		e.runtime.ReportError(err)
		e.barrier.Notify(1)
		return
	}
	stopReady()

	e.readyAt = time.Now()
	e.runtime.NotifyReady()

	stopStart := e.rec.Mark(inspector.DeviceStart)
	e.runGate.Wait(1)
	stopStart()
	e.applyMinChunkMultiplierFromEnv()

	select {
	case <-ctx.Done():
		e.release()
		e.barrier.Notify(1)
		return
	default:
	}

	e.startAt = time.Now()
	e.scheduler.RequestWork(e)

	stopRun := e.rec.Mark(inspector.DeviceRun)
	err := e.mainLoop()
	stopRun()
	if err != nil {
		e.runtime.ReportError(err)
		e.barrier.Notify(1)
	}

	stopEnd := e.rec.Mark(inspector.DeviceEnd)
	e.endAt = time.Now()
	e.release()
	stopEnd()

	e.rec.Record(inspector.CompleteWork, e.completeWorkTotal())
}

func (e *DeviceExecutor) completeWorkTotal() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completeWorkTime
}

// mainLoop is step 5 of the worker protocol: wait for a chunk, dispatch it, repeat until the
// scheduler reports the index space exhausted.
func (e *DeviceExecutor) mainLoop() error {
	for {
		e.workGate.Wait(1)
		idx := e.scheduler.WorkIndex(e)
		if idx < 0 {
			e.barrier.Notify(1)
			return nil
		}
		w := e.scheduler.Work(idx)
		if err := e.doWork(w.Offset, w.Size, w.OutWorkitems, w.OutPositions, idx); err != nil {
			return err
		}
	}
}

func (e *DeviceExecutor) allBuffers() []boundBuffer {
	all := make([]boundBuffer, 0, len(e.inBuffers)+len(e.outBuffers))
	all = append(all, e.inBuffers...)
	all = append(all, e.outBuffers...)
	return all
}

func (e *DeviceExecutor) init(ctx context.Context) error {
	stopDiscovery := e.rec.Mark(inspector.InitDiscovery)
	platforms, err := e.backend.Platforms(ctx)
	if err != nil {
		return errs.NewComputeAPIError("Platforms", e.idString(), errs.PhaseInit, err)
	}
	if e.platformIndex < 0 || e.platformIndex >= len(platforms) {
		return errs.NewConfigError("init", "platform index out of range for device "+e.idString())
	}
	devices, err := platforms[e.platformIndex].Devices()
	if err != nil {
		return errs.NewComputeAPIError("Devices", e.idString(), errs.PhaseInit, err)
	}
	if e.deviceIndex < 0 || e.deviceIndex >= len(devices) {
		return errs.NewConfigError("init", "device index out of range for device "+e.idString())
	}
	e.device = devices[e.deviceIndex]
	e.supportsOffset = e.device.SupportsGlobalWorkOffset()
	stopDiscovery()

	stopContext := e.rec.Mark(inspector.InitContext)
	cctx, err := e.device.CreateContext()
	if err != nil {
		return errs.NewComputeAPIError("CreateContext", e.idString(), errs.PhaseInit, err)
	}
	e.cctx = cctx
	stopContext()

	stopQueue := e.rec.Mark(inspector.InitQueue)
	queue, err := cctx.CreateQueue()
	if err != nil {
		return errs.NewComputeAPIError("CreateQueue", e.idString(), errs.PhaseInit, err)
	}
	e.queue = queue
	stopQueue()

	stopBuffers := e.rec.Mark(inspector.InitBuffers)
	for _, bb := range e.allBuffers() {
		devBuf, err := cctx.CreateBuffer(bb.host.ByteCount())
		if err != nil {
			return errs.NewComputeAPIError("CreateBuffer", e.idString(), errs.PhaseInit, err)
		}
		e.deviceBufs[bb.handle.ID] = devBuf
	}
	stopBuffers()

	stopKernel := e.rec.Mark(inspector.InitKernel)
	program, err := cctx.CreateProgramWithSource(e.kernelSource)
	if err != nil {
		return errs.NewComputeAPIError("CreateProgramWithSource", e.idString(), errs.PhaseKernelBuild, err)
	}
	if err := program.Build(""); err != nil {
		return errs.NewComputeAPIError("Build", e.idString(), errs.PhaseKernelBuild, err)
	}
	kernel, err := program.CreateKernel(e.entryPoint)
	if err != nil {
		return errs.NewComputeAPIError("CreateKernel", e.idString(), errs.PhaseKernelBuild, err)
	}
	e.kernel = kernel

	if err := e.bindArgs(); err != nil {
		return err
	}
	e.numDeclaredArgs = e.kernel.NumArgsDeclared()
	stopKernel()

	stopWrite := e.rec.Mark(inspector.WriteBuffers)
	var writeEvents []compute.Event
	for _, bb := range e.inBuffers {
		devBuf := e.deviceBufs[bb.handle.ID]
		ev, err := e.queue.EnqueueWriteBuffer(devBuf, e.blockingRead, 0, bb.host.Bytes(), nil)
		if err != nil {
			return errs.NewComputeAPIError("EnqueueWriteBuffer", e.idString(), errs.PhaseWriteBuffers, err)
		}
		writeEvents = append(writeEvents, ev)
	}
	e.pendingEvents = writeEvents
	stopWrite()
	return nil
}

// bindArgs resolves each descriptor in declaration order. A BufferRef descriptor is looked up
// against the handles this executor actually issued; an unknown handle with no fallback bytes
// is an Argument binding configuration error.
func (e *DeviceExecutor) bindArgs() error {
	for _, arg := range e.args {
		switch arg.Kind {
		case work.ArgScalar:
			if err := e.kernel.SetArgScalar(arg.Index, arg.Scalar); err != nil {
				return errs.NewComputeAPIError("SetArgScalar", e.idString(), errs.PhaseInit, err)
			}
		case work.ArgLocalAlloc:
			if err := e.kernel.SetArgLocal(arg.Index, arg.LocalBytes); err != nil {
				return errs.NewComputeAPIError("SetArgLocal", e.idString(), errs.PhaseInit, err)
			}
		case work.ArgBufferRef:
			devBuf, ok := e.deviceBufs[arg.Handle.ID]
			if !ok {
				return errs.NewArgumentError("bindArgs", e.idString(), arg.Index)
			}
			if err := e.kernel.SetArgBuffer(arg.Index, devBuf); err != nil {
				return errs.NewComputeAPIError("SetArgBuffer", e.idString(), errs.PhaseInit, err)
			}
		}
	}
	return nil
}

// doWork implements the dispatch semantics for one chunk: translate (offset, size) through
// the output pattern, enqueue the kernel and its read-backs, and arrange for completeWork to
// run off the last read-back event.
func (e *DeviceExecutor) doWork(offset, size uint64, outWorkitems, outPositions uint32, queueIndex int) error {
	start := time.Now()
	if size == 0 {
		e.completeWork(queueIndex, offset, size, start, nil)
		return nil
	}

	var waitList []compute.Event
	if !e.hasIssuedWork {
		waitList = e.pendingEvents
	}
	e.hasIssuedWork = true

	effectiveSize := uint64(outWorkitems) * size / uint64(outPositions)
	effectiveOffset := uint64(outWorkitems) * offset / uint64(outPositions)

	var nativeOffset uint64
	if e.supportsOffset {
		nativeOffset = effectiveOffset
	} else if err := e.kernel.SetArgScalar(e.numDeclaredArgs, uint32(effectiveOffset)); err != nil {
		return errs.NewComputeAPIError("SetArgScalar(offset)", e.idString(), errs.PhaseEnqueueKernel, err)
	}

	kernelEvent, err := e.queue.EnqueueNDRangeKernel(e.kernel, nativeOffset, effectiveSize, e.lws, waitList)
	if err != nil {
		return errs.NewComputeAPIError("EnqueueNDRangeKernel", e.idString(), errs.PhaseEnqueueKernel, err)
	}

	if len(e.outBuffers) == 0 {
		e.completeWork(queueIndex, offset, size, start, nil)
	}
	for i, bb := range e.outBuffers {
		devBuf := e.deviceBufs[bb.handle.ID]
		byteOffset := offset * uint64(bb.host.ItemSize)
		hostWindow, sliceErr := bb.host.Slice(offset, size)
		if sliceErr != nil {
			return errs.NewComputeAPIError("Slice", e.idString(), errs.PhaseEnqueueRead, sliceErr)
		}
		var onComplete func(error)
		if i == len(e.outBuffers)-1 {
			onComplete = func(cbErr error) { e.completeWork(queueIndex, offset, size, start, cbErr) }
		}
		if _, err := e.queue.EnqueueReadBuffer(devBuf, e.blockingRead, byteOffset, hostWindow, []compute.Event{kernelEvent}, onComplete); err != nil {
			return errs.NewComputeAPIError("EnqueueReadBuffer", e.idString(), errs.PhaseEnqueueRead, err)
		}
	}

	if err := e.queue.Finish(); err != nil {
		return errs.NewComputeAPIError("Finish", e.idString(), errs.PhaseEnqueueRead, err)
	}

	e.mu.Lock()
	e.issuedWorks++
	e.elementsDone += size
	e.mu.Unlock()
	return nil
}

// completeWork is the chunk-completion callback. Besides the scheduler's work mutex (taken
// inside Scheduler.Callback), it takes this executor's own mutex to update completeWorkTime
// and chunkHistory.
func (e *DeviceExecutor) completeWork(queueIndex int, offset, size uint64, start time.Time, err error) {
	now := time.Now()
	e.mu.Lock()
	e.completeWorkTime += now.Sub(start)
	e.mu.Unlock()

	if err != nil {
		e.runtime.ReportError(errs.NewComputeAPIError("completeWork", e.idString(), errs.PhaseEnqueueRead, err))
		e.scheduler.Callback(queueIndex)
		return
	}
	if e.saveChunks {
		e.mu.Lock()
		e.chunkHistory = append(e.chunkHistory, work.Chunk{
			Offset:      offset,
			Size:        size,
			TimestampMS: now.Sub(e.startAt).Milliseconds(),
			DurationMS:  now.Sub(start).Milliseconds(),
		})
		e.mu.Unlock()
	}
	e.scheduler.Callback(queueIndex)
}

func (e *DeviceExecutor) release() {
	for _, buf := range e.deviceBufs {
		_ = buf.Release()
	}
	if e.cctx != nil {
		_ = e.cctx.Release()
	}
}

// Stats is a read-only snapshot used by the Inspector to render per-device output.
type Stats struct {
	ID            int
	PlatformIndex int
	DeviceIndex   int
	IssuedWorks   uint64
	ElementsDone  uint64
	ChunkHistory  []work.Chunk
	Phases        []inspector.Phase
	ReadyAt       time.Time
	StartAt       time.Time
	EndAt         time.Time
}

func (e *DeviceExecutor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		ID:            e.id,
		PlatformIndex: e.platformIndex,
		DeviceIndex:   e.deviceIndex,
		IssuedWorks:   e.issuedWorks,
		ElementsDone:  e.elementsDone,
		ChunkHistory:  append([]work.Chunk(nil), e.chunkHistory...),
		Phases:        e.rec.Snapshot(),
		ReadyAt:       e.readyAt,
		StartAt:       e.startAt,
		EndAt:         e.endAt,
	}
}

var _ scheduler.Device = (*DeviceExecutor)(nil)
