// Package scheduler implements the two work-distribution disciplines a Runtime can bind to a
// set of devices: an up-front proportional split (StaticScheduler) and an on-demand equal
// chunker (DynamicScheduler). Both share the bookkeeping in this file — a single growable work
// log, per-device counters, and a callbacks gate a device's completion releases.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/atc-unican/enginecl/internal/constants"
	"github.com/atc-unican/enginecl/internal/errs"
	"github.com/atc-unican/enginecl/internal/gate"
	"github.com/atc-unican/enginecl/internal/inspector"
	"github.com/atc-unican/enginecl/internal/logging"
	"github.com/atc-unican/enginecl/internal/work"
)

// Device is the narrow view a Scheduler has of a DeviceExecutor: enough to identify it, read
// its tuning, and release the two gates that unblock its worker goroutine. DeviceExecutor
// satisfies this without the scheduler package ever importing internal/executor.
type Device interface {
	ID() int
	MinChunkMultiplier() int
	NotifyWork()
	NotifyEvent()
}

// Scheduler is the interface both disciplines satisfy. A DeviceExecutor's worker goroutine
// only ever sees this surface, never a concrete *StaticScheduler or *DynamicScheduler.
type Scheduler interface {
	SetDevices(devices []Device)
	SetGWS(n uint64)
	SetLWS(l uint64)
	SetOutPattern(outWorkitems, outPositions uint32)
	SetTotalSize(n uint64) error
	CalcProportions() error
	PreEnqueueWork()
	RequestWork(dev Device)
	EnqueueWork(dev Device)
	WorkIndex(dev Device) int
	Work(idx int) work.Work
	Callback(idx int)
	WaitCallbacks()
	// Run is the scheduler thread body, launched in its own goroutine once PreEnqueueWork and
	// CalcProportions have already been called synchronously on the caller's goroutine. It
	// blocks (via WaitCallbacks, and for the dynamic discipline the request-ring drain loop)
	// until the index space is exhausted, then returns.
	Run(ctx context.Context)
	PrintStats(w io.Writer)
}

type base struct {
	mu sync.Mutex

	n            uint64
	l            uint64
	outWorkitems uint32
	outPositions uint32
	devices      []Device

	chunkTodo  map[int]int
	chunkGiven map[int]int
	chunkDone  map[int]int

	workLog     []work.Work
	queueIDWork map[int][]int

	callbacksGate *gate.Gate

	startedAt time.Time
	endedAt   time.Time

	log *logging.Logger
}

func newBase() base {
	return base{
		chunkTodo:     map[int]int{},
		chunkGiven:    map[int]int{},
		chunkDone:     map[int]int{},
		queueIDWork:   map[int][]int{},
		workLog:       make([]work.Work, 0, constants.DefaultWorkLogCapacity),
		callbacksGate: gate.New(1),
		log:           logging.Default(),
	}
}

func (b *base) SetDevices(devices []Device) { b.devices = devices }
func (b *base) SetGWS(n uint64)             { b.n = n }
func (b *base) SetLWS(l uint64)             { b.l = l }
func (b *base) SetOutPattern(outWorkitems, outPositions uint32) {
	b.outWorkitems, b.outPositions = outWorkitems, outPositions
}

// pushWork appends a Work record under the work mutex and records its index against dev,
// mirroring the "single work log shared by all devices" design.
func (b *base) pushWork(dev Device, offset, size uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := len(b.workLog)
	b.workLog = append(b.workLog, work.Work{
		DeviceID:     dev.ID(),
		Offset:       offset,
		Size:         size,
		OutWorkitems: b.outWorkitems,
		OutPositions: b.outPositions,
	})
	b.queueIDWork[dev.ID()] = append(b.queueIDWork[dev.ID()], idx)
	b.chunkTodo[dev.ID()]++
	return idx
}

// Phases reports the scheduler thread's own start/end timestamps as named phases, for the
// Inspector to render alongside each device's per-phase breakdown.
func (b *base) Phases() []inspector.Phase {
	if b.startedAt.IsZero() {
		return nil
	}
	end := b.endedAt
	if end.IsZero() {
		end = b.startedAt
	}
	return []inspector.Phase{
		{Action: inspector.SchedulerStart, Duration: 0},
		{Action: inspector.SchedulerEnd, Duration: end.Sub(b.startedAt)},
	}
}

func (b *base) Work(idx int) work.Work {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.workLog[idx]
}

func (b *base) WaitCallbacks() {
	b.callbacksGate.Wait(1)
}

func (b *base) checkAlignment(op string, size uint64) error {
	if b.l == 0 {
		return errs.NewConfigError(op, "local work size must be nonzero")
	}
	if size%b.l != 0 {
		return errs.NewConfigError(op, fmt.Sprintf("chunk size %d is not a multiple of L=%d", size, b.l))
	}
	return nil
}

func alignDown(v, l uint64) uint64 {
	if l == 0 {
		return v
	}
	return (v / l) * l
}
