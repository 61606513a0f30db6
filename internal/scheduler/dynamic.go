package scheduler

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/atc-unican/enginecl/internal/errs"
)

// DynamicScheduler hands out equal-size chunks on demand until the index space is exhausted.
// The first chunk served absorbs the L-alignment remainder, since it is requested earliest and
// its extra size is paid for while every other device is still ramping up.
type DynamicScheduler struct {
	base

	worksize uint64
	workLast uint64

	// Guarded by base.mu.
	sizeRemaining      uint64
	sizeGiven          uint64
	sizeRemainingGiven uint64

	chunksDone             atomic.Int64
	sizeRemainingCompleted atomic.Int64
	requestsIdx            atomic.Int64
	requestsIdxDone        atomic.Int64
	requestRing            []atomic.Int64
}

// NewDynamicScheduler returns a DynamicScheduler with no chunk count set; call SetChunks
// before Run.
func NewDynamicScheduler() *DynamicScheduler {
	return &DynamicScheduler{base: newBase()}
}

// SetDevices sizes the single-consumer/multi-producer request ring to 2*D, the capacity proven
// sufficient by the at-most-one-outstanding-request-or-completion-per-device invariant.
func (d *DynamicScheduler) SetDevices(devices []Device) {
	d.base.SetDevices(devices)
	d.requestRing = make([]atomic.Int64, 2*len(devices))
}

// SetChunks is the sole public sizing entry point: callers who want a target chunk byte size
// derive K = N / desiredSize themselves before calling this.
func (d *DynamicScheduler) SetChunks(k uint64) error {
	if k == 0 {
		return errs.NewConfigError("SetChunks", "chunk count must be positive")
	}
	if d.l == 0 {
		return errs.NewConfigError("SetChunks", "local work size must be set before SetChunks")
	}
	if d.n%d.l != 0 {
		return errs.NewConfigError("SetChunks", fmt.Sprintf("N=%d is not a multiple of L=%d", d.n, d.l))
	}
	chunksOfL := d.n / d.l
	perChunkL := chunksOfL / k
	worksize := perChunkL * d.l
	rest := d.n - k*worksize
	if rest%d.l != 0 {
		return errs.NewConfigError("SetChunks", fmt.Sprintf("remainder %d is not a multiple of L=%d", rest, d.l))
	}
	d.worksize = worksize
	d.workLast = worksize + rest
	return nil
}

func (d *DynamicScheduler) SetTotalSize(n uint64) error {
	if d.l != 0 && n%d.l != 0 {
		return errs.NewConfigError("SetTotalSize", fmt.Sprintf("N=%d is not a multiple of L=%d", n, d.l))
	}
	d.n = n

	d.mu.Lock()
	d.sizeRemaining = n
	d.sizeGiven = 0
	d.sizeRemainingGiven = n
	d.mu.Unlock()

	d.sizeRemainingCompleted.Store(int64(n))
	return nil
}

// CalcProportions is a no-op for the dynamic discipline; it exists only to satisfy the
// Scheduler interface shared with StaticScheduler.
func (d *DynamicScheduler) CalcProportions() error { return nil }

// PreEnqueueWork is a no-op for the dynamic discipline: SetTotalSize already primed every
// counter this scheduler needs before Run starts.
func (d *DynamicScheduler) PreEnqueueWork() {}

func (d *DynamicScheduler) appendToRing(deviceID int) {
	idx := d.requestsIdx.Add(1) - 1
	slot := int(idx) % len(d.requestRing)
	d.requestRing[slot].Store(int64(deviceID + 1))
}

// RequestWork publishes dev into the request ring if the index space is not yet fully
// accounted for; the scheduler loop drains the ring on its next iteration.
func (d *DynamicScheduler) RequestWork(dev Device) {
	if d.sizeRemainingCompleted.Load() <= 0 {
		return
	}
	d.appendToRing(dev.ID())
	d.callbacksGate.Notify(1)
}

func (d *DynamicScheduler) EnqueueWork(dev Device) {
	d.mu.Lock()
	if d.sizeRemaining == 0 {
		d.mu.Unlock()
		return
	}
	size := d.worksize
	if d.sizeGiven == 0 {
		size = d.workLast
	}
	offset := d.sizeGiven
	d.sizeRemaining -= size
	d.sizeGiven += size
	d.mu.Unlock()

	d.pushWork(dev, offset, size)
}

func (d *DynamicScheduler) WorkIndex(dev Device) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sizeRemainingGiven == 0 {
		return -1
	}
	if d.chunkTodo[dev.ID()] <= d.chunkGiven[dev.ID()] {
		return -1
	}

	idxs := d.queueIDWork[dev.ID()]
	idx := idxs[d.chunkGiven[dev.ID()]]
	d.chunkGiven[dev.ID()]++

	if d.sizeRemainingGiven >= d.worksize {
		d.sizeRemainingGiven -= d.worksize
	} else {
		d.sizeRemainingGiven = 0
	}
	return idx
}

// Callback records a chunk's completion and re-publishes its device if work remains. The
// callbacks gate is always released so the scheduler loop wakes to re-check hasWork, even on
// the terminal completion.
func (d *DynamicScheduler) Callback(idx int) {
	w := d.Work(idx)

	d.mu.Lock()
	d.chunkDone[w.DeviceID]++
	d.mu.Unlock()

	d.chunksDone.Add(1)
	remaining := d.sizeRemainingCompleted.Add(-int64(w.Size))
	if remaining > 0 {
		d.appendToRing(w.DeviceID)
	}
	d.callbacksGate.Notify(1)
}

func (d *DynamicScheduler) hasWork() bool {
	return d.sizeRemainingCompleted.Load() > 0
}

func (d *DynamicScheduler) nextRequest() (Device, bool) {
	idx := d.requestsIdxDone.Load()
	slot := int(idx) % len(d.requestRing)
	v := d.requestRing[slot].Load()
	if v == 0 {
		return nil, false
	}
	d.requestRing[slot].Store(0)
	d.requestsIdxDone.Add(1)

	deviceID := int(v) - 1
	for _, dev := range d.devices {
		if dev.ID() == deviceID {
			return dev, true
		}
	}
	return nil, false
}

// Run is the dynamic scheduler thread body: drain whatever requests are already queued,
// enqueue work for each, then block for the next wake-up, until the index space is exhausted.
func (d *DynamicScheduler) Run(ctx context.Context) {
	d.startedAt = time.Now()
	for d.hasWork() {
		for {
			dev, ok := d.nextRequest()
			if !ok {
				break
			}
			d.EnqueueWork(dev)
			dev.NotifyWork()
		}
		d.WaitCallbacks()
	}
	for _, dev := range d.devices {
		dev.NotifyWork()
		dev.NotifyEvent()
	}
	d.endedAt = time.Now()
}

func (d *DynamicScheduler) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "scheduler: dynamic, worksize=%d, workLast=%d, duration=%s\n",
		d.worksize, d.workLast, d.endedAt.Sub(d.startedAt))
	fmt.Fprintf(w, "  chunksDone=%d sizeRemainingCompleted=%d\n",
		d.chunksDone.Load(), d.sizeRemainingCompleted.Load())
}

var _ Scheduler = (*DynamicScheduler)(nil)
