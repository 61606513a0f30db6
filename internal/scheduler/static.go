package scheduler

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/atc-unican/enginecl/internal/errs"
)

// SplitMode selects how StaticScheduler.CalcProportions divides the index space.
type SplitMode int

const (
	// SplitByDevices assigns each of the first D-1 devices 1/D of whatever remains, aligned
	// down to L, and gives the last device the remainder.
	SplitByDevices SplitMode = iota
	// SplitRaw assigns explicit fractional proportions set via SetRawProportions.
	SplitRaw
)

// StaticScheduler partitions the index space once, up front, and hands each device exactly
// one chunk; devices that finish their chunk retire without requesting more work.
type StaticScheduler struct {
	base

	mode           SplitMode
	rawProportions []float64

	sizes   map[int]uint64
	offsets map[int]uint64

	devicesWorking int
}

// NewStaticScheduler returns a StaticScheduler in SplitByDevices mode.
func NewStaticScheduler() *StaticScheduler {
	return &StaticScheduler{
		base:    newBase(),
		mode:    SplitByDevices,
		sizes:   map[int]uint64{},
		offsets: map[int]uint64{},
	}
}

// SetRawProportions switches the split mode to Raw. p must supply at least D-1 fractions in
// (0,1); the last device always takes the remainder.
func (s *StaticScheduler) SetRawProportions(p []float64) error {
	if len(s.devices) > 0 && len(p) < len(s.devices)-1 {
		return errs.NewConfigError("SetRawProportions", fmt.Sprintf("need at least %d proportions for %d devices, got %d", len(s.devices)-1, len(s.devices), len(p)))
	}
	for _, f := range p {
		if f <= 0 || f >= 1 {
			return errs.NewConfigError("SetRawProportions", fmt.Sprintf("proportion %v out of (0,1)", f))
		}
	}
	s.rawProportions = append([]float64(nil), p...)
	s.mode = SplitRaw
	return nil
}

func (s *StaticScheduler) SetTotalSize(n uint64) error {
	if s.l != 0 && n%s.l != 0 {
		return errs.NewConfigError("SetTotalSize", fmt.Sprintf("N=%d is not a multiple of L=%d", n, s.l))
	}
	s.n = n
	return nil
}

// CalcProportions computes each device's (offset, size) pair. Runtime.Run calls this once,
// synchronously, before the scheduler goroutine or any device goroutine starts, so the
// sizes/offsets maps it populates need no further synchronization: every later reader
// (EnqueueWork, PrintStats) runs strictly after this happens-before edge, never concurrently
// with it.
func (s *StaticScheduler) CalcProportions() error {
	d := len(s.devices)
	if d == 0 {
		return errs.NewConfigError("CalcProportions", "no devices bound")
	}
	if d == 1 {
		id := s.devices[0].ID()
		s.sizes[id] = s.n
		s.offsets[id] = 0
		return nil
	}

	switch s.mode {
	case SplitRaw:
		var offset uint64
		for i := 0; i < d-1; i++ {
			size := alignDown(uint64(s.rawProportions[i]*float64(s.n)), s.l)
			if err := s.checkAlignment("CalcProportions", size); err != nil {
				return err
			}
			id := s.devices[i].ID()
			s.sizes[id] = size
			s.offsets[id] = offset
			offset += size
		}
		last := s.devices[d-1].ID()
		remainder := s.n - offset
		if err := s.checkAlignment("CalcProportions", remainder); err != nil {
			return err
		}
		s.sizes[last] = remainder
		s.offsets[last] = offset

	case SplitByDevices:
		remaining := s.n
		var offset uint64
		for i := 0; i < d-1; i++ {
			size := alignDown(remaining/uint64(d), s.l)
			if err := s.checkAlignment("CalcProportions", size); err != nil {
				return err
			}
			id := s.devices[i].ID()
			s.sizes[id] = size
			s.offsets[id] = offset
			offset += size
			remaining -= size
		}
		last := s.devices[d-1].ID()
		if err := s.checkAlignment("CalcProportions", remaining); err != nil {
			return err
		}
		s.sizes[last] = remaining
		s.offsets[last] = offset
	}
	return nil
}

// PreEnqueueWork marks every device as working. Runtime.Run calls this once, synchronously,
// in the same happens-before window as CalcProportions.
func (s *StaticScheduler) PreEnqueueWork() {
	s.devicesWorking = len(s.devices)
}

func (s *StaticScheduler) RequestWork(dev Device) {
	s.EnqueueWork(dev)
	dev.NotifyWork()
}

func (s *StaticScheduler) EnqueueWork(dev Device) {
	s.mu.Lock()
	already := s.chunkTodo[dev.ID()] != 0
	s.mu.Unlock()
	if already {
		return
	}
	s.pushWork(dev, s.offsets[dev.ID()], s.sizes[dev.ID()])
}

func (s *StaticScheduler) WorkIndex(dev Device) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunkGiven[dev.ID()] != 0 {
		return -1
	}
	s.chunkGiven[dev.ID()]++
	idxs := s.queueIDWork[dev.ID()]
	if len(idxs) == 0 {
		return -1
	}
	return idxs[0]
}

// Callback retires the device that just completed its one chunk and, once every device has
// retired, releases the callbacks gate so Run's WaitCallbacks returns.
func (s *StaticScheduler) Callback(idx int) {
	w := s.Work(idx)

	s.mu.Lock()
	s.chunkDone[w.DeviceID]++
	first := s.chunkDone[w.DeviceID] == 1
	s.mu.Unlock()

	if !first {
		return
	}

	var dev Device
	for _, d := range s.devices {
		if d.ID() == w.DeviceID {
			dev = d
			break
		}
	}

	s.mu.Lock()
	s.devicesWorking--
	done := s.devicesWorking == 0
	s.mu.Unlock()

	if dev != nil {
		dev.NotifyWork()
		dev.NotifyEvent()
	}
	if done {
		s.callbacksGate.Notify(1)
	}
}

// Run is the static scheduler thread body: block until every device has retired. The split
// itself (PreEnqueueWork/CalcProportions) is already computed by the time this starts —
// Runtime.Run calls both synchronously before launching this goroutine or releasing any
// device's run gate.
func (s *StaticScheduler) Run(ctx context.Context) {
	s.startedAt = time.Now()
	s.WaitCallbacks()
	s.endedAt = time.Now()
}

func (s *StaticScheduler) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "scheduler: static, mode=%v, duration=%s\n", s.mode, s.endedAt.Sub(s.startedAt))
	for _, dev := range s.devices {
		id := dev.ID()
		fmt.Fprintf(w, "  device %d: todo=%d given=%d done=%d offset=%d size=%d\n",
			id, s.chunkTodo[id], s.chunkGiven[id], s.chunkDone[id], s.offsets[id], s.sizes[id])
	}
}

var _ Scheduler = (*StaticScheduler)(nil)
