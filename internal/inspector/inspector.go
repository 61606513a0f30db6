// Package inspector renders a finished run's timing and counter data as plain text: the
// correlation id and kernel name, a per-device phase breakdown, and the scheduler's own
// discipline-specific counters. It is the generalization of this lineage's metrics-snapshot
// rendering from I/O counters to named lifecycle phase durations.
package inspector

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// ActionType names one of the fixed lifecycle phases the Inspector can time and print for any
// device, scheduler, or runtime.
type ActionType string

const (
	InitQueue         ActionType = "InitQueue"
	InitBuffers       ActionType = "InitBuffers"
	WriteBuffersDummy ActionType = "WriteBuffersDummy"
	InitKernel        ActionType = "InitKernel"
	WriteBuffers      ActionType = "WriteBuffers"
	DeviceStart       ActionType = "DeviceStart"
	DeviceReady       ActionType = "DeviceReady"
	DeviceRun         ActionType = "DeviceRun"
	CompleteWork      ActionType = "CompleteWork"
	DeviceEnd         ActionType = "DeviceEnd"
	InitDiscovery     ActionType = "InitDiscovery"
	InitContext       ActionType = "InitContext"
	UseDiscovery      ActionType = "UseDiscovery"
	Init              ActionType = "Init"
	SchedulerStart    ActionType = "SchedulerStart"
	SchedulerEnd      ActionType = "SchedulerEnd"
)

// Phase is one recorded (action, duration) pair.
type Phase struct {
	Action   ActionType
	Duration time.Duration
}

// Recorder accumulates named-phase durations for one owner: a device, the scheduler, or the
// runtime itself.
type Recorder struct {
	mu        sync.Mutex
	durations map[ActionType]time.Duration
	order     []ActionType
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{durations: map[ActionType]time.Duration{}}
}

// Mark starts timing phase a and returns a function that stops it and records the elapsed
// duration. The returned function is idempotent: only its first call records anything.
func (r *Recorder) Mark(a ActionType) func() {
	start := time.Now()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.Record(a, time.Since(start))
		})
	}
}

// Record stores an already-measured duration for phase a.
func (r *Recorder) Record(a ActionType, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.durations[a]; !ok {
		r.order = append(r.order, a)
	}
	r.durations[a] = d
}

// Snapshot returns the recorded phases in the order they were first recorded.
func (r *Recorder) Snapshot() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Phase, 0, len(r.order))
	for _, a := range r.order {
		out = append(out, Phase{Action: a, Duration: r.durations[a]})
	}
	return out
}

// ChunkRecord mirrors the per-completion timing record a DeviceExecutor retains when
// SaveChunks is enabled.
type ChunkRecord struct {
	Offset      uint64
	Size        uint64
	TimestampMS int64
	DurationMS  int64
}

// DeviceReport is one device's contribution to a Report.
type DeviceReport struct {
	ID            int
	PlatformIndex int
	DeviceIndex   int
	Phases        []Phase
	IssuedWorks   uint64
	ElementsDone  uint64
	ChunkHistory  []ChunkRecord
}

// Report is everything the Inspector renders for one run.
type Report struct {
	CorrelationID string
	KernelName    string
	InitAt        time.Time
	Devices       []DeviceReport
	SchedulerText string
}

// Render writes report as human-readable plain text.
func Render(w io.Writer, report Report) {
	fmt.Fprintf(w, "run %s: kernel=%s init=%s\n", report.CorrelationID, report.KernelName, report.InitAt.Format(time.RFC3339Nano))

	devices := append([]DeviceReport(nil), report.Devices...)
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	for _, d := range devices {
		fmt.Fprintf(w, "device %d (platform=%d device=%d): issued=%d elements=%d\n",
			d.ID, d.PlatformIndex, d.DeviceIndex, d.IssuedWorks, d.ElementsDone)
		for _, p := range d.Phases {
			fmt.Fprintf(w, "  %-18s %s\n", p.Action, p.Duration)
		}
		for _, c := range d.ChunkHistory {
			fmt.Fprintf(w, "  chunk offset=%d size=%d t=%dms dur=%dms\n", c.Offset, c.Size, c.TimestampMS, c.DurationMS)
		}
	}

	if report.SchedulerText != "" {
		fmt.Fprintf(w, "scheduler:\n%s", report.SchedulerText)
	}
}
