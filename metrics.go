package enginecl

import (
	"time"

	"github.com/atc-unican/enginecl/internal/inspector"
)

// Summary is an aggregate view over a finished run's Inspector report: the generalization of
// this lineage's I/O latency-histogram snapshot into the per-device phase/throughput world this
// module deals in instead of block-device operation counters.
type Summary struct {
	CorrelationID string
	KernelName    string
	Devices       int
	IssuedWorks   uint64
	ElementsDone  uint64
	WallClock     time.Duration
}

// Throughput returns elements processed per second across all devices combined, or 0 if the
// wall clock duration could not be determined.
func (s Summary) Throughput() float64 {
	if s.WallClock <= 0 {
		return 0
	}
	return float64(s.ElementsDone) / s.WallClock.Seconds()
}

// Summarize reduces a full Inspector report to its headline counters.
func Summarize(report inspector.Report) Summary {
	s := Summary{
		CorrelationID: report.CorrelationID,
		KernelName:    report.KernelName,
		Devices:       len(report.Devices),
	}
	for _, d := range report.Devices {
		s.IssuedWorks += d.IssuedWorks
		s.ElementsDone += d.ElementsDone
	}
	return s
}

// Summary computes and returns the headline counters for the run Runtime just completed.
func (r *Runtime) Summary() Summary {
	report := r.Report()
	sum := Summarize(report)

	var earliest, latest time.Time
	for _, d := range r.devices {
		st := d.Stats()
		if !st.ReadyAt.IsZero() && (earliest.IsZero() || st.ReadyAt.Before(earliest)) {
			earliest = st.ReadyAt
		}
		if st.EndAt.After(latest) {
			latest = st.EndAt
		}
	}
	if !earliest.IsZero() && !latest.IsZero() {
		sum.WallClock = latest.Sub(earliest)
	}
	return sum
}
