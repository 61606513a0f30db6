package enginecl

import (
	"testing"

	"github.com/atc-unican/enginecl/internal/inspector"
)

func TestSummarizeAggregatesAcrossDevices(t *testing.T) {
	report := inspector.Report{
		CorrelationID: "run-1",
		KernelName:    "saxpy",
		Devices: []inspector.DeviceReport{
			{ID: 0, IssuedWorks: 3, ElementsDone: 300},
			{ID: 1, IssuedWorks: 5, ElementsDone: 500},
		},
	}

	sum := Summarize(report)

	if sum.Devices != 2 {
		t.Errorf("expected 2 devices, got %d", sum.Devices)
	}
	if sum.IssuedWorks != 8 {
		t.Errorf("expected 8 issued works, got %d", sum.IssuedWorks)
	}
	if sum.ElementsDone != 800 {
		t.Errorf("expected 800 elements done, got %d", sum.ElementsDone)
	}
	if sum.CorrelationID != "run-1" || sum.KernelName != "saxpy" {
		t.Errorf("expected identifying fields to survive summarization, got %+v", sum)
	}
}

func TestSummaryThroughputZeroWithoutWallClock(t *testing.T) {
	sum := Summary{ElementsDone: 1000}
	if got := sum.Throughput(); got != 0 {
		t.Errorf("expected 0 throughput with no wall clock, got %v", got)
	}
}
