package enginecl

import (
	"github.com/atc-unican/enginecl/internal/compute"
	"github.com/atc-unican/enginecl/internal/scheduler"
	"github.com/atc-unican/enginecl/internal/work"
)

// NewSimulatedRuntime is a test and example fixture: it wires a Runtime to
// compute.NewSimulatedBackend(len(specs)) and a StaticScheduler over specs, so callers outside
// this module (and this module's own tests) can exercise a full run without a real OpenCL
// ICD loader. Callers still call SetKernel/SetInBuffer/SetOutBuffer/SetKernelArg and Run
// themselves; this only removes the backend/scheduler boilerplate every test repeats.
func NewSimulatedRuntime(specs []DeviceSpec, gws work.NDRange, lws uint64, outWorkitems, outPositions uint32) (*Runtime, error) {
	backend := compute.NewSimulatedBackend(len(specs))
	rt, err := New(backend, specs, gws, lws, outWorkitems, outPositions)
	if err != nil {
		return nil, err
	}
	rt.SetScheduler(scheduler.NewStaticScheduler())
	return rt, nil
}

// LinearDeviceSpecs returns one DeviceSpec per simulated device index 0..n-1, all on platform 0
// — the layout compute.NewSimulatedBackend produces.
func LinearDeviceSpecs(n int) []DeviceSpec {
	specs := make([]DeviceSpec, n)
	for i := range specs {
		specs[i] = DeviceSpec{PlatformIndex: 0, DeviceIndex: i}
	}
	return specs
}
