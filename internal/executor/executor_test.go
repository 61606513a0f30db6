package executor

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atc-unican/enginecl/internal/compute"
	"github.com/atc-unican/enginecl/internal/errs"
	"github.com/atc-unican/enginecl/internal/gate"
	"github.com/atc-unican/enginecl/internal/scheduler"
	"github.com/atc-unican/enginecl/internal/work"
)

type fakeRuntime struct {
	backend compute.Backend

	mu    sync.Mutex
	ready int
	faults []error
}

func (r *fakeRuntime) Backend() compute.Backend { return r.backend }

func (r *fakeRuntime) NotifyReady() {
	r.mu.Lock()
	r.ready++
	r.mu.Unlock()
}

func (r *fakeRuntime) ReportError(err error) {
	r.mu.Lock()
	r.faults = append(r.faults, err)
	r.mu.Unlock()
}

func (r *fakeRuntime) CorrelationID() string { return "test-run" }

func (r *fakeRuntime) readyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

func (r *fakeRuntime) faultCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.faults)
}

func TestDeviceExecutorStaticSaxpyRoundTrip(t *testing.T) {
	const n = 1024
	a := make([]float32, n)
	b := make([]float32, n)
	out := make([]float32, n)
	for i := range a {
		a[i] = float32(i)
		b[i] = float32(2 * i)
	}

	abuf, err := work.NewBuffer(work.In, a)
	require.NoError(t, err)
	bbuf, err := work.NewBuffer(work.In, b)
	require.NoError(t, err)
	obuf, err := work.NewBuffer(work.Out, out)
	require.NoError(t, err)

	backend := compute.NewSimulatedBackend(2)
	rt := &fakeRuntime{backend: backend}
	barrier := gate.New(2)

	sched := scheduler.NewStaticScheduler()
	sched.SetLWS(128)
	sched.SetOutPattern(1, 1)
	require.NoError(t, sched.SetTotalSize(n))
	require.NoError(t, sched.SetRawProportions([]float64{0.5}))

	devs := make([]*DeviceExecutor, 2)
	schedDevices := make([]scheduler.Device, 2)
	for i := range devs {
		e := New(i, 0, i)
		e.SetScheduler(sched)
		e.SetRuntime(rt)
		e.SetBarrier(barrier)
		e.SetLWS(128)
		ah := e.SetInBuffer(abuf)
		bh := e.SetInBuffer(bbuf)
		oh := e.SetOutBuffer(obuf)
		e.SetKernel("", "saxpy")
		e.SetKernelArg(0, ah)
		e.SetKernelArg(1, bh)
		e.SetKernelArg(2, oh)
		e.SetKernelArg(3, float64(2))
		devs[i] = e
		schedDevices[i] = e
	}
	sched.SetDevices(schedDevices)
	sched.PreEnqueueWork()
	require.NoError(t, sched.CalcProportions())

	ctx := context.Background()
	go sched.Run(ctx)

	var wg sync.WaitGroup
	for _, e := range devs {
		e.Start(ctx, &wg)
	}

	require.Eventually(t, func() bool { return rt.readyCount() == 2 }, time.Second, time.Millisecond)
	for _, e := range devs {
		e.NotifyRun()
	}

	barrier.Wait(2)
	wg.Wait()

	assert.Equal(t, 0, rt.faultCount())
	for i := 0; i < n; i++ {
		want := float32(math.Round(2*float64(a[i]) + float64(b[i])))
		assert.Equal(t, want, out[i], "index %d", i)
	}
}

func TestDeviceExecutorDynamicSquareRoundTrip(t *testing.T) {
	const n = 1024
	in := make([]float32, n)
	out := make([]float32, n)
	for i := range in {
		in[i] = float32(i)
	}

	inBuf, err := work.NewBuffer(work.In, in)
	require.NoError(t, err)
	outBuf, err := work.NewBuffer(work.Out, out)
	require.NoError(t, err)

	backend := compute.NewSimulatedBackend(1)
	rt := &fakeRuntime{backend: backend}
	barrier := gate.New(1)

	sched := scheduler.NewDynamicScheduler()
	sched.SetLWS(128)
	sched.SetOutPattern(1, 1)
	require.NoError(t, sched.SetTotalSize(n))
	require.NoError(t, sched.SetChunks(8))

	e := New(0, 0, 0)
	e.SetScheduler(sched)
	e.SetRuntime(rt)
	e.SetBarrier(barrier)
	e.SetLWS(128)
	inH := e.SetInBuffer(inBuf)
	outH := e.SetOutBuffer(outBuf)
	e.SetKernel("", "square")
	e.SetKernelArg(0, inH)
	e.SetKernelArg(1, outH)

	sched.SetDevices([]scheduler.Device{e})

	ctx := context.Background()
	go sched.Run(ctx)

	var wg sync.WaitGroup
	e.Start(ctx, &wg)

	require.Eventually(t, func() bool { return rt.readyCount() == 1 }, time.Second, time.Millisecond)
	e.NotifyRun()

	barrier.Wait(1)
	wg.Wait()

	assert.Equal(t, 0, rt.faultCount())
	for i := 0; i < n; i++ {
		assert.Equal(t, in[i]*in[i], out[i], "index %d", i)
	}

	st := e.Stats()
	assert.Equal(t, uint64(8), st.IssuedWorks)
	assert.Equal(t, uint64(n), st.ElementsDone)
}

func TestDeviceExecutorBindArgsUnknownHandleIsArgumentError(t *testing.T) {
	e := New(0, 0, 0)
	e.SetKernelArg(0, work.BufferHandle{ID: 99, Dir: work.In})

	err := e.bindArgs()
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrCodeArgumentBinding))
}

func TestDeviceExecutorSaveChunksRecordsHistory(t *testing.T) {
	const n = 256
	in := make([]float32, n)
	out := make([]float32, n)

	inBuf, err := work.NewBuffer(work.In, in)
	require.NoError(t, err)
	outBuf, err := work.NewBuffer(work.Out, out)
	require.NoError(t, err)

	backend := compute.NewSimulatedBackend(1)
	rt := &fakeRuntime{backend: backend}
	barrier := gate.New(1)

	sched := scheduler.NewDynamicScheduler()
	sched.SetLWS(64)
	sched.SetOutPattern(1, 1)
	require.NoError(t, sched.SetTotalSize(n))
	require.NoError(t, sched.SetChunks(4))

	e := New(0, 0, 0)
	e.SetScheduler(sched)
	e.SetRuntime(rt)
	e.SetBarrier(barrier)
	e.SetLWS(64)
	e.SetSaveChunks(true)
	inH := e.SetInBuffer(inBuf)
	outH := e.SetOutBuffer(outBuf)
	e.SetKernel("", "copy")
	e.SetKernelArg(0, inH)
	e.SetKernelArg(1, outH)

	sched.SetDevices([]scheduler.Device{e})

	ctx := context.Background()
	go sched.Run(ctx)

	var wg sync.WaitGroup
	e.Start(ctx, &wg)
	require.Eventually(t, func() bool { return rt.readyCount() == 1 }, time.Second, time.Millisecond)
	e.NotifyRun()
	barrier.Wait(1)
	wg.Wait()

	st := e.Stats()
	assert.Len(t, st.ChunkHistory, 4)
}
