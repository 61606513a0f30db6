package enginecl

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atc-unican/enginecl/internal/scheduler"
	"github.com/atc-unican/enginecl/internal/work"
)

func TestRuntimeRunStaticSaxpyEndToEnd(t *testing.T) {
	const n = 1024
	const c = float64(3)

	a := make([]float32, n)
	b := make([]float32, n)
	out := make([]float32, n)
	for i := range a {
		a[i] = float32(i)
		b[i] = float32(2 * i)
	}

	rt, err := NewSimulatedRuntime(LinearDeviceSpecs(2), mustNDRange(t, n), 128, 1, 1)
	require.NoError(t, err)

	sched, ok := rt.scheduler.(*scheduler.StaticScheduler)
	require.True(t, ok)
	require.NoError(t, sched.SetRawProportions([]float64{0.5}))

	abuf, err := work.NewBuffer(work.In, a)
	require.NoError(t, err)
	bbuf, err := work.NewBuffer(work.In, b)
	require.NoError(t, err)
	obuf, err := work.NewBuffer(work.Out, out)
	require.NoError(t, err)

	rt.SetKernel("", "saxpy")
	ah := rt.SetInBuffer(abuf)
	bh := rt.SetInBuffer(bbuf)
	oh := rt.SetOutBuffer(obuf)
	rt.SetKernelArg(0, ah)
	rt.SetKernelArg(1, bh)
	rt.SetKernelArg(2, oh)
	rt.SetKernelArg(3, c)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Run(ctx))

	for i := 0; i < n; i++ {
		want := float32(math.Round(c*float64(a[i]) + float64(b[i])))
		assert.Equal(t, want, out[i], "index %d", i)
	}

	summary := rt.Summary()
	assert.Equal(t, 2, summary.Devices)
	assert.Equal(t, uint64(n), summary.ElementsDone)
}

func TestRuntimeRunDynamicSquareEndToEnd(t *testing.T) {
	const n = 512

	in := make([]float32, n)
	out := make([]float32, n)
	for i := range in {
		in[i] = float32(i)
	}

	rt, err := NewSimulatedRuntime(LinearDeviceSpecs(1), mustNDRange(t, n), 64, 1, 1)
	require.NoError(t, err)

	dyn := scheduler.NewDynamicScheduler()
	dyn.SetLWS(64)
	dyn.SetOutPattern(1, 1)
	rt.SetScheduler(dyn)

	inBuf, err := work.NewBuffer(work.In, in)
	require.NoError(t, err)
	outBuf, err := work.NewBuffer(work.Out, out)
	require.NoError(t, err)

	rt.SetKernel("", "square")
	inH := rt.SetInBuffer(inBuf)
	outH := rt.SetOutBuffer(outBuf)
	rt.SetKernelArg(0, inH)
	rt.SetKernelArg(1, outH)

	require.NoError(t, dyn.SetTotalSize(n))
	require.NoError(t, dyn.SetChunks(4))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Run(ctx))

	for i := 0; i < n; i++ {
		assert.Equal(t, in[i]*in[i], out[i], "index %d", i)
	}
}

func TestRuntimeRunPropagatesCanceledContext(t *testing.T) {
	rt, err := NewSimulatedRuntime(LinearDeviceSpecs(1), mustNDRange(t, 128), 128, 1, 1)
	require.NoError(t, err)

	rt.SetKernel("", "copy")
	in := make([]float32, 128)
	out := make([]float32, 128)
	inBuf, err := work.NewBuffer(work.In, in)
	require.NoError(t, err)
	outBuf, err := work.NewBuffer(work.Out, out)
	require.NoError(t, err)
	rt.SetKernelArg(0, rt.SetInBuffer(inBuf))
	rt.SetKernelArg(1, rt.SetOutBuffer(outBuf))
	rt.SetScheduler(scheduler.NewStaticScheduler())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = rt.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func mustNDRange(t *testing.T, n uint64) work.NDRange {
	t.Helper()
	nd, err := work.NewNDRange(n)
	require.NoError(t, err)
	return nd
}
