package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEqualSplitTwoDevices(t *testing.T) {
	s := NewStaticScheduler()
	devices := fakeDevices(2)
	s.SetDevices(devices)
	s.SetLWS(128)
	require.NoError(t, s.SetTotalSize(1024))
	require.NoError(t, s.SetRawProportions([]float64{0.5}))

	require.NoError(t, s.CalcProportions())

	assert.Equal(t, uint64(0), s.offsets[0])
	assert.Equal(t, uint64(512), s.sizes[0])
	assert.Equal(t, uint64(512), s.offsets[1])
	assert.Equal(t, uint64(512), s.sizes[1])
}

func TestStaticRawProportionsThreeDevices(t *testing.T) {
	s := NewStaticScheduler()
	devices := fakeDevices(3)
	s.SetDevices(devices)
	s.SetLWS(128)
	require.NoError(t, s.SetTotalSize(2048))
	require.NoError(t, s.SetRawProportions([]float64{0.25, 0.25}))

	require.NoError(t, s.CalcProportions())

	assert.Equal(t, uint64(0), s.offsets[0])
	assert.Equal(t, uint64(512), s.sizes[0])
	assert.Equal(t, uint64(512), s.offsets[1])
	assert.Equal(t, uint64(512), s.sizes[1])
	assert.Equal(t, uint64(1024), s.offsets[2])
	assert.Equal(t, uint64(1024), s.sizes[2])
}

func TestStaticSingleDeviceTakesEverything(t *testing.T) {
	s := NewStaticScheduler()
	devices := fakeDevices(1)
	s.SetDevices(devices)
	s.SetLWS(128)
	require.NoError(t, s.SetTotalSize(1024))

	require.NoError(t, s.CalcProportions())

	assert.Equal(t, uint64(0), s.offsets[0])
	assert.Equal(t, uint64(1024), s.sizes[0])
}

func TestStaticRawProportionRejectsOutOfRange(t *testing.T) {
	s := NewStaticScheduler()
	s.SetDevices(fakeDevices(2))
	err := s.SetRawProportions([]float64{1.5})
	require.Error(t, err)
}

func TestStaticRawProportionRejectsTooFew(t *testing.T) {
	s := NewStaticScheduler()
	s.SetDevices(fakeDevices(3))
	err := s.SetRawProportions([]float64{0.5})
	require.Error(t, err)
}

func TestStaticFullCycleReleasesCallbacksOnce(t *testing.T) {
	s := NewStaticScheduler()
	devices := fakeDevices(2)
	s.SetDevices(devices)
	s.SetLWS(128)
	require.NoError(t, s.SetTotalSize(1024))
	require.NoError(t, s.SetRawProportions([]float64{0.5}))

	s.PreEnqueueWork()
	require.NoError(t, s.CalcProportions())

	done := make(chan struct{})
	go func() {
		s.Run(nil)
		close(done)
	}()

	for _, dev := range devices {
		s.RequestWork(dev)
	}
	for _, dev := range devices {
		idx := s.WorkIndex(dev)
		require.GreaterOrEqual(t, idx, 0)
		s.Callback(idx)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not finish after both devices completed")
	}

	assert.Equal(t, 1, s.chunkDone[0])
	assert.Equal(t, 1, s.chunkDone[1])
}
