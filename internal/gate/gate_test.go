package gate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBarrierIdiom(t *testing.T) {
	const n = 8
	g := New(n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Notify(1)
		}()
	}

	g.Wait(n)
	wg.Wait()
	// Wait(n) returns once the counter reaches 0 and then subtracts n, closing the gate again.
	assert.Equal(t, int64(-n), g.Available())
}

func TestReleaserIdiomBlocksUntilNotified(t *testing.T) {
	g := New(1)

	released := make(chan struct{})
	go func() {
		g.Wait(1)
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("gate released before Notify was called")
	case <-time.After(20 * time.Millisecond):
	}

	g.Notify(1)

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("gate never released after Notify")
	}
}

func TestManyNotifyReleasesOnePerNotify(t *testing.T) {
	g := New(1)
	const waiters = 3

	done := make(chan int, waiters)
	for i := 0; i < waiters; i++ {
		go func(id int) {
			g.Wait(1)
			done <- id
		}(i)
	}

	for i := 0; i < waiters; i++ {
		g.Notify(1)
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("waiter %d was never released", i)
		}
	}
}

func TestTryWait(t *testing.T) {
	g := New(0)
	assert.False(t, g.TryWait())

	g.Notify(1)
	assert.True(t, g.TryWait())
	assert.False(t, g.TryWait())
}

func TestWaitForTimesOutWhenNeverNotified(t *testing.T) {
	g := New(1)
	ok := g.WaitFor(1, 10*time.Millisecond)
	assert.False(t, ok)
}

func TestWaitForSucceedsWhenNotifiedInTime(t *testing.T) {
	g := New(1)
	go func() {
		time.Sleep(5 * time.Millisecond)
		g.Notify(1)
	}()
	ok := g.WaitFor(1, time.Second)
	assert.True(t, ok)
}
