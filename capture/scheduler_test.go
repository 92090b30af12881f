package capture

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockScheduler_TicksUntilStopped(t *testing.T) {
	var count atomic.Int32
	fired := make(chan struct{}, 16)

	ticker := NewScheduler().Every(5*time.Millisecond, func() {
		count.Add(1)
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	for i := 0; i < 2; i++ {
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("ticker did not fire")
		}
	}
	ticker.Stop()

	// Allow any tick that was already running to finish.
	time.Sleep(20 * time.Millisecond)
	stoppedAt := count.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stoppedAt, count.Load())
	require.GreaterOrEqual(t, stoppedAt, int32(2))
}

func TestClockScheduler_StopFromInsideTask(t *testing.T) {
	done := make(chan struct{})
	var ticker Ticker
	var calls atomic.Int32
	ready := make(chan struct{})

	ticker = NewScheduler().Every(5*time.Millisecond, func() {
		<-ready
		if calls.Add(1) == 1 {
			ticker.Stop()
			close(done)
		}
	})
	close(ready)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	ticker.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}
