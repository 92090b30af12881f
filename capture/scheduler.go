package capture

import (
	"sync"
	"time"
)

// Ticker is a handle on a recurring task. Stop is idempotent and may be
// called from inside the task itself.
type Ticker interface {
	Stop()
}

// Scheduler runs fn every interval until the returned Ticker is stopped.
type Scheduler interface {
	Every(interval time.Duration, fn func()) Ticker
}

// NewScheduler returns a Scheduler backed by time.Ticker. Each task runs on
// its own goroutine, so successive calls of fn never overlap.
func NewScheduler() Scheduler {
	return clockScheduler{}
}

type clockScheduler struct{}

func (clockScheduler) Every(interval time.Duration, fn func()) Ticker {
	t := &clockTicker{
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go t.run(fn)
	return t
}

type clockTicker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *clockTicker) run(fn func()) {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			// Stop may have raced with this tick.
			select {
			case <-t.done:
				return
			default:
			}
			fn()
		}
	}
}

func (t *clockTicker) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}
