// Package sched provides the timing primitives the capture controller runs
// on: a per-frame callback and a repeating timer. Realtime drives them from
// the wall clock; Manual fires them from Advance for tests.
package sched

import (
	"sync"
	"time"
)

// FrameInterval approximates one display refresh at 60 Hz.
const FrameInterval = 16 * time.Millisecond

// Timer cancels a scheduled callback. Stop is idempotent. With Realtime a
// callback already dispatched may still run after Stop returns, so callers
// re-check their own state inside the callback.
type Timer interface {
	Stop()
}

type Scheduler interface {
	// Every runs fn each d until the timer is stopped.
	Every(d time.Duration, fn func()) Timer
	// NextFrame runs fn once at the next frame boundary.
	NextFrame(fn func()) Timer
}

// Realtime schedules callbacks on the wall clock. The zero value is ready.
type Realtime struct{}

func (Realtime) Every(d time.Duration, fn func()) Timer {
	t := &repeating{ticker: time.NewTicker(d), stop: make(chan struct{})}
	go func() {
		for {
			select {
			case <-t.stop:
				return
			case <-t.ticker.C:
				t.mu.Lock()
				stopped := t.stopped
				t.mu.Unlock()
				if stopped {
					return
				}
				fn()
			}
		}
	}()
	return t
}

func (Realtime) NextFrame(fn func()) Timer {
	return oneShot{time.AfterFunc(FrameInterval, fn)}
}

type oneShot struct{ t *time.Timer }

func (o oneShot) Stop() { o.t.Stop() }

type repeating struct {
	ticker  *time.Ticker
	stop    chan struct{}
	mu      sync.Mutex
	stopped bool
}

func (t *repeating) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.ticker.Stop()
	close(t.stop)
}
