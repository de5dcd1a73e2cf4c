package sched

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler driven by Advance. Callbacks run synchronously on
// the goroutine calling Advance, in due order.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*manualTimer
}

func NewManual() *Manual {
	return &Manual{}
}

type manualTimer struct {
	m        *Manual
	seq      int
	due      time.Duration
	interval time.Duration // zero for one-shot
	fn       func()
	stopped  bool
}

func (t *manualTimer) Stop() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	t.stopped = true
	t.m.remove(t)
}

func (m *Manual) Every(d time.Duration, fn func()) Timer {
	return m.add(d, d, fn)
}

func (m *Manual) NextFrame(fn func()) Timer {
	return m.add(FrameInterval, 0, fn)
}

func (m *Manual) add(after, interval time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, seq: m.seq, due: m.now + after, interval: interval, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// remove must be called with mu held.
func (m *Manual) remove(t *manualTimer) {
	for i, x := range m.timers {
		if x == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

// Advance moves the clock forward by d, firing every callback that falls
// due, including ones scheduled by callbacks during the advance.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	end := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		t := m.nextDue(end)
		if t == nil {
			m.now = end
			m.mu.Unlock()
			return
		}
		m.now = t.due
		if t.interval > 0 {
			t.due += t.interval
		} else {
			t.stopped = true
			m.remove(t)
		}
		fn := t.fn
		m.mu.Unlock()

		fn()
	}
}

// nextDue must be called with mu held.
func (m *Manual) nextDue(end time.Duration) *manualTimer {
	if len(m.timers) == 0 {
		return nil
	}
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].due != m.timers[j].due {
			return m.timers[i].due < m.timers[j].due
		}
		return m.timers[i].seq < m.timers[j].seq
	})
	if t := m.timers[0]; t.due <= end {
		return t
	}
	return nil
}

// Pending reports how many timers are scheduled and not stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Now is the total time advanced so far.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}
