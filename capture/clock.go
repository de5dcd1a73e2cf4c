package capture

import (
	"fmt"
	"sync"
	"time"

	"echosketch/sched"
)

// Clock counts whole seconds of recording on a single repeating timer.
type Clock struct {
	sched sched.Scheduler

	mu      sync.Mutex
	elapsed int
	gen     uint64
	timer   sched.Timer
}

func NewClock(s sched.Scheduler) *Clock {
	return &Clock{sched: s}
}

// Start resets the counter and replaces any running timer.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.elapsed = 0
	c.timer = c.sched.Every(time.Second, func() { c.tick(gen) })
}

func (c *Clock) tick(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.timer == nil {
		return
	}
	c.elapsed++
}

// Stop cancels the timer and freezes the counter.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		return
	}
	c.timer.Stop()
	c.timer = nil
	c.gen++
}

func (c *Clock) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// FormatElapsed renders seconds as M:SS.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
