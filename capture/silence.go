package capture

import "time"

// SilenceEvent is what SilenceMonitor reports after each level sample.
type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no voice for silenceWarnAfter
	SilenceWarnClear              // voice resumed after a warning
	SilenceRepeat                 // still silent, another silenceWarnAfter later
)

const (
	silenceWarnAfter = 8 * time.Second
	speechLevel      = 0.02 // muted or dead inputs sit at or below this
	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // higher threshold to clear warning (hysteresis)
)

// SilenceReporter is implemented by Events that want silence warnings
// during a recording.
type SilenceReporter interface {
	Silence(SilenceEvent)
}

// SilenceMonitor tracks the share of recent samples that carried voice.
type SilenceMonitor struct {
	warnAt int
	window []bool

	ticks    int
	warned   bool
	lastWarn int
}

// NewSilenceMonitor expects Tick to be called once per interval.
func NewSilenceMonitor(interval time.Duration) *SilenceMonitor {
	warnAt := max(int(silenceWarnAfter/interval), 1)
	return &SilenceMonitor{warnAt: warnAt, window: make([]bool, warnAt)}
}

func (m *SilenceMonitor) ratio() float64 {
	n := min(m.ticks, m.warnAt)
	if n == 0 {
		return 1
	}
	count := 0
	for i := range n {
		if m.window[(m.ticks-1-i)%m.warnAt] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *SilenceMonitor) Tick(level float64) SilenceEvent {
	m.window[m.ticks%m.warnAt] = level > speechLevel
	m.ticks++

	r := m.ratio()
	switch {
	case m.ticks >= m.warnAt && r < speechMinRatio && !m.warned:
		m.warned = true
		m.lastWarn = m.ticks
		return SilenceWarn
	case m.warned && r >= speechClearRatio:
		m.warned = false
		return SilenceWarnClear
	case m.warned && m.ticks-m.lastWarn >= m.warnAt:
		m.lastWarn = m.ticks
		return SilenceRepeat
	}
	return SilenceNone
}
