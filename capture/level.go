package capture

import "sync"

// LevelTier buckets a loudness value for display.
type LevelTier string

const (
	TierLow    LevelTier = "low"
	TierMedium LevelTier = "medium"
	TierHigh   LevelTier = "high"
)

func Tier(level float64) LevelTier {
	switch {
	case level <= 0.3:
		return TierLow
	case level <= 0.7:
		return TierMedium
	}
	return TierHigh
}

// Loudness averages frequency bins and normalizes by the largest byte
// magnitude. The result is always in [0,1].
func Loudness(bins []uint8) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	v := float64(sum) / float64(len(bins)) / 255
	return min(max(v, 0), 1)
}

// LevelMonitor creates analysers on streams and samples them.
type LevelMonitor struct {
	mu   sync.Mutex
	live int
}

func NewLevelMonitor() *LevelMonitor {
	return &LevelMonitor{}
}

// Attach binds a new analyser to s. It fails if the stream is already
// released or already has an analyser.
func (m *LevelMonitor) Attach(s *Stream) (*Analyser, error) {
	a := newAnalyser(func() {
		m.mu.Lock()
		m.live--
		m.mu.Unlock()
	})
	if err := s.attach(a); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.live++
	m.mu.Unlock()
	return a, nil
}

func (m *LevelMonitor) SampleOnce(a *Analyser) float64 {
	if a == nil {
		return 0
	}
	return Loudness(a.ByteFrequencyData())
}

// Detach closes the analyser. Repeated calls are no-ops.
func (m *LevelMonitor) Detach(s *Stream, a *Analyser) {
	if a == nil {
		return
	}
	if s != nil {
		s.detach(a)
	}
	a.close()
}

// Live reports how many analysers are attached and not closed.
func (m *LevelMonitor) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}
