// Package beep plays the short cues that mark recording start, stop and
// failure.
package beep

import (
	"math"
	"sync/atomic"
)

type Cue int

const (
	Start Cue = iota
	Stop
	Error
)

const sampleRate = 44100

type tone struct {
	freq     float64
	duration float64 // seconds per beep
	volume   float64
	decay    float64
	repeat   int     // number of beeps
	gap      float64 // seconds between beeps
}

var tones = map[Cue]tone{
	// high, snappy tick
	Start: {freq: 1200, duration: 0.2, volume: 0.5, decay: 60, repeat: 1},
	// slightly lower, longer tail
	Stop: {freq: 900, duration: 0.2, volume: 0.5, decay: 40, repeat: 1},
	// low double beep
	Error: {freq: 350, duration: 0.08, volume: 0.6, decay: 30, repeat: 2, gap: 0.05},
}

var disabled atomic.Bool

// Disable silences every cue for the rest of the process.
func Disable() { disabled.Store(true) }

func Enabled() bool { return !disabled.Load() }

// Play starts the cue in the background. It never blocks on the audio
// device and ignores playback errors.
func Play(c Cue) {
	if disabled.Load() {
		return
	}
	if _, ok := tones[c]; !ok {
		return
	}
	go play(c)
}

// Samples renders the cue as interleaved 16-bit PCM at 44.1 kHz.
func Samples(c Cue, channels int) []int16 {
	t, ok := tones[c]
	if !ok || channels < 1 {
		return nil
	}
	n := int(sampleRate * t.duration)
	gap := int(sampleRate * t.gap)
	out := make([]int16, 0, (n*t.repeat+gap*(t.repeat-1))*channels)
	for r := range t.repeat {
		if r > 0 {
			out = append(out, make([]int16, gap*channels)...)
		}
		for i := range n {
			ts := float64(i) / sampleRate
			envelope := math.Exp(-ts * t.decay)
			s := int16(math.Sin(2*math.Pi*t.freq*ts) * math.MaxInt16 * t.volume * envelope)
			for range channels {
				out = append(out, s)
			}
		}
	}
	return out
}
