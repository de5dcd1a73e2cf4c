package encoder

// Resampler downmixes interleaved int16 PCM to mono and converts it to
// SampleRate by linear interpolation. It keeps state between calls so
// consecutive chunks join without clicks.
type Resampler struct {
	inRate   uint32
	channels int
	step     float64 // input frames per output frame
	pos      float64 // position of the next output frame, relative to prev
	prev     float64
	primed   bool
}

func NewResampler(inRate, channels uint32) *Resampler {
	if channels == 0 {
		channels = 1
	}
	if inRate == 0 {
		inRate = SampleRate
	}
	return &Resampler{
		inRate:   inRate,
		channels: int(channels),
		step:     float64(inRate) / SampleRate,
	}
}

// Process converts one chunk of interleaved samples.
func (r *Resampler) Process(in []int16) []int16 {
	frames := len(in) / r.channels
	if frames == 0 {
		return nil
	}
	mono := make([]float64, frames)
	for i := range frames {
		var sum float64
		for c := range r.channels {
			sum += float64(in[i*r.channels+c])
		}
		mono[i] = sum / float64(r.channels)
	}

	if r.inRate == SampleRate {
		out := make([]int16, frames)
		for i, v := range mono {
			out[i] = clamp16(v)
		}
		return out
	}

	if !r.primed {
		r.prev = mono[0]
		r.primed = true
	}

	// Sample k of this chunk sits at position k+1 relative to prev.
	out := make([]int16, 0, int(float64(frames)/r.step)+1)
	for r.pos <= float64(frames) {
		idx := int(r.pos)
		frac := r.pos - float64(idx)
		a := r.prev
		if idx > 0 {
			a = mono[idx-1]
		}
		b := a
		if idx < frames {
			b = mono[idx]
		}
		out = append(out, clamp16(a+(b-a)*frac))
		r.pos += r.step
	}
	r.pos -= float64(frames)
	r.prev = mono[frames-1]
	return out
}

func clamp16(v float64) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
