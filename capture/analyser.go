package capture

import (
	"encoding/binary"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Analyser parameters, matching a browser AnalyserNode with fftSize 256.
const (
	FFTSize     = 256
	BinCount    = FFTSize / 2
	Smoothing   = 0.8
	MinDecibels = -100.0
	MaxDecibels = -30.0
)

// Analyser is a frequency-domain view of a live stream. It keeps the last
// FFTSize mono samples and turns them into byte-scaled magnitudes on demand.
type Analyser struct {
	mu       sync.Mutex
	ring     [FFTSize]float64
	pos      int
	fft      *fourier.FFT
	coeffs   []complex128
	smoothed [BinCount]float64
	closed   bool

	closeOnce sync.Once
	onClose   func()
}

func newAnalyser(onClose func()) *Analyser {
	return &Analyser{
		fft:     fourier.NewFFT(FFTSize),
		coeffs:  make([]complex128, FFTSize/2+1),
		onClose: onClose,
	}
}

// write appends interleaved little-endian int16 PCM, downmixed to mono.
func (a *Analyser) write(pcm []byte, channels int) {
	if channels < 1 {
		channels = 1
	}
	stride := 2 * channels
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	for i := 0; i+stride <= len(pcm); i += stride {
		var sum float64
		for c := range channels {
			sum += float64(int16(binary.LittleEndian.Uint16(pcm[i+2*c:])))
		}
		a.ring[a.pos] = sum / float64(channels) / 32768
		a.pos = (a.pos + 1) % FFTSize
	}
}

// ByteFrequencyData returns BinCount magnitudes scaled to 0..255 between
// MinDecibels and MaxDecibels, with time smoothing applied.
func (a *Analyser) ByteFrequencyData() []uint8 {
	out := make([]uint8, BinCount)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return out
	}

	frame := make([]float64, FFTSize)
	for i := range frame {
		frame[i] = a.ring[(a.pos+i)%FFTSize]
	}
	window.Blackman(frame)
	a.coeffs = a.fft.Coefficients(a.coeffs, frame)

	for k := range BinCount {
		mag := cmplx.Abs(a.coeffs[k]) / FFTSize
		a.smoothed[k] = Smoothing*a.smoothed[k] + (1-Smoothing)*mag
		out[k] = magnitudeToByte(a.smoothed[k])
	}
	return out
}

func magnitudeToByte(m float64) uint8 {
	if m <= 0 {
		return 0
	}
	db := 20 * math.Log10(m)
	v := 255 * (db - MinDecibels) / (MaxDecibels - MinDecibels)
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}

func (a *Analyser) close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		if a.onClose != nil {
			a.onClose()
		}
	})
}

// Closed reports whether the analyser has been detached or its stream released.
func (a *Analyser) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
