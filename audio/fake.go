package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext is a capture platform backed by a WAV file or a generated
// tone. In non-realtime mode nothing is delivered until Feed is called,
// which pushes audio synchronously into the started capture.
type FakeContext struct {
	// StartErr, when set, is returned by every capture's Start.
	StartErr error
	// Gate, when set, blocks Start until it is closed or receives.
	Gate chan struct{}

	pcm        []byte
	sampleRate uint32
	tone       float64
	realtime   bool

	mu      sync.Mutex
	live    int
	opened  int
	current *FakeCapture
}

// NewFakeContext loads a 16-bit mono WAV file.
func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid WAV file", wavPath)
	}
	if d.NumChans != 1 || d.BitDepth != 16 {
		return nil, fmt.Errorf("%s: need 16-bit mono, got %d-bit %d channels", wavPath, d.BitDepth, d.NumChans)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", wavPath, err)
	}
	pcm := make([]byte, len(buf.Data)*fakeBytesPerFrame)
	for i, v := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}
	return &FakeContext{pcm: pcm, sampleRate: d.SampleRate, realtime: realtime}, nil
}

// NewToneContext generates a continuous sine at freq Hz.
func NewToneContext(sampleRate uint32, freq float64, realtime bool) *FakeContext {
	return &FakeContext{sampleRate: sampleRate, tone: freq, realtime: realtime}
}

// SampleRate is the rate of the audio this context delivers.
func (f *FakeContext) SampleRate() uint32 { return f.sampleRate }

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake microphone"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(device *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	name := "fake microphone"
	if device != nil {
		name = device.Name
	}
	return &FakeCapture{ctx: f, name: name}, nil
}

// Live reports how many captures are started and not yet stopped.
func (f *FakeContext) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

// Opened reports how many captures were successfully started in total.
func (f *FakeContext) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// Feed delivers d worth of audio to the currently started capture.
// It returns false if no capture is running.
func (f *FakeContext) Feed(d time.Duration) bool {
	f.mu.Lock()
	c := f.current
	f.mu.Unlock()
	if c == nil {
		return false
	}
	frames := int(d * time.Duration(f.sampleRate) / time.Second)
	for frames > 0 {
		n := min(frames, fakeFrameSize)
		if !c.deliver(n) {
			return false
		}
		frames -= n
	}
	return true
}

func (f *FakeContext) started(c *FakeCapture) {
	f.mu.Lock()
	f.live++
	f.opened++
	f.current = c
	f.mu.Unlock()
}

func (f *FakeContext) stopped(c *FakeCapture) {
	f.mu.Lock()
	f.live--
	if f.current == c {
		f.current = nil
	}
	f.mu.Unlock()
}

type FakeCapture struct {
	ctx  *FakeContext
	name string

	mu       sync.Mutex
	cb       DataCallback
	pos      int // frames delivered so far
	running  bool
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (c *FakeCapture) SetCallback(cb DataCallback) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

func (c *FakeCapture) ClearCallback() {
	c.mu.Lock()
	c.cb = nil
	c.mu.Unlock()
}

func (c *FakeCapture) DeviceName() string { return c.name }

// chunk produces the next n frames of source audio. Past the end of a WAV
// source it produces silence.
func (c *FakeCapture) chunk(n int) []byte {
	buf := make([]byte, n*fakeBytesPerFrame)
	f := c.ctx
	if f.tone > 0 {
		for i := range n {
			t := float64(c.pos+i) / float64(f.sampleRate)
			s := int16(math.Sin(2*math.Pi*f.tone*t) * 0.5 * math.MaxInt16)
			binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
		}
	} else {
		start := c.pos * fakeBytesPerFrame
		if start < len(f.pcm) {
			copy(buf, f.pcm[start:])
		}
	}
	c.pos += n
	return buf
}

func (c *FakeCapture) deliver(n int) bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return false
	}
	cb := c.cb
	data := c.chunk(n)
	c.mu.Unlock()
	if cb != nil {
		cb(data, uint32(n))
	}
	return true
}

func (c *FakeCapture) Start() error {
	f := c.ctx
	if f.Gate != nil {
		<-f.Gate
	}
	if f.StartErr != nil {
		return f.StartErr
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.feedDone = make(chan struct{})
	stopCh, feedDone := c.stopCh, c.feedDone
	c.mu.Unlock()
	f.started(c)

	if !f.realtime {
		close(feedDone)
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(f.sampleRate)
	go func() {
		defer close(feedDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				if !c.deliver(fakeFrameSize) {
					return
				}
			}
		}
	}()
	return nil
}

func (c *FakeCapture) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	feedDone := c.feedDone
	c.mu.Unlock()
	<-feedDone
	c.ctx.stopped(c)
}

func (c *FakeCapture) Close() { c.Stop() }
