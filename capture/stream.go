package capture

import (
	"sync"

	"echosketch/audio"
)

// Stream owns an open capture device. PCM delivered by the device fans out
// to the attached analyser and to the encoder sink.
type Stream struct {
	dev    audio.CaptureDevice
	config audio.CaptureConfig

	mu       sync.Mutex
	analyser *Analyser
	sink     func(pcm []byte)
	released bool

	onRelease func()
}

func newStream(dev audio.CaptureDevice, config audio.CaptureConfig) *Stream {
	return &Stream{dev: dev, config: config}
}

func (s *Stream) DeviceName() string { return s.dev.DeviceName() }

func (s *Stream) Config() audio.CaptureConfig { return s.config }

func (s *Stream) onData(pcm []byte, _ uint32) {
	s.mu.Lock()
	a, sink := s.analyser, s.sink
	s.mu.Unlock()
	if a != nil {
		a.write(pcm, int(s.config.Channels))
	}
	if sink != nil {
		sink(pcm)
	}
}

func (s *Stream) attach(a *Analyser) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrNoActiveRecording
	}
	if s.analyser != nil {
		return ErrStreamBusy
	}
	s.analyser = a
	return nil
}

func (s *Stream) detach(a *Analyser) {
	s.mu.Lock()
	if s.analyser == a {
		s.analyser = nil
	}
	s.mu.Unlock()
}

func (s *Stream) setSink(fn func(pcm []byte)) {
	s.mu.Lock()
	s.sink = fn
	s.mu.Unlock()
}

// Released reports whether the device has been given back.
func (s *Stream) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// release stops the device and closes any analyser still attached.
// Only the first call has an effect.
func (s *Stream) release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	a := s.analyser
	s.analyser = nil
	s.sink = nil
	s.mu.Unlock()

	s.dev.Stop()
	s.dev.ClearCallback()
	s.dev.Close()
	if a != nil {
		a.close()
	}
	if s.onRelease != nil {
		s.onRelease()
	}
}
