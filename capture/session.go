package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"echosketch/audio"
	"echosketch/encoder"
)

// SessionOptions select the input device and the artifact format.
type SessionOptions struct {
	Device *audio.DeviceInfo // nil for the system default
	Format string            // encoder format; empty for WebM
}

// Session owns the microphone stream and the encoder for one recording at
// a time.
type Session struct {
	ctx  audio.Context
	opts SessionOptions

	mu        sync.Mutex
	acquiring bool
	stream    *Stream
	rec       *recorder
}

func NewSession(ctx audio.Context, opts SessionOptions) *Session {
	return &Session{ctx: ctx, opts: opts}
}

// Acquire opens the microphone with the given constraints. Failures are
// reported as ErrPermissionDenied or ErrDeviceUnavailable.
func (s *Session) Acquire(c audio.Constraints) (*Stream, error) {
	s.mu.Lock()
	if s.stream != nil || s.acquiring {
		s.mu.Unlock()
		return nil, ErrStreamBusy
	}
	s.acquiring = true
	s.mu.Unlock()

	st, err := s.open(c.Config())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquiring = false
	if err != nil {
		return nil, err
	}
	st.onRelease = func() {
		s.mu.Lock()
		if s.stream == st {
			s.stream = nil
		}
		s.mu.Unlock()
	}
	s.stream = st
	return st, nil
}

func (s *Session) open(cfg audio.CaptureConfig) (*Stream, error) {
	dev, err := s.ctx.NewCapture(s.opts.Device, cfg)
	if err != nil {
		return nil, acquireError(err)
	}
	st := newStream(dev, cfg)
	dev.SetCallback(st.onData)
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		return nil, acquireError(err)
	}
	return st, nil
}

func acquireError(err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
}

// StartEncoding routes the stream's audio into a new encoder.
func (s *Session) StartEncoding(st *Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st == nil || st != s.stream || st.Released() {
		return ErrNoActiveRecording
	}
	if s.rec != nil {
		return fmt.Errorf("encoding already started")
	}
	enc, err := encoder.New(s.opts.Format)
	if err != nil {
		return fmt.Errorf("creating encoder: %w", err)
	}
	cfg := st.Config()
	s.rec = newRecorder(enc, cfg.SampleRate, cfg.Channels)
	st.setSink(s.rec.feed)
	return nil
}

// Finalize stops the encoder, releases the stream and returns the encoded
// recording. It never returns an empty artifact.
func (s *Session) Finalize() (Artifact, error) {
	s.mu.Lock()
	rec, st := s.rec, s.stream
	s.rec = nil
	s.mu.Unlock()

	if st != nil {
		st.release()
	}
	if rec == nil {
		return Artifact{}, ErrNoActiveRecording
	}

	data, frames, err := rec.finish()
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", ErrFinalizeFailed, err)
	}
	if frames == 0 || len(data) == 0 {
		return Artifact{}, fmt.Errorf("%w: no audio captured", ErrFinalizeFailed)
	}
	return Artifact{
		Data:       data,
		MimeType:   rec.enc.MimeType(),
		Filename:   "recording." + rec.enc.Extension(),
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
		Duration:   encoder.Duration(frames),
	}, nil
}

// Release discards any recording in progress and gives the device back.
func (s *Session) Release() {
	s.mu.Lock()
	rec, st := s.rec, s.stream
	s.rec = nil
	s.mu.Unlock()

	if st != nil {
		st.release()
	}
	if rec != nil {
		rec.finish()
	}
}

// Live reports the number of open streams, 0 or 1.
func (s *Session) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return 1
	}
	return 0
}

// recorder converts device PCM to encoder blocks and encodes them on a
// background goroutine.
type recorder struct {
	enc        encoder.Encoder
	resampler  *encoder.Resampler
	channels   int
	blockChan  chan []int16
	encodeDone chan struct{}
	encodeErr  error

	bufMu     sync.Mutex
	sampleBuf []int16
	stopped   bool
}

func newRecorder(enc encoder.Encoder, sampleRate, channels uint32) *recorder {
	r := &recorder{
		enc:        enc,
		resampler:  encoder.NewResampler(sampleRate, channels),
		channels:   int(channels),
		blockChan:  make(chan []int16, 64),
		encodeDone: make(chan struct{}),
	}
	go func() {
		defer close(r.encodeDone)
		for block := range r.blockChan {
			start := time.Now()
			if err := r.enc.EncodeBlock(block); err != nil && r.encodeErr == nil {
				r.encodeErr = err
			}
			r.enc.AddEncodeTime(time.Since(start))
		}
	}()
	return r
}

func (r *recorder) feed(pcm []byte) {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	r.bufMu.Lock()
	defer r.bufMu.Unlock()
	if r.stopped {
		return
	}
	r.sampleBuf = append(r.sampleBuf, r.resampler.Process(samples)...)
	for len(r.sampleBuf) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, r.sampleBuf[:encoder.BlockSize])
		r.sampleBuf = r.sampleBuf[encoder.BlockSize:]
		r.blockChan <- block
	}
}

// finish flushes the partial block and closes the encoder.
func (r *recorder) finish() ([]byte, uint64, error) {
	r.bufMu.Lock()
	if r.stopped {
		r.bufMu.Unlock()
		return nil, 0, fmt.Errorf("recorder already finished")
	}
	r.stopped = true
	if len(r.sampleBuf) > 0 {
		partial := make([]int16, len(r.sampleBuf))
		copy(partial, r.sampleBuf)
		r.sampleBuf = nil
		r.blockChan <- partial
	}
	close(r.blockChan)
	r.bufMu.Unlock()

	<-r.encodeDone
	closeErr := r.enc.Close()
	if r.encodeErr != nil {
		return nil, 0, r.encodeErr
	}
	if closeErr != nil {
		return nil, 0, closeErr
	}
	return r.enc.Bytes(), r.enc.TotalFrames(), nil
}
