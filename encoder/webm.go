package encoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
)

// WebMEncoder muxes 16-bit PCM into a single-track WebM stream, one
// SimpleBlock per encoded block.
type WebMEncoder struct {
	buf         bytes.Buffer
	sink        *muxerSink
	track       webm.BlockWriteCloser
	totalFrames uint64
	encodeTime  time.Duration
	closed      bool
	mu          sync.Mutex
}

// muxerSink is the muxer's output. The muxer writes from its own goroutine
// and closes the sink once every track is closed.
type muxerSink struct {
	buf  *bytes.Buffer
	done chan struct{}
	once sync.Once
}

func (s *muxerSink) Write(p []byte) (int, error) { return s.buf.Write(p) }

func (s *muxerSink) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

const muxerFlushTimeout = 2 * time.Second

func NewWebM() (*WebMEncoder, error) {
	e := &WebMEncoder{}
	e.sink = &muxerSink{buf: &e.buf, done: make(chan struct{})}
	writers, err := webm.NewSimpleBlockWriter(e.sink, []webm.TrackEntry{{
		Name:        "voice",
		TrackNumber: 1,
		TrackUID:    1,
		CodecID:     "A_PCM/INT/LIT",
		TrackType:   2, // audio
		Audio: &webm.Audio{
			SamplingFrequency: SampleRate,
			Channels:          Channels,
		},
	}})
	if err != nil {
		return nil, fmt.Errorf("creating webm writer: %w", err)
	}
	e.track = writers[0]
	return e, nil
}

func (e *WebMEncoder) EncodeBlock(block []int16) error {
	if len(block) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("webm encoder closed")
	}

	payload := make([]byte, len(block)*2)
	for i, s := range block {
		binary.LittleEndian.PutUint16(payload[i*2:], uint16(s))
	}
	ts := int64(e.totalFrames * 1000 / SampleRate)
	if _, err := e.track.Write(true, ts, payload); err != nil {
		return fmt.Errorf("writing webm block: %w", err)
	}
	e.totalFrames += uint64(len(block))
	return nil
}

func (e *WebMEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.track.Close(); err != nil {
		return fmt.Errorf("closing webm writer: %w", err)
	}
	select {
	case <-e.sink.done:
	case <-time.After(muxerFlushTimeout):
		return fmt.Errorf("webm muxer did not flush within %s", muxerFlushTimeout)
	}
	return nil
}

// Bytes is only complete after Close.
func (e *WebMEncoder) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buf.Bytes()
}

func (e *WebMEncoder) MimeType() string  { return "audio/webm" }
func (e *WebMEncoder) Extension() string { return "webm" }

func (e *WebMEncoder) TotalFrames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFrames
}

func (e *WebMEncoder) AddEncodeTime(d time.Duration) {
	e.mu.Lock()
	e.encodeTime += d
	e.mu.Unlock()
}

func (e *WebMEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}
