package capture

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"echosketch/audio"
)

func newToneSession(t *testing.T, format string) (*audio.FakeContext, *Session) {
	t.Helper()
	ctx := audio.NewToneContext(44100, 440, false)
	return ctx, NewSession(ctx, SessionOptions{Format: format})
}

func TestSessionRecordsWebM(t *testing.T) {
	ctx, s := newToneSession(t, "")

	st, err := s.Acquire(audio.DefaultConstraints())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := s.StartEncoding(st); err != nil {
		t.Fatalf("StartEncoding: %v", err)
	}
	if !ctx.Feed(time.Second) {
		t.Fatal("Feed found no running capture")
	}

	art, err := s.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if art.MimeType != "audio/webm" || art.Filename != "recording.webm" {
		t.Errorf("got %s %s", art.MimeType, art.Filename)
	}
	if !bytes.HasPrefix(art.Data, []byte{0x1A, 0x45, 0xDF, 0xA3}) {
		t.Error("artifact is not an EBML document")
	}
	if art.SampleRate != 16000 || art.Channels != 1 {
		t.Errorf("format = %d Hz x%d, want 16000 Hz mono", art.SampleRate, art.Channels)
	}
	if d := art.Duration; d < 990*time.Millisecond || d > 1010*time.Millisecond {
		t.Errorf("Duration = %v, want ~1s", d)
	}
	if s.Live() != 0 || ctx.Live() != 0 {
		t.Errorf("stream still live after Finalize: session=%d device=%d", s.Live(), ctx.Live())
	}
}

func TestSessionRecordsFLAC(t *testing.T) {
	ctx, s := newToneSession(t, "flac")
	st, err := s.Acquire(audio.DefaultConstraints())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := s.StartEncoding(st); err != nil {
		t.Fatalf("StartEncoding: %v", err)
	}
	ctx.Feed(500 * time.Millisecond)
	art, err := s.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if art.MimeType != "audio/flac" || string(art.Data[:4]) != "fLaC" {
		t.Errorf("got %s with magic %q", art.MimeType, art.Data[:4])
	}
}

func TestSessionFinalizeWithoutEncoding(t *testing.T) {
	ctx, s := newToneSession(t, "")

	if _, err := s.Finalize(); !errors.Is(err, ErrNoActiveRecording) {
		t.Errorf("Finalize on fresh session = %v, want ErrNoActiveRecording", err)
	}

	if _, err := s.Acquire(audio.DefaultConstraints()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := s.Finalize(); !errors.Is(err, ErrNoActiveRecording) {
		t.Errorf("Finalize before StartEncoding = %v, want ErrNoActiveRecording", err)
	}
	if ctx.Live() != 0 {
		t.Error("Finalize must release the stream even without a recording")
	}
}

func TestSessionFinalizeEmptyFails(t *testing.T) {
	ctx, s := newToneSession(t, "")
	st, err := s.Acquire(audio.DefaultConstraints())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := s.StartEncoding(st); err != nil {
		t.Fatalf("StartEncoding: %v", err)
	}
	art, err := s.Finalize()
	if !errors.Is(err, ErrFinalizeFailed) {
		t.Fatalf("Finalize with no audio = %v, want ErrFinalizeFailed", err)
	}
	if len(art.Data) != 0 {
		t.Error("failed finalize returned bytes")
	}
	if ctx.Live() != 0 {
		t.Error("stream still live")
	}
}

func TestSessionSingleStream(t *testing.T) {
	ctx, s := newToneSession(t, "")
	if _, err := s.Acquire(audio.DefaultConstraints()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := s.Acquire(audio.DefaultConstraints()); !errors.Is(err, ErrStreamBusy) {
		t.Errorf("second Acquire = %v, want ErrStreamBusy", err)
	}
	if ctx.Opened() != 1 {
		t.Errorf("Opened = %d, want 1", ctx.Opened())
	}
	s.Release()
	s.Release()
	if s.Live() != 0 || ctx.Live() != 0 {
		t.Error("Release left the stream open")
	}
	if _, err := s.Acquire(audio.DefaultConstraints()); err != nil {
		t.Errorf("Acquire after Release: %v", err)
	}
	s.Release()
}

func TestSessionAcquireErrors(t *testing.T) {
	tests := []struct {
		name     string
		startErr error
		want     error
	}{
		{"permission", audio.ErrPermissionDenied, ErrPermissionDenied},
		{"unavailable", audio.ErrDeviceUnavailable, ErrDeviceUnavailable},
		{"unclassified", errors.New("boom"), ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, s := newToneSession(t, "")
			ctx.StartErr = tt.startErr
			st, err := s.Acquire(audio.DefaultConstraints())
			if !errors.Is(err, tt.want) {
				t.Fatalf("Acquire = %v, want %v", err, tt.want)
			}
			if st != nil || s.Live() != 0 || ctx.Live() != 0 {
				t.Error("failed Acquire left a stream behind")
			}
		})
	}
}

func TestStreamReleaseClosesAnalyser(t *testing.T) {
	ctx, s := newToneSession(t, "")
	m := NewLevelMonitor()
	st, err := s.Acquire(audio.DefaultConstraints())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	a, err := m.Attach(st)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if _, err := m.Attach(st); !errors.Is(err, ErrStreamBusy) {
		t.Errorf("second Attach = %v, want ErrStreamBusy", err)
	}
	ctx.Feed(100 * time.Millisecond)
	if m.SampleOnce(a) <= 0 {
		t.Error("tone produced zero level")
	}

	s.Release()
	if !a.Closed() || m.Live() != 0 {
		t.Error("releasing the stream must close its analyser")
	}
	m.Detach(st, a)
	if m.Live() != 0 {
		t.Errorf("Live = %d after Detach, want 0", m.Live())
	}
	if _, err := m.Attach(st); !errors.Is(err, ErrNoActiveRecording) {
		t.Errorf("Attach on released stream = %v", err)
	}
}
