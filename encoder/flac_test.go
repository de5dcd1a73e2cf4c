package encoder

import (
	"math"
	"testing"
)

func sineBlock(n int, freq float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(math.Sin(2*math.Pi*freq*float64(i)/SampleRate) * 10000)
	}
	return out
}

func TestFlacEncoder(t *testing.T) {
	samples := sineBlock(SampleRate, 440)

	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}

	var totalFed uint64
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		block := samples[i:end]
		if err := enc.EncodeBlock(block); err != nil {
			t.Fatalf("EncodeBlock at offset %d: %v", i, err)
		}
		totalFed += uint64(len(block))
	}

	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if enc.TotalFrames() != totalFed {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), totalFed)
	}

	data := enc.Bytes()
	if len(data) < 4 || string(data[:4]) != "fLaC" {
		t.Fatal("output does not start with FLAC magic")
	}
	if enc.MimeType() != "audio/flac" {
		t.Errorf("MimeType = %q", enc.MimeType())
	}
}

func TestFlacEncoderEmpty(t *testing.T) {
	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close on empty encoder: %v", err)
	}
	if enc.TotalFrames() != 0 {
		t.Errorf("TotalFrames = %d, want 0", enc.TotalFrames())
	}
	if len(enc.Bytes()) == 0 {
		t.Error("expected non-empty FLAC output (at least header)")
	}
}

func TestFlacEncoderPartialBlock(t *testing.T) {
	enc, err := NewFlac()
	if err != nil {
		t.Fatalf("NewFlac: %v", err)
	}

	partial := make([]int16, BlockSize/4)
	for i := range partial {
		partial[i] = int16(i % 1000)
	}

	if err := enc.EncodeBlock(partial); err != nil {
		t.Fatalf("EncodeBlock partial: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if enc.TotalFrames() != uint64(len(partial)) {
		t.Errorf("TotalFrames = %d, want %d", enc.TotalFrames(), len(partial))
	}
	if err := enc.EncodeBlock(partial); err == nil {
		t.Error("EncodeBlock after Close should fail")
	}
}
