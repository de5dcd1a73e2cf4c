package encoder

import (
	"fmt"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

const (
	FormatWebM = "webm"
	FormatFLAC = "flac"
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	MimeType() string
	Extension() string
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
}

// New returns an encoder for the named format. An empty format selects WebM.
func New(format string) (Encoder, error) {
	switch format {
	case "", FormatWebM:
		return NewWebM()
	case FormatFLAC:
		return NewFlac()
	default:
		return nil, ValidFormat(format)
	}
}

// ValidFormat reports whether New accepts format.
func ValidFormat(format string) error {
	switch format {
	case "", FormatWebM, FormatFLAC:
		return nil
	}
	return fmt.Errorf("unknown format %q (want %s or %s)", format, FormatWebM, FormatFLAC)
}

// Duration is the playback length of frames at SampleRate.
func Duration(frames uint64) time.Duration {
	return time.Duration(frames) * time.Second / SampleRate
}
