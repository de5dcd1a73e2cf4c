package audio

import (
	"errors"
	"strings"
)

var (
	// ErrPermissionDenied is returned when the platform refuses microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable is returned when no usable input device can be opened.
	ErrDeviceUnavailable = errors.New("microphone unavailable")
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DataCallback receives interleaved little-endian int16 PCM.
type DataCallback func(data []byte, frameCount uint32)

// Constraints describe the microphone stream requested from the host.
// EchoCancellation and NoiseSuppression are requests; backends that cannot
// honour them record unprocessed audio.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       uint32
	Channels         uint32
}

// DefaultConstraints is the stream requested for voice capture.
func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		SampleRate:       44100,
		Channels:         1,
	}
}

type CaptureConfig struct {
	SampleRate       uint32
	Channels         uint32
	EchoCancellation bool
	NoiseSuppression bool
}

// Config converts constraints into the capture configuration for a device.
func (c Constraints) Config() CaptureConfig {
	cfg := CaptureConfig{
		SampleRate:       c.SampleRate,
		Channels:         c.Channels,
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	return cfg
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// classify maps a platform error onto ErrPermissionDenied or
// ErrDeviceUnavailable, keeping the original error in the chain.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	lower := strings.ToLower(err.Error())
	for _, kw := range []string{"permission", "denied", "access", "not authorized", "unauthorized"} {
		if strings.Contains(lower, kw) {
			return &platformError{op: op, kind: ErrPermissionDenied, err: err}
		}
	}
	return &platformError{op: op, kind: ErrDeviceUnavailable, err: err}
}

type platformError struct {
	op   string
	kind error
	err  error
}

func (e *platformError) Error() string {
	return e.op + ": " + e.kind.Error() + ": " + e.err.Error()
}

func (e *platformError) Unwrap() []error { return []error{e.kind, e.err} }
