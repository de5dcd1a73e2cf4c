package capture

import (
	"errors"

	"echosketch/audio"
)

// Acquisition errors are the audio package's, so errors.Is works on
// whatever the platform backend returned.
var (
	ErrPermissionDenied  = audio.ErrPermissionDenied
	ErrDeviceUnavailable = audio.ErrDeviceUnavailable
)

var (
	ErrNoActiveRecording = errors.New("no active recording")
	ErrFinalizeFailed    = errors.New("finalize failed")
	ErrSubmissionFailed  = errors.New("submission failed")
	ErrStartFailed       = errors.New("could not start recording")

	ErrNotRecording       = errors.New("not currently recording")
	ErrAlreadyActive      = errors.New("capture already active")
	ErrBusy               = errors.New("a request is already in flight")
	ErrTextMode           = errors.New("voice capture is disabled in text mode")
	ErrModeSwitchRejected = errors.New("stop recording before switching modes")
	ErrEmptyText          = errors.New("prompt is empty")
	ErrNoBackend          = errors.New("no backend configured")
	ErrStreamBusy         = errors.New("a microphone stream is already open")
	ErrClosed             = errors.New("controller closed")
)
