package capture

// Events receives lifecycle notifications from the controller. Methods are
// called without the controller's lock held, possibly from a background
// goroutine, and must not block for long.
type Events interface {
	RecordingStarted()
	RecordingStopped(elapsed int)
	Finalized(a Artifact)
	Generated(g Generation)
	Failed(err error)
	Rejected(reason string)
}

// NopEvents ignores every notification. Embed it to implement a subset.
type NopEvents struct{}

func (NopEvents) RecordingStarted()    {}
func (NopEvents) RecordingStopped(int) {}
func (NopEvents) Finalized(Artifact)   {}
func (NopEvents) Generated(Generation) {}
func (NopEvents) Failed(error)         {}
func (NopEvents) Rejected(string)      {}
