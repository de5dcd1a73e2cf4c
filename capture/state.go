package capture

// State is the controller's position in the recording lifecycle.
type State int

const (
	Idle State = iota
	Acquiring
	Recording
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Acquiring:
		return "acquiring"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// InputMode selects between spoken and typed prompts. It is orthogonal to
// State; the controller only lets it change while Idle.
type InputMode int

const (
	Voice InputMode = iota
	Text
)

func (m InputMode) String() string {
	if m == Text {
		return "text"
	}
	return "voice"
}

// ParseInputMode accepts "voice" or "text".
func ParseInputMode(s string) (InputMode, bool) {
	switch s {
	case "voice":
		return Voice, true
	case "text":
		return Text, true
	}
	return Voice, false
}
