package lib

// Phase gates which listener may act on an incoming segment.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseAwaitingSecondHandshake
	PhaseAwaitingTeardownAck
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "None"
	case PhaseAwaitingSecondHandshake:
		return "AwaitingSecondHandshake"
	case PhaseAwaitingTeardownAck:
		return "AwaitingTeardownAck"
	default:
		return "Unknown"
	}
}
