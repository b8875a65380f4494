package session

import "fmt"

// Kind enumerates the connection state machine's phases.
type Kind int

const (
	// Idle means no client exists and no connection attempt is in flight.
	Idle Kind = iota
	// Connecting means a fall-through attempt is underway against the
	// candidate at Index.
	Connecting
	// Connected means URI's client is the active client.
	Connected
	// Reconnecting means a fall-through attempt, triggered by a lost
	// connection or a swap, is underway against the candidate at Index;
	// URI names the broker that was active before the attempt began.
	Reconnecting
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// State is a point-in-time snapshot of the connection state machine.
type State struct {
	Kind  Kind
	URI   string
	Index int
}

func (s State) String() string {
	switch s.Kind {
	case Connecting, Reconnecting:
		return fmt.Sprintf("%s(%d)", s.Kind, s.Index)
	case Connected:
		return fmt.Sprintf("%s(%s)", s.Kind, s.URI)
	default:
		return s.Kind.String()
	}
}
