package arduino

import "fmt"

// ConnState is the connection supervisor state.
type ConnState int

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnOpen
	ConnClosing
)

func (s ConnState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnClosing:
		return "closing"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ConnState) UnmarshalText(text []byte) error {
	for c := ConnDisconnected; c <= ConnClosing; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("arduino: unknown connection state %q", text)
}

// connEdges lists legal transitions. Any state may move to Closing.
var connEdges = map[ConnState][]ConnState{
	ConnDisconnected: {ConnConnecting},
	ConnConnecting:   {ConnOpen, ConnDisconnected},
	ConnOpen:         {ConnDisconnected},
	ConnClosing:      {ConnConnecting, ConnDisconnected},
}

// CanTransition reports whether s may move to next.
func (s ConnState) CanTransition(next ConnState) bool {
	if next == ConnClosing {
		return true
	}
	for _, to := range connEdges[s] {
		if to == next {
			return true
		}
	}
	return false
}

// FlashState is the firmware flash controller state.
type FlashState int

const (
	FlashNone FlashState = iota
	FlashRequested
	FlashFlashing
)

func (s FlashState) String() string {
	switch s {
	case FlashNone:
		return "none"
	case FlashRequested:
		return "requested"
	case FlashFlashing:
		return "flashing"
	default:
		return fmt.Sprintf("FlashState(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s FlashState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *FlashState) UnmarshalText(text []byte) error {
	for f := FlashNone; f <= FlashFlashing; f++ {
		if f.String() == string(text) {
			*s = f
			return nil
		}
	}
	return fmt.Errorf("arduino: unknown flash state %q", text)
}

var flashEdges = map[FlashState][]FlashState{
	FlashNone:      {FlashRequested},
	FlashRequested: {FlashFlashing, FlashNone},
	FlashFlashing:  {FlashNone},
}

// CanTransition reports whether s may move to next.
func (s FlashState) CanTransition(next FlashState) bool {
	for _, to := range flashEdges[s] {
		if to == next {
			return true
		}
	}
	return false
}

// stateMachine holds a current value and rejects edges not in its table.
type stateMachine[S interface {
	comparable
	fmt.Stringer
	CanTransition(S) bool
}] struct {
	current S
}

func (m *stateMachine[S]) get() S { return m.current }

func (m *stateMachine[S]) to(next S) error {
	if !m.current.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.current, next)
	}
	m.current = next
	return nil
}
