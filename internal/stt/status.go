package stt

// Status is the session connection state.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusOpen
	StatusClosing
	StatusClosed
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// statusTransitions is the allowed transition table. StatusError is reachable
// from every non-terminal state; StatusClosed is terminal.
var statusTransitions = map[Status][]Status{
	StatusIdle:       {StatusConnecting, StatusClosing, StatusError},
	StatusConnecting: {StatusOpen, StatusClosing, StatusError},
	StatusOpen:       {StatusClosing, StatusError},
	StatusError:      {StatusConnecting, StatusClosing},
	StatusClosing:    {StatusClosed, StatusError},
	StatusClosed:     nil,
}

func canTransition(from, to Status) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
