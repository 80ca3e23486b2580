package transfer

import "fmt"

// State is a worker's protocol state.
type State uint32

const (
	StateIdle State = iota
	// Server role
	StateAwaitingRequest
	StateServingList
	StateServingFile
	// Client role
	StateConnecting
	StateAwaitingReply
	StateReceiving
	// Terminal
	StateCompleted
	StateAborted
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingRequest:
		return "awaiting_request"
	case StateServingList:
		return "serving_list"
	case StateServingFile:
		return "serving_file"
	case StateConnecting:
		return "connecting"
	case StateAwaitingReply:
		return "awaiting_reply"
	case StateReceiving:
		return "receiving"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Terminal reports whether the worker has finished.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateError
}
