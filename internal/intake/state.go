// Package intake runs the multi-turn report conversation: one state machine
// per user identity, driven by chat events and the transcription and
// extraction gateways.
package intake

import (
	"fmt"
	"slices"
)

// State is a session's position in the conversation.
type State int

const (
	Idle State = iota
	Processing
	AwaitingClarification
	AwaitingConfirmation
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Processing:
		return "Processing"
	case AwaitingClarification:
		return "AwaitingClarification"
	case AwaitingConfirmation:
		return "AwaitingConfirmation"
	case Closed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions is the complete state graph. Processing may fall back to the
// state it came from when a gateway call fails.
var transitions = map[State][]State{
	Idle:                  {Processing, Closed},
	Processing:            {AwaitingClarification, AwaitingConfirmation, Idle},
	AwaitingClarification: {Processing, Closed},
	AwaitingConfirmation:  {AwaitingClarification, Closed},
	Closed:                nil,
}

// CanTransition reports whether from -> to is an edge of the graph.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}
