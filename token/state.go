package token

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a refresh token row.
//
//	Active --use--> Rotated
//	Active --expire--> Expired
//	Active --revoke--> Revoked
//
// Every non-Active state is terminal.
type State string

const (
	StateActive  State = "active"
	StateRotated State = "rotated"
	StateExpired State = "expired"
	StateRevoked State = "revoked"
)

// Event drives a transition.
type Event string

const (
	EventUse    Event = "use"
	EventExpire Event = "expire"
	EventRevoke Event = "revoke"
)

// ErrTerminal is returned for any event applied to a dead token.
var ErrTerminal = errors.New("token: state is terminal")

// Terminal reports whether s admits no further transitions.
func (s State) Terminal() bool { return s != StateActive }

// Valid reports whether s is one of the four known states.
func (s State) Valid() bool {
	switch s {
	case StateActive, StateRotated, StateExpired, StateRevoked:
		return true
	}
	return false
}

// Transition is the single place refresh token state changes are decided.
// Both stores call it before writing.
func Transition(from State, ev Event) (State, error) {
	if from != StateActive {
		return from, fmt.Errorf("%w: %s on %s", ErrTerminal, ev, from)
	}
	switch ev {
	case EventUse:
		return StateRotated, nil
	case EventExpire:
		return StateExpired, nil
	case EventRevoke:
		return StateRevoked, nil
	default:
		return from, fmt.Errorf("token: unknown event %q", ev)
	}
}
