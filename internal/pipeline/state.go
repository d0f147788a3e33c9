package pipeline

import (
	"fmt"
	"log/slog"
)

// State is a step of handling one message.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateTranslating
	StateSynthesizing
	StateAssembling
	StateDelivering
	StateFailed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateTranslating:
		return "translating"
	case StateSynthesizing:
		return "synthesizing"
	case StateAssembling:
		return "assembling"
	case StateDelivering:
		return "delivering"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the legal successors of every state. Failed is reachable
// from every working state.
var transitions = map[State][]State{
	StateIdle:         {StateValidating},
	StateValidating:   {StateTranslating, StateDelivering, StateFailed},
	StateTranslating:  {StateSynthesizing, StateFailed},
	StateSynthesizing: {StateAssembling, StateFailed},
	StateAssembling:   {StateDelivering, StateFailed},
	StateDelivering:   {StateIdle, StateFailed},
	StateFailed:       {StateIdle},
}

// CanTransition reports whether to is a legal successor of s.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition describes one state change of a request.
type Transition struct {
	SessionID string
	MessageID string
	From      State
	To        State
	// Err is set on transitions into StateFailed.
	Err error
}

// Hook observes transitions. It runs synchronously on the request goroutine
// and must not block.
type Hook func(Transition)

// machine tracks the state of one request.
type machine struct {
	sessionID string
	messageID string
	state     State
	hook      Hook
	log       *slog.Logger
}

// to moves the machine to next. An illegal move is a programming error and
// is returned as an internal failure.
func (m *machine) to(next State) error {
	if !m.state.CanTransition(next) {
		return fmt.Errorf("%w: illegal transition %s -> %s", ErrInternal, m.state, next)
	}
	m.emit(next, nil)
	return nil
}

// fail moves the machine to StateFailed from any working state.
func (m *machine) fail(err error) {
	if m.state == StateFailed || m.state == StateIdle {
		return
	}
	m.emit(StateFailed, err)
}

// reset returns the machine to StateIdle after delivery or failure.
func (m *machine) reset() {
	if m.state == StateIdle {
		return
	}
	m.emit(StateIdle, nil)
}

func (m *machine) emit(next State, err error) {
	t := Transition{SessionID: m.sessionID, MessageID: m.messageID, From: m.state, To: next, Err: err}
	m.state = next
	m.log.Debug("pipeline: transition", "from", t.From, "to", t.To)
	if m.hook != nil {
		m.hook(t)
	}
}
