package pipeline

import (
	"errors"
	"log/slog"
	"testing"
)

func TestState_CanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateValidating, true},
		{StateIdle, StateTranslating, false},
		{StateValidating, StateTranslating, true},
		{StateValidating, StateDelivering, true},
		{StateTranslating, StateSynthesizing, true},
		{StateTranslating, StateDelivering, false},
		{StateSynthesizing, StateAssembling, true},
		{StateAssembling, StateDelivering, true},
		{StateDelivering, StateIdle, true},
		{StateFailed, StateIdle, true},
		{StateFailed, StateValidating, false},
		{StateIdle, StateFailed, false},
	}
	for _, tc := range tests {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
	for _, s := range []State{StateValidating, StateTranslating, StateSynthesizing, StateAssembling, StateDelivering} {
		if !s.CanTransition(StateFailed) {
			t.Errorf("%s cannot fail", s)
		}
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	if StateSynthesizing.String() != "synthesizing" || State(42).String() != "state(42)" {
		t.Errorf("unexpected names: %s, %s", StateSynthesizing, State(42))
	}
}

func TestMachine_IllegalTransitionIsInternal(t *testing.T) {
	t.Parallel()
	var seen []Transition
	m := &machine{sessionID: "s", log: slog.Default(), hook: func(tr Transition) { seen = append(seen, tr) }}

	if err := m.to(StateDelivering); !errors.Is(err, ErrInternal) {
		t.Fatalf("idle -> delivering err = %v, want ErrInternal", err)
	}
	if len(seen) != 0 || m.state != StateIdle {
		t.Errorf("illegal transition changed state: %v / %v", m.state, seen)
	}

	boom := errors.New("boom")
	_ = m.to(StateValidating)
	m.fail(boom)
	m.fail(boom)
	m.reset()
	if len(seen) != 3 {
		t.Fatalf("transitions = %d, want 3", len(seen))
	}
	if seen[1].To != StateFailed || !errors.Is(seen[1].Err, boom) || seen[1].From != StateValidating {
		t.Errorf("failure transition = %+v", seen[1])
	}
	if m.state != StateIdle {
		t.Errorf("state after reset = %s", m.state)
	}
}
