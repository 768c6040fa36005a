package token

import (
	"errors"
	"testing"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
		want State
		err  bool
	}{
		{StateActive, EventUse, StateRotated, false},
		{StateActive, EventExpire, StateExpired, false},
		{StateActive, EventRevoke, StateRevoked, false},
		{StateActive, Event("bogus"), StateActive, true},
	}
	for _, tc := range cases {
		got, err := Transition(tc.from, tc.ev)
		if (err != nil) != tc.err || got != tc.want {
			t.Fatalf("%s --%s--> got (%s, %v), want %s err=%v", tc.from, tc.ev, got, err, tc.want, tc.err)
		}
	}

	for _, dead := range []State{StateRotated, StateExpired, StateRevoked} {
		if !dead.Terminal() {
			t.Fatalf("%s must be terminal", dead)
		}
		for _, ev := range []Event{EventUse, EventExpire, EventRevoke} {
			got, err := Transition(dead, ev)
			if !errors.Is(err, ErrTerminal) || got != dead {
				t.Fatalf("%s --%s--> must stay put with ErrTerminal, got (%s, %v)", dead, ev, got, err)
			}
		}
	}
	if StateActive.Terminal() || !StateActive.Valid() || State("zombie").Valid() {
		t.Fatal("state predicates wrong")
	}
}
