package engine

import (
	"testing"

	"Story-Loom/server/internal/events"
)

func TestComputeState(t *testing.T) {
	th := Thresholds{Intro: 2, Closing: 2}
	cases := []struct {
		name                  string
		unit, consumed, total int
		cost                  int
		want                  State
	}{
		{"first unit is opening", 1, 0, 10, 1, StateOpening},
		{"first unit ignores budget", 1, 0, 1, 1, StateOpening},
		{"introduction", 2, 1, 10, 1, StateIntroduction},
		{"middle", 3, 2, 10, 1, StateMiddle},
		{"closing", 8, 8, 10, 1, StateClosing},
		{"final at zero", 9, 9, 10, 1, StateFinal},
		{"final when photo overruns", 9, 9, 10, 2, StateFinal},
		{"final beats introduction", 2, 1, 2, 1, StateFinal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeState(tc.unit, tc.consumed, tc.total, tc.cost, th)
			if got != tc.want {
				t.Fatalf("ComputeState(%d, %d, %d, %d) = %s, want %s", tc.unit, tc.consumed, tc.total, tc.cost, got, tc.want)
			}
		})
	}
}

func TestActionCost(t *testing.T) {
	cases := map[ActionKind]int{ActionStart: 1, ActionText: 1, ActionPhoto: 2}
	for kind, want := range cases {
		if got := kind.Cost(); got != want {
			t.Fatalf("%s.Cost() = %d, want %d", kind, got, want)
		}
	}
}

func TestCheckTurnAvailable(t *testing.T) {
	cases := []struct {
		name string
		log  []events.Event
		busy bool
	}{
		{"empty log", nil, false},
		{"writing", []events.Event{events.WritingInProgress{}}, true},
		{"writing after prologue", []events.Event{events.ShowPrologue{}, events.WritingInProgress{}, events.NewNarrativeUnit{UnitID: 1}}, true},
		{"options close the turn", []events.Event{events.WritingInProgress{}, events.NewNarrativeUnit{UnitID: 1}, events.PlayerOptions{}}, false},
		{"photo request closes the turn", []events.Event{events.WritingInProgress{}, events.PlayerPhotoRequest{}}, false},
		{"story end closes the turn", []events.Event{events.WritingInProgress{}, events.StoryEnd{}, events.ShowVideo{URL: "v"}}, false},
		{"failure closes the turn", []events.Event{events.WritingInProgress{}, events.TurnFailed{}}, false},
		{"new turn after options", []events.Event{events.WritingInProgress{}, events.PlayerOptions{}, events.PhotoSubmitted{}, events.WritingInProgress{}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckTurnAvailable(tc.log)
			if tc.busy && err != ErrTurnAlreadyInProgress {
				t.Fatalf("CheckTurnAvailable = %v, want ErrTurnAlreadyInProgress", err)
			}
			if !tc.busy && err != nil {
				t.Fatalf("CheckTurnAvailable = %v, want nil", err)
			}
		})
	}
}
