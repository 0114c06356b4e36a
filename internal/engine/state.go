package engine

// State is the narrative phase a turn is written in
type State string

const (
	StateOpening      State = "opening"
	StateIntroduction State = "introduction"
	StateMiddle       State = "middle"
	StateClosing      State = "closing"
	StateFinal        State = "final"
)

// ActionKind is what triggered a turn
type ActionKind string

const (
	ActionStart ActionKind = "start"
	ActionText  ActionKind = "text"
	ActionPhoto ActionKind = "photo"
)

// Cost is the number of budget units the action consumes
func (k ActionKind) Cost() int {
	if k == ActionPhoto {
		return 2
	}
	return 1
}

// Thresholds tune when the introduction and closing phases apply
type Thresholds struct {
	Intro   int
	Closing int
}

// ComputeState derives the phase of the next unit from the durable counters.
// consumed is the session total before the triggering action.
func ComputeState(unitNumber, consumed, total, cost int, th Thresholds) State {
	remaining := total - (consumed + cost)
	switch {
	case unitNumber == 1:
		return StateOpening
	case remaining <= 0:
		return StateFinal
	case unitNumber <= th.Intro:
		return StateIntroduction
	case remaining < th.Closing:
		return StateClosing
	default:
		return StateMiddle
	}
}

// usesClosingSynopsis reports whether the state writes against the closing act
func (s State) usesClosingSynopsis() bool {
	return s == StateClosing || s == StateFinal
}
