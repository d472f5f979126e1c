package orders

import "strings"

// State is the lifecycle state of an order. The set is closed; each value is
// also persisted as a row in order_states so orders can reference it by id.
type State string

const (
	StateUnconfirmed State = "UNCONFIRMED"
	StateConfirmed   State = "CONFIRMED"
	StateCancelled   State = "CANCELLED"
	StateDone        State = "DONE"
)

// AllStates lists every state in seeding order.
var AllStates = []State{StateUnconfirmed, StateConfirmed, StateCancelled, StateDone}

var validNext = map[State]map[State]bool{
	StateUnconfirmed: {StateConfirmed: true, StateCancelled: true},
	StateConfirmed:   {StateDone: true},
	StateCancelled:   {},
	StateDone:        {},
}

// CanTransition reports whether an order in state from may move to state to.
// Staying in the same state is not a transition.
func CanTransition(from, to State) bool {
	return validNext[from][to]
}

// ParseState resolves a state name, ignoring case and surrounding spaces.
func ParseState(name string) (State, bool) {
	s := State(strings.ToUpper(strings.TrimSpace(name)))
	if _, ok := validNext[s]; !ok {
		return "", false
	}
	return s, true
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return len(validNext[s]) == 0 }

// Editable reports whether line items of an order in state s may change.
func (s State) Editable() bool { return s == StateUnconfirmed }

func (s State) String() string { return string(s) }
