package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTable(t *testing.T) {
	allowed := map[[2]State]bool{
		{StateUnconfirmed, StateConfirmed}: true,
		{StateUnconfirmed, StateCancelled}: true,
		{StateConfirmed, StateDone}:        true,
	}
	for _, from := range AllStates {
		for _, to := range AllStates {
			assert.Equal(t, allowed[[2]State{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, CanTransition("SHIPPED", StateDone))
}

func TestParseState(t *testing.T) {
	tests := []struct {
		in   string
		want State
		ok   bool
	}{
		{"UNCONFIRMED", StateUnconfirmed, true},
		{" confirmed ", StateConfirmed, true},
		{"Cancelled", StateCancelled, true},
		{"done", StateDone, true},
		{"SHIPPED", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseState(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestStateProperties(t *testing.T) {
	assert.True(t, StateUnconfirmed.Editable())
	assert.False(t, StateConfirmed.Editable())
	assert.False(t, StateUnconfirmed.Terminal())
	assert.False(t, StateConfirmed.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.True(t, StateDone.Terminal())
}
