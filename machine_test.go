package csm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// a toy ping/pong protocol for exercising the engine
type toyState uint8

const (
	toyIdle toyState = iota
	toyBusy
	toyDone
)

const (
	toyTagPing uint64 = iota
	toyTagPong
	toyTagStop
)

func toyMachine() *Machine[toyState] {
	return NewMachine([]Rule[toyState]{
		{From: toyIdle, Tag: toyTagPing, To: toyBusy},
		{From: toyBusy, Tag: toyTagPong, To: toyIdle},
		{From: toyIdle, Tag: toyTagStop, To: toyDone},
	}, map[uint64]Direction{
		toyTagPing: Initiator,
		toyTagPong: Responder,
		toyTagStop: Initiator,
	})
}

func TestMachineTransitions(t *testing.T) {
	m := toyMachine()

	next, ok := m.Transition(toyIdle, toyTagPing)
	require.True(t, ok)
	assert.Equal(t, toyBusy, next)

	next, ok = m.Transition(toyBusy, toyTagPong)
	require.True(t, ok)
	assert.Equal(t, toyIdle, next)

	_, ok = m.Transition(toyIdle, toyTagPong)
	assert.False(t, ok)
	_, ok = m.Transition(toyBusy, toyTagPing)
	assert.False(t, ok)
	_, ok = m.Transition(toyDone, toyTagPing)
	assert.False(t, ok)
}

// For every pair in the relation, the state's speaking direction equals
// the message's declared sender role; pairs outside the relation are
// rejected
func TestMachineSenderConsistency(t *testing.T) {
	m := toyMachine()

	d, ok := m.Sender(toyIdle)
	require.True(t, ok)
	assert.Equal(t, Initiator, d)

	d, ok = m.Sender(toyBusy)
	require.True(t, ok)
	assert.Equal(t, Responder, d)

	_, ok = m.Sender(toyDone)
	assert.False(t, ok, "terminal state has no sender")
}

func TestMachinePanicsOnConflictingRoles(t *testing.T) {
	assert.Panics(t, func() {
		NewMachine([]Rule[toyState]{
			{From: toyIdle, Tag: toyTagPing, To: toyBusy},
			{From: toyIdle, Tag: toyTagPong, To: toyIdle},
		}, map[uint64]Direction{
			toyTagPing: Initiator,
			toyTagPong: Responder,
		})
	})
}

func TestMachinePanicsOnMissingRole(t *testing.T) {
	assert.Panics(t, func() {
		NewMachine([]Rule[toyState]{
			{From: toyIdle, Tag: toyTagPing, To: toyBusy},
		}, map[uint64]Direction{})
	})
}

func TestMachinePanicsOnDuplicateRule(t *testing.T) {
	assert.Panics(t, func() {
		NewMachine([]Rule[toyState]{
			{From: toyIdle, Tag: toyTagPing, To: toyBusy},
			{From: toyIdle, Tag: toyTagPing, To: toyDone},
		}, map[uint64]Direction{toyTagPing: Initiator})
	})
}
