package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandoffStatus_IsTerminal(t *testing.T) {
	assert.False(t, HandoffPending.IsTerminal())
	assert.False(t, HandoffAssigned.IsTerminal())
	assert.False(t, HandoffActive.IsTerminal())
	assert.True(t, HandoffCompleted.IsTerminal())
	assert.True(t, HandoffCancelled.IsTerminal())
	assert.True(t, HandoffTimeout.IsTerminal())
}

func TestHandoffStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to HandoffStatus
		ok       bool
	}{
		{HandoffPending, HandoffAssigned, true},
		{HandoffPending, HandoffCancelled, true},
		{HandoffPending, HandoffTimeout, true},
		{HandoffPending, HandoffCompleted, false},
		{HandoffAssigned, HandoffActive, true},
		{HandoffAssigned, HandoffCompleted, true},
		{HandoffAssigned, HandoffCancelled, true},
		{HandoffAssigned, HandoffTimeout, false},
		{HandoffActive, HandoffCompleted, true},
		{HandoffActive, HandoffCancelled, true},
		{HandoffActive, HandoffAssigned, false},
		{HandoffCompleted, HandoffPending, false},
		{HandoffCancelled, HandoffAssigned, false},
		{HandoffTimeout, HandoffPending, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestHandoffPriority_IsValid(t *testing.T) {
	assert.True(t, PriorityLow.IsValid())
	assert.True(t, PriorityMedium.IsValid())
	assert.True(t, PriorityHigh.IsValid())
	assert.False(t, HandoffPriority("urgent").IsValid())
	assert.False(t, HandoffPriority("").IsValid())
}

func TestMessageType_IsValid(t *testing.T) {
	assert.True(t, MessageTypeChat.IsValid())
	assert.True(t, MessageTypeHandoff.IsValid())
	assert.True(t, MessageTypeSystem.IsValid())
	assert.False(t, MessageType("broadcast").IsValid())
}
