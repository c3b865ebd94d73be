// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComponentState_String(t *testing.T) {
	testCases := []struct {
		state          ComponentState
		expectedString string
	}{
		{ComponentState(0), ErrUnknownType.Error()},
		{ComponentStateDisconnected, "disconnected"},
		{ComponentStateGathering, "gathering"},
		{ComponentStateConnecting, "connecting"},
		{ComponentStateConnected, "connected"},
		{ComponentStateReady, "ready"},
		{ComponentStateFailed, "failed"},
	}

	for i, testCase := range testCases {
		assert.Equal(t,
			testCase.expectedString,
			testCase.state.String(),
			"testCase: %d %v", i, testCase,
		)
	}
}

func TestAggregateState(t *testing.T) {
	testCases := []struct {
		states   []ComponentState
		expected ComponentState
	}{
		{nil, ComponentStateDisconnected},
		{[]ComponentState{ComponentStateReady}, ComponentStateReady},
		{[]ComponentState{ComponentStateReady, ComponentStateConnected}, ComponentStateConnected},
		{[]ComponentState{ComponentStateConnecting, ComponentStateConnected}, ComponentStateConnecting},
		{[]ComponentState{ComponentStateReady, ComponentStateFailed}, ComponentStateFailed},
		{[]ComponentState{ComponentStateFailed, ComponentStateDisconnected}, ComponentStateFailed},
		{[]ComponentState{ComponentStateGathering, ComponentStateDisconnected}, ComponentStateDisconnected},
	}

	for i, testCase := range testCases {
		assert.Equal(t, testCase.expected, aggregateState(testCase.states...), "testCase: %d", i)
	}
}
