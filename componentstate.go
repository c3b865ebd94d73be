// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

// ComponentState is the state of one component of a stream.
type ComponentState int

const (
	// ComponentStateDisconnected means gathering has not started.
	ComponentStateDisconnected ComponentState = iota + 1

	// ComponentStateGathering means local candidates are being gathered.
	ComponentStateGathering

	// ComponentStateConnecting means connectivity checks are running and no
	// pair has been selected yet.
	ComponentStateConnecting

	// ComponentStateConnected means a nominated pair has been selected.
	ComponentStateConnected

	// ComponentStateReady means every component of the stream is connected.
	ComponentStateReady

	// ComponentStateFailed means no pair of the component can succeed.
	ComponentStateFailed
)

func (c ComponentState) String() string {
	switch c {
	case ComponentStateDisconnected:
		return "disconnected"
	case ComponentStateGathering:
		return "gathering"
	case ComponentStateConnecting:
		return "connecting"
	case ComponentStateConnected:
		return "connected"
	case ComponentStateReady:
		return "ready"
	case ComponentStateFailed:
		return "failed"
	default:
		return ErrUnknownType.Error()
	}
}

// rank orders states from least to most advanced. Failed ranks lowest.
func (c ComponentState) rank() int {
	if c == ComponentStateFailed {
		return 0
	}

	return int(c)
}

// aggregateState returns the least advanced state of the components.
func aggregateState(states ...ComponentState) ComponentState {
	if len(states) == 0 {
		return ComponentStateDisconnected
	}

	worst := states[0]
	for _, s := range states[1:] {
		if s.rank() < worst.rank() {
			worst = s
		}
	}

	return worst
}
