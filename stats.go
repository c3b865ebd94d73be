// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"time"
)

// CandidatePairStats contains ICE candidate pair statistics.
type CandidatePairStats struct {
	// Timestamp is the time the stats were taken.
	Timestamp time.Time

	// ID is unique for the lifetime of the pair.
	ID string

	StreamID    int
	ComponentID uint16

	Local  Candidate
	Remote Candidate

	State     CandidatePairState
	Priority  uint64
	Nominated bool
	Selected  bool

	// RequestsSent counts every transmission of a check, retransmissions included.
	RequestsSent      uint64
	RequestsReceived  uint64
	ResponsesSent     uint64
	ResponsesReceived uint64

	// CurrentRoundTripTime is the round trip time of the last successful check.
	CurrentRoundTripTime time.Duration

	LastRequestTimestamp  time.Time
	LastResponseTimestamp time.Time
}

// ComponentStats contains the data path counters of a component.
type ComponentStats struct {
	Timestamp     time.Time
	StreamID      int
	ComponentID   uint16
	State         ComponentState
	BytesSent     uint64
	BytesReceived uint64
}

// CandidatePairsStats returns the stats of every pair of a stream's
// checklist, in checklist order. It is empty before checks start.
func (a *Agent) CandidatePairsStats(streamID int) ([]CandidatePairStats, error) {
	var result []CandidatePairStats
	err := a.runErr(func(agent *Agent) error {
		s, ok := agent.streams[streamID]
		if !ok {
			return ErrUnknownStream
		}
		if !s.checksStarted() {
			return nil
		}

		now := time.Now()
		for _, p := range s.checklist.pairs {
			c := s.component(p.Local.Component)
			result = append(result, CandidatePairStats{
				Timestamp:             now,
				ID:                    p.id,
				StreamID:              s.id,
				ComponentID:           p.Local.Component,
				Local:                 p.Local,
				Remote:                p.Remote,
				State:                 p.State,
				Priority:              p.Priority,
				Nominated:             p.Nominated,
				Selected:              c != nil && c.selected == p,
				RequestsSent:          p.requestsSent,
				RequestsReceived:      p.requestsReceived,
				ResponsesSent:         p.responsesSent,
				ResponsesReceived:     p.responsesReceived,
				CurrentRoundTripTime:  p.lastRTT,
				LastRequestTimestamp:  p.lastSent,
				LastResponseTimestamp: p.lastReceived,
			})
		}

		return nil
	})

	return result, err
}

// ComponentsStats returns the counters of every component of a stream.
func (a *Agent) ComponentsStats(streamID int) ([]ComponentStats, error) {
	var result []ComponentStats
	err := a.runErr(func(agent *Agent) error {
		s, ok := agent.streams[streamID]
		if !ok {
			return ErrUnknownStream
		}

		now := time.Now()
		for _, c := range s.components {
			result = append(result, ComponentStats{
				Timestamp:     now,
				StreamID:      s.id,
				ComponentID:   c.id,
				State:         c.state,
				BytesSent:     c.conn.BytesSent(),
				BytesReceived: c.conn.BytesReceived(),
			})
		}

		return nil
	})

	return result, err
}
