// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CandidatePairState represent the ICE candidate pair state.
type CandidatePairState int

const (
	// CandidatePairStateFrozen means a check for this pair has not been
	// performed because another pair with the same foundation is being
	// checked first.
	CandidatePairStateFrozen CandidatePairState = iota + 1

	// CandidatePairStateWaiting means a check has not been performed for
	// this pair yet.
	CandidatePairStateWaiting

	// CandidatePairStateInProgress means a check has been sent for this pair,
	// but the transaction is in progress.
	CandidatePairStateInProgress

	// CandidatePairStateSucceeded means a check for this pair was already
	// done and produced a successful result.
	CandidatePairStateSucceeded

	// CandidatePairStateFailed means a check for this pair was already done
	// and failed, either never producing any response or producing an
	// unrecoverable failure response.
	CandidatePairStateFailed
)

func (c CandidatePairState) String() string {
	switch c {
	case CandidatePairStateFrozen:
		return "frozen"
	case CandidatePairStateWaiting:
		return "waiting"
	case CandidatePairStateInProgress:
		return "in-progress"
	case CandidatePairStateSucceeded:
		return "succeeded"
	case CandidatePairStateFailed:
		return "failed"
	default:
		return ErrUnknownType.Error()
	}
}

// CandidatePair is a combination of a local and remote candidate.
type CandidatePair struct {
	Local      Candidate
	Remote     Candidate
	Priority   uint64
	State      CandidatePairState
	Foundation string
	Nominated  bool

	id string

	// nominateOnSuccess is set on the controlled side when USE-CANDIDATE
	// arrives before the pair's own check succeeded.
	nominateOnSuccess bool
	// nominating marks a controlling check that carries USE-CANDIDATE.
	nominating    bool
	roleConflicts int

	requestsSent      uint64
	requestsReceived  uint64
	responsesSent     uint64
	responsesReceived uint64
	lastRTT           time.Duration
	lastReceived      time.Time
	lastSent          time.Time
}

func newCandidatePair(local, remote Candidate, controlling bool) *CandidatePair {
	return &CandidatePair{
		Local:      local,
		Remote:     remote,
		Priority:   PairPriority(local, remote, controlling),
		State:      CandidatePairStateFrozen,
		Foundation: local.Foundation + ":" + remote.Foundation,
		id:         uuid.NewString(),
	}
}

// PairPriority computes the priority of a pair as described in
// https://tools.ietf.org/html/rfc8445#section-6.1.2.3
// G is the priority of the controlling side's candidate, D the controlled's.
func PairPriority(local, remote Candidate, controlling bool) uint64 {
	var g, d uint64
	if controlling {
		g = uint64(local.Priority)
		d = uint64(remote.Priority)
	} else {
		g = uint64(remote.Priority)
		d = uint64(local.Priority)
	}

	var tieBreaker uint64
	if g > d {
		tieBreaker = 1
	}

	return (1<<32)*minUint64(g, d) + 2*maxUint64(g, d) + tieBreaker
}

func (p *CandidatePair) String() string {
	return fmt.Sprintf("prio %d (local, prio %d) %s <-> %s (remote, prio %d), state: %s, nominated: %v",
		p.Priority, p.Local.Priority, p.Local, p.Remote, p.Remote.Priority, p.State, p.Nominated)
}

// canSucceed reports whether a check on the pair is still possible or pending.
func (p *CandidatePair) canSucceed() bool {
	switch p.State {
	case CandidatePairStateFrozen, CandidatePairStateWaiting, CandidatePairStateInProgress:
		return true
	default:
		return false
	}
}

// snapshot copies the pair for delivery outside of the event loop.
func (p *CandidatePair) snapshot() *CandidatePair {
	if p == nil {
		return nil
	}
	c := *p

	return &c
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}

	return b
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}

	return b
}
