// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"github.com/pion/stun/v3"
)

// maybeNominate implements regular nomination on the controlling side: once
// the best valid pair outranks every pair that may still succeed, it is
// checked again with USE-CANDIDATE.
// https://tools.ietf.org/html/rfc8445#section-8.1.1
func (a *Agent) maybeNominate(s *stream, c *component) {
	if a.role != RoleControlling || a.config.nominationMode != NominationRegular {
		return
	}
	if c.selected != nil || c.state == ComponentStateFailed || !s.checksStarted() {
		return
	}

	pairs := s.checklist.ComponentPairs(c.id)
	var best *CandidatePair
	for _, p := range pairs {
		if p.nominating {
			return
		}
		if best == nil && p.State == CandidatePairStateSucceeded {
			best = p
		}
	}
	if best == nil {
		return
	}
	for _, p := range pairs {
		if p.Priority > best.Priority && p.canSucceed() {
			return
		}
	}

	a.log.Debugf("Nominating pair %s", best)
	a.sendCheck(s, best, true)
}

// nominate marks a pair nominated and selects it when the component has
// no selected pair yet. A later nomination only replaces the selected
// pair with continual nomination.
func (a *Agent) nominate(s *stream, c *component, p *CandidatePair) {
	p.Nominated = true
	p.nominateOnSuccess = false
	if c.state == ComponentStateFailed {
		return
	}

	if cur := c.selected; cur != nil {
		if cur == p || !a.config.continualNomination || p.Priority <= cur.Priority {
			return
		}
	}

	base := c.baseFor(p.Local.Address)
	if base == nil {
		return
	}

	c.selected = p
	c.conn.setSelected(&selectedPath{conn: base.conn, local: p.Local.Address, remote: p.Remote.Address})
	a.log.Infof("Selected pair for stream %d component %d: %s", s.id, c.id, p)

	if !c.selectedNotified || a.config.continualNomination {
		c.selectedNotified = true
		streamID, componentID, pair := s.id, c.id, p.snapshot()
		a.events.push(func() {
			if h := a.handlers.selectedPair(); h != nil {
				h(streamID, componentID, pair)
			}
		})
	}

	a.scheduleKeepalive(c)
	a.updateComponentState(s, c)
}

// updateComponentState derives the state of a component from its pairs.
func (a *Agent) updateComponentState(s *stream, c *component) {
	switch {
	case c.state == ComponentStateFailed:
		return
	case c.selected != nil:
		if c.state != ComponentStateReady {
			a.setComponentState(s, c, ComponentStateConnected)
		}
	case s.checksStarted() && s.checklist.exhausted(c.id):
		a.log.Warnf("%v: stream %d component %d", ErrExhausted, s.id, c.id)
		a.setComponentState(s, c, ComponentStateFailed)
	case s.checksStarted():
		a.setComponentState(s, c, ComponentStateConnecting)
	}

	a.updateStreamReady(s)
}

// updateStreamReady moves every component to Ready once all of them are
// connected. It happens once per generation.
func (a *Agent) updateStreamReady(s *stream) {
	if s.ready {
		return
	}
	for _, c := range s.components {
		if c.state != ComponentStateConnected {
			return
		}
	}

	s.ready = true
	for _, c := range s.components {
		a.setComponentState(s, c, ComponentStateReady)
	}
}

func (a *Agent) setComponentState(s *stream, c *component, state ComponentState) {
	if c.state == state {
		return
	}
	a.log.Infof("Stream %d component %d: %s -> %s", s.id, c.id, c.state, state)
	c.state = state

	streamID, componentID := s.id, c.id
	a.events.push(func() {
		if h := a.handlers.componentState(); h != nil {
			h(streamID, componentID, state)
		}
	})

	if aggregated := aggregateState(s.componentStates()...); aggregated != s.state {
		s.state = aggregated
		a.events.push(func() {
			if h := a.handlers.streamState(); h != nil {
				h(streamID, aggregated)
			}
		})
	}
}

// scheduleKeepalive sends Binding indications on the selected pair.
// https://tools.ietf.org/html/rfc8445#section-11
func (a *Agent) scheduleKeepalive(c *component) {
	if a.config.keepaliveInterval <= 0 || c.keepalive != nil {
		return
	}

	c.keepalive = a.timers.schedule(a.config.keepaliveInterval, func() {
		c.keepalive = nil
		a.sendKeepalive(c)
		a.scheduleKeepalive(c)
	})
}

func (a *Agent) sendKeepalive(c *component) {
	p := c.selected
	if p == nil {
		return
	}
	base := c.baseFor(p.Local.Address)
	if base == nil {
		return
	}

	msg, err := stun.Build(stun.NewType(stun.MethodBinding, stun.ClassIndication), stun.TransactionID, stun.Fingerprint)
	if err != nil {
		a.log.Warnf("Failed to build keepalive: %v", err)

		return
	}
	if err := base.writeTo(msg.Raw, p.Remote.Address); err != nil {
		a.log.Warnf("Failed to send keepalive to %s: %v", p.Remote.Address, err)
	}
}
