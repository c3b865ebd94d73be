// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"net/netip"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

// startReader reads a socket and posts every datagram to the event loop.
func (a *Agent) startReader(b *candidateBase) {
	a.readers.Add(1)
	go a.readLoop(b)
}

func (a *Agent) readLoop(b *candidateBase) {
	defer a.readers.Done()

	buf := make([]byte, receiveMTU)
	for {
		n, srcAddr, err := b.conn.ReadFrom(buf)
		if err != nil {
			return
		}

		src, ok := addrPortOf(srcAddr)
		if !ok {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		if !a.post(func(agent *Agent) {
			agent.handleInbound(b, src, data)
		}) {
			return
		}
	}
}

// handleInbound demultiplexes STUN from application data.
func (a *Agent) handleInbound(b *candidateBase, src netip.AddrPort, buf []byte) {
	if b.closed {
		return
	}

	if !stun.IsMessage(buf) {
		a.deliverData(b, src, buf)

		return
	}

	m := &stun.Message{Raw: buf}
	if err := m.Decode(); err != nil {
		a.log.Warnf("Failed to handle decode ICE from %s to %s: %v", src, b.addr, err)

		return
	}

	if m.Type.Method != stun.MethodBinding {
		a.log.Tracef("Unhandled STUN from %s to %s class(%s) method(%s)", src, b.addr, m.Type.Class, m.Type.Method)

		return
	}

	if m.Contains(stun.AttrFingerprint) {
		if err := stun.Fingerprint.Check(m); err != nil {
			a.log.Debugf("%v: bad fingerprint from %s: %v", ErrProtocolViolation, src, err)

			return
		}
	}

	switch m.Type.Class {
	case stun.ClassRequest:
		a.handleBindingRequest(b, src, m)
	case stun.ClassSuccessResponse, stun.ClassErrorResponse:
		if err := a.handleTransactionResponse(m, b, src); err != nil {
			a.log.Debugf("%v: response from %s: %v", ErrProtocolViolation, src, err)
		}
	case stun.ClassIndication:
		a.handleIndication(b, src)
	default:
		a.log.Debugf("%v: %v from %s", ErrProtocolViolation, errUnexpectedSTUNClass, src)
	}
}

func (a *Agent) handleIndication(b *candidateBase, src netip.AddrPort) {
	s := b.component.stream
	if !s.checksStarted() {
		return
	}
	if p := s.checklist.find(b.component.id, b.addr, src); p != nil {
		p.lastReceived = time.Now()
	}
}

// deliverData hands application data to the component when it comes from
// a known remote candidate.
func (a *Agent) deliverData(b *candidateBase, src netip.AddrPort, buf []byte) {
	c := b.component
	if _, ok := c.findRemote(src); !ok {
		a.log.Tracef("Discarded %d bytes from unknown remote %s", len(buf), src)

		return
	}
	c.conn.deliver(buf)
}

// maybeStartChecks builds the checklist once local gathering is complete
// and the remote credentials are known.
func (a *Agent) maybeStartChecks(s *stream) {
	if s.checksStarted() || s.gathering != gatheringStateComplete || !s.hasRemoteCredentials() {
		return
	}

	s.checklist = buildChecklist(s.localCandidates(), s.remoteCandidates(),
		a.role == RoleControlling, a.config.maxPairs)
	a.log.Debugf("Starting checks for stream %d with %d pairs", s.id, s.checklist.Len())

	for _, c := range s.components {
		a.updateComponentState(s, c)
	}

	early := s.earlyChecks
	s.earlyChecks = nil
	for _, e := range early {
		if e.base.closed {
			continue
		}
		a.handleCheckRequest(s, e.base.component, e.base, e.source, e.priority, e.useCandidate)
	}

	a.schedulePacing()
}

func (a *Agent) hasPendingChecks() bool {
	for _, s := range a.streams {
		if s.checksStarted() && s.checklist.hasWork() {
			return true
		}
	}

	return false
}

// schedulePacing arms the pacing timer while any checklist has work.
func (a *Agent) schedulePacing() {
	if a.pacingTimer != nil || !a.hasPendingChecks() {
		return
	}

	wait := a.config.pacingInterval - time.Since(a.lastCheck)
	if wait < 0 {
		wait = 0
	}
	a.pacingTimer = a.timers.schedule(wait, a.onPacingTick)
}

// onPacingTick starts one check, serving the checklists in round-robin.
func (a *Agent) onPacingTick() {
	a.pacingTimer = nil

	n := len(a.streamOrder)
	for i := 0; i < n; i++ {
		idx := (a.roundRobin + i) % n
		s := a.streams[a.streamOrder[idx]]
		if !s.checksStarted() {
			continue
		}
		if p := s.checklist.next(); p != nil {
			a.roundRobin = (idx + 1) % n
			a.lastCheck = time.Now()
			a.sendCheck(s, p, false)

			break
		}
	}

	a.schedulePacing()
}

// triggerCheck puts a pair at the front of the triggered queue and starts
// it without waiting for the pacing timer.
func (a *Agent) triggerCheck(s *stream, p *CandidatePair) {
	s.checklist.pushTriggered(p)
	if next := s.checklist.next(); next != nil {
		a.sendCheck(s, next, false)
	}
}

// sendCheck sends a Binding request on a pair. nominating marks the
// second check of regular nomination.
func (a *Agent) sendCheck(s *stream, p *CandidatePair, nominating bool) {
	c := s.component(p.Local.Component)
	base := c.baseFor(p.Local.Address)
	if base == nil {
		a.log.Warnf("No socket for pair %s", p)
		a.failPair(s, c, p)

		return
	}

	role := a.role
	useCandidate := role == RoleControlling &&
		(nominating || a.config.nominationMode == NominationAggressive)
	localPreference := uint16((p.Local.Priority >> 8) & 0xFFFF) //nolint:gosec

	setters := []stun.Setter{
		stun.BindingRequest,
		stun.TransactionID,
		stun.NewUsername(s.remoteUfrag + ":" + s.localUfrag),
		roleAttr(role, a.tieBreaker),
		PriorityAttr(ComputePriority(CandidateTypePeerReflexive, localPreference, p.Local.Component)),
	}
	if useCandidate {
		setters = append(setters, UseCandidate())
	}
	setters = append(setters, stun.NewShortTermIntegrity(s.remotePwd), stun.Fingerprint)

	msg, err := stun.Build(setters...)
	if err != nil {
		a.log.Warnf("Failed to build binding request for %s: %v", p, err)

		return
	}

	if p.State != CandidatePairStateSucceeded {
		p.State = CandidatePairStateInProgress
	}
	if nominating {
		p.nominating = true
	}
	a.log.Tracef("Ping STUN from %s to %s (use-candidate %v)", p.Local, p.Remote, useCandidate)

	tx := &transaction{
		id:           msg.TransactionID,
		raw:          msg.Raw,
		base:         base,
		destination:  p.Remote.Address,
		streamID:     s.id,
		pair:         p,
		useCandidate: useCandidate,
		maxAttempts:  a.config.maxRetransmits,
	}
	tx.onResponse = func(m *stun.Message, src netip.AddrPort) bool {
		return a.handleCheckResponse(s, c, p, tx, role, m, src)
	}
	tx.onTimeout = func() {
		a.log.Debugf("Check timed out after %d attempts: %s", tx.attempts, p)
		p.nominating = false
		a.failPair(s, c, p)
	}
	a.startTransaction(tx)
}

// handleCheckResponse validates a response to one of our checks. It
// returns false when the response has to be ignored.
func (a *Agent) handleCheckResponse(
	s *stream, c *component, p *CandidatePair, tx *transaction,
	role Role, m *stun.Message, src netip.AddrPort,
) bool {
	if src != p.Remote.Address {
		a.log.Debugf("%v: %v, got %s, want %s", ErrProtocolViolation, errSourceMismatch, src, p.Remote.Address)

		return false
	}

	if m.Type.Class == stun.ClassSuccessResponse || m.Contains(stun.AttrMessageIntegrity) || isRoleConflict(m) {
		if err := assertInboundMessageIntegrity(m, []byte(s.remotePwd)); err != nil {
			a.log.Warnf("Discard message from (%s), %v", src, err)

			return false
		}
	}

	if m.Type.Class == stun.ClassErrorResponse {
		a.handleCheckError(s, c, p, role, m)

		return true
	}

	now := time.Now()
	p.responsesReceived++
	p.lastReceived = now
	p.lastRTT = now.Sub(tx.start)
	if p.State != CandidatePairStateSucceeded {
		p.State = CandidatePairStateSucceeded
		a.log.Debugf("Check succeeded: %s", p)
	}

	a.discoverLocalPeerReflexive(c, p, m)
	a.unfreezeFoundation(p.Foundation)

	switch {
	case tx.useCandidate:
		p.nominating = false
		a.nominate(s, c, p)
	case p.nominateOnSuccess && a.role == RoleControlled:
		a.nominate(s, c, p)
	}

	a.maybeNominate(s, c)
	a.updateComponentState(s, c)
	a.schedulePacing()

	return true
}

// discoverLocalPeerReflexive records the mapping reported by the peer when
// it is none of our candidates.
// https://tools.ietf.org/html/rfc8445#section-7.2.5.3.1
func (a *Agent) discoverLocalPeerReflexive(c *component, p *CandidatePair, m *stun.Message) {
	mapped, err := mappedAddressOf(m)
	if err != nil || c.hasLocal(mapped) {
		return
	}

	localPreference := uint16((p.Local.Priority >> 8) & 0xFFFF) //nolint:gosec
	prflx := Candidate{
		Foundation:     computeFoundation(CandidateTypePeerReflexive, p.Local.Address.Addr(), ""),
		Component:      c.id,
		Transport:      TransportUDP,
		Priority:       ComputePriority(CandidateTypePeerReflexive, localPreference, c.id),
		Address:        mapped,
		Type:           CandidateTypePeerReflexive,
		RelatedAddress: p.Local.Address,
	}
	c.local = append(c.local, prflx)
	a.log.Debugf("Discovered local peer reflexive candidate %s", prflx)
}

func (a *Agent) handleCheckError(s *stream, c *component, p *CandidatePair, role Role, m *stun.Message) {
	var code stun.ErrorCodeAttribute
	if err := code.GetFrom(m); err != nil {
		a.log.Debugf("%v: error response without ERROR-CODE: %v", ErrProtocolViolation, err)
		a.failPair(s, c, p)

		return
	}

	if code.Code != stun.CodeRoleConflict {
		a.log.Warnf("Check on %s answered %d %s", p, code.Code, code.Reason)
		p.nominating = false
		a.failPair(s, c, p)

		return
	}

	p.roleConflicts++
	if p.roleConflicts > 1 {
		a.log.Warnf("%v: repeated on %s", ErrRoleConflict, p)
		p.nominating = false
		a.failPair(s, c, p)

		return
	}

	if a.role == role {
		a.setRole(role.swap())
	}
	p.nominating = false
	if p.State != CandidatePairStateSucceeded {
		s.checklist.pushTriggered(p)
	}
	a.schedulePacing()
}

// isRoleConflict reports a 487 error response. It changes our role, so it
// is only accepted with a valid MESSAGE-INTEGRITY.
func isRoleConflict(m *stun.Message) bool {
	if m.Type.Class != stun.ClassErrorResponse {
		return false
	}
	var code stun.ErrorCodeAttribute
	if err := code.GetFrom(m); err != nil {
		return false
	}

	return code.Code == stun.CodeRoleConflict
}

func (a *Agent) failPair(s *stream, c *component, p *CandidatePair) {
	if p.State != CandidatePairStateFailed {
		p.State = CandidatePairStateFailed
		a.log.Debugf("Pair failed: %s", p)
	}

	a.maybeNominate(s, c)
	a.updateComponentState(s, c)
	a.schedulePacing()
}

func (a *Agent) unfreezeFoundation(foundation string) {
	for _, s := range a.streams {
		if s.checksStarted() {
			s.checklist.unfreeze(foundation)
		}
	}
}

func (a *Agent) setRole(role Role) {
	if a.role == role {
		return
	}
	a.log.Infof("Switching role from %s to %s", a.role, role)
	a.role = role
	for _, s := range a.streams {
		if s.checksStarted() {
			s.checklist.SetControlling(role == RoleControlling)
		}
	}
}

// handleBindingRequest answers a check from the peer and schedules the
// matching triggered check.
func (a *Agent) handleBindingRequest(b *candidateBase, src netip.AddrPort, m *stun.Message) {
	c := b.component
	s := c.stream

	var username stun.Username
	if err := username.GetFrom(m); err != nil {
		a.log.Debugf("%v: request from %s without USERNAME", ErrProtocolViolation, src)

		return
	}
	if !a.validUsername(s, string(username)) {
		a.log.Debugf("%v: %v from %s: %q", ErrProtocolViolation, errUsernameMismatch, src, string(username))

		return
	}
	if err := assertInboundMessageIntegrity(m, []byte(s.localPwd)); err != nil {
		a.log.Warnf("Discard message from (%s), %v", src, err)

		return
	}

	var priority PriorityAttr
	if err := priority.GetFrom(m); err != nil {
		a.log.Debugf("%v: request from %s without PRIORITY", ErrProtocolViolation, src)

		return
	}

	if a.roleConflict(m) {
		a.sendRoleConflict(s, b, src, m)

		return
	}

	a.sendBindingSuccess(s, b, src, m)

	useCandidate := UseCandidateAttr{}.IsSet(m)
	if !s.checksStarted() {
		s.earlyChecks = append(s.earlyChecks, earlyCheck{
			base:         b,
			source:       src,
			priority:     uint32(priority),
			useCandidate: useCandidate,
		})

		return
	}

	a.handleCheckRequest(s, c, b, src, uint32(priority), useCandidate)
}

// validUsername accepts "local:remote", or "local:" with any remote part
// while the peer's credentials are unknown.
func (a *Agent) validUsername(s *stream, username string) bool {
	if s.remoteUfrag != "" {
		return username == s.localUfrag+":"+s.remoteUfrag
	}

	return strings.HasPrefix(username, s.localUfrag+":")
}

// roleConflict resolves a conflict by tie-breaker. It returns true when
// the peer has to switch and gets a 487.
// https://tools.ietf.org/html/rfc8445#section-7.3.1.1
func (a *Agent) roleConflict(m *stun.Message) bool {
	switch {
	case a.role == RoleControlling && m.Contains(stun.AttrICEControlling):
		var theirs AttrControlling
		if err := theirs.GetFrom(m); err != nil {
			return false
		}
		if a.tieBreaker >= uint64(theirs) {
			return true
		}
		a.setRole(RoleControlled)
	case a.role == RoleControlled && m.Contains(stun.AttrICEControlled):
		var theirs AttrControlled
		if err := theirs.GetFrom(m); err != nil {
			return false
		}
		if a.tieBreaker < uint64(theirs) {
			return true
		}
		a.setRole(RoleControlling)
	}

	return false
}

// handleCheckRequest updates the pair of an answered request: peer
// reflexive discovery, triggered check and nomination on the controlled side.
func (a *Agent) handleCheckRequest(
	s *stream, c *component, b *candidateBase,
	src netip.AddrPort, priority uint32, useCandidate bool,
) {
	if c.state == ComponentStateFailed {
		return
	}

	remote, ok := c.findRemote(src)
	if !ok {
		remote = Candidate{
			Foundation: generatePeerReflexiveFoundation(a.config.rand),
			Component:  c.id,
			Transport:  TransportUDP,
			Priority:   priority,
			Address:    src,
			Type:       CandidateTypePeerReflexive,
		}
		c.addRemote(remote)
		a.log.Debugf("Adding a new peer-reflexive candidate: %s", remote)
	}

	p := s.checklist.find(c.id, b.addr, src)
	if p == nil {
		if p, _ = s.checklist.Add(b.host, remote); p == nil {
			return
		}
	}
	p.requestsReceived++
	p.responsesSent++
	p.lastReceived = time.Now()

	nominate := useCandidate && a.role == RoleControlled
	switch p.State {
	case CandidatePairStateSucceeded:
		if nominate {
			a.nominate(s, c, p)
		}
	case CandidatePairStateInProgress:
		if nominate {
			p.nominateOnSuccess = true
		}
	case CandidatePairStateFrozen, CandidatePairStateWaiting:
		if nominate {
			p.nominateOnSuccess = true
		}
		a.triggerCheck(s, p)
	case CandidatePairStateFailed:
		a.log.Tracef("Not retrying failed pair %s", p)
	}

	a.updateComponentState(s, c)
	a.schedulePacing()
}

func (a *Agent) sendBindingSuccess(s *stream, b *candidateBase, src netip.AddrPort, m *stun.Message) {
	out, err := stun.Build(m, stun.BindingSuccess,
		&stun.XORMappedAddress{
			IP:   src.Addr().AsSlice(),
			Port: int(src.Port()),
		},
		stun.NewShortTermIntegrity(s.localPwd),
		stun.Fingerprint,
	)
	if err != nil {
		a.log.Warnf("Failed to handle inbound ICE from: %s to: %s error: %s", src, b.addr, err)

		return
	}
	if err := b.writeTo(out.Raw, src); err != nil {
		a.log.Warnf("Failed to send binding success to %s: %v", src, err)
	}
}

func (a *Agent) sendRoleConflict(s *stream, b *candidateBase, src netip.AddrPort, m *stun.Message) {
	a.log.Debugf("Role conflict with %s, answering 487", src)

	out, err := stun.Build(m, stun.BindingError,
		stun.CodeRoleConflict,
		stun.NewShortTermIntegrity(s.localPwd),
		stun.Fingerprint,
	)
	if err != nil {
		a.log.Warnf("Failed to build role conflict response: %v", err)

		return
	}
	if err := b.writeTo(out.Raw, src); err != nil {
		a.log.Warnf("Failed to send role conflict to %s: %v", src, err)
	}
}
