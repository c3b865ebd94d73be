// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"fmt"
	"net/netip"

	"github.com/pion/logging"
	"github.com/pion/stun/v3"
)

type closeable interface {
	Close() error
}

// Close a net.Conn and log if we have a failure.
func closeConnAndLog(c closeable, log logging.LeveledLogger, msg string, args ...any) {
	if c == nil {
		log.Warnf("Conn is not allocated (%s)", msg)

		return
	}

	log.Warnf(msg, args...)
	if err := c.Close(); err != nil {
		log.Warnf("Failed to close conn: %v", err)
	}
}

// GatherCandidates starts gathering local candidates for every component
// of a stream. Host candidates are reported right away through OnCandidate,
// server reflexive ones as the STUN server answers. OnGatheringDone fires
// once when nothing is pending. Failures to open a socket or reach the
// STUN server only shrink the candidate set.
func (a *Agent) GatherCandidates(streamID int) error {
	return a.runErr(func(agent *Agent) error {
		s, ok := agent.streams[streamID]
		if !ok {
			return ErrUnknownStream
		}
		if s.gathering != gatheringStateNew {
			return ErrMultipleGatherAttempted
		}
		agent.gatherCandidates(s)

		return nil
	})
}

func (a *Agent) gatherCandidates(s *stream) {
	s.gathering = gatheringStateGathering
	for _, c := range s.components {
		a.setComponentState(s, c, ComponentStateGathering)
	}

	ips, err := localInterfaces(a.net, a.config.interfaceFilter, a.config.ipFilter,
		a.config.networkTypes, a.config.includeLoopback)
	if err != nil {
		a.log.Warnf("Failed to iterate local interfaces, host candidates will not be gathered %s", err)
	}

	for _, c := range s.components {
		a.gatherCandidatesLocal(s, c, ips)
		if len(c.bases) == 0 {
			a.log.Warnf("%v for stream %d component %d", ErrNoCandidateSockets, s.id, c.id)
		}
	}

	if a.config.stunServer.IsValid() {
		for _, c := range s.components {
			for _, b := range c.bases {
				a.gatherCandidatesSrflx(s, b)
			}
		}
	}

	a.checkGatheringDone(s)
}

func (a *Agent) gatherCandidatesLocal(s *stream, c *component, ips []netip.Addr) {
	for i, ip := range ips {
		conn, err := listenUDPInPortRange(a.net, a.log, a.config.rand, a.config.portMin, a.config.portMax, ip)
		if err != nil {
			a.log.Warnf("Could not listen %s %s: %v", networkTypeOf(ip), ip, err)

			continue
		}

		local, ok := addrPortOf(conn.LocalAddr())
		if !ok {
			closeConnAndLog(conn, a.log, "Failed to read local address of %s", ip)

			continue
		}
		addr := netip.AddrPortFrom(ip, local.Port())

		localPreference := uint16(maxLocalPreference - i) //nolint:gosec
		host := Candidate{
			Foundation: computeFoundation(CandidateTypeHost, ip, ""),
			Component:  c.id,
			Transport:  TransportUDP,
			Priority:   ComputePriority(CandidateTypeHost, localPreference, c.id),
			Address:    addr,
			Type:       CandidateTypeHost,
		}

		base := &candidateBase{
			conn:      conn,
			addr:      addr,
			host:      host,
			component: c,
		}
		c.bases = append(c.bases, base)
		a.startReader(base)
		a.addLocalCandidate(s, c, host)
	}
}

// gatherCandidatesSrflx asks the STUN server for the mapping of a socket.
func (a *Agent) gatherCandidatesSrflx(s *stream, b *candidateBase) {
	server := a.config.stunServer
	if networkTypeOf(server.Addr()).IsIPv4() != networkTypeOf(b.addr.Addr()).IsIPv4() {
		return
	}

	msg, err := stun.Build(stun.BindingRequest, stun.TransactionID, stun.Fingerprint)
	if err != nil {
		a.log.Warnf("Failed to build STUN request: %v", err)

		return
	}

	s.pendingGather++
	a.startTransaction(&transaction{
		id:          msg.TransactionID,
		raw:         msg.Raw,
		base:        b,
		destination: server,
		streamID:    s.id,
		maxAttempts: a.config.stunRetransmits,
		onResponse: func(m *stun.Message, src netip.AddrPort) bool {
			if src != server {
				a.log.Debugf("%v: STUN response from %s, expected %s", ErrProtocolViolation, src, server)

				return false
			}
			a.handleServerReflexiveResponse(s, b, m)
			s.pendingGather--
			a.checkGatheringDone(s)

			return true
		},
		onTimeout: func() {
			a.log.Warnf("No answer from STUN server %s via %s", a.config.stunServerName, b.addr)
			s.pendingGather--
			a.checkGatheringDone(s)
		},
	})
}

func (a *Agent) handleServerReflexiveResponse(s *stream, b *candidateBase, m *stun.Message) {
	if m.Type.Class != stun.ClassSuccessResponse {
		var code stun.ErrorCodeAttribute
		if err := code.GetFrom(m); err == nil {
			a.log.Warnf("STUN server %s answered %d %s", a.config.stunServerName, code.Code, code.Reason)
		}

		return
	}

	mapped, err := mappedAddressOf(m)
	if err != nil {
		a.log.Warnf("Failed to get mapped address from %s: %v", a.config.stunServerName, err)

		return
	}

	c := b.component
	if mapped == b.addr || c.hasLocal(mapped) {
		// Redundant with the host candidate, no NAT between us and the server.
		return
	}

	localPreference := uint16((b.host.Priority >> 8) & 0xFFFF) //nolint:gosec
	srflx := Candidate{
		Foundation:     computeFoundation(CandidateTypeServerReflexive, b.addr.Addr(), a.config.stunServerName),
		Component:      c.id,
		Transport:      TransportUDP,
		Priority:       ComputePriority(CandidateTypeServerReflexive, localPreference, c.id),
		Address:        mapped,
		Type:           CandidateTypeServerReflexive,
		RelatedAddress: b.addr,
	}
	a.addLocalCandidate(s, c, srflx)
}

func mappedAddressOf(m *stun.Message) (netip.AddrPort, error) {
	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(m); err == nil {
		return addrPortFromIP(xorAddr.IP, xorAddr.Port)
	}

	var addr stun.MappedAddress
	if err := addr.GetFrom(m); err != nil {
		return netip.AddrPort{}, err
	}

	return addrPortFromIP(addr.IP, addr.Port)
}

func addrPortFromIP(ip []byte, port int) (netip.AddrPort, error) {
	parsed, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("%w: %v", ErrCandidateAddress, ip)
	}

	return netip.AddrPortFrom(parsed.Unmap(), uint16(port)), nil //nolint:gosec
}

func (a *Agent) addLocalCandidate(s *stream, c *component, cand Candidate) {
	c.local = append(c.local, cand)
	a.log.Debugf("Gathered local candidate %s for %d/%d", cand, s.id, c.id)

	streamID := s.id
	a.events.push(func() {
		if h := a.handlers.candidate(); h != nil {
			h(streamID, cand)
		}
	})
}

func (a *Agent) checkGatheringDone(s *stream) {
	if s.gathering != gatheringStateGathering || s.pendingGather > 0 {
		return
	}
	s.gathering = gatheringStateComplete
	a.log.Debugf("Gathering done for stream %d", s.id)

	streamID := s.id
	a.events.push(func() {
		if h := a.handlers.gatheringDone(); h != nil {
			h(streamID)
		}
	})

	a.maybeStartChecks(s)
}
