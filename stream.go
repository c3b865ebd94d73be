// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"net"
	"net/netip"
)

type gatheringState int

const (
	gatheringStateNew gatheringState = iota
	gatheringStateGathering
	gatheringStateComplete
)

// candidateBase is a local UDP socket. Host candidates are the socket's
// address, server reflexive candidates are sent through it.
type candidateBase struct {
	conn      net.PacketConn
	addr      netip.AddrPort
	host      Candidate
	component *component
	closed    bool
}

func (b *candidateBase) writeTo(raw []byte, dst netip.AddrPort) error {
	_, err := b.conn.WriteTo(raw, net.UDPAddrFromAddrPort(dst))

	return err
}

func (b *candidateBase) close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	return b.conn.Close()
}

// earlyCheck is a binding request that arrived before the checklist
// existed. It is replayed as a triggered check once checks start.
type earlyCheck struct {
	base         *candidateBase
	source       netip.AddrPort
	priority     uint32
	useCandidate bool
}

type component struct {
	id     uint16
	stream *stream
	state  ComponentState

	bases  []*candidateBase
	local  []Candidate
	remote []Candidate

	selected         *CandidatePair
	selectedNotified bool
	conn             *Conn
	keepalive        *timerEntry
}

func (c *component) baseFor(addr netip.AddrPort) *candidateBase {
	for _, b := range c.bases {
		if b.addr == addr && !b.closed {
			return b
		}
	}

	return nil
}

func (c *component) hasLocal(addr netip.AddrPort) bool {
	for _, l := range c.local {
		if l.Address == addr {
			return true
		}
	}

	return false
}

func (c *component) findRemote(addr netip.AddrPort) (Candidate, bool) {
	for _, r := range c.remote {
		if r.Address == addr {
			return r, true
		}
	}

	return Candidate{}, false
}

// addRemote stores a remote candidate unless its address is known.
func (c *component) addRemote(cand Candidate) bool {
	if _, ok := c.findRemote(cand.Address); ok {
		return false
	}
	c.remote = append(c.remote, cand)

	return true
}

type stream struct {
	id         int
	name       string
	components []*component

	localUfrag  string
	localPwd    string
	remoteUfrag string
	remotePwd   string

	gathering     gatheringState
	pendingGather int

	checklist   *Checklist
	earlyChecks []earlyCheck
	ready       bool
	state       ComponentState
}

func newStream(id int, name string, components int) *stream {
	s := &stream{
		id:    id,
		name:  name,
		state: ComponentStateDisconnected,
	}
	for i := 1; i <= components; i++ {
		s.components = append(s.components, &component{
			id:     uint16(i),
			stream: s,
			state:  ComponentStateDisconnected,
		})
	}

	return s
}

func (s *stream) component(id uint16) *component {
	if id == 0 || int(id) > len(s.components) {
		return nil
	}

	return s.components[id-1]
}

func (s *stream) hasRemoteCredentials() bool {
	return s.remoteUfrag != "" && s.remotePwd != ""
}

// checksStarted reports whether the checklist has been built.
func (s *stream) checksStarted() bool {
	return s.checklist != nil
}

func (s *stream) localCandidates() []Candidate {
	var out []Candidate
	for _, c := range s.components {
		out = append(out, c.local...)
	}

	return out
}

func (s *stream) remoteCandidates() []Candidate {
	var out []Candidate
	for _, c := range s.components {
		out = append(out, c.remote...)
	}

	return out
}

func (s *stream) componentStates() []ComponentState {
	states := make([]ComponentState, 0, len(s.components))
	for _, c := range s.components {
		states = append(states, c.state)
	}

	return states
}

// StreamInfo describes a stream for callers outside the event loop.
type StreamInfo struct {
	ID         int
	Name       string
	Components int
	State      ComponentState
}
