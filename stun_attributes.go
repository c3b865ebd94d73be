// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"encoding/binary"

	"github.com/pion/stun/v3"
)

// bin is shorthand for BigEndian.
var bin = binary.BigEndian //nolint:gochecknoglobals

const (
	prioritySize   = 4
	tieBreakerSize = 8
)

// PriorityAttr represents the PRIORITY attribute.
// https://tools.ietf.org/html/rfc8445#section-7.1.1
type PriorityAttr uint32

// AddTo adds PRIORITY attribute to message.
func (p PriorityAttr) AddTo(m *stun.Message) error {
	v := make([]byte, prioritySize)
	bin.PutUint32(v, uint32(p))
	m.Add(stun.AttrPriority, v)

	return nil
}

// GetFrom decodes PRIORITY attribute from message.
func (p *PriorityAttr) GetFrom(m *stun.Message) error {
	v, err := m.Get(stun.AttrPriority)
	if err != nil {
		return err
	}
	if err = stun.CheckSize(stun.AttrPriority, len(v), prioritySize); err != nil {
		return err
	}
	*p = PriorityAttr(bin.Uint32(v))

	return nil
}

// UseCandidateAttr represents the USE-CANDIDATE attribute.
type UseCandidateAttr struct{}

// AddTo adds USE-CANDIDATE attribute to message.
func (UseCandidateAttr) AddTo(m *stun.Message) error {
	m.Add(stun.AttrUseCandidate, nil)

	return nil
}

// IsSet returns true if USE-CANDIDATE attribute is set.
func (UseCandidateAttr) IsSet(m *stun.Message) bool {
	_, err := m.Get(stun.AttrUseCandidate)

	return err == nil
}

// UseCandidate is shorthand for UseCandidateAttr.
func UseCandidate() UseCandidateAttr {
	return UseCandidateAttr{}
}

// tieBreaker is the common value of ICE-CONTROLLING and ICE-CONTROLLED.
type tieBreaker uint64

func (a tieBreaker) addToAs(m *stun.Message, t stun.AttrType) error {
	v := make([]byte, tieBreakerSize)
	bin.PutUint64(v, uint64(a))
	m.Add(t, v)

	return nil
}

func (a *tieBreaker) getFromAs(m *stun.Message, t stun.AttrType) error {
	v, err := m.Get(t)
	if err != nil {
		return err
	}
	if err = stun.CheckSize(t, len(v), tieBreakerSize); err != nil {
		return err
	}
	*a = tieBreaker(bin.Uint64(v))

	return nil
}

// AttrControlled represents ICE-CONTROLLED attribute.
type AttrControlled uint64

// AddTo adds ICE-CONTROLLED to message.
func (c AttrControlled) AddTo(m *stun.Message) error {
	return tieBreaker(c).addToAs(m, stun.AttrICEControlled)
}

// GetFrom decodes ICE-CONTROLLED from message.
func (c *AttrControlled) GetFrom(m *stun.Message) error {
	return (*tieBreaker)(c).getFromAs(m, stun.AttrICEControlled)
}

// AttrControlling represents ICE-CONTROLLING attribute.
type AttrControlling uint64

// AddTo adds ICE-CONTROLLING to message.
func (c AttrControlling) AddTo(m *stun.Message) error {
	return tieBreaker(c).addToAs(m, stun.AttrICEControlling)
}

// GetFrom decodes ICE-CONTROLLING from message.
func (c *AttrControlling) GetFrom(m *stun.Message) error {
	return (*tieBreaker)(c).getFromAs(m, stun.AttrICEControlling)
}

// roleAttr returns the role attribute the local agent puts on requests.
func roleAttr(role Role, tb uint64) stun.Setter {
	if role == RoleControlling {
		return AttrControlling(tb)
	}

	return AttrControlled(tb)
}

func assertInboundMessageIntegrity(m *stun.Message, key []byte) error {
	messageIntegrityAttr := stun.MessageIntegrity(key)

	return messageIntegrityAttr.Check(m)
}
