// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"fmt"
	"hash/crc32"
	"net/netip"
	"strconv"
)

// Transport is the transport protocol of a candidate.
type Transport byte

const (
	// TransportUDP is the only transport gathered and checked.
	TransportUDP Transport = iota + 1
)

func (t Transport) String() string {
	if t == TransportUDP {
		return "UDP"
	}

	return ErrUnknownType.Error()
}

// maxLocalPreference is used for the first address of a component.
const maxLocalPreference = 65535

// Candidate is a transport address that can be used for connectivity checks.
// Candidates are values and never change once created.
type Candidate struct {
	Foundation     string
	Component      uint16
	Transport      Transport
	Priority       uint32
	Address        netip.AddrPort
	Type           CandidateType
	RelatedAddress netip.AddrPort
}

// ComputePriority returns the priority of a candidate as described in
// https://tools.ietf.org/html/rfc8445#section-5.1.2.1
func ComputePriority(typ CandidateType, localPreference uint16, component uint16) uint32 {
	return (1<<24)*typ.Preference() +
		(1<<8)*uint32(localPreference) +
		uint32(256-component)
}

// computeFoundation gives candidates of the same type, base address and
// STUN server the same foundation.
// https://tools.ietf.org/html/rfc8445#section-5.1.1.3
func computeFoundation(typ CandidateType, base netip.Addr, stunServer string) string {
	buf := []byte(typ.String())
	buf = append(buf, base.String()...)
	buf = append(buf, stunServer...)
	buf = append(buf, "udp"...)

	return strconv.FormatUint(uint64(crc32.ChecksumIEEE(buf)), 10)
}

// NetworkType returns the address family of the candidate.
func (c Candidate) NetworkType() NetworkType {
	return networkTypeOf(c.Address.Addr())
}

func (c Candidate) String() string {
	if c.RelatedAddress.IsValid() {
		return fmt.Sprintf("%s %s %s (related %s)", c.NetworkType(), c.Type, c.Address, c.RelatedAddress)
	}

	return fmt.Sprintf("%s %s %s", c.NetworkType(), c.Type, c.Address)
}
