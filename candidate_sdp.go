// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"net/netip"
	"strconv"
	"strings"
)

const (
	candidateAttributePrefix = "a="
	candidateAttributeKey    = "candidate"
	candidateMinTokens       = 8
	maxComponentID           = 256
)

// Marshal returns the SDP attribute line of the candidate, as described in
// https://tools.ietf.org/html/rfc8839#section-5.1
//
//	a=candidate:<foundation> <component> UDP <priority> <address> <port> typ <type> [raddr <addr> rport <port>]
func (c Candidate) Marshal() string {
	return candidateAttributePrefix + candidateAttributeKey + ":" + c.attributeValue()
}

// attributeValue is the part of the line after "candidate:".
func (c Candidate) attributeValue() string {
	var b strings.Builder
	b.Grow(96)

	b.WriteString(c.Foundation)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(uint64(c.Component), 10))
	b.WriteByte(' ')
	b.WriteString(c.Transport.String())
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(uint64(c.Priority), 10))
	b.WriteByte(' ')
	b.WriteString(c.Address.Addr().String())
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(uint64(c.Address.Port()), 10))
	b.WriteString(" typ ")
	b.WriteString(c.Type.String())

	if c.RelatedAddress.IsValid() {
		b.WriteString(" raddr ")
		b.WriteString(c.RelatedAddress.Addr().String())
		b.WriteString(" rport ")
		b.WriteString(strconv.FormatUint(uint64(c.RelatedAddress.Port()), 10))
	}

	return b.String()
}

// UnmarshalCandidate parses a candidate attribute. The "a=" and "candidate:"
// prefixes are optional. Extension attributes other than raddr and rport are
// ignored. Every failure is a *ParseError.
func UnmarshalCandidate(raw string) (Candidate, error) {
	line := strings.TrimSpace(raw)
	line = strings.TrimPrefix(line, candidateAttributePrefix)
	line = strings.TrimPrefix(line, candidateAttributeKey+":")

	cand, err := unmarshalCandidateValue(line)
	if err != nil {
		return Candidate{}, &ParseError{Line: raw, Err: err}
	}

	return cand, nil
}

func unmarshalCandidateValue(value string) (Candidate, error) {
	split := strings.Fields(value)
	if len(split) < candidateMinTokens {
		return Candidate{}, ErrCandidateTokenCount
	}

	var cand Candidate

	// Foundation
	cand.Foundation = split[0]

	// Component
	component, err := strconv.ParseUint(split[1], 10, 16)
	if err != nil || component == 0 || component > maxComponentID {
		return Candidate{}, ErrCandidateComponent
	}
	cand.Component = uint16(component)

	// Transport
	if !strings.EqualFold(split[2], TransportUDP.String()) {
		return Candidate{}, ErrUnsupportedTransport
	}
	cand.Transport = TransportUDP

	// Priority
	priority, err := strconv.ParseUint(split[3], 10, 32)
	if err != nil {
		return Candidate{}, ErrCandidatePriority
	}
	cand.Priority = uint32(priority)

	// Address
	addr, err := netip.ParseAddr(split[4])
	if err != nil {
		return Candidate{}, ErrCandidateAddress
	}

	// Port
	port, err := strconv.ParseUint(split[5], 10, 16)
	if err != nil {
		return Candidate{}, ErrCandidatePort
	}
	cand.Address = netip.AddrPortFrom(addr, uint16(port))

	// Type
	if split[6] != "typ" {
		return Candidate{}, ErrCandidateType
	}
	typ, err := NewCandidateType(split[7])
	if err != nil {
		return Candidate{}, err
	}
	cand.Type = typ

	extensions := split[candidateMinTokens:]
	if len(extensions)%2 != 0 {
		return Candidate{}, ErrCandidateExtension
	}

	var (
		relatedAddr netip.Addr
		relatedPort uint64
		hasRelated  bool
	)
	for i := 0; i < len(extensions); i += 2 {
		switch extensions[i] {
		case "raddr":
			if relatedAddr, err = netip.ParseAddr(extensions[i+1]); err != nil {
				return Candidate{}, ErrCandidateAddress
			}
			hasRelated = true
		case "rport":
			if relatedPort, err = strconv.ParseUint(extensions[i+1], 10, 16); err != nil {
				return Candidate{}, ErrCandidatePort
			}
		}
	}

	if hasRelated {
		cand.RelatedAddress = netip.AddrPortFrom(relatedAddr, uint16(relatedPort))
	}

	return cand, nil
}
