// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import "fmt"

// CandidateType represents the type of candidate.
type CandidateType byte

const (
	// CandidateTypeHost indicates a candidate obtained by binding to a
	// specific port from an IP address on the host, as described in
	// https://tools.ietf.org/html/rfc8445#section-5.1.1.1.
	CandidateTypeHost CandidateType = iota + 1

	// CandidateTypeServerReflexive indicates a binding allocated by a NAT
	// after sending a packet through it to a STUN server.
	CandidateTypeServerReflexive

	// CandidateTypePeerReflexive indicates a binding allocated by a NAT
	// after sending a packet through it to the peer.
	CandidateTypePeerReflexive

	// CandidateTypeRelay indicates a candidate obtained from a relay server.
	// It is understood by the codec but never gathered.
	CandidateTypeRelay
)

// This is done this way because of a linter.
const (
	candidateTypeHostStr  = "host"
	candidateTypeSrflxStr = "srflx"
	candidateTypePrflxStr = "prflx"
	candidateTypeRelayStr = "relay"
)

// NewCandidateType takes a string and converts it into CandidateType.
func NewCandidateType(raw string) (CandidateType, error) {
	switch raw {
	case candidateTypeHostStr:
		return CandidateTypeHost, nil
	case candidateTypeSrflxStr:
		return CandidateTypeServerReflexive, nil
	case candidateTypePrflxStr:
		return CandidateTypePeerReflexive, nil
	case candidateTypeRelayStr:
		return CandidateTypeRelay, nil
	default:
		return CandidateType(0), fmt.Errorf("%w: %s", ErrCandidateType, raw)
	}
}

func (c CandidateType) String() string {
	switch c {
	case CandidateTypeHost:
		return candidateTypeHostStr
	case CandidateTypeServerReflexive:
		return candidateTypeSrflxStr
	case CandidateTypePeerReflexive:
		return candidateTypePrflxStr
	case CandidateTypeRelay:
		return candidateTypeRelayStr
	default:
		return ErrUnknownType.Error()
	}
}

// Preference returns the type preference used in the candidate priority.
// https://tools.ietf.org/html/rfc8445#section-5.1.2.2
func (c CandidateType) Preference() uint32 {
	switch c {
	case CandidateTypeHost:
		return 126
	case CandidateTypePeerReflexive:
		return 110
	case CandidateTypeServerReflexive:
		return 100
	default:
		return 0
	}
}
