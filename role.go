// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import "fmt"

// Role represents ICE agent role, which can be controlling or controlled.
type Role byte

// Possible ICE agent roles.
const (
	RoleControlling Role = iota + 1
	RoleControlled
)

// UnmarshalText implements TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	switch string(text) {
	case "controlling":
		*r = RoleControlling
	case "controlled":
		*r = RoleControlled
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, text)
	}

	return nil
}

// MarshalText implements TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r Role) String() string {
	switch r {
	case RoleControlling:
		return "controlling"
	case RoleControlled:
		return "controlled"
	default:
		return ErrUnknownType.Error()
	}
}

func (r Role) swap() Role {
	if r == RoleControlling {
		return RoleControlled
	}

	return RoleControlling
}

// NominationMode selects how the controlling agent nominates a pair.
type NominationMode byte

const (
	// NominationRegular checks pairs first and nominates the best valid
	// pair with a second check carrying USE-CANDIDATE.
	NominationRegular NominationMode = iota + 1

	// NominationAggressive sets USE-CANDIDATE on every check so the first
	// successful pair is nominated.
	NominationAggressive
)

// UnmarshalText implements TextUnmarshaler.
func (n *NominationMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "regular":
		*n = NominationRegular
	case "aggressive":
		*n = NominationAggressive
	default:
		return fmt.Errorf("%w: %q", ErrInvalidNominationMode, text)
	}

	return nil
}

func (n NominationMode) String() string {
	switch n {
	case NominationRegular:
		return "regular"
	case NominationAggressive:
		return "aggressive"
	default:
		return ErrUnknownType.Error()
	}
}
