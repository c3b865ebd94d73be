// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"fmt"
	"net/netip"
)

var supportedNetworkTypes = []NetworkType{
	NetworkTypeUDP4,
	NetworkTypeUDP6,
}

// NetworkType represents the type of network.
type NetworkType int

const (
	// NetworkTypeUDP4 indicates UDP over IPv4.
	NetworkTypeUDP4 NetworkType = iota + 1

	// NetworkTypeUDP6 indicates UDP over IPv6.
	NetworkTypeUDP6
)

// This is done this way because of a linter.
const (
	networkTypeUDP4Str = "udp4"
	networkTypeUDP6Str = "udp6"
)

func (t NetworkType) String() string {
	switch t {
	case NetworkTypeUDP4:
		return networkTypeUDP4Str
	case NetworkTypeUDP6:
		return networkTypeUDP6Str
	default:
		return ErrUnknownType.Error()
	}
}

// NewNetworkType allows create network type from string.
func NewNetworkType(raw string) (NetworkType, error) {
	switch raw {
	case networkTypeUDP4Str:
		return NetworkTypeUDP4, nil
	case networkTypeUDP6Str:
		return NetworkTypeUDP6, nil
	default:
		return NetworkType(0), fmt.Errorf("%w: network type %s", ErrUnknownType, raw)
	}
}

// IsIPv4 returns true when network is UDP4.
func (t NetworkType) IsIPv4() bool {
	return t == NetworkTypeUDP4
}

// IsIPv6 returns true when network is UDP6.
func (t NetworkType) IsIPv6() bool {
	return t == NetworkTypeUDP6
}

func networkTypeOf(addr netip.Addr) NetworkType {
	if addr.Unmap().Is4() {
		return NetworkTypeUDP4
	}

	return NetworkTypeUDP6
}
