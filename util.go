// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/pion/logging"
	"github.com/pion/randutil"
	"github.com/pion/transport/v4"
)

const (
	runesAlpha                 = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	runesDigit                 = "0123456789"
	runesCandidateIDFoundation = runesAlpha + runesDigit + "+/"

	lenUFrag = 16
	lenPwd   = 32
)

// generateUFrag generates ICE user fragment.
func generateUFrag() (string, error) {
	return randutil.GenerateCryptoRandomString(lenUFrag, runesAlpha)
}

// generatePwd generates ICE pwd.
func generatePwd() (string, error) {
	return randutil.GenerateCryptoRandomString(lenPwd, runesAlpha)
}

// generatePeerReflexiveFoundation names a foundation the peer never told us.
func generatePeerReflexiveFoundation(rand randutil.MathRandomGenerator) string {
	return rand.GenerateString(8, runesCandidateIDFoundation)
}

func generateTieBreaker() (uint64, error) {
	return randutil.CryptoUint64()
}

// generateSessionID returns an o= session id that fits in 63 bits.
// https://tools.ietf.org/html/rfc8829#section-5.2.1
func generateSessionID() (uint64, error) {
	id, err := randutil.CryptoUint64()

	return id & (^(uint64(1) << 63)), err
}

func generateCredentials() (ufrag, pwd string, err error) {
	if ufrag, err = generateUFrag(); err != nil {
		return "", "", err
	}
	if pwd, err = generatePwd(); err != nil {
		return "", "", err
	}

	return ufrag, pwd, nil
}

type atomicError struct{ v atomic.Value }

func (a *atomicError) Store(err error) {
	a.v.Store(struct{ error }{err})
}

func (a *atomicError) Load() error {
	err, _ := a.v.Load().(struct{ error })

	return err.error
}

// addrPortOf converts a UDP address, unmapping IPv4-in-IPv6 forms.
func addrPortOf(addr net.Addr) (netip.AddrPort, bool) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	ip, ok := netip.AddrFromSlice(udpAddr.IP)
	if !ok {
		return netip.AddrPort{}, false
	}

	return netip.AddrPortFrom(ip.Unmap().WithZone(udpAddr.Zone), uint16(udpAddr.Port)), true //nolint:gosec
}

// localInterfaces returns the addresses usable for host candidates.
// https://tools.ietf.org/html/rfc8445#section-5.1.1.1
func localInterfaces(
	n transport.Net,
	interfaceFilter func(string) bool,
	ipFilter func(net.IP) bool,
	networkTypes []NetworkType,
	includeLoopback bool,
) ([]netip.Addr, error) {
	ifaces, err := n.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []netip.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue // interface down
		}
		if (iface.Flags&net.FlagLoopback != 0) && !includeLoopback {
			continue // loopback interface
		}
		if interfaceFilter != nil && !interfaceFilter(iface.Name) {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch addr := addr.(type) {
			case *net.IPNet:
				ip = addr.IP
			case *net.IPAddr:
				ip = addr.IP
			}
			if ip == nil || (ip.IsLoopback() && !includeLoopback) {
				continue
			}
			if ipFilter != nil && !ipFilter(ip) {
				continue
			}

			parsed, ok := netip.AddrFromSlice(ip)
			if !ok {
				continue
			}
			parsed = parsed.Unmap()
			if networkTypeOf(parsed).IsIPv6() && !isSupportedIPv6(parsed) {
				continue
			}
			if !hasNetworkType(networkTypes, networkTypeOf(parsed)) {
				continue
			}

			ips = append(ips, parsed)
		}
	}

	return ips, nil
}

func hasNetworkType(types []NetworkType, t NetworkType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}

	return false
}

// isSupportedIPv6 drops IPv4-compatible, site-local and link-local addresses.
func isSupportedIPv6(ip netip.Addr) bool {
	b := ip.As16()
	isZeros := true
	for _, v := range b[:12] {
		if v != 0 {
			isZeros = false

			break
		}
	}
	if isZeros ||
		b[0] == 0xfe && b[1]&0xc0 == 0xc0 ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() {
		return false
	}

	return true
}

// listenUDPInPortRange opens a UDP socket on ip with a port in
// [portMin, portMax], starting at a random port of the range.
func listenUDPInPortRange(
	n transport.Net,
	log logging.LeveledLogger,
	rand randutil.MathRandomGenerator,
	portMin, portMax uint16,
	ip netip.Addr,
) (net.PacketConn, error) {
	network := NetworkTypeUDP4.String()
	if networkTypeOf(ip).IsIPv6() {
		network = NetworkTypeUDP6.String()
	}

	if portMin == 0 && portMax == 0 {
		return n.ListenPacket(network, netip.AddrPortFrom(ip, 0).String())
	}

	if portMax == 0 {
		portMax = 0xFFFF
	}
	if portMin == 0 {
		portMin = 1024
	}
	if portMin > portMax {
		return nil, ErrPortRange
	}

	span := int(portMax) - int(portMin) + 1
	start := rand.Intn(span)
	for i := 0; i < span; i++ {
		port := uint16(int(portMin) + (start+i)%span) //nolint:gosec
		conn, err := n.ListenPacket(network, netip.AddrPortFrom(ip, port).String())
		if err == nil {
			return conn, nil
		}
		log.Tracef("Failed to listen %s:%d: %v", ip, port, err)
	}

	return nil, fmt.Errorf("%w: no free port in %d-%d on %s", ErrPort, portMin, portMax, ip)
}
