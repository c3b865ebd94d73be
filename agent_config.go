// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/pion/logging"
	"github.com/pion/randutil"
	"github.com/pion/transport/v4"
	"github.com/pion/transport/v4/stdnet"
)

const (
	// defaultPacingInterval is the time between two ordinary checks.
	defaultPacingInterval = 20 * time.Millisecond

	// defaultMaxRetransmits is the number of transmissions of a check
	// before the pair is declared failed.
	defaultMaxRetransmits = 7

	// defaultInitialRTO is the first retransmission timeout, doubled after
	// each transmission.
	defaultInitialRTO = 500 * time.Millisecond

	// defaultSTUNRetransmits bounds server reflexive gathering.
	defaultSTUNRetransmits = 3

	// defaultKeepaliveInterval used to keep the selected pair alive.
	defaultKeepaliveInterval = 15 * time.Second

	// receiveMTU is the largest datagram read from a socket.
	receiveMTU = 8192

	// maxBufferSize is the number of bytes buffered per component before
	// received data is dropped.
	maxBufferSize = 1000 * 1000 // 1MB
)

// AgentConfig collects the arguments to Agent construction into a single
// structure. It is copied and validated once by NewAgent.
type AgentConfig struct {
	// Role is the initial role. It defaults to RoleControlling and may be
	// swapped once by a role conflict.
	Role Role

	// STUNServer is the host:port of the STUN server used to gather server
	// reflexive candidates. A "stun:" prefix is accepted. Empty disables it.
	STUNServer string

	// PortMin and PortMax are optional. Leave them 0 for the default UDP port allocation strategy.
	PortMin uint16
	PortMax uint16

	// NominationMode defaults to NominationRegular.
	NominationMode NominationMode

	// PacingInterval is the time between two connectivity checks.
	PacingInterval time.Duration

	// MaxRetransmits is the number of transmissions of a check before the
	// pair fails.
	MaxRetransmits int

	// InitialRTO is the first retransmission timeout.
	InitialRTO time.Duration

	// STUNRetransmits is the number of transmissions of a request to the
	// STUN server.
	STUNRetransmits int

	// KeepaliveInterval determines how often keepalives are sent on the
	// selected pair. When this is nil, it defaults to 15 seconds.
	// A keepalive interval of 0 means we never send keepalive packets.
	KeepaliveInterval *time.Duration

	// ContinualNomination lets later nominations replace and re-announce
	// the selected pair after the stream is ready.
	ContinualNomination bool

	// MaxPairs limits each checklist, lowest priority pairs are dropped.
	MaxPairs int

	// NetworkTypes is an optional configuration for disabling or enabling
	// support for specific network types.
	NetworkTypes []NetworkType

	// IncludeLoopback gathers candidates on loopback interfaces.
	IncludeLoopback bool

	// InterfaceFilter is a function that you can use in order to whitelist or blacklist
	// the interfaces which are used to gather ICE candidates.
	InterfaceFilter func(string) bool

	// IPFilter is a function that you can use in order to whitelist or blacklist
	// the ips which are used to gather ICE candidates.
	IPFilter func(net.IP) bool

	// Net is the our abstracted network interface for internal development purpose only
	// (see https://github.com/pion/transport)
	Net transport.Net

	LoggerFactory logging.LoggerFactory
}

// resolvedConfig is the validated form of AgentConfig.
type resolvedConfig struct {
	role                Role
	stunServer          netip.AddrPort
	stunServerName      string
	portMin             uint16
	portMax             uint16
	nominationMode      NominationMode
	pacingInterval      time.Duration
	maxRetransmits      int
	initialRTO          time.Duration
	stunRetransmits     int
	keepaliveInterval   time.Duration
	continualNomination bool
	maxPairs            int
	networkTypes        []NetworkType
	includeLoopback     bool
	interfaceFilter     func(string) bool
	ipFilter            func(net.IP) bool
	net                 transport.Net
	loggerFactory       logging.LoggerFactory
	rand                randutil.MathRandomGenerator
}

func (config *AgentConfig) resolve() (*resolvedConfig, error) {
	res := &resolvedConfig{
		role:                config.Role,
		portMin:             config.PortMin,
		portMax:             config.PortMax,
		nominationMode:      config.NominationMode,
		pacingInterval:      config.PacingInterval,
		maxRetransmits:      config.MaxRetransmits,
		initialRTO:          config.InitialRTO,
		stunRetransmits:     config.STUNRetransmits,
		continualNomination: config.ContinualNomination,
		maxPairs:            config.MaxPairs,
		networkTypes:        config.NetworkTypes,
		includeLoopback:     config.IncludeLoopback,
		interfaceFilter:     config.InterfaceFilter,
		ipFilter:            config.IPFilter,
		net:                 config.Net,
		loggerFactory:       config.LoggerFactory,
		rand:                randutil.NewMathRandomGenerator(),
	}

	if err := res.initWithDefaults(config); err != nil {
		return nil, err
	}

	if config.STUNServer != "" {
		if err := res.resolveSTUNServer(config.STUNServer); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// initWithDefaults fills zero values and rejects invalid ones.
func (res *resolvedConfig) initWithDefaults(config *AgentConfig) error { //nolint:cyclop
	switch res.role {
	case 0:
		res.role = RoleControlling
	case RoleControlling, RoleControlled:
	default:
		return ErrInvalidRole
	}

	switch res.nominationMode {
	case 0:
		res.nominationMode = NominationRegular
	case NominationRegular, NominationAggressive:
	default:
		return ErrInvalidNominationMode
	}

	if res.portMax != 0 && res.portMin > res.portMax {
		return ErrPortRange
	}

	switch {
	case res.pacingInterval < 0:
		return ErrInvalidPacingInterval
	case res.pacingInterval == 0:
		res.pacingInterval = defaultPacingInterval
	}

	switch {
	case res.maxRetransmits < 0:
		return ErrInvalidMaxRetransmits
	case res.maxRetransmits == 0:
		res.maxRetransmits = defaultMaxRetransmits
	}

	if res.initialRTO <= 0 {
		res.initialRTO = defaultInitialRTO
	}

	if res.stunRetransmits <= 0 {
		res.stunRetransmits = defaultSTUNRetransmits
	}

	if config.KeepaliveInterval == nil {
		res.keepaliveInterval = defaultKeepaliveInterval
	} else {
		res.keepaliveInterval = *config.KeepaliveInterval
	}

	if res.maxPairs <= 0 {
		res.maxPairs = defaultMaxPairs
	}

	if len(res.networkTypes) == 0 {
		res.networkTypes = supportedNetworkTypes
	}

	if res.loggerFactory == nil {
		res.loggerFactory = logging.NewDefaultLoggerFactory()
	}

	if res.net == nil {
		n, err := stdnet.NewNet()
		if err != nil {
			return fmt.Errorf("failed to create network: %w", err)
		}
		res.net = n
	}

	return nil
}

func (res *resolvedConfig) resolveSTUNServer(raw string) error {
	hostPort := strings.TrimPrefix(raw, "stun:")
	if _, _, err := net.SplitHostPort(hostPort); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSTUNServer, raw, err) //nolint:errorlint
	}

	udpAddr, err := res.net.ResolveUDPAddr("udp", hostPort)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSTUNServer, raw, err) //nolint:errorlint
	}

	addr, ok := addrPortOf(udpAddr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSTUNServer, raw)
	}
	res.stunServer = addr
	res.stunServerName = hostPort

	return nil
}
