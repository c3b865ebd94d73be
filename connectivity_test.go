// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"net/netip"
	"testing"
	"time"

	"github.com/pion/stun/v3"
	"github.com/pion/transport/v4/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	silentRemotePwd = "somepasswordsomepassword"
	silentRemoteA   = "1.2.3.7:5000"
	silentRemoteB   = "1.2.3.8:5000"
)

// silentPeerAgent starts checks against remote candidates nobody answers for.
// The caller closes the agent.
func silentPeerAgent(t *testing.T, config AgentConfig, candidates ...string) (*Agent, int, *stateRecorder) {
	t.Helper()

	agent, err := NewAgent(config)
	require.NoError(t, err)

	streamID, err := agent.AddStream("data", 1)
	require.NoError(t, err)
	states := recordStates(agent, streamID)
	gather(t, agent, streamID)

	lines := []string{
		"m=application 5000 UDP ice",
		"a=mid:data",
		"a=ice-ufrag:someufrag",
		"a=ice-pwd:" + silentRemotePwd,
	}
	lines = append(lines, candidates...)
	require.NoError(t, agent.SetRemoteDescription(remoteDescription(lines...)))

	return agent, streamID, states
}

// pendingCheck waits for an outstanding connectivity check towards remote.
func pendingCheck(t *testing.T, agent *Agent, remote netip.AddrPort) *transaction {
	t.Helper()

	var tx *transaction
	assert.Eventually(t, func() bool {
		err := agent.run(func(a *Agent) {
			for _, pending := range a.transactions {
				if pending.pair != nil && pending.destination == remote {
					tx = pending
				}
			}
		})

		return err == nil && tx != nil
	}, 5*time.Second, 10*time.Millisecond)
	require.NotNil(t, tx)

	return tx
}

func pairState(t *testing.T, agent *Agent, p *CandidatePair) CandidatePairState {
	t.Helper()

	var state CandidatePairState
	require.NoError(t, agent.run(func(*Agent) {
		state = p.State
	}))

	return state
}

func inject(t *testing.T, agent *Agent, b *candidateBase, src netip.AddrPort, raw []byte) {
	t.Helper()

	require.NoError(t, agent.run(func(a *Agent) {
		a.handleInbound(b, src, raw)
	}))
}

func TestTriggeredCheckSkipsPacing(t *testing.T) {
	defer test.TimeOut(time.Second * 20).Stop()
	defer test.CheckRoutines(t)()

	wan, offerNet, _ := flatNetwork(t)
	defer func() { assert.NoError(t, wan.Stop()) }()

	config := testAgentConfig(offerNet, RoleControlling)
	config.PacingInterval = 10 * time.Second
	config.InitialRTO = time.Second

	agent, streamID, _ := silentPeerAgent(t, config,
		"a=candidate:1 1 UDP 2130706431 1.2.3.7 5000 typ host",
		"a=candidate:2 1 UDP 2130706175 1.2.3.8 5000 typ host",
	)
	defer func() { assert.NoError(t, agent.Close()) }()

	// The first tick checks the preferred pair, the next one is 10s away.
	first := pendingCheck(t, agent, netip.MustParseAddrPort(silentRemoteA))
	base := first.base

	remoteB := netip.MustParseAddrPort(silentRemoteB)
	var lower *CandidatePair
	var localUfrag, localPwd string
	require.NoError(t, agent.run(func(a *Agent) {
		s := a.streams[streamID]
		localUfrag, localPwd = s.localUfrag, s.localPwd
		lower = s.checklist.find(1, base.addr, remoteB)
	}))
	require.NotNil(t, lower)
	assert.NotEqual(t, CandidatePairStateInProgress, pairState(t, agent, lower))

	request, err := stun.Build(
		stun.BindingRequest,
		stun.TransactionID,
		stun.NewUsername(localUfrag+":someufrag"),
		roleAttr(RoleControlled, 1),
		PriorityAttr(2130706175),
		stun.NewShortTermIntegrity(localPwd),
		stun.Fingerprint,
	)
	require.NoError(t, err)
	inject(t, agent, base, remoteB, request.Raw)

	assert.Equal(t, CandidatePairStateInProgress, pairState(t, agent, lower))
	pendingCheck(t, agent, remoteB)
}

func TestLateResponseAfterRemoveStream(t *testing.T) {
	defer test.TimeOut(time.Second * 20).Stop()
	defer test.CheckRoutines(t)()

	wan, offerNet, _ := flatNetwork(t)
	defer func() { assert.NoError(t, wan.Stop()) }()

	config := testAgentConfig(offerNet, RoleControlling)
	config.InitialRTO = 5 * time.Second

	agent, streamID, states := silentPeerAgent(t, config,
		"a=candidate:1 1 UDP 2130706431 1.2.3.7 5000 typ host",
	)
	defer func() { assert.NoError(t, agent.Close()) }()

	remote := netip.MustParseAddrPort(silentRemoteA)
	tx := pendingCheck(t, agent, remote)
	assert.Equal(t, CandidatePairStateInProgress, pairState(t, agent, tx.pair))

	require.NoError(t, agent.RemoveStream(streamID))

	response := successResponse(t, tx, silentRemotePwd)
	assert.NotPanics(t, func() { inject(t, agent, tx.base, remote, response) })

	assert.Equal(t, CandidatePairStateInProgress, pairState(t, agent, tx.pair))
	require.NoError(t, agent.run(func(a *Agent) {
		assert.Empty(t, a.transactions)
	}))
	_, err := agent.ComponentState(streamID, 1)
	assert.ErrorIs(t, err, ErrUnknownStream)
	assert.NotContains(t, states.states(1), ComponentStateConnected)
}

func TestRoleConflictResponseIntegrity(t *testing.T) {
	defer test.TimeOut(time.Second * 20).Stop()
	defer test.CheckRoutines(t)()

	wan, offerNet, _ := flatNetwork(t)
	defer func() { assert.NoError(t, wan.Stop()) }()

	config := testAgentConfig(offerNet, RoleControlling)
	config.InitialRTO = 5 * time.Second

	agent, _, _ := silentPeerAgent(t, config,
		"a=candidate:1 1 UDP 2130706431 1.2.3.7 5000 typ host",
	)
	defer func() { assert.NoError(t, agent.Close()) }()

	remote := netip.MustParseAddrPort(silentRemoteA)
	tx := pendingCheck(t, agent, remote)

	unsigned, err := stun.Build(
		stun.NewTransactionIDSetter(tx.id),
		stun.BindingError,
		stun.CodeRoleConflict,
		stun.Fingerprint,
	)
	require.NoError(t, err)
	inject(t, agent, tx.base, remote, unsigned.Raw)

	role, err := agent.Role()
	require.NoError(t, err)
	assert.Equal(t, RoleControlling, role)
	require.NoError(t, agent.run(func(a *Agent) {
		assert.Contains(t, a.transactions, tx.id)
	}))

	signed, err := stun.Build(
		stun.NewTransactionIDSetter(tx.id),
		stun.BindingError,
		stun.CodeRoleConflict,
		stun.NewShortTermIntegrity(silentRemotePwd),
		stun.Fingerprint,
	)
	require.NoError(t, err)
	inject(t, agent, tx.base, remote, signed.Raw)

	role, err = agent.Role()
	require.NoError(t, err)
	assert.Equal(t, RoleControlled, role)
}

func successResponse(t *testing.T, tx *transaction, pwd string) []byte {
	t.Helper()

	local := tx.base.addr
	m, err := stun.Build(
		stun.NewTransactionIDSetter(tx.id),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: local.Addr().AsSlice(), Port: int(local.Port())},
		stun.NewShortTermIntegrity(pwd),
		stun.Fingerprint,
	)
	require.NoError(t, err)

	return m.Raw
}
