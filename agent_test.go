// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/test"
	"github.com/pion/transport/v4/vnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stateRecorder collects the state events of one agent.
type stateRecorder struct {
	mu         sync.Mutex
	components map[uint16][]ComponentState
	stream     []ComponentState
	ready      chan struct{}
	failed     chan struct{}
	readyOnce  sync.Once
	failedOnce sync.Once
}

func recordStates(agent *Agent, streamID int) *stateRecorder {
	r := &stateRecorder{
		components: map[uint16][]ComponentState{},
		ready:      make(chan struct{}),
		failed:     make(chan struct{}),
	}
	agent.OnComponentStateChange(func(id int, componentID uint16, state ComponentState) {
		if id != streamID {
			return
		}
		r.mu.Lock()
		r.components[componentID] = append(r.components[componentID], state)
		r.mu.Unlock()
	})
	agent.OnStreamStateChange(func(id int, state ComponentState) {
		if id != streamID {
			return
		}
		r.mu.Lock()
		r.stream = append(r.stream, state)
		r.mu.Unlock()
		switch state {
		case ComponentStateReady:
			r.readyOnce.Do(func() { close(r.ready) })
		case ComponentStateFailed:
			r.failedOnce.Do(func() { close(r.failed) })
		default:
		}
	})

	return r
}

func (r *stateRecorder) states(componentID uint16) []ComponentState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]ComponentState(nil), r.components[componentID]...)
}

func (r *stateRecorder) streamStates() []ComponentState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]ComponentState(nil), r.stream...)
}

func (r *stateRecorder) waitReady(t *testing.T) {
	t.Helper()

	select {
	case <-r.ready:
	case <-r.failed:
		require.Fail(t, "stream failed")
	case <-time.After(10 * time.Second):
		require.Fail(t, "stream did not become ready")
	}
}

// flatNetwork puts two agents on the same virtual subnet.
func flatNetwork(t *testing.T) (*vnet.Router, *vnet.Net, *vnet.Net) {
	t.Helper()

	wan, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "1.2.3.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	require.NoError(t, err)

	offerNet, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"1.2.3.5"}})
	require.NoError(t, err)
	require.NoError(t, wan.AddNet(offerNet))

	answerNet, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"1.2.3.6"}})
	require.NoError(t, err)
	require.NoError(t, wan.AddNet(answerNet))

	require.NoError(t, wan.Start())

	return wan, offerNet, answerNet
}

func testAgentConfig(n *vnet.Net, role Role) AgentConfig {
	return AgentConfig{
		Role:           role,
		Net:            n,
		NetworkTypes:   []NetworkType{NetworkTypeUDP4},
		PacingInterval: 5 * time.Millisecond,
		InitialRTO:     50 * time.Millisecond,
		MaxRetransmits: 4,
		LoggerFactory:  logging.NewDefaultLoggerFactory(),
	}
}

// exchange swaps the descriptions of two agents that finished gathering.
func exchange(t *testing.T, offer, answer *Agent) {
	t.Helper()

	offerSDP, err := offer.LocalDescription()
	require.NoError(t, err)
	answerSDP, err := answer.LocalDescription()
	require.NoError(t, err)

	require.NoError(t, answer.SetRemoteDescription(offerSDP))
	require.NoError(t, offer.SetRemoteDescription(answerSDP))
}

type agentPair struct {
	offer, answer             *Agent
	offerStream, answerID     int
	offerStates, answerStates *stateRecorder
}

func connectAgents(t *testing.T, offerConfig, answerConfig AgentConfig, components int) *agentPair {
	t.Helper()

	offer, err := NewAgent(offerConfig)
	require.NoError(t, err)
	answer, err := NewAgent(answerConfig)
	require.NoError(t, err)

	offerStream, err := offer.AddStream("data", components)
	require.NoError(t, err)
	answerStream, err := answer.AddStream("data", components)
	require.NoError(t, err)

	pair := &agentPair{
		offer:        offer,
		answer:       answer,
		offerStream:  offerStream,
		answerID:     answerStream,
		offerStates:  recordStates(offer, offerStream),
		answerStates: recordStates(answer, answerStream),
	}

	gather(t, offer, offerStream)
	gather(t, answer, answerStream)
	exchange(t, offer, answer)

	pair.offerStates.waitReady(t)
	pair.answerStates.waitReady(t)

	return pair
}

func (p *agentPair) close(t *testing.T) {
	t.Helper()

	assert.NoError(t, p.offer.Close())
	assert.NoError(t, p.answer.Close())
}

func TestAgentConnect(t *testing.T) {
	defer test.TimeOut(time.Second * 20).Stop()
	defer test.CheckRoutines(t)()

	wan, offerNet, answerNet := flatNetwork(t)
	defer func() { assert.NoError(t, wan.Stop()) }()

	selected := make(chan *CandidatePair, 1)
	offerConfig := testAgentConfig(offerNet, RoleControlling)
	answerConfig := testAgentConfig(answerNet, RoleControlled)

	offer, err := NewAgent(offerConfig)
	require.NoError(t, err)
	answer, err := NewAgent(answerConfig)
	require.NoError(t, err)
	pair := &agentPair{offer: offer, answer: answer}
	defer pair.close(t)

	offerStream, err := offer.AddStream("data", 1)
	require.NoError(t, err)
	answerStream, err := answer.AddStream("data", 1)
	require.NoError(t, err)

	offerStates := recordStates(offer, offerStream)
	answerStates := recordStates(answer, answerStream)
	offer.OnSelectedPairChange(func(_ int, _ uint16, p *CandidatePair) {
		selected <- p
	})

	gather(t, offer, offerStream)
	gather(t, answer, answerStream)
	exchange(t, offer, answer)

	offerStates.waitReady(t)
	answerStates.waitReady(t)

	want := []ComponentState{
		ComponentStateGathering,
		ComponentStateConnecting,
		ComponentStateConnected,
		ComponentStateReady,
	}
	assert.Equal(t, want, offerStates.states(1))
	assert.Equal(t, want, answerStates.states(1))

	var notified *CandidatePair
	select {
	case notified = <-selected:
	case <-time.After(time.Second):
		require.Fail(t, "no selected pair event")
	}

	offerPair, err := offer.SelectedPair(offerStream, 1)
	require.NoError(t, err)
	assert.Equal(t, notified.Local, offerPair.Local)
	assert.Equal(t, notified.Remote, offerPair.Remote)
	assert.True(t, offerPair.Nominated)
	assert.Equal(t, CandidatePairStateSucceeded, offerPair.State)
	assert.Equal(t, "1.2.3.5", offerPair.Local.Address.Addr().String())
	assert.Equal(t, "1.2.3.6", offerPair.Remote.Address.Addr().String())

	answerPair, err := answer.SelectedPair(answerStream, 1)
	require.NoError(t, err)
	assert.Equal(t, offerPair.Local.Address, answerPair.Remote.Address)
	assert.Equal(t, offerPair.Remote.Address, answerPair.Local.Address)

	state, err := offer.StreamState(offerStream)
	require.NoError(t, err)
	assert.Equal(t, ComponentStateReady, state)

	streams, err := offer.Streams()
	require.NoError(t, err)
	assert.Equal(t, []StreamInfo{{ID: offerStream, Name: "data", Components: 1, State: ComponentStateReady}}, streams)

	role, err := answer.Role()
	require.NoError(t, err)
	assert.Equal(t, RoleControlled, role)
}

func TestAgentData(t *testing.T) {
	defer test.TimeOut(time.Second * 20).Stop()
	defer test.CheckRoutines(t)()

	wan, offerNet, answerNet := flatNetwork(t)
	defer func() { assert.NoError(t, wan.Stop()) }()

	pair := connectAgents(t,
		testAgentConfig(offerNet, RoleControlling),
		testAgentConfig(answerNet, RoleControlled), 1)
	defer pair.close(t)

	offerConn, err := pair.offer.Conn(pair.offerStream, 1)
	require.NoError(t, err)
	answerConn, err := pair.answer.Conn(pair.answerID, 1)
	require.NoError(t, err)

	assert.Equal(t, offerConn.LocalAddr().String(), answerConn.RemoteAddr().String())
	assert.Equal(t, offerConn.RemoteAddr().String(), answerConn.LocalAddr().String())

	msg := []byte("hello from the controlling side")
	n, err := offerConn.Write(msg)
	require.NoError(t, err)
	assert.Equal(t, len(msg), n)

	require.NoError(t, answerConn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 1500)
	n, err = answerConn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, msg, buf[:n])

	received := make(chan []byte, 1)
	offerConn.OnReceive(func(data []byte) {
		received <- data
	})

	reply := []byte("hello from the controlled side")
	_, err = answerConn.Write(reply)
	require.NoError(t, err)

	select {
	case data := <-received:
		assert.Equal(t, reply, data)
	case <-time.After(5 * time.Second):
		require.Fail(t, "OnReceive was not called")
	}

	assert.Equal(t, uint64(len(msg)), offerConn.BytesSent())
	assert.Equal(t, uint64(len(reply)), offerConn.BytesReceived())

	stats, err := pair.offer.ComponentsStats(pair.offerStream)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, ComponentStateReady, stats[0].State)
	assert.Equal(t, uint64(len(msg)), stats[0].BytesSent)

	pairStats, err := pair.offer.CandidatePairsStats(pair.offerStream)
	require.NoError(t, err)
	require.NotEmpty(t, pairStats)

	var selectedStats *CandidatePairStats
	for i := range pairStats {
		if pairStats[i].Selected {
			selectedStats = &pairStats[i]
		}
	}
	require.NotNil(t, selectedStats)
	assert.True(t, selectedStats.Nominated)
	assert.NotEmpty(t, selectedStats.ID)
	assert.Positive(t, selectedStats.RequestsSent)
	assert.Positive(t, selectedStats.ResponsesReceived)
}

func TestAgentConnectMultipleComponents(t *testing.T) {
	defer test.TimeOut(time.Second * 20).Stop()
	defer test.CheckRoutines(t)()

	wan, offerNet, answerNet := flatNetwork(t)
	defer func() { assert.NoError(t, wan.Stop()) }()

	pair := connectAgents(t,
		testAgentConfig(offerNet, RoleControlling),
		testAgentConfig(answerNet, RoleControlled), 2)
	defer pair.close(t)

	for _, componentID := range []uint16{1, 2} {
		p, err := pair.offer.SelectedPair(pair.offerStream, componentID)
		require.NoError(t, err)
		assert.Equal(t, componentID, p.Local.Component)
		states := pair.offerStates.states(componentID)
		require.NotEmpty(t, states)
		assert.Equal(t, ComponentStateReady, states[len(states)-1])
	}
}

func TestAgentAggressiveNomination(t *testing.T) {
	defer test.TimeOut(time.Second * 20).Stop()
	defer test.CheckRoutines(t)()

	wan, offerNet, answerNet := flatNetwork(t)
	defer func() { assert.NoError(t, wan.Stop()) }()

	offerConfig := testAgentConfig(offerNet, RoleControlling)
	offerConfig.NominationMode = NominationAggressive

	pair := connectAgents(t, offerConfig, testAgentConfig(answerNet, RoleControlled), 1)
	defer pair.close(t)

	p, err := pair.answer.SelectedPair(pair.answerID, 1)
	require.NoError(t, err)
	assert.True(t, p.Nominated)
}

func TestAgentRoleConflict(t *testing.T) {
	defer test.TimeOut(time.Second * 20).Stop()
	defer test.CheckRoutines(t)()

	wan, offerNet, answerNet := flatNetwork(t)
	defer func() { assert.NoError(t, wan.Stop()) }()

	// Both sides start controlling, the tie-breaker decides.
	pair := connectAgents(t,
		testAgentConfig(offerNet, RoleControlling),
		testAgentConfig(answerNet, RoleControlling), 1)
	defer pair.close(t)

	offerRole, err := pair.offer.Role()
	require.NoError(t, err)
	answerRole, err := pair.answer.Role()
	require.NoError(t, err)
	assert.NotEqual(t, offerRole, answerRole)
}

func TestAgentNATServerReflexive(t *testing.T) {
	defer test.TimeOut(time.Second * 20).Stop()
	defer test.CheckRoutines(t)()

	topo := buildNATTopology(t, true)
	defer topo.close(t)

	stunServer := fmt.Sprintf("stun:%s:%d", stunIP, stunPort)
	offerConfig := testAgentConfig(topo.offerNet, RoleControlling)
	offerConfig.STUNServer = stunServer
	answerConfig := testAgentConfig(topo.answerNet, RoleControlled)
	answerConfig.STUNServer = stunServer

	pair := connectAgents(t, offerConfig, answerConfig, 1)
	defer pair.close(t)

	// Host addresses are on different LANs, only the NAT mappings connect.
	p, err := pair.offer.SelectedPair(pair.offerStream, 1)
	require.NoError(t, err)
	assert.Equal(t, offerLocalIP, p.Local.Address.Addr().String())
	assert.Equal(t, answerExternal, p.Remote.Address.Addr().String())
}

func TestAgentFailed(t *testing.T) {
	defer test.TimeOut(time.Second * 20).Stop()
	defer test.CheckRoutines(t)()

	wan, offerNet, _ := flatNetwork(t)
	defer func() { assert.NoError(t, wan.Stop()) }()

	agent, err := NewAgent(testAgentConfig(offerNet, RoleControlling))
	require.NoError(t, err)
	defer func() { assert.NoError(t, agent.Close()) }()

	streamID, err := agent.AddStream("data", 1)
	require.NoError(t, err)
	states := recordStates(agent, streamID)
	gather(t, agent, streamID)

	// Nobody answers on the remote address.
	require.NoError(t, agent.SetRemoteDescription(remoteDescription(
		"m=application 5000 UDP ice",
		"a=mid:data",
		"a=ice-ufrag:someufrag",
		"a=ice-pwd:somepasswordsomepassword",
		"a=candidate:1 1 UDP 2130706431 1.2.3.7 5000 typ host",
	)))

	select {
	case <-states.failed:
	case <-time.After(10 * time.Second):
		require.Fail(t, "stream did not fail")
	}

	assert.Equal(t, []ComponentState{
		ComponentStateGathering,
		ComponentStateConnecting,
		ComponentStateFailed,
	}, states.states(1))

	requestsSent := func() uint64 {
		pairStats, err := agent.CandidatePairsStats(streamID)
		require.NoError(t, err)
		require.Len(t, pairStats, 1)
		assert.Equal(t, CandidatePairStateFailed, pairStats[0].State)

		return pairStats[0].RequestsSent
	}
	assert.Equal(t, uint64(4), requestsSent())

	// A failed pair is never checked again.
	time.Sleep(800 * time.Millisecond)
	assert.Equal(t, uint64(4), requestsSent())

	_, err = agent.SelectedPair(streamID, 1)
	assert.ErrorIs(t, err, ErrNoSelectedPair)

	conn, err := agent.Conn(streamID, 1)
	require.NoError(t, err)
	_, err = conn.Write([]byte("nobody"))
	assert.ErrorIs(t, err, ErrNoSelectedPair)
}

func TestAgentRestart(t *testing.T) {
	defer test.TimeOut(time.Second * 20).Stop()
	defer test.CheckRoutines(t)()

	wan, offerNet, answerNet := flatNetwork(t)
	defer func() { assert.NoError(t, wan.Stop()) }()

	pair := connectAgents(t,
		testAgentConfig(offerNet, RoleControlling),
		testAgentConfig(answerNet, RoleControlled), 1)
	defer pair.close(t)

	ufrag, pwd, err := pair.offer.LocalCredentials(pair.offerStream)
	require.NoError(t, err)

	require.NoError(t, pair.offer.Restart(pair.offerStream))
	require.NoError(t, pair.answer.Restart(pair.answerID))

	newUfrag, newPwd, err := pair.offer.LocalCredentials(pair.offerStream)
	require.NoError(t, err)
	assert.NotEqual(t, ufrag, newUfrag)
	assert.NotEqual(t, pwd, newPwd)

	_, err = pair.offer.SelectedPair(pair.offerStream, 1)
	assert.ErrorIs(t, err, ErrNoSelectedPair)
	state, err := pair.offer.ComponentState(pair.offerStream, 1)
	require.NoError(t, err)
	assert.Equal(t, ComponentStateDisconnected, state)

	remote, err := pair.offer.RemoteCandidates(pair.offerStream, 1)
	require.NoError(t, err)
	assert.Empty(t, remote)
	local, err := pair.offer.LocalCandidates(pair.offerStream, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, local)

	// The reset is announced before the next generation starts.
	assert.Eventually(t, func() bool {
		states := pair.offerStates.states(1)

		return len(states) > 0 && states[len(states)-1] == ComponentStateDisconnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []ComponentState{
		ComponentStateGathering,
		ComponentStateConnecting,
		ComponentStateConnected,
		ComponentStateReady,
		ComponentStateDisconnected,
	}, pair.offerStates.states(1))
	streamStates := pair.offerStates.streamStates()
	require.NotEmpty(t, streamStates)
	assert.Equal(t, ComponentStateDisconnected, streamStates[len(streamStates)-1])
	assert.Eventually(t, func() bool {
		states := pair.answerStates.states(1)

		return len(states) > 0 && states[len(states)-1] == ComponentStateDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	// The next generation connects again with the kept candidates.
	offerStates := recordStates(pair.offer, pair.offerStream)
	answerStates := recordStates(pair.answer, pair.answerID)
	exchange(t, pair.offer, pair.answer)
	offerStates.waitReady(t)
	answerStates.waitReady(t)

	_, err = pair.offer.SelectedPair(pair.offerStream, 1)
	assert.NoError(t, err)
}

func TestAgentRemoveStream(t *testing.T) {
	defer test.TimeOut(time.Second * 20).Stop()
	defer test.CheckRoutines(t)()

	wan, offerNet, answerNet := flatNetwork(t)
	defer func() { assert.NoError(t, wan.Stop()) }()

	pair := connectAgents(t,
		testAgentConfig(offerNet, RoleControlling),
		testAgentConfig(answerNet, RoleControlled), 1)
	defer pair.close(t)

	conn, err := pair.offer.Conn(pair.offerStream, 1)
	require.NoError(t, err)

	require.NoError(t, pair.offer.RemoveStream(pair.offerStream))
	assert.ErrorIs(t, pair.offer.RemoveStream(pair.offerStream), ErrUnknownStream)

	_, err = pair.offer.ComponentState(pair.offerStream, 1)
	assert.ErrorIs(t, err, ErrUnknownStream)
	_, err = conn.Write([]byte("gone"))
	assert.ErrorIs(t, err, ErrNoSelectedPair)

	streams, err := pair.offer.Streams()
	require.NoError(t, err)
	assert.Empty(t, streams)
}

func TestAgentClose(t *testing.T) {
	defer test.TimeOut(time.Second * 10).Stop()
	defer test.CheckRoutines(t)()

	agent, err := NewAgent(AgentConfig{})
	require.NoError(t, err)

	streamID, err := agent.AddStream("data", 1)
	require.NoError(t, err)

	require.NoError(t, agent.Close())
	assert.ErrorIs(t, agent.Close(), ErrClosed)

	_, err = agent.AddStream("more", 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, agent.GatherCandidates(streamID), ErrClosed)
	_, err = agent.LocalDescription()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = agent.ComponentState(streamID, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAgentStreamErrors(t *testing.T) {
	agent := newTestAgent(t, AgentConfig{})

	_, err := agent.AddStream("none", 0)
	assert.ErrorIs(t, err, ErrInvalidComponentCount)

	streamID, err := agent.AddStream("data", 1)
	require.NoError(t, err)

	_, err = agent.ComponentState(streamID, 2)
	assert.ErrorIs(t, err, ErrUnknownComponent)
	_, err = agent.Conn(streamID+1, 1)
	assert.ErrorIs(t, err, ErrUnknownStream)

	assert.ErrorIs(t, agent.SetLocalCredentials(streamID, "ab", "somepasswordsomepassword"), ErrLocalUfragInsufficientBits)
	assert.ErrorIs(t, agent.SetLocalCredentials(streamID, "abcd", "short"), ErrLocalPwdInsufficientBits)
	require.NoError(t, agent.SetLocalCredentials(streamID, "abcd", "somepasswordsomepassword"))
	ufrag, pwd, err := agent.LocalCredentials(streamID)
	require.NoError(t, err)
	assert.Equal(t, "abcd", ufrag)
	assert.Equal(t, "somepasswordsomepassword", pwd)

	assert.ErrorIs(t, agent.SetRemoteCredentials(streamID, "", "pwd"), ErrRemoteUfragEmpty)
	assert.ErrorIs(t, agent.SetRemoteCredentials(streamID, "ufrag", ""), ErrRemotePwdEmpty)

	tcp := hostCandidate("1", "10.0.0.1:5000", 1, 100)
	tcp.Transport = Transport(0)
	assert.ErrorIs(t, agent.AddRemoteCandidates(streamID, tcp), ErrUnsupportedTransport)

	other := hostCandidate("1", "10.0.0.1:5000", 3, 100)
	assert.ErrorIs(t, agent.AddRemoteCandidates(streamID, other), ErrUnknownComponent)

	require.NoError(t, agent.AddRemoteCandidates(streamID, hostCandidate("1", "10.0.0.1:5000", 1, 100)))
	require.NoError(t, agent.AddRemoteCandidates(streamID, hostCandidate("1", "10.0.0.1:5000", 1, 100)))
	remote, err := agent.RemoteCandidates(streamID, 1)
	require.NoError(t, err)
	assert.Len(t, remote, 1, "duplicate address is ignored")
}
