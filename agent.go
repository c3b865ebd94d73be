// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package iceagent implements Interactive Connectivity Establishment
// (RFC 8445): candidate gathering, SDP candidate exchange, paced STUN
// connectivity checks and selection of a candidate pair per component.
package iceagent

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4"
)

// task is a closure executed on the event loop.
type task func(*Agent)

// Agent represents the ICE agent. Every piece of mutable state is owned
// by a single goroutine, the event loop; public methods marshal their work
// onto it.
type Agent struct {
	taskChan chan task
	done     chan struct{}
	loopDone chan struct{}
	err      atomicError

	readers sync.WaitGroup

	handlers handlers
	events   *eventQueue

	// Immutable after NewAgent
	config *resolvedConfig
	net    transport.Net
	log    logging.LeveledLogger

	initialRTO time.Duration

	// State owned by the event loop
	role       Role
	tieBreaker uint64

	streams      map[int]*stream
	streamOrder  []int
	nextStreamID int
	roundRobin   int

	timers       timerQueue
	transactions map[transactionID]*transaction

	pacingTimer *timerEntry
	lastCheck   time.Time

	sessionID      uint64
	sessionVersion uint64
}

// NewAgent creates a new Agent. The configuration is validated once and
// never changes afterwards.
func NewAgent(config AgentConfig) (*Agent, error) {
	res, err := config.resolve()
	if err != nil {
		return nil, err
	}

	tieBreaker, err := generateTieBreaker()
	if err != nil {
		return nil, err
	}

	sessionID, err := generateSessionID()
	if err != nil {
		return nil, err
	}

	agent := &Agent{
		taskChan:     make(chan task),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		events:       newEventQueue(),
		config:       res,
		net:          res.net,
		log:          res.loggerFactory.NewLogger("ice"),
		initialRTO:   res.initialRTO,
		role:         res.role,
		tieBreaker:   tieBreaker,
		streams:      map[int]*stream{},
		nextStreamID: 1,
		transactions: map[transactionID]*transaction{},
		sessionID:    sessionID,
	}

	agent.log.Debugf("Created agent: role %s, nomination %s, pacing %s", res.role, res.nominationMode, res.pacingInterval)

	go agent.taskLoop()

	return agent, nil
}

func (a *Agent) ok() error {
	select {
	case <-a.done:
		return a.getErr()
	default:
	}

	return nil
}

func (a *Agent) getErr() error {
	if err := a.err.Load(); err != nil {
		return err
	}

	return ErrClosed
}

// run executes t on the event loop and waits for it to finish.
// If the agent is closed return an error.
func (a *Agent) run(t task) error {
	if err := a.ok(); err != nil {
		return err
	}

	finished := make(chan struct{})
	wrapped := func(agent *Agent) {
		defer close(finished)
		t(agent)
	}

	select {
	case <-a.done:
		return a.getErr()
	case a.taskChan <- wrapped:
	}
	<-finished

	return nil
}

// runErr is run for tasks that produce an error.
func (a *Agent) runErr(t func(*Agent) error) error {
	var taskErr error
	if err := a.run(func(agent *Agent) {
		taskErr = t(agent)
	}); err != nil {
		return err
	}

	return taskErr
}

// post queues t without waiting. It returns false once the agent is closed.
func (a *Agent) post(t task) bool {
	select {
	case <-a.done:
		return false
	case a.taskChan <- t:
		return true
	}
}

func (a *Agent) taskLoop() {
	defer close(a.loopDone)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		var timerC <-chan time.Time
		if deadline, ok := a.timers.next(); ok {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(time.Until(deadline))
			timerC = timer.C
		}

		select {
		case t := <-a.taskChan:
			t(a)
		case <-timerC:
			a.timers.runDue(time.Now())
		}

		select {
		case <-a.done:
			return
		default:
		}
	}
}

// AddStream adds a stream with the given number of components and returns
// its id. The name is used as the mid of its media section.
func (a *Agent) AddStream(name string, components int) (int, error) {
	if components < 1 || components > maxComponentID {
		return 0, ErrInvalidComponentCount
	}

	ufrag, pwd, err := generateCredentials()
	if err != nil {
		return 0, err
	}

	var id int
	err = a.run(func(agent *Agent) {
		id = agent.nextStreamID
		agent.nextStreamID++

		s := newStream(id, name, components)
		s.localUfrag, s.localPwd = ufrag, pwd
		for _, c := range s.components {
			c.conn = newConn(agent, s.id, c.id)
		}
		agent.streams[id] = s
		agent.streamOrder = append(agent.streamOrder, id)
		agent.log.Debugf("Added stream %d (%s) with %d components", id, name, components)
	})

	return id, err
}

// RemoveStream tears a stream down: transactions and timers are canceled
// before the sockets are closed.
func (a *Agent) RemoveStream(streamID int) error {
	return a.runErr(func(agent *Agent) error {
		s, ok := agent.streams[streamID]
		if !ok {
			return ErrUnknownStream
		}
		agent.teardownStream(s)
		delete(agent.streams, streamID)
		for i, id := range agent.streamOrder {
			if id == streamID {
				agent.streamOrder = append(agent.streamOrder[:i], agent.streamOrder[i+1:]...)

				break
			}
		}
		agent.roundRobin = 0

		return nil
	})
}

func (a *Agent) teardownStream(s *stream) {
	a.cancelStreamTransactions(s.id, false)
	for _, c := range s.components {
		a.timers.cancel(c.keepalive)
		c.keepalive = nil
		c.conn.setSelected(nil)
		if err := c.conn.buffer.Close(); err != nil {
			a.log.Warnf("Failed to close buffer of %d/%d: %v", s.id, c.id, err)
		}
		for _, b := range c.bases {
			if err := b.close(); err != nil {
				a.log.Warnf("Failed to close socket %s: %v", b.addr, err)
			}
		}
	}
}

// SetLocalCredentials replaces the generated username fragment and
// password of a stream. It must be called before the description is sent.
func (a *Agent) SetLocalCredentials(streamID int, ufrag, pwd string) error {
	switch {
	case len([]rune(ufrag))*8 < 24:
		return ErrLocalUfragInsufficientBits
	case len([]rune(pwd))*8 < 128:
		return ErrLocalPwdInsufficientBits
	}

	return a.runErr(func(agent *Agent) error {
		s, ok := agent.streams[streamID]
		if !ok {
			return ErrUnknownStream
		}
		s.localUfrag, s.localPwd = ufrag, pwd

		return nil
	})
}

// LocalCredentials returns the username fragment and password of a stream.
func (a *Agent) LocalCredentials(streamID int) (ufrag, pwd string, err error) {
	err = a.runErr(func(agent *Agent) error {
		s, ok := agent.streams[streamID]
		if !ok {
			return ErrUnknownStream
		}
		ufrag, pwd = s.localUfrag, s.localPwd

		return nil
	})

	return ufrag, pwd, err
}

// LocalCandidates returns the gathered candidates of a component.
func (a *Agent) LocalCandidates(streamID int, componentID uint16) ([]Candidate, error) {
	var out []Candidate
	err := a.runErr(func(agent *Agent) error {
		c, err := agent.lookupComponent(streamID, componentID)
		if err != nil {
			return err
		}
		out = append(out, c.local...)

		return nil
	})

	return out, err
}

// RemoteCandidates returns the remote candidates known for a component,
// peer reflexive ones included.
func (a *Agent) RemoteCandidates(streamID int, componentID uint16) ([]Candidate, error) {
	var out []Candidate
	err := a.runErr(func(agent *Agent) error {
		c, err := agent.lookupComponent(streamID, componentID)
		if err != nil {
			return err
		}
		out = append(out, c.remote...)

		return nil
	})

	return out, err
}

// SetRemoteCredentials sets the peer's username fragment and password of
// a stream. Checks start once local gathering is complete.
func (a *Agent) SetRemoteCredentials(streamID int, ufrag, pwd string) error {
	switch {
	case ufrag == "":
		return ErrRemoteUfragEmpty
	case pwd == "":
		return ErrRemotePwdEmpty
	}

	return a.runErr(func(agent *Agent) error {
		s, ok := agent.streams[streamID]
		if !ok {
			return ErrUnknownStream
		}
		agent.setRemoteCredentials(s, ufrag, pwd)

		return nil
	})
}

func (a *Agent) setRemoteCredentials(s *stream, ufrag, pwd string) {
	s.remoteUfrag, s.remotePwd = ufrag, pwd
	a.maybeStartChecks(s)
}

// AddRemoteCandidates adds candidates learned from the peer. Candidates are
// routed to components by their component id. Pairs are formed now when
// checks are running and otherwise once they start.
func (a *Agent) AddRemoteCandidates(streamID int, candidates ...Candidate) error {
	return a.runErr(func(agent *Agent) error {
		s, ok := agent.streams[streamID]
		if !ok {
			return ErrUnknownStream
		}
		for _, cand := range candidates {
			if err := agent.addRemoteCandidate(s, cand); err != nil {
				return err
			}
		}
		agent.schedulePacing()

		return nil
	})
}

func (a *Agent) addRemoteCandidate(s *stream, cand Candidate) error {
	c := s.component(cand.Component)
	if c == nil {
		return fmt.Errorf("%w: %d", ErrUnknownComponent, cand.Component)
	}
	if cand.Transport != TransportUDP {
		return ErrUnsupportedTransport
	}
	if !c.addRemote(cand) {
		return nil
	}
	a.log.Debugf("Added remote candidate %s to %d/%d", cand, s.id, c.id)

	if !s.checksStarted() || c.state == ComponentStateFailed {
		return nil
	}
	for _, l := range c.local {
		if l.Type != CandidateTypeHost {
			continue
		}
		if p, added := s.checklist.Add(l, cand); added {
			a.log.Tracef("Added pair %s", p)
		}
	}
	a.updateComponentState(s, c)

	return nil
}

// SelectedPair returns a copy of the pair selected for a component.
func (a *Agent) SelectedPair(streamID int, componentID uint16) (*CandidatePair, error) {
	var pair *CandidatePair
	err := a.runErr(func(agent *Agent) error {
		c, err := agent.lookupComponent(streamID, componentID)
		if err != nil {
			return err
		}
		if c.selected == nil {
			return ErrNoSelectedPair
		}
		pair = c.selected.snapshot()

		return nil
	})

	return pair, err
}

// ComponentState returns the state of a component.
func (a *Agent) ComponentState(streamID int, componentID uint16) (ComponentState, error) {
	var state ComponentState
	err := a.runErr(func(agent *Agent) error {
		c, err := agent.lookupComponent(streamID, componentID)
		if err != nil {
			return err
		}
		state = c.state

		return nil
	})

	return state, err
}

// StreamState returns the least advanced state of the components of a stream.
func (a *Agent) StreamState(streamID int) (ComponentState, error) {
	var state ComponentState
	err := a.runErr(func(agent *Agent) error {
		s, ok := agent.streams[streamID]
		if !ok {
			return ErrUnknownStream
		}
		state = aggregateState(s.componentStates()...)

		return nil
	})

	return state, err
}

// Streams lists the streams of the agent in the order they were added.
func (a *Agent) Streams() ([]StreamInfo, error) {
	var out []StreamInfo
	err := a.run(func(agent *Agent) {
		for _, id := range agent.streamOrder {
			s := agent.streams[id]
			out = append(out, StreamInfo{
				ID:         s.id,
				Name:       s.name,
				Components: len(s.components),
				State:      aggregateState(s.componentStates()...),
			})
		}
	})

	return out, err
}

// Role returns the current role, which changes on a role conflict.
func (a *Agent) Role() (Role, error) {
	var role Role
	err := a.run(func(agent *Agent) {
		role = agent.role
	})

	return role, err
}

// Conn returns the data path of a component. Data can be written once a
// pair has been selected.
func (a *Agent) Conn(streamID int, componentID uint16) (*Conn, error) {
	var conn *Conn
	err := a.runErr(func(agent *Agent) error {
		c, err := agent.lookupComponent(streamID, componentID)
		if err != nil {
			return err
		}
		conn = c.conn

		return nil
	})

	return conn, err
}

// Restart starts a new generation of a stream: new local credentials,
// remote candidates and checklist dropped, pending checks canceled.
// Gathered candidates and their sockets are kept.
func (a *Agent) Restart(streamID int) error {
	ufrag, pwd, err := generateCredentials()
	if err != nil {
		return err
	}

	return a.runErr(func(agent *Agent) error {
		s, ok := agent.streams[streamID]
		if !ok {
			return ErrUnknownStream
		}
		agent.cancelStreamTransactions(s.id, true)

		s.localUfrag, s.localPwd = ufrag, pwd
		s.remoteUfrag, s.remotePwd = "", ""
		s.checklist = nil
		s.earlyChecks = nil
		s.ready = false
		for _, c := range s.components {
			agent.timers.cancel(c.keepalive)
			c.keepalive = nil
			c.remote = nil
			c.selected = nil
			c.selectedNotified = false
			c.conn.setSelected(nil)
			c.local = hostAndServerReflexive(c.local)
			agent.setComponentState(s, c, ComponentStateDisconnected)
		}
		agent.log.Debugf("Restarted stream %d", s.id)

		return nil
	})
}

// hostAndServerReflexive drops peer reflexive candidates of a previous generation.
func hostAndServerReflexive(local []Candidate) []Candidate {
	out := local[:0]
	for _, c := range local {
		if c.Type != CandidateTypePeerReflexive {
			out = append(out, c)
		}
	}

	return out
}

func (a *Agent) lookupComponent(streamID int, componentID uint16) (*component, error) {
	s, ok := a.streams[streamID]
	if !ok {
		return nil, ErrUnknownStream
	}
	c := s.component(componentID)
	if c == nil {
		return nil, ErrUnknownComponent
	}

	return c, nil
}

// Close cleans up the Agent. Pending transactions and timers are dropped
// before the sockets are closed.
func (a *Agent) Close() error {
	err := a.run(func(agent *Agent) {
		agent.err.Store(ErrClosed)
		for _, id := range agent.streamOrder {
			agent.teardownStream(agent.streams[id])
		}
		agent.timers.cancel(agent.pacingTimer)
		agent.pacingTimer = nil
		close(agent.done)
	})
	if err != nil {
		return err
	}

	<-a.loopDone
	a.readers.Wait()
	a.events.close()

	return nil
}
