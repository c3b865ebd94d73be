// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import "sync"

// eventQueue delivers callbacks in order on its own goroutine, so handlers
// never run on the event loop and may call back into the Agent.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func newEventQueue() *eventQueue {
	q := &eventQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()

	return q
}

func (q *eventQueue) push(f func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.queue = append(q.queue, f)
	q.cond.Signal()
}

// close lets queued events drain, then stops the goroutine.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
}

func (q *eventQueue) loop() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for len(q.queue) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.queue) == 0 {
			q.mu.Unlock()

			return
		}
		f := q.queue[0]
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.mu.Unlock()

		f()
	}
}

// handlers holds the user callbacks. They are read when an event is
// delivered, not when it is queued.
type handlers struct {
	mu                  sync.Mutex
	onCandidate         func(streamID int, c Candidate)
	onGatheringDone     func(streamID int)
	onComponentState    func(streamID int, componentID uint16, state ComponentState)
	onSelectedPair      func(streamID int, componentID uint16, pair *CandidatePair)
	onStreamStateChange func(streamID int, state ComponentState)
}

func (h *handlers) candidate() func(int, Candidate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.onCandidate
}

func (h *handlers) gatheringDone() func(int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.onGatheringDone
}

func (h *handlers) componentState() func(int, uint16, ComponentState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.onComponentState
}

func (h *handlers) selectedPair() func(int, uint16, *CandidatePair) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.onSelectedPair
}

func (h *handlers) streamState() func(int, ComponentState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.onStreamStateChange
}

// OnCandidate sets a handler that is fired for every gathered local candidate.
func (a *Agent) OnCandidate(f func(streamID int, c Candidate)) {
	a.handlers.mu.Lock()
	defer a.handlers.mu.Unlock()
	a.handlers.onCandidate = f
}

// OnGatheringDone sets a handler that is fired once per stream when
// candidate gathering has finished.
func (a *Agent) OnGatheringDone(f func(streamID int)) {
	a.handlers.mu.Lock()
	defer a.handlers.mu.Unlock()
	a.handlers.onGatheringDone = f
}

// OnComponentStateChange sets a handler that is fired when the state of a
// component changes.
func (a *Agent) OnComponentStateChange(f func(streamID int, componentID uint16, state ComponentState)) {
	a.handlers.mu.Lock()
	defer a.handlers.mu.Unlock()
	a.handlers.onComponentState = f
}

// OnStreamStateChange sets a handler that is fired when the aggregated
// state of a stream changes.
func (a *Agent) OnStreamStateChange(f func(streamID int, state ComponentState)) {
	a.handlers.mu.Lock()
	defer a.handlers.mu.Unlock()
	a.handlers.onStreamStateChange = f
}

// OnSelectedPairChange sets a handler that is fired when a component
// selects a candidate pair. The pair is a copy.
func (a *Agent) OnSelectedPairChange(f func(streamID int, componentID uint16, pair *CandidatePair)) {
	a.handlers.mu.Lock()
	defer a.handlers.mu.Unlock()
	a.handlers.onSelectedPair = f
}
