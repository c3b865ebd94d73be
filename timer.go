// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"container/heap"
	"time"
)

// timerEntry is a callback scheduled on the event loop.
type timerEntry struct {
	when  time.Time
	fn    func()
	index int
}

// timerQueue is a min-heap of timers ordered by deadline. It is owned by
// the event loop and never touched from other goroutines.
type timerQueue struct {
	entries timerHeap
}

// schedule runs fn on the loop once d has elapsed.
func (q *timerQueue) schedule(d time.Duration, fn func()) *timerEntry {
	e := &timerEntry{when: time.Now().Add(d), fn: fn}
	heap.Push(&q.entries, e)

	return e
}

// cancel removes a pending timer. Canceling a fired or nil timer is a no-op.
func (q *timerQueue) cancel(e *timerEntry) {
	if e == nil || e.index < 0 {
		return
	}
	heap.Remove(&q.entries, e.index)
}

// next returns the earliest deadline.
func (q *timerQueue) next() (time.Time, bool) {
	if len(q.entries) == 0 {
		return time.Time{}, false
	}

	return q.entries[0].when, true
}

// runDue fires every timer whose deadline is not after now. Callbacks
// may schedule or cancel other timers.
func (q *timerQueue) runDue(now time.Time) {
	for len(q.entries) > 0 && !q.entries[0].when.After(now) {
		e, _ := heap.Pop(&q.entries).(*timerEntry)
		e.fn()
	}
}

func (q *timerQueue) len() int {
	return len(q.entries)
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e, _ := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]

	return e
}
