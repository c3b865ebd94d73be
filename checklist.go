// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"net/netip"
	"sort"
)

// defaultMaxPairs limits the size of a checklist.
// https://tools.ietf.org/html/rfc8445#section-6.1.2.5
const defaultMaxPairs = 100

type pairKey struct {
	component uint16
	local     netip.AddrPort
	remote    netip.AddrPort
}

// Checklist is the ordered set of candidate pairs of a stream. Pairs are
// kept in descending priority order and grouped by component through
// ComponentPairs. Pairs are never removed, only appended.
type Checklist struct {
	pairs       []*CandidatePair
	byKey       map[pairKey]*CandidatePair
	triggered   []*CandidatePair
	controlling bool
	maxPairs    int
}

func newChecklist(controlling bool, maxPairs int) *Checklist {
	if maxPairs <= 0 {
		maxPairs = defaultMaxPairs
	}

	return &Checklist{
		byKey:       map[pairKey]*CandidatePair{},
		controlling: controlling,
		maxPairs:    maxPairs,
	}
}

// BuildChecklist pairs every local candidate with every remote candidate
// of the same component and address family, prunes redundant pairs and
// sets the initial Waiting and Frozen states. An empty remote set gives an
// empty checklist.
func BuildChecklist(local, remote []Candidate, controlling bool) *Checklist {
	return buildChecklist(local, remote, controlling, defaultMaxPairs)
}

func buildChecklist(local, remote []Candidate, controlling bool, maxPairs int) *Checklist {
	list := newChecklist(controlling, maxPairs)

	for _, l := range local {
		base, ok := pairingBase(l, local)
		if !ok {
			continue
		}
		for _, r := range remote {
			if !canPair(base, r) {
				continue
			}
			list.insert(newCandidatePair(base, r, controlling))
		}
	}

	list.sort()
	if len(list.pairs) > list.maxPairs {
		for _, p := range list.pairs[list.maxPairs:] {
			delete(list.byKey, keyOf(p))
		}
		list.pairs = list.pairs[:list.maxPairs]
	}
	list.setInitialStates()

	return list
}

// pairingBase replaces a reflexive local candidate with its host base.
// https://tools.ietf.org/html/rfc8445#section-6.1.2.4
func pairingBase(c Candidate, local []Candidate) (Candidate, bool) {
	switch c.Type {
	case CandidateTypeHost:
		return c, true
	case CandidateTypeServerReflexive, CandidateTypePeerReflexive:
		for _, l := range local {
			if l.Type == CandidateTypeHost && l.Component == c.Component && l.Address == c.RelatedAddress {
				return l, true
			}
		}
	}

	return Candidate{}, false
}

func canPair(local, remote Candidate) bool {
	if local.Component != remote.Component || remote.Transport != TransportUDP {
		return false
	}
	if !remote.Address.IsValid() || remote.Address.Port() == 0 {
		return false
	}

	return local.NetworkType() == remote.NetworkType()
}

func keyOf(p *CandidatePair) pairKey {
	return pairKey{component: p.Local.Component, local: p.Local.Address, remote: p.Remote.Address}
}

// insert keeps the higher priority pair when two pairs share local and
// remote addresses.
func (c *Checklist) insert(p *CandidatePair) (*CandidatePair, bool) {
	key := keyOf(p)
	if existing, ok := c.byKey[key]; ok {
		if existing.Priority >= p.Priority || existing.State != CandidatePairStateFrozen {
			return existing, false
		}
		*existing = *p

		return existing, false
	}

	c.byKey[key] = p
	c.pairs = append(c.pairs, p)

	return p, true
}

func (c *Checklist) sort() {
	sort.SliceStable(c.pairs, func(i, j int) bool {
		return c.pairs[i].Priority > c.pairs[j].Priority
	})
}

// setInitialStates sets, for each foundation, the pair with the lowest
// component id (then highest priority) to Waiting.
// https://tools.ietf.org/html/rfc8445#section-6.1.2.6
func (c *Checklist) setInitialStates() {
	first := map[string]*CandidatePair{}
	for _, p := range c.pairs {
		cur, ok := first[p.Foundation]
		if !ok || p.Local.Component < cur.Local.Component {
			first[p.Foundation] = p
		}
	}
	for _, p := range first {
		p.State = CandidatePairStateWaiting
	}
}

// Pairs returns all pairs in descending priority order.
func (c *Checklist) Pairs() []*CandidatePair {
	out := make([]*CandidatePair, len(c.pairs))
	copy(out, c.pairs)

	return out
}

// ComponentPairs returns the pairs of one component in descending priority order.
func (c *Checklist) ComponentPairs(component uint16) []*CandidatePair {
	var out []*CandidatePair
	for _, p := range c.pairs {
		if p.Local.Component == component {
			out = append(out, p)
		}
	}

	return out
}

// Len returns the number of pairs.
func (c *Checklist) Len() int {
	return len(c.pairs)
}

// Add appends a pair learned after the checklist was built, through
// trickled or peer reflexive candidates. It returns the existing pair and
// false when the addresses are already paired.
func (c *Checklist) Add(local, remote Candidate) (*CandidatePair, bool) {
	if !canPair(local, remote) {
		return nil, false
	}

	p, added := c.insert(newCandidatePair(local, remote, c.controlling))
	if !added {
		return p, false
	}

	if c.foundationSucceeded(p.Foundation) || !c.foundationActive(p.Foundation, p) {
		p.State = CandidatePairStateWaiting
	}
	c.sort()

	return p, true
}

// find returns the pair using the given addresses.
func (c *Checklist) find(component uint16, local, remote netip.AddrPort) *CandidatePair {
	return c.byKey[pairKey{component: component, local: local, remote: remote}]
}

// SetControlling recomputes pair priorities after a role change.
func (c *Checklist) SetControlling(controlling bool) {
	if c.controlling == controlling {
		return
	}
	c.controlling = controlling
	for _, p := range c.pairs {
		p.Priority = PairPriority(p.Local, p.Remote, controlling)
	}
	c.sort()
}

// unfreeze moves the Frozen pairs of a foundation to Waiting.
func (c *Checklist) unfreeze(foundation string) {
	for _, p := range c.pairs {
		if p.Foundation == foundation && p.State == CandidatePairStateFrozen {
			p.State = CandidatePairStateWaiting
		}
	}
}

func (c *Checklist) foundationSucceeded(foundation string) bool {
	for _, p := range c.pairs {
		if p.Foundation == foundation && p.State == CandidatePairStateSucceeded {
			return true
		}
	}

	return false
}

func (c *Checklist) foundationActive(foundation string, except *CandidatePair) bool {
	for _, p := range c.pairs {
		if p == except || p.Foundation != foundation {
			continue
		}
		if p.State == CandidatePairStateWaiting || p.State == CandidatePairStateInProgress {
			return true
		}
	}

	return false
}

// pushTriggered puts a pair at the front of the triggered queue.
func (c *Checklist) pushTriggered(p *CandidatePair) {
	c.cancelTriggered(p)
	p.State = CandidatePairStateWaiting
	c.triggered = append([]*CandidatePair{p}, c.triggered...)
}

// next picks the pair to check on this tick: the triggered queue first,
// then the highest priority Waiting pair, then the best Frozen pair whose
// foundation has nothing Waiting or In-Progress.
// https://tools.ietf.org/html/rfc8445#section-6.1.4.2
func (c *Checklist) next() *CandidatePair {
	for len(c.triggered) > 0 {
		p := c.triggered[0]
		c.triggered = c.triggered[1:]
		if p.State == CandidatePairStateWaiting {
			return p
		}
	}

	for _, p := range c.pairs {
		if p.State == CandidatePairStateWaiting {
			return p
		}
	}

	for _, p := range c.pairs {
		if p.State == CandidatePairStateFrozen && !c.foundationActive(p.Foundation, p) {
			p.State = CandidatePairStateWaiting

			return p
		}
	}

	return nil
}

// hasWork reports whether a pacing tick could start a check.
func (c *Checklist) hasWork() bool {
	if len(c.triggered) > 0 {
		return true
	}
	for _, p := range c.pairs {
		switch {
		case p.State == CandidatePairStateWaiting:
			return true
		case p.State == CandidatePairStateFrozen && !c.foundationActive(p.Foundation, p):
			return true
		}
	}

	return false
}

// exhausted reports whether the component has pairs and all of them failed.
func (c *Checklist) exhausted(component uint16) bool {
	pairs := c.ComponentPairs(component)
	if len(pairs) == 0 {
		return false
	}
	for _, p := range pairs {
		if p.State != CandidatePairStateFailed {
			return false
		}
	}

	return true
}

// cancelTriggered drops a pair from the triggered queue.
func (c *Checklist) cancelTriggered(p *CandidatePair) {
	for i, t := range c.triggered {
		if t == p {
			c.triggered = append(c.triggered[:i], c.triggered[i+1:]...)

			return
		}
	}
}
