// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

const (
	attrKeyCandidate       = "candidate"
	attrKeyEndOfCandidates = "end-of-candidates"
	attrKeyICEUfrag        = "ice-ufrag"
	attrKeyICEPwd          = "ice-pwd"

	// Used in m= and c= when a stream has no candidate yet, as in RFC 8840.
	defaultPort = 9
)

// LocalDescription returns the session description announcing every
// stream: one media section per stream with its credentials and the
// candidates gathered so far.
func (a *Agent) LocalDescription() (string, error) {
	var d *sdp.SessionDescription
	if err := a.run(func(agent *Agent) {
		d = agent.localDescription()
	}); err != nil {
		return "", err
	}

	out, err := d.Marshal()
	if err != nil {
		return "", err
	}

	return string(out), nil
}

func (a *Agent) localDescription() *sdp.SessionDescription {
	a.sessionVersion++
	d := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      a.sessionID,
			SessionVersion: a.sessionVersion,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: "-",
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	for _, id := range a.streamOrder {
		s := a.streams[id]
		d.WithMedia(a.mediaSection(s))
	}

	return d
}

func (a *Agent) mediaSection(s *stream) *sdp.MediaDescription {
	port, address, addressType := defaultPort, "0.0.0.0", "IP4"
	if def, ok := defaultCandidate(s.component(1)); ok {
		port = int(def.Address.Port())
		address = def.Address.Addr().String()
		if def.Address.Addr().Is6() {
			addressType = "IP6"
		}
	}

	media := (&sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "application",
			Port:    sdp.RangedPort{Value: port},
			Protos:  []string{"UDP"},
			Formats: []string{"ice"},
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addressType,
			Address:     &sdp.Address{Address: address},
		},
	}).
		WithValueAttribute(sdp.AttrKeyMID, s.name).
		WithICECredentials(s.localUfrag, s.localPwd)

	for _, c := range s.localCandidates() {
		media.WithValueAttribute(attrKeyCandidate, c.attributeValue())
	}
	if s.gathering == gatheringStateComplete {
		media.WithPropertyAttribute(attrKeyEndOfCandidates)
	}

	return media
}

// defaultCandidate is the highest priority candidate of the component.
func defaultCandidate(c *component) (Candidate, bool) {
	if c == nil || len(c.local) == 0 {
		return Candidate{}, false
	}
	best := c.local[0]
	for _, l := range c.local[1:] {
		if l.Priority > best.Priority {
			best = l
		}
	}

	return best, true
}

// remoteSection is a media section resolved against a local stream.
type remoteSection struct {
	stream     *stream
	ufrag      string
	pwd        string
	candidates []Candidate
}

// SetRemoteDescription applies the peer's session description in one
// step: credentials and candidates of every media section are handed to
// the matching stream, by mid or else by position. Malformed candidate
// lines are skipped and reported together as a *DescriptionError.
func (a *Agent) SetRemoteDescription(raw string) error {
	d := &sdp.SessionDescription{}
	if err := d.Unmarshal([]byte(raw)); err != nil {
		return fmt.Errorf("failed to unmarshal remote description: %w", err)
	}

	var lineErrors []*ParseError
	err := a.runErr(func(agent *Agent) error {
		sections, parseErrors, err := agent.resolveRemoteSections(d)
		if err != nil {
			return err
		}
		lineErrors = parseErrors

		for _, section := range sections {
			s := section.stream
			for _, cand := range section.candidates {
				if err := agent.addRemoteCandidate(s, cand); err != nil {
					lineErrors = append(lineErrors, &ParseError{Line: cand.Marshal(), Err: err})
				}
			}
			agent.setRemoteCredentials(s, section.ufrag, section.pwd)
		}
		agent.schedulePacing()

		return nil
	})
	if err != nil {
		return err
	}

	if len(lineErrors) > 0 {
		return &DescriptionError{Errors: lineErrors}
	}

	return nil
}

func (a *Agent) resolveRemoteSections(d *sdp.SessionDescription) ([]remoteSection, []*ParseError, error) {
	sessionUfrag, _ := d.Attribute(attrKeyICEUfrag)
	sessionPwd, _ := d.Attribute(attrKeyICEPwd)

	var (
		sections    []remoteSection
		parseErrors []*ParseError
		used        = map[int]bool{}
	)
	for i, m := range d.MediaDescriptions {
		s := a.matchStream(m, i)
		if s == nil || used[s.id] {
			a.log.Debugf("No stream for media section %d (%s)", i, m.MediaName.Media)

			continue
		}
		used[s.id] = true

		section := remoteSection{stream: s, ufrag: sessionUfrag, pwd: sessionPwd}
		if ufrag, ok := m.Attribute(attrKeyICEUfrag); ok {
			section.ufrag = ufrag
		}
		if pwd, ok := m.Attribute(attrKeyICEPwd); ok {
			section.pwd = pwd
		}
		if section.ufrag == "" || section.pwd == "" {
			return nil, nil, fmt.Errorf("%w: stream %q", ErrMissingCredentials, s.name)
		}

		for _, attr := range m.Attributes {
			if attr.Key != attrKeyCandidate {
				continue
			}
			cand, err := unmarshalCandidateValue(attr.Value)
			if err != nil {
				parseErrors = append(parseErrors, asParseError(attr, err))

				continue
			}
			section.candidates = append(section.candidates, cand)
		}
		sections = append(sections, section)
	}

	if len(sections) == 0 {
		return nil, nil, ErrNoStreamMatch
	}

	return sections, parseErrors, nil
}

// matchStream finds the stream of a media section by mid, falling back to
// the stream at the same position.
func (a *Agent) matchStream(m *sdp.MediaDescription, index int) *stream {
	if mid, ok := m.Attribute(sdp.AttrKeyMID); ok && mid != "" {
		for _, id := range a.streamOrder {
			if s := a.streams[id]; s.name == mid {
				return s
			}
		}
	}
	if index < len(a.streamOrder) {
		return a.streams[a.streamOrder[index]]
	}

	return nil
}

func asParseError(attr sdp.Attribute, err error) *ParseError {
	return &ParseError{Line: "a=" + attr.Key + ":" + attr.Value, Err: err}
}
