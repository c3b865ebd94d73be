// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownType indicates an error with Unknown info.
	ErrUnknownType = errors.New("unknown")

	// ErrClosed indicates the agent has been closed and no longer handles requests.
	ErrClosed = errors.New("the agent is closed")

	// ErrUnknownStream indicates a stream id that was never added or was removed.
	ErrUnknownStream = errors.New("unknown stream")

	// ErrUnknownComponent indicates a component id outside of the stream.
	ErrUnknownComponent = errors.New("unknown component")

	// ErrInvalidComponentCount indicates a stream was added without components.
	ErrInvalidComponentCount = errors.New("a stream needs between 1 and 256 components")

	// ErrPort indicates malformed port is provided.
	ErrPort = errors.New("invalid port")

	// ErrPortRange indicates that PortMin is greater than PortMax.
	ErrPortRange = errors.New("invalid port range, PortMin must not be greater than PortMax")

	// ErrLocalUfragInsufficientBits indicates local username fragment insufficient bits are provided.
	// Have to be at least 24 bits long.
	ErrLocalUfragInsufficientBits = errors.New("local username fragment is less than 24 bits long")

	// ErrLocalPwdInsufficientBits indicates local password insufficient bits are provided.
	// Have to be at least 128 bits long.
	ErrLocalPwdInsufficientBits = errors.New("local password is less than 128 bits long")

	// ErrRemoteUfragEmpty indicates remote username fragment is empty.
	ErrRemoteUfragEmpty = errors.New("remote username fragment is empty")

	// ErrRemotePwdEmpty indicates remote password is empty.
	ErrRemotePwdEmpty = errors.New("remote password is empty")

	// ErrInvalidRole indicates an unknown controlling/controlled role.
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidNominationMode indicates an unknown nomination mode.
	ErrInvalidNominationMode = errors.New("invalid nomination mode")

	// ErrInvalidPacingInterval indicates a non positive pacing interval.
	ErrInvalidPacingInterval = errors.New("pacing interval must be positive")

	// ErrInvalidMaxRetransmits indicates a non positive transmission limit.
	ErrInvalidMaxRetransmits = errors.New("max retransmits must be positive")

	// ErrSTUNServer indicates the configured STUN server could not be resolved.
	ErrSTUNServer = errors.New("invalid STUN server address")

	// ErrMultipleGatherAttempted indicates GatherCandidates has been called
	// more than once for the same stream.
	ErrMultipleGatherAttempted = errors.New("attempted to gather candidates more than once")

	// ErrNoCandidateSockets indicates no UDP socket could be opened for a component.
	ErrNoCandidateSockets = errors.New("failed to open a socket for any local address")

	// ErrNoSelectedPair indicates the component has not selected a candidate pair yet.
	ErrNoSelectedPair = errors.New("no selected candidate pair")

	// ErrNoStreamMatch indicates a media section of a remote description matched no stream.
	ErrNoStreamMatch = errors.New("remote description does not match any stream")

	// ErrMissingCredentials indicates a remote description without ice-ufrag or ice-pwd.
	ErrMissingCredentials = errors.New("remote description is missing ice-ufrag or ice-pwd")

	// ErrCandidateTokenCount indicates a candidate line with too few tokens.
	ErrCandidateTokenCount = errors.New("candidate line has too few tokens")

	// ErrCandidateComponent indicates a non numeric or out of range component id.
	ErrCandidateComponent = errors.New("invalid candidate component")

	// ErrCandidatePriority indicates a non numeric priority.
	ErrCandidatePriority = errors.New("invalid candidate priority")

	// ErrCandidatePort indicates a non numeric or out of range port.
	ErrCandidatePort = errors.New("invalid candidate port")

	// ErrCandidateAddress indicates an address that is not an IP literal.
	ErrCandidateAddress = errors.New("invalid candidate address")

	// ErrCandidateType indicates a missing typ keyword or an unknown candidate type.
	ErrCandidateType = errors.New("invalid candidate type")

	// ErrUnsupportedTransport indicates a candidate transport other than UDP.
	ErrUnsupportedTransport = errors.New("unsupported candidate transport")

	// ErrCandidateExtension indicates an extension name without a value.
	ErrCandidateExtension = errors.New("candidate extension attribute without value")

	// ErrProtocolViolation classifies inbound STUN traffic that is dropped.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrRoleConflict indicates the peer answered with 487 Role Conflict.
	ErrRoleConflict = errors.New("role conflict")

	// ErrExhausted indicates a component has no candidate pair left that can succeed.
	ErrExhausted = errors.New("all candidate pairs failed")

	// ErrTransactionTimeout indicates a STUN transaction ran out of transmissions.
	ErrTransactionTimeout = errors.New("transaction timed out")

	// ErrTransactionCanceled indicates a STUN transaction was dropped by teardown.
	ErrTransactionCanceled = errors.New("transaction canceled")

	errUnexpectedSTUNClass = errors.New("unexpected STUN message class")
	errUsernameMismatch    = errors.New("username mismatch")
	errUnknownTransaction  = errors.New("no pending transaction")
	errSourceMismatch      = errors.New("response source does not match request destination")
)

// ParseError describes one SDP line that could not be decoded.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// DescriptionError collects the lines of a remote description that were
// skipped. Every other line of the description has been applied.
type DescriptionError struct {
	Errors []*ParseError
}

func (e *DescriptionError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}

	return fmt.Sprintf("%d malformed lines in remote description: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap allows errors.Is on the individual line errors.
func (e *DescriptionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors))
	for _, err := range e.Errors {
		errs = append(errs, err)
	}

	return errs
}
