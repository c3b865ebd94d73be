// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package iceagent

import (
	"net/netip"
	"time"

	"github.com/pion/stun/v3"
)

type transactionID = [stun.TransactionIDSize]byte

// transaction is an outstanding STUN request. It is retransmitted with
// a doubling timeout until a response arrives or every transmission has
// been spent.
type transaction struct {
	id          transactionID
	raw         []byte
	base        *candidateBase
	destination netip.AddrPort
	streamID    int

	// pair is nil for server reflexive gathering requests.
	pair         *CandidatePair
	useCandidate bool

	attempts    int
	maxAttempts int
	rto         time.Duration
	start       time.Time
	timer       *timerEntry

	// onResponse returns false when the response is rejected and the
	// transaction has to stay pending.
	onResponse func(m *stun.Message, src netip.AddrPort) bool
	onTimeout  func()
}

// startTransaction sends the first request and arms the retransmission timer.
func (a *Agent) startTransaction(tx *transaction) {
	tx.start = time.Now()
	if tx.rto == 0 {
		tx.rto = a.initialRTO
	}
	a.transactions[tx.id] = tx
	a.transmit(tx)
}

func (a *Agent) transmit(tx *transaction) {
	tx.attempts++
	if tx.pair != nil {
		tx.pair.requestsSent++
		tx.pair.lastSent = time.Now()
	}
	if err := tx.base.writeTo(tx.raw, tx.destination); err != nil {
		// Transient, the next transmission will try again.
		a.log.Warnf("Failed to send STUN request to %s: %v", tx.destination, err)
	}

	wait := tx.rto
	tx.rto *= 2
	tx.timer = a.timers.schedule(wait, func() {
		a.onTransactionTimer(tx)
	})
}

func (a *Agent) onTransactionTimer(tx *transaction) {
	tx.timer = nil
	if _, ok := a.transactions[tx.id]; !ok {
		return
	}

	if tx.attempts >= tx.maxAttempts {
		delete(a.transactions, tx.id)
		a.log.Tracef("%v: %s after %d attempts", ErrTransactionTimeout, tx.destination, tx.attempts)
		if tx.onTimeout != nil {
			tx.onTimeout()
		}

		return
	}

	a.transmit(tx)
}

// handleTransactionResponse matches a response to its pending transaction.
func (a *Agent) handleTransactionResponse(m *stun.Message, base *candidateBase, src netip.AddrPort) error {
	tx, ok := a.transactions[m.TransactionID]
	if !ok || tx.base != base {
		return errUnknownTransaction
	}

	if !tx.onResponse(m, src) {
		return nil
	}

	delete(a.transactions, tx.id)
	a.timers.cancel(tx.timer)
	tx.timer = nil

	return nil
}

// finishTransaction drops a transaction without calling its callbacks.
func (a *Agent) finishTransaction(tx *transaction) {
	delete(a.transactions, tx.id)
	a.timers.cancel(tx.timer)
	tx.timer = nil
}

// cancelStreamTransactions drops the transactions owned by the stream,
// only its connectivity checks when checksOnly is set. Late responses will
// no longer match anything.
func (a *Agent) cancelStreamTransactions(streamID int, checksOnly bool) {
	for _, tx := range a.transactions {
		if tx.streamID != streamID || (checksOnly && tx.pair == nil) {
			continue
		}
		a.log.Tracef("%v: %s", ErrTransactionCanceled, tx.destination)
		a.finishTransaction(tx)
	}
}
