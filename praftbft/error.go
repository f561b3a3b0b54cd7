// Copyright 2024 The prellblock authors
// This file is part of the prellblock library.
//
// The prellblock library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The prellblock library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the prellblock library. If not, see <http://www.gnu.org/licenses/>.

// Package praftbft implements the PBFT-style consensus engine: a
// stable-leader three-phase commit (Prepare, Append, Commit) plus a
// view-change protocol, a synchronization sub-protocol for lagging
// replicas, and a censorship detector.
package praftbft

import (
	"errors"
	"fmt"

	"github.com/prellblock/prellblock/consensus"
	"github.com/prellblock/prellblock/crypto"
	"github.com/prellblock/prellblock/ringbuffer"
)

// Sentinel errors with no associated data, in the teacher's var-block
// idiom.
var (
	// ErrUnexpectedResponse is returned when a response doesn't match any
	// outstanding request.
	ErrUnexpectedResponse = errors.New("praftbft: unexpected response")
	// ErrNotEnoughSignatures is returned when a quorum message is missing
	// signatures.
	ErrNotEnoughSignatures = errors.New("praftbft: not enough signatures")
	// ErrDuplicateSignatures is returned when a signature list contains the
	// same signer twice.
	ErrDuplicateSignatures = errors.New("praftbft: duplicate signatures")
	// ErrWrongLeaderTerm is returned when a message's leader term doesn't
	// match the follower's current term.
	ErrWrongLeaderTerm = errors.New("praftbft: wrong leader term")
	// ErrEmptyBlock is returned when a leader proposes a block with no
	// transactions.
	ErrEmptyBlock = errors.New("praftbft: proposed block is empty")
	// ErrAckDoesNotMatch is returned when an Ack's metadata doesn't match
	// the request it answers.
	ErrAckDoesNotMatch = errors.New("praftbft: ack does not match request")
	// ErrChangedBlockHash is returned when the block hash changed between
	// phases of the same round.
	ErrChangedBlockHash = errors.New("praftbft: block hash changed between phases")
	// ErrBlockNotMatchingHash is returned when a block's computed hash
	// doesn't match the hash carried in its message.
	ErrBlockNotMatchingHash = errors.New("praftbft: block does not match claimed hash")
	// ErrCouldNotGetSupermajority is returned when broadcasting a message
	// failed to collect 2f+1 matching acks.
	ErrCouldNotGetSupermajority = errors.New("praftbft: could not reach supermajority")
)

// WrongLeaderError reports that the message's sender is not the follower's
// current leader.
type WrongLeaderError struct{ Peer crypto.PeerID }

func (e *WrongLeaderError) Error() string {
	return fmt.Sprintf("praftbft: %s is not the current leader", e.Peer)
}

// InvalidPeerError reports that a peer is not a member of the consensus
// group.
type InvalidPeerError struct{ Peer crypto.PeerID }

func (e *InvalidPeerError) Error() string {
	return fmt.Sprintf("praftbft: %s is not allowed to take part in the consensus", e.Peer)
}

// PrevBlockHashMismatchError reports a discontinuity in the block chain.
type PrevBlockHashMismatchError struct {
	Got, Expected consensus.BlockHash
}

func (e *PrevBlockHashMismatchError) Error() string {
	return fmt.Sprintf("praftbft: previous block hash %s does not match expected %s", e.Got, e.Expected)
}

// WrongBlockNumberError reports that a message's block number does not
// equal the expected next height.
type WrongBlockNumberError struct {
	Received, Expected consensus.BlockNumber
}

func (e *WrongBlockNumberError) Error() string {
	return fmt.Sprintf("praftbft: block number %s does not match expected %s", e.Received, e.Expected)
}

// WrongPhaseError reports that the follower's round was in a different
// phase than the one a message expected.
type WrongPhaseError struct {
	Current, Expected Phase
}

func (e *WrongPhaseError) Error() string {
	return fmt.Sprintf("praftbft: expected phase %s but was in %s", e.Expected, e.Current)
}

// BadInvalidTransactionIndexError reports that the leader's invalid-list
// named an index beyond the valid transactions actually proposed.
type BadInvalidTransactionIndexError struct{ Index int }

func (e *BadInvalidTransactionIndexError) Error() string {
	return fmt.Sprintf("praftbft: invalid transaction index %d exceeds the valid set", e.Index)
}

// CensorshipDetectedError reports that the leader claimed a transaction was
// invalid, but replaying it against the tentative state built from the
// valid set up to its claimed index succeeds -- the leader is suppressing a
// transaction it has no right to reject.
type CensorshipDetectedError struct{ Index int }

func (e *CensorshipDetectedError) Error() string {
	return fmt.Sprintf("praftbft: leader censored a valid transaction at index %d", e.Index)
}

// RollbackNotPermittedError reports that a chain split was detected during
// synchronization but the one-shot rollback permit for the current
// leadership term has already been used.
type RollbackNotPermittedError struct{ BlockNumber consensus.BlockNumber }

func (e *RollbackNotPermittedError) Error() string {
	return fmt.Sprintf("praftbft: rollback of block %s not permitted: no rollback left this term", e.BlockNumber)
}

func verifyLeaderTerm(got, expected consensus.LeaderTerm) error {
	if got != expected {
		return ErrWrongLeaderTerm
	}
	return nil
}

func verifyBlockNumber(got, expected consensus.BlockNumber) error {
	if got != expected {
		return &WrongBlockNumberError{Received: got, Expected: expected}
	}
	return nil
}

func verifyPhase(got, expected Phase) error {
	if got != expected {
		return &WrongPhaseError{Current: got, Expected: expected}
	}
	return nil
}

// asRingBufferError translates a ringbuffer bounds error into the
// LeaderTerm-specific errors callers match on.
func asRingBufferError(err error) error {
	var rerr *ringbuffer.Error[consensus.LeaderTerm]
	if errors.As(err, &rerr) {
		if rerr.Underflow {
			return &LeaderTermTooSmallError{Term: rerr.Key}
		}
		return &LeaderTermTooBigError{Term: rerr.Key}
	}
	return err
}

// LeaderTermTooSmallError reports a view-change request for a term that
// has already been superseded.
type LeaderTermTooSmallError struct{ Term consensus.LeaderTerm }

func (e *LeaderTermTooSmallError) Error() string {
	return fmt.Sprintf("praftbft: view change to term %s failed: term too low", e.Term)
}

// LeaderTermTooBigError reports a view-change request for a term too far
// beyond what this replica can currently track.
type LeaderTermTooBigError struct{ Term consensus.LeaderTerm }

func (e *LeaderTermTooBigError) Error() string {
	return fmt.Sprintf("praftbft: view change to term %s failed: term too high", e.Term)
}
