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

package praftbft

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/prellblock/prellblock/consensus"
	"github.com/prellblock/prellblock/crypto"
)

// Phase is where a follower's current round stands in the three-phase
// commit.
type Phase uint8

const (
	// PhaseIdle is between rounds, waiting for the next Prepare.
	PhaseIdle Phase = iota
	// PhasePrepared has acked a Prepare and is waiting for Append.
	PhasePrepared
	// PhaseAppended has acked an Append and is waiting for Commit.
	PhaseAppended
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhasePrepared:
		return "Prepared"
	case PhaseAppended:
		return "Appended"
	default:
		return "Unknown"
	}
}

// Metadata identifies which round and block a ConsensusMessage belongs to.
type Metadata struct {
	LeaderTerm  consensus.LeaderTerm
	BlockNumber consensus.BlockNumber
	BlockHash   consensus.BlockHash
}

// Verify reports whether other carries exactly the same round identity.
func (m Metadata) Verify(other Metadata) error {
	if m != other {
		return ErrAckDoesNotMatch
	}
	return nil
}

// MessageKind discriminates the ConsensusMessage union.
type MessageKind uint8

const (
	// KindPrepare proposes a round (leader term, block number, block hash).
	KindPrepare MessageKind = iota
	// KindAppend carries the transactions of the proposed block.
	KindAppend
	// KindCommit carries the AckAppend quorum and tells followers to
	// persist the block.
	KindCommit
	// KindViewChange requests a leader change.
	KindViewChange
	// KindNewView announces that a new leader term has been accepted.
	KindNewView
	// KindSynchronizationRequest asks peers for blocks beyond the
	// sender's current height.
	KindSynchronizationRequest
)

// InvalidTransaction names a transaction the leader drained from its queue
// but rejected. Index is the number of valid transactions that preceded it
// in the batch: a follower replays that prefix of the valid list against a
// tentative world state before re-checking the rejected transaction.
type InvalidTransaction struct {
	Index       int
	Reason      string
	Transaction []byte // RLP-encoded crypto.Signed[consensus.Transaction], as rejected
}

// ConsensusMessage is the tagged union of every message exchanged to drive
// the consensus protocol forward. Exactly one of the Kind-tagged fields is
// meaningful for a given Kind.
type ConsensusMessage struct {
	Kind MessageKind

	// Prepare / Append / Commit share this.
	Metadata Metadata

	// Append only.
	AckPrepareSignatures consensus.SignatureList
	ValidTransactions    [][]byte // RLP-encoded crypto.Signed[consensus.Transaction]
	InvalidTransactions  []InvalidTransaction
	Timestamp            uint64

	// Commit only.
	AckAppendSignatures consensus.SignatureList

	// ViewChange only.
	NewLeaderTerm consensus.LeaderTerm

	// NewView only.
	ViewChangeSignatures consensus.SignatureList
	CurrentBlockNumber   consensus.BlockNumber

	// SynchronizationRequest only.
	SyncLeaderTerm  consensus.LeaderTerm
	SyncBlockNumber consensus.BlockNumber
	SyncBlockHash   consensus.BlockHash
}

// SignableBytes implements crypto.Signable. Every Kind signs its full
// encoding except Append, which signs only the fields the leader commits to
// before validating transactions -- the valid/invalid transaction lists and
// timestamp are excluded so a single Append signature survives batch
// re-validation by a stateful follower.
func (m ConsensusMessage) SignableBytes() ([]byte, error) {
	if m.Kind == KindAppend {
		projection := struct {
			Kind                 MessageKind
			Metadata             Metadata
			AckPrepareSignatures consensus.SignatureList
		}{m.Kind, m.Metadata, m.AckPrepareSignatures}
		return rlp.EncodeToBytes(projection)
	}
	return rlp.EncodeToBytes(m)
}

// ResponseKind discriminates the ConsensusResponse union.
type ResponseKind uint8

const (
	// KindAckPrepare acknowledges a Prepare.
	KindAckPrepare ResponseKind = iota
	// KindAckAppend acknowledges an Append.
	KindAckAppend
	// KindSynchronizationResponse answers a SynchronizationRequest.
	KindSynchronizationResponse
	// KindOk is an empty acknowledgement.
	KindOk
)

// ConsensusResponse is the tagged union of every response a follower or
// peer can send back.
type ConsensusResponse struct {
	Kind ResponseKind

	Metadata Metadata // AckPrepare / AckAppend

	HasNewView         bool // SynchronizationResponse
	NewViewLeaderTerm  consensus.LeaderTerm
	NewViewSignatures  consensus.SignatureList
	Blocks             []consensus.Block
}

// SignableBytes implements crypto.Signable.
func (r ConsensusResponse) SignableBytes() ([]byte, error) { return rlp.EncodeToBytes(r) }

// SignedMessage is a ConsensusMessage signed by its sender.
type SignedMessage = crypto.Signed[ConsensusMessage]

// SignedResponse is a ConsensusResponse signed by its sender.
type SignedResponse = crypto.Signed[ConsensusResponse]
