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
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prellblock/prellblock/consensus"
	"github.com/prellblock/prellblock/crypto"
	"github.com/prellblock/prellblock/queue"
)

// MaxTransactionsPerBlock caps how many transactions a single proposed
// block may carry.
const MaxTransactionsPerBlock = 4000

// BlockGenerationTimeout is how long the leader waits for the pending
// queue to fill before proposing a (possibly smaller) block anyway.
const BlockGenerationTimeout = 400 * time.Millisecond

// Leader drives the sending side of the three-phase commit whenever this
// replica is the elected leader of the current term. It shares its
// Follower's world-state checker and block log so its own locally applied
// block stays consistent with what it broadcasts.
type Leader struct {
	core     *Core
	follower *Follower
	pending  *queue.Queue[SignedTransaction]
}

// NewLeader constructs a Leader coordinating proposals through core,
// applying committed blocks through follower, and draining pending.
func NewLeader(core *Core, follower *Follower, pending *queue.Queue[SignedTransaction]) *Leader {
	return &Leader{core: core, follower: follower, pending: pending}
}

// Run proposes blocks in a loop until stop is closed, proposing once every
// BlockGenerationTimeout. A queue that fills to MaxTransactionsPerBlock
// before the next tick does not trigger an earlier proposal.
func (l *Leader) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(BlockGenerationTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if l.core.Leader(uint64(l.follower.LeaderTerm())) != l.core.Self() {
				continue
			}
			if err := l.ProposeOnce(); err != nil {
				log.Warn("proposal round failed", "err", err)
			}
		}
	}
}

// ProposeOnce drains the pending queue and drives one full Prepare/Append/
// Commit round. It is a no-op (returns nil) if the queue is empty.
func (l *Leader) ProposeOnce() error {
	drained := l.pending.DrainUpTo(MaxTransactionsPerBlock)
	if len(drained) == 0 {
		return nil
	}

	term := l.follower.LeaderTerm()
	blockNumber := l.follower.nextBlockNumber()
	prevHash := l.follower.lastBlockHash()

	valid, invalid, err := l.partitionBatch(drained)
	if err != nil {
		return err
	}
	if len(valid) == 0 {
		return ErrEmptyBlock
	}

	now := time.Now()
	body := consensus.NewBody(blockNumber, prevHash, now, valid)
	blockHash, err := consensus.HashBody(body)
	if err != nil {
		return err
	}
	md := Metadata{LeaderTerm: term, BlockNumber: blockNumber, BlockHash: blockHash}

	ackPrepareSigs, err := l.broadcastPrepare(md)
	if err != nil {
		return err
	}

	ackAppendSigs, err := l.broadcastAppend(md, ackPrepareSigs, valid, invalid, now)
	if err != nil {
		return err
	}

	if err := l.broadcastCommit(md, ackAppendSigs); err != nil {
		return err
	}

	block := consensus.Block{Body: body, Signatures: ackAppendSigs}
	return l.applyLocally(block)
}

// partitionBatch splits entries into the transactions that apply cleanly
// against a tentative world state and those that don't. Each
// InvalidTransaction's Index names how many valid transactions precede it,
// so a follower can replay exactly that prefix before re-checking the
// rejection for itself.
func (l *Leader) partitionBatch(entries []queue.Entry[SignedTransaction]) (valid [][]byte, invalid []InvalidTransaction, err error) {
	check := l.follower.checker.NewCheck()
	for _, entry := range entries {
		encoded, encErr := encodeSignedTransaction(entry.Value)
		if encErr != nil {
			return nil, nil, encErr
		}
		if applyErr := check.VerifyPermissionsAndApply(entry.Value.Signer, entry.Value.Value); applyErr != nil {
			invalid = append(invalid, InvalidTransaction{Index: len(valid), Reason: applyErr.Error(), Transaction: encoded})
			continue
		}
		valid = append(valid, encoded)
	}
	return valid, invalid, nil
}

func (l *Leader) broadcastPrepare(md Metadata) (consensus.SignatureList, error) {
	msg := ConsensusMessage{Kind: KindPrepare, Metadata: md}
	responses, err := l.core.BroadcastUntilMajority(msg)
	if err != nil {
		return nil, err
	}
	return collectAckSignatures(responses, KindAckPrepare, md)
}

func (l *Leader) broadcastAppend(md Metadata, ackPrepareSigs consensus.SignatureList, valid [][]byte, invalid []InvalidTransaction, at time.Time) (consensus.SignatureList, error) {
	msg := ConsensusMessage{
		Kind:                 KindAppend,
		Metadata:             md,
		AckPrepareSignatures: ackPrepareSigs,
		ValidTransactions:    valid,
		InvalidTransactions:  invalid,
		Timestamp:            uint64(at.UnixNano()),
	}
	responses, err := l.core.BroadcastUntilMajority(msg)
	if err != nil {
		return nil, err
	}
	return collectAckSignatures(responses, KindAckAppend, md)
}

func (l *Leader) broadcastCommit(md Metadata, ackAppendSigs consensus.SignatureList) error {
	msg := ConsensusMessage{Kind: KindCommit, Metadata: md, AckAppendSignatures: ackAppendSigs}
	_, err := l.core.BroadcastUntilMajority(msg)
	return err
}

func (l *Leader) applyLocally(block consensus.Block) error {
	return l.follower.applyBlock(block)
}

func collectAckSignatures(responses map[crypto.PeerID]SignedResponse, kind ResponseKind, expected Metadata) (consensus.SignatureList, error) {
	var sigs consensus.SignatureList
	for peer, signed := range responses {
		if signed.Value.Kind != kind {
			continue
		}
		if signed.Value.Metadata != expected {
			continue
		}
		sigs = append(sigs, struct {
			Signer    crypto.PeerID
			Signature crypto.Signature
		}{Signer: peer, Signature: signed.Signature})
	}
	return sigs, nil
}
