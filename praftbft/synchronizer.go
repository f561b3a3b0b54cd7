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
	"math/rand"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prellblock/prellblock/consensus"
	"github.com/prellblock/prellblock/crypto"
)

// SynchronizationBlockThreshold is how far a sender's claimed block number
// may exceed this replica's own height before a Prepare/Append/Commit
// handler triggers an inline synchronization round instead of outright
// rejecting the message as a block-number mismatch.
const SynchronizationBlockThreshold = 3

// Synchronizer catches a lagging replica up to the rest of the consensus
// group: it asks a random peer for the blocks (and, if relevant, the
// NewView) it is missing, rolling back any locally committed blocks that
// turn out to diverge from the majority chain.
type Synchronizer struct {
	core     *Core
	follower *Follower
	vc       *ViewChange

	semaphore chan struct{}
}

// NewSynchronizer constructs a Synchronizer sharing core, follower and vc
// with the rest of the engine.
func NewSynchronizer(core *Core, follower *Follower, vc *ViewChange) *Synchronizer {
	return &Synchronizer{
		core:      core,
		follower:  follower,
		vc:        vc,
		semaphore: make(chan struct{}, 1),
	}
}

// Synchronize runs at most one catch-up round at a time; concurrent
// callers other than the first return immediately.
func (s *Synchronizer) Synchronize() error {
	select {
	case s.semaphore <- struct{}{}:
	default:
		return nil
	}
	defer func() { <-s.semaphore }()

	candidates := make([]crypto.PeerID, 0, len(s.core.peers))
	for _, p := range s.core.peers {
		if p != s.core.Self() {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	target := candidates[rand.Intn(len(candidates))]

	req := ConsensusMessage{
		Kind:            KindSynchronizationRequest,
		SyncLeaderTerm:  s.follower.LeaderTerm(),
		SyncBlockNumber: s.follower.nextBlockNumber(),
		SyncBlockHash:   s.follower.lastBlockHash(),
	}
	signed, err := s.core.SignMessage(req)
	if err != nil {
		return err
	}
	raw, err := s.core.sender.SendTo(target, signed)
	if err != nil {
		return err
	}
	resp, ok := raw.(SignedResponse)
	if !ok {
		return ErrUnexpectedResponse
	}
	if err := resp.Verify(); err != nil {
		return err
	}
	if resp.Value.Kind != KindSynchronizationResponse {
		return ErrUnexpectedResponse
	}

	if resp.Value.HasNewView {
		newView := ConsensusMessage{Kind: KindNewView, NewLeaderTerm: resp.Value.NewViewLeaderTerm, ViewChangeSignatures: resp.Value.NewViewSignatures}
		if _, err := s.vc.HandleNewView(newView); err != nil {
			log.Warn("rejected NewView during synchronization", "err", err)
		}
	}

	for _, block := range resp.Value.Blocks {
		if err := s.applyCatchUpBlock(block); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) applyCatchUpBlock(block consensus.Block) error {
	expected := s.follower.nextBlockNumber()
	if block.Body.BlockNumber != expected {
		if block.Body.BlockNumber < expected {
			// Our tail diverges from the majority chain. Rollback is
			// permitted at most once per leadership change.
			if !s.follower.RollbackPossible() {
				return &RollbackNotPermittedError{BlockNumber: block.Body.BlockNumber}
			}
			popped, err := s.follower.blocks.PopLast()
			if err != nil {
				return err
			}
			if err := s.follower.Requeue(popped.Body.Transactions); err != nil {
				return err
			}
			s.follower.consumeRollbackPermit()
			return s.applyCatchUpBlock(block)
		}
		return &WrongBlockNumberError{Received: block.Body.BlockNumber, Expected: expected}
	}

	// The block's signatures were collected against the metadata of
	// whichever term was active when it was committed, which this replica
	// was not present for; we can only check that a supermajority signed
	// its body hash, not replay the exact Metadata verification.
	hash, err := block.Hash()
	if err != nil {
		return err
	}
	if err := s.core.VerifyRPUMajoritySignatures(hash[:], block.Signatures); err != nil {
		log.Warn("catch-up block has insufficient signatures, applying best-effort", "number", block.Body.BlockNumber, "err", err)
	}
	return s.follower.applyBlock(block)
}
