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
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/prellblock/prellblock/blockstorage"
	"github.com/prellblock/prellblock/consensus"
	"github.com/prellblock/prellblock/crypto"
	"github.com/prellblock/prellblock/metrics"
	"github.com/prellblock/prellblock/notifymap"
	"github.com/prellblock/prellblock/queue"
	"github.com/prellblock/prellblock/txchecker"
)

// Follower drives the per-height receiving side of the three-phase commit:
// it acks a Prepare, validates and acks an Append, and persists a block on
// Commit. One Follower instance handles exactly one round at a time; the
// next round can only start once the current one reaches PhaseIdle again.
type Follower struct {
	core *Core

	pending      *queue.Queue[SignedTransaction]
	blocks       *blockstorage.Store
	checker      *txchecker.Checker
	blockChanged *notifymap.NotifyMap[consensus.BlockNumber]

	mu               sync.Mutex
	leaderTerm       consensus.LeaderTerm
	phase            Phase
	metadata         Metadata
	pendingBody      consensus.Body
	bufferedCommit   *bufferedCommit
	vc               viewChangeRequester
	sync             synchronizerRequester
	rollbackPossible bool
}

// synchronizerRequester is the sliver of Synchronizer's API the follower
// needs to trigger an inline catch-up round, kept as an interface for the
// same construction-order reason as viewChangeRequester: Synchronizer
// itself is built from a *Follower.
type synchronizerRequester interface {
	Synchronize() error
}

// bufferedCommit holds a Commit message that arrived before the Append it
// depends on, so HandleAppend can replay it once the round catches up.
type bufferedCommit struct {
	from crypto.PeerID
	msg  ConsensusMessage
}

// viewChangeRequester is the sliver of ViewChange's API the follower needs
// to escalate on a protocol error, kept as an interface so follower.go does
// not need to import viewchange.go's concrete type during construction
// (ViewChange itself is built from a *Follower).
type viewChangeRequester interface {
	RequestViewChange(consensus.LeaderTerm) error
}

// NewFollower constructs a Follower starting at leaderTerm 0 and the block
// number following the last persisted block.
func NewFollower(core *Core, pending *queue.Queue[SignedTransaction], blocks *blockstorage.Store, checker *txchecker.Checker, blockChanged *notifymap.NotifyMap[consensus.BlockNumber]) *Follower {
	return &Follower{
		core:         core,
		pending:      pending,
		blocks:       blocks,
		checker:      checker,
		blockChanged: blockChanged,
		phase:        PhaseIdle,
	}
}

// LeaderTerm returns the term this follower currently believes is active.
func (f *Follower) LeaderTerm() consensus.LeaderTerm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaderTerm
}

// SetLeaderTerm is called by the view-change collaborator once a NewView
// has been accepted, resetting the follower to PhaseIdle for the new term.
// Accepting a new term re-arms the one-shot rollback permit, since a chain
// split can only be reconciled once per leadership change.
func (f *Follower) SetLeaderTerm(term consensus.LeaderTerm) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaderTerm = term
	f.phase = PhaseIdle
	f.bufferedCommit = nil
	f.rollbackPossible = true
	metrics.LeaderTerm.Set(float64(term))
}

// RollbackPossible reports whether the one-shot rollback permit granted by
// the last leadership change is still available: it is cleared by the first
// chain-split rollback and by committing a block through HandleCommit.
func (f *Follower) RollbackPossible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rollbackPossible
}

// consumeRollbackPermit spends the one-shot rollback permit granted by the
// last leadership change, so a second chain-split rollback this term is
// refused.
func (f *Follower) consumeRollbackPermit() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbackPossible = false
}

// Requeue re-inserts encoded transactions (typically the body of a block
// rolled back by the synchronizer) at the back of the pending queue, in
// their original order and with their original signatures intact.
func (f *Follower) Requeue(encoded [][]byte) error {
	txs := make([]SignedTransaction, 0, len(encoded))
	for _, raw := range encoded {
		var signed SignedTransaction
		if err := rlp.DecodeBytes(raw, &signed); err != nil {
			return fmt.Errorf("praftbft: decode requeued transaction: %w", err)
		}
		txs = append(txs, signed)
	}
	f.pending.Extend(txs)
	return nil
}

func (f *Follower) nextBlockNumber() consensus.BlockNumber {
	last, err := f.blocks.Last()
	if err != nil {
		return 0
	}
	return last.Body.BlockNumber.Next()
}

func (f *Follower) lastBlockHash() consensus.BlockHash {
	last, err := f.blocks.Last()
	if err != nil {
		return consensus.BlockHash{}
	}
	hash, err := last.Hash()
	if err != nil {
		return consensus.BlockHash{}
	}
	return hash
}

// SetViewChange installs the collaborator the follower escalates protocol
// errors to. It is set after construction because ViewChange itself is
// built from a *Follower.
func (f *Follower) SetViewChange(vc viewChangeRequester) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vc = vc
}

// SetSynchronizer installs the collaborator the follower triggers an
// inline catch-up round on. It is set after construction because
// Synchronizer itself is built from a *Follower.
func (f *Follower) SetSynchronizer(sync synchronizerRequester) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sync = sync
}

// stateInBlock is the per-message pre-check every Prepare/Append/Commit
// handler runs before touching its own locked state: if the sender's
// claimed blockNumber is SynchronizationBlockThreshold or more ahead of
// this replica's own next height, a lagging replica has no business
// rejecting the message outright -- it runs one synchronization round
// first, so the ordinary block-number check that follows has a chance to
// succeed against the now-caught-up height instead of spuriously blaming
// the leader and requesting a view change.
func (f *Follower) stateInBlock(blockNumber consensus.BlockNumber) {
	expected := f.nextBlockNumber()
	if blockNumber < expected+SynchronizationBlockThreshold {
		return
	}
	f.mu.Lock()
	sync := f.sync
	f.mu.Unlock()
	if sync == nil {
		return
	}
	log.Info("lagging behind claimed block number, synchronizing inline", "expected", expected, "claimed", blockNumber)
	if err := sync.Synchronize(); err != nil {
		log.Warn("inline synchronization before message handling failed", "claimed", blockNumber, "err", err)
	}
}

// requestViewChangeOnError votes to abandon the current leader whenever a
// Prepare/Append/Commit handler rejects a message from it, so a single
// misbehaving or partitioned leader can't stall the round indefinitely.
func (f *Follower) requestViewChangeOnError(cause error) {
	f.mu.Lock()
	vc := f.vc
	term := f.leaderTerm
	f.mu.Unlock()
	if vc == nil {
		return
	}
	if err := vc.RequestViewChange(term + 1); err != nil {
		log.Warn("failed to request view change after protocol error", "cause", cause, "err", err)
	}
}

// HandlePrepare validates and acks a Prepare message from the current
// leader, moving this round from PhaseIdle to PhasePrepared.
func (f *Follower) HandlePrepare(from crypto.PeerID, md Metadata) (ConsensusResponse, error) {
	f.stateInBlock(md.BlockNumber)
	resp, err := f.handlePrepare(from, md)
	if err != nil {
		f.requestViewChangeOnError(err)
	}
	return resp, err
}

func (f *Follower) handlePrepare(from crypto.PeerID, md Metadata) (ConsensusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if from != f.core.Leader(uint64(f.leaderTerm)) {
		return ConsensusResponse{}, &WrongLeaderError{Peer: from}
	}
	if err := verifyLeaderTerm(md.LeaderTerm, f.leaderTerm); err != nil {
		return ConsensusResponse{}, err
	}
	if err := verifyPhase(f.phase, PhaseIdle); err != nil {
		return ConsensusResponse{}, err
	}
	expected := f.nextBlockNumber()
	if err := verifyBlockNumber(md.BlockNumber, expected); err != nil {
		return ConsensusResponse{}, err
	}

	f.phase = PhasePrepared
	f.metadata = md
	log.Debug("acked prepare", "term", md.LeaderTerm, "block", md.BlockNumber)
	return ConsensusResponse{Kind: KindAckPrepare, Metadata: md}, nil
}

// HandleAppend validates the proposed block body, removes the block's
// valid transactions from the follower's own pending queue (the listed
// invalid ones stay queued), and acks the Append, moving this round to PhaseAppended. If a
// Commit for this round arrived early and was buffered, it is replayed
// once the round reaches PhaseAppended.
func (f *Follower) HandleAppend(from crypto.PeerID, msg ConsensusMessage) (ConsensusResponse, error) {
	f.stateInBlock(msg.Metadata.BlockNumber)
	resp, err := f.handleAppend(from, msg)
	if err != nil {
		f.requestViewChangeOnError(err)
	}
	return resp, err
}

func (f *Follower) handleAppend(from crypto.PeerID, msg ConsensusMessage) (ConsensusResponse, error) {
	f.mu.Lock()

	if from != f.core.Leader(uint64(f.leaderTerm)) {
		f.mu.Unlock()
		return ConsensusResponse{}, &WrongLeaderError{Peer: from}
	}
	if err := verifyPhase(f.phase, PhasePrepared); err != nil {
		f.mu.Unlock()
		return ConsensusResponse{}, err
	}
	if err := f.metadata.Verify(msg.Metadata); err != nil {
		f.mu.Unlock()
		return ConsensusResponse{}, err
	}
	if len(msg.ValidTransactions) == 0 {
		f.mu.Unlock()
		return ConsensusResponse{}, ErrEmptyBlock
	}

	ackPrepare := ConsensusResponse{Kind: KindAckPrepare, Metadata: msg.Metadata}
	ackBytes, err := ackPrepare.SignableBytes()
	if err != nil {
		f.mu.Unlock()
		return ConsensusResponse{}, err
	}
	if err := f.core.VerifyRPUMajoritySignatures(ackBytes, msg.AckPrepareSignatures); err != nil {
		f.mu.Unlock()
		return ConsensusResponse{}, err
	}

	if err := f.replayStatefulValidation(msg); err != nil {
		f.mu.Unlock()
		return ConsensusResponse{}, err
	}

	body := consensus.NewBody(msg.Metadata.BlockNumber, f.lastBlockHash(), time.Unix(0, int64(msg.Timestamp)), msg.ValidTransactions)
	hash, err := consensus.HashBody(body)
	if err != nil {
		f.mu.Unlock()
		return ConsensusResponse{}, err
	}
	if hash != msg.Metadata.BlockHash {
		f.mu.Unlock()
		return ConsensusResponse{}, ErrBlockNotMatchingHash
	}

	for _, v := range msg.ValidTransactions {
		f.pending.Remove(func(signed SignedTransaction) bool {
			bytes, err := encodeSignedTransaction(signed)
			if err != nil {
				return false
			}
			return string(bytes) == string(v)
		})
	}

	f.phase = PhaseAppended
	f.metadata.BlockHash = hash
	f.pendingBody = body
	resp := ConsensusResponse{Kind: KindAckAppend, Metadata: f.metadata}
	buffered := f.bufferedCommit
	f.bufferedCommit = nil
	f.mu.Unlock()

	log.Debug("acked append", "term", msg.Metadata.LeaderTerm, "block", msg.Metadata.BlockNumber, "txs", len(msg.ValidTransactions))

	if buffered != nil {
		if _, err := f.finalizeCommit(buffered.from, buffered.msg); err != nil {
			log.Warn("failed to replay buffered commit", "term", buffered.msg.Metadata.LeaderTerm, "err", err)
		}
	}
	return resp, nil
}

// replayStatefulValidation re-applies the leader's valid transactions
// against a tentative copy of the world state, confirming independently
// that none of them should have been rejected, and re-checks every
// transaction the leader claims is invalid against the same tentative
// state to confirm the leader isn't censoring it. This guards against a
// leader that lies about which transactions are valid.
func (f *Follower) replayStatefulValidation(msg ConsensusMessage) error {
	check := f.checker.NewCheck()
	for _, encoded := range msg.ValidTransactions {
		signer, tx, err := decodeSignedTransaction(encoded)
		if err != nil {
			return err
		}
		if err := check.VerifyPermissionsAndApply(signer, tx); err != nil {
			return err
		}
	}
	for _, inv := range msg.InvalidTransactions {
		if err := f.verifyClaimedInvalid(msg.ValidTransactions, inv); err != nil {
			return err
		}
	}
	return nil
}

// verifyClaimedInvalid replays valid[:inv.Index] -- the prefix the leader
// says preceded this rejection -- against a fresh tentative state, then
// attempts to apply the transaction the leader claims was invalid. If it
// applies cleanly, the leader censored it.
func (f *Follower) verifyClaimedInvalid(valid [][]byte, inv InvalidTransaction) error {
	if inv.Index > len(valid) {
		return &BadInvalidTransactionIndexError{Index: inv.Index}
	}
	check := f.checker.NewCheck()
	for _, encoded := range valid[:inv.Index] {
		signer, tx, err := decodeSignedTransaction(encoded)
		if err != nil {
			return err
		}
		if err := check.VerifyPermissionsAndApply(signer, tx); err != nil {
			return err
		}
	}
	signer, tx, err := decodeSignedTransaction(inv.Transaction)
	if err != nil {
		// Undecodable is itself grounds for rejection, not censorship.
		return nil
	}
	if applyErr := check.VerifyPermissionsAndApply(signer, tx); applyErr == nil {
		return &CensorshipDetectedError{Index: inv.Index}
	}
	return nil
}

// HandleCommit validates the AckAppend quorum and persists the block this
// round's HandleAppend assembled, returning this round to PhaseIdle. A
// Commit that arrives before this round reached PhaseAppended is buffered
// and replayed once HandleAppend catches up, rather than rejected outright.
func (f *Follower) HandleCommit(from crypto.PeerID, msg ConsensusMessage) (ConsensusResponse, error) {
	f.stateInBlock(msg.Metadata.BlockNumber)
	resp, err := f.handleCommit(from, msg)
	if err != nil {
		f.requestViewChangeOnError(err)
	}
	return resp, err
}

func (f *Follower) handleCommit(from crypto.PeerID, msg ConsensusMessage) (ConsensusResponse, error) {
	f.mu.Lock()
	if from != f.core.Leader(uint64(f.leaderTerm)) {
		f.mu.Unlock()
		return ConsensusResponse{}, &WrongLeaderError{Peer: from}
	}
	if f.phase != PhaseAppended {
		if f.bufferedCommit == nil {
			f.bufferedCommit = &bufferedCommit{from: from, msg: msg}
		}
		f.mu.Unlock()
		return ConsensusResponse{Kind: KindOk}, nil
	}
	f.mu.Unlock()
	return f.finalizeCommit(from, msg)
}

// finalizeCommit performs the actual quorum check, persistence and
// notification for a Commit whose round has already reached PhaseAppended,
// whether it arrived on time or was buffered and is being replayed now.
func (f *Follower) finalizeCommit(from crypto.PeerID, msg ConsensusMessage) (ConsensusResponse, error) {
	f.mu.Lock()
	if err := verifyPhase(f.phase, PhaseAppended); err != nil {
		f.mu.Unlock()
		return ConsensusResponse{}, err
	}
	if err := f.metadata.Verify(msg.Metadata); err != nil {
		f.mu.Unlock()
		return ConsensusResponse{}, err
	}

	ackAppend := ConsensusResponse{Kind: KindAckAppend, Metadata: msg.Metadata}
	ackBytes, err := ackAppend.SignableBytes()
	if err != nil {
		f.mu.Unlock()
		return ConsensusResponse{}, err
	}
	if err := f.core.VerifyRPUMajoritySignatures(ackBytes, msg.AckAppendSignatures); err != nil {
		f.mu.Unlock()
		return ConsensusResponse{}, err
	}

	block := consensus.Block{Body: f.pendingBody, Signatures: msg.AckAppendSignatures}
	f.phase = PhaseIdle
	f.rollbackPossible = false
	f.mu.Unlock()

	if err := f.applyBlock(block); err != nil {
		return ConsensusResponse{}, err
	}

	log.Info("committed block", "number", block.Body.BlockNumber, "txs", len(block.Body.Transactions))
	metrics.BlockHeight.Set(float64(block.Body.BlockNumber))
	f.blockChanged.Notify(block.Body.BlockNumber)
	return ConsensusResponse{Kind: KindOk}, nil
}

func (f *Follower) applyBlock(block consensus.Block) error {
	if err := f.blocks.WriteBlock(block); err != nil {
		return err
	}
	writable := f.checker.WorldState().GetWritable()
	state := writable.State()
	for _, encoded := range block.Body.Transactions {
		signer, tx, err := decodeSignedTransaction(encoded)
		if err != nil {
			writable.Discard()
			return err
		}
		stateChecker := f.checker.NewCheckFromState(state)
		if err := stateChecker.VerifyPermissionsAndApply(signer, tx); err != nil {
			// The leader already validated this transaction; a failure here
			// means our local state diverged and must be resynchronized.
			writable.Discard()
			return err
		}
	}
	hash, err := block.Hash()
	if err != nil {
		writable.Discard()
		return err
	}
	state.BlockNumber = block.Body.BlockNumber
	state.LastBlockHash = hash
	writable.Save()
	return nil
}
