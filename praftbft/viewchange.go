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
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prellblock/prellblock/consensus"
	"github.com/prellblock/prellblock/crypto"
	"github.com/prellblock/prellblock/metrics"
	"github.com/prellblock/prellblock/ringbuffer"
)

// viewChangeWindow bounds how many in-flight leader terms the ring buffer
// tracks votes for at once.
const viewChangeWindow = 64

// NewViewTimeout bounds how long a replica waits for the elected leader of
// a candidate term to broadcast NewView after a ViewChange supermajority
// has formed. If it elapses first, the elected leader is presumed dead or
// partitioned and this replica escalates to term+1 itself, rather than
// waiting forever for a NewView that may never come.
const NewViewTimeout = 1 * time.Second

type voteSet struct {
	mu    sync.Mutex
	votes map[crypto.PeerID]crypto.Signature
}

func newVoteSet() voteSet { return voteSet{votes: make(map[crypto.PeerID]crypto.Signature)} }

// ViewChange runs the leader-replacement sub-protocol: collecting
// ViewChange votes for candidate terms and, once this replica becomes the
// new leader of a term with a supermajority of votes, broadcasting NewView.
type ViewChange struct {
	core     *Core
	follower *Follower

	votes *ringbuffer.RingBuffer[consensus.LeaderTerm, voteSet]

	mu       sync.Mutex
	deadline map[consensus.LeaderTerm]time.Time
}

// NewViewChange constructs a ViewChange collaborator sharing core and
// follower with the rest of the engine.
func NewViewChange(core *Core, follower *Follower) *ViewChange {
	return &ViewChange{
		core:     core,
		follower: follower,
		votes: ringbuffer.New[consensus.LeaderTerm, voteSet](viewChangeWindow, follower.LeaderTerm(), func() voteSet {
			return newVoteSet()
		}),
		deadline: make(map[consensus.LeaderTerm]time.Time),
	}
}

// RequestViewChange records a local decision to vote for abandoning the
// current leader, moving to newTerm, and broadcasts that vote.
func (v *ViewChange) RequestViewChange(newTerm consensus.LeaderTerm) error {
	msg := ConsensusMessage{Kind: KindViewChange, NewLeaderTerm: newTerm}
	signed, err := v.core.SignMessage(msg)
	if err != nil {
		return err
	}
	if _, err := v.recordVote(newTerm, v.core.Self(), signed.Signature); err != nil {
		return asRingBufferError(err)
	}
	v.core.sender.Broadcast(signed)
	metrics.ViewChanges.Inc()
	return nil
}

// HandleViewChange records a remote ViewChange vote and, once this replica
// would become leader of newTerm and a supermajority has voted, broadcasts
// NewView.
func (v *ViewChange) HandleViewChange(from crypto.PeerID, msg ConsensusMessage, signature crypto.Signature) (ConsensusResponse, error) {
	sigs, err := v.recordVote(msg.NewLeaderTerm, from, signature)
	if err != nil {
		return ConsensusResponse{}, asRingBufferError(err)
	}

	selfVoted := false
	for _, sig := range sigs {
		if sig.Signer == v.core.Self() {
			selfVoted = true
			break
		}
	}
	if len(sigs) >= v.core.NonfaultyCount() && !selfVoted {
		// f+1 replicas now suspect the leader: escalate even if we hadn't
		// independently decided to. selfVoted guards this from re-firing on
		// every subsequent duplicate vote delivery for the same term.
		if err := v.RequestViewChange(msg.NewLeaderTerm); err != nil {
			log.Warn("failed to escalate view change", "term", msg.NewLeaderTerm, "err", err)
		}
	}

	if len(sigs) >= v.core.Supermajority() {
		if v.core.Leader(uint64(msg.NewLeaderTerm)) == v.core.Self() {
			if err := v.broadcastNewView(msg.NewLeaderTerm, sigs); err != nil {
				return ConsensusResponse{}, err
			}
		} else {
			// A supermajority has formed for a term this replica doesn't
			// lead: start the clock on the elected leader actually
			// broadcasting NewView, so a leader that dies right after
			// election doesn't deadlock the cluster indefinitely.
			v.armNewViewTimeout(msg.NewLeaderTerm)
		}
	}
	return ConsensusResponse{Kind: KindOk}, nil
}

// armNewViewTimeout records the deadline by which NewView must arrive for
// term, unless a deadline for it is already armed. CheckTimeouts escalates
// past it.
func (v *ViewChange) armNewViewTimeout(term consensus.LeaderTerm) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, armed := v.deadline[term]; armed {
		return
	}
	v.deadline[term] = time.Now().Add(NewViewTimeout)
}

// CheckTimeouts escalates any candidate term whose NewView-timeout has
// elapsed without this replica having accepted a NewView for it (or a
// later term), requesting a view change to term+1. It is called
// periodically from one of the engine's long-lived tasks.
func (v *ViewChange) CheckTimeouts() {
	now := time.Now()
	current := v.follower.LeaderTerm()

	var expired []consensus.LeaderTerm
	v.mu.Lock()
	for term, deadline := range v.deadline {
		if term <= current {
			// NewView for this term (or a later one) was already accepted.
			delete(v.deadline, term)
			continue
		}
		if now.After(deadline) {
			expired = append(expired, term)
			delete(v.deadline, term)
		}
	}
	v.mu.Unlock()

	for _, term := range expired {
		log.Warn("new view timed out, escalating", "term", term)
		if err := v.RequestViewChange(term + 1); err != nil {
			log.Warn("failed to escalate after new view timeout", "term", term, "err", err)
		}
	}
}

func (v *ViewChange) recordVote(term consensus.LeaderTerm, from crypto.PeerID, sig crypto.Signature) (consensus.SignatureList, error) {
	slot, err := v.votes.GetMut(term)
	if err != nil {
		return nil, err
	}
	slot.mu.Lock()
	slot.votes[from] = sig
	list := make(consensus.SignatureList, 0, len(slot.votes))
	for peer, signature := range slot.votes {
		list = append(list, struct {
			Signer    crypto.PeerID
			Signature crypto.Signature
		}{Signer: peer, Signature: signature})
	}
	slot.mu.Unlock()
	return list, nil
}

func (v *ViewChange) broadcastNewView(term consensus.LeaderTerm, sigs consensus.SignatureList) error {
	msg := ConsensusMessage{
		Kind:                 KindNewView,
		ViewChangeSignatures: sigs,
		CurrentBlockNumber:   v.follower.nextBlockNumber(),
	}
	msg.NewLeaderTerm = term
	if _, err := v.core.BroadcastUntilMajority(msg); err != nil {
		return err
	}
	v.follower.SetLeaderTerm(term)
	log.Info("became leader", "term", term)
	return nil
}

// HandleNewView verifies the ViewChange quorum carried by msg and, if
// valid, accepts term as the new leader term.
func (v *ViewChange) HandleNewView(msg ConsensusMessage) (ConsensusResponse, error) {
	vote := ConsensusMessage{Kind: KindViewChange, NewLeaderTerm: msg.NewLeaderTerm}
	payload, err := vote.SignableBytes()
	if err != nil {
		return ConsensusResponse{}, err
	}
	if err := v.core.VerifyRPUMajoritySignatures(payload, msg.ViewChangeSignatures); err != nil {
		return ConsensusResponse{}, err
	}
	if msg.NewLeaderTerm < v.follower.LeaderTerm() {
		return ConsensusResponse{}, &LeaderTermTooSmallError{Term: msg.NewLeaderTerm}
	}
	v.follower.SetLeaderTerm(msg.NewLeaderTerm)
	log.Info("accepted new leader term", "term", msg.NewLeaderTerm, "leader", v.core.aliases.Lookup(v.core.Leader(uint64(msg.NewLeaderTerm))))
	return ConsensusResponse{Kind: KindOk}, nil
}
