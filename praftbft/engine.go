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
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prellblock/prellblock/blockstorage"
	"github.com/prellblock/prellblock/consensus"
	"github.com/prellblock/prellblock/crypto"
	"github.com/prellblock/prellblock/notifymap"
	"github.com/prellblock/prellblock/peer"
	"github.com/prellblock/prellblock/queue"
	"github.com/prellblock/prellblock/txchecker"
	"github.com/prellblock/prellblock/worldstate"
)

// Engine is the fully wired consensus node: the core identity/quorum math,
// the sending (Leader) and receiving (Follower) halves of the three-phase
// commit, the view-change and synchronization collaborators, and the
// censorship checker, all sharing the same pending queue, block log and
// world state.
type Engine struct {
	Core         *Core
	Follower     *Follower
	Leader       *Leader
	ViewChange   *ViewChange
	Synchronizer *Synchronizer
	Censorship   *CensorshipChecker
	Pending      *queue.Queue[SignedTransaction]
	BlockChanged *notifymap.NotifyMap[consensus.BlockNumber]

	stop chan struct{}
}

// New wires an Engine for identity, participating with peers over sender,
// persisting blocks in blocks and validating transactions against world.
func New(identity crypto.Identity, peers []crypto.PeerID, sender peer.Sender, blocks *blockstorage.Store, world *worldstate.Service) *Engine {
	core := NewCore(identity, peers, sender)
	checker := txchecker.New(world)
	pending := queue.New[SignedTransaction]()
	blockChanged := notifymap.New[consensus.BlockNumber]()

	follower := NewFollower(core, pending, blocks, checker, blockChanged)
	leader := NewLeader(core, follower, pending)
	vc := NewViewChange(core, follower)
	follower.SetViewChange(vc)
	sync := NewSynchronizer(core, follower, vc)
	follower.SetSynchronizer(sync)
	censorship := NewCensorshipChecker(core, follower, vc, pending)

	return &Engine{
		Core:         core,
		Follower:     follower,
		Leader:       leader,
		ViewChange:   vc,
		Synchronizer: sync,
		Censorship:   censorship,
		Pending:      pending,
		BlockChanged: blockChanged,
		stop:         make(chan struct{}),
	}
}

// SubmitTransaction enqueues a signed transaction for the next proposed
// block after verifying its signature.
func (e *Engine) SubmitTransaction(tx SignedTransaction) error {
	if err := tx.Verify(); err != nil {
		return err
	}
	e.Pending.Insert(tx)
	return nil
}

// Dispatch handles one inbound signed message from a peer and returns the
// signed response to send back. It is the single entrypoint a transport
// (or peer.Loopback, in tests) calls for every received frame.
func (e *Engine) Dispatch(from crypto.PeerID, raw interface{}) (interface{}, error) {
	signed, ok := raw.(SignedMessage)
	if !ok {
		return nil, fmt.Errorf("praftbft: unexpected message type %T", raw)
	}
	if signed.Signer != from {
		return nil, &InvalidPeerError{Peer: from}
	}
	if !e.Core.IsPeer(from) {
		return nil, &InvalidPeerError{Peer: from}
	}
	if err := signed.Verify(); err != nil {
		return nil, err
	}

	var resp ConsensusResponse
	var err error
	switch signed.Value.Kind {
	case KindPrepare:
		resp, err = e.Follower.HandlePrepare(from, signed.Value.Metadata)
	case KindAppend:
		resp, err = e.Follower.HandleAppend(from, signed.Value)
	case KindCommit:
		resp, err = e.Follower.HandleCommit(from, signed.Value)
	case KindViewChange:
		resp, err = e.ViewChange.HandleViewChange(from, signed.Value, signed.Signature)
	case KindNewView:
		resp, err = e.ViewChange.HandleNewView(signed.Value)
	case KindSynchronizationRequest:
		resp, err = e.handleSynchronizationRequest(signed.Value)
	default:
		return nil, fmt.Errorf("praftbft: unknown message kind %d", signed.Value.Kind)
	}
	if err != nil {
		return nil, err
	}
	return e.Core.SignResponse(resp)
}

// handleSynchronizationRequest answers a catch-up request. Per the
// synchronization protocol, enumeration starts one block earlier than the
// requester's reported height, but only includes that earlier block when
// its hash disagrees with what the requester claims to hold -- a chain
// split the requester otherwise has no way to detect from the response
// alone. When the hashes agree, enumeration starts exactly at the
// requester's height as a plain catch-up.
func (e *Engine) handleSynchronizationRequest(msg ConsensusMessage) (ConsensusResponse, error) {
	resp := ConsensusResponse{Kind: KindSynchronizationResponse}
	start := msg.SyncBlockNumber
	if start > 0 {
		prev, err := e.Follower.blocks.Read(start - 1)
		switch {
		case errors.Is(err, blockstorage.ErrNotFound):
			// Nothing earlier on our own log either; fall through to the
			// requested height unchanged.
		case err != nil:
			return ConsensusResponse{}, err
		default:
			prevHash, err := prev.Hash()
			if err != nil {
				return ConsensusResponse{}, err
			}
			if prevHash != msg.SyncBlockHash {
				start--
			}
		}
	}
	err := e.Follower.blocks.RangeFrom(start, func(block consensus.Block) bool {
		resp.Blocks = append(resp.Blocks, block)
		return true
	})
	if err != nil {
		return ConsensusResponse{}, err
	}
	return resp, nil
}

// Start launches the engine's long-lived goroutines: the leader's propose
// loop, the censorship checker, the periodic synchronizer and the
// NewView-timeout checker. The follower and view-change collaborators are
// otherwise purely reactive and need no loop of their own.
func (e *Engine) Start() {
	go e.Leader.Run(e.stop)
	go e.Censorship.Run(e.stop)
	go e.periodicallySynchronize()
	go e.checkNewViewTimeouts()
	log.Info("praftbft engine started", "self", e.Core.Self(), "peers", e.Core.PeerCount())
}

// checkNewViewTimeouts periodically escalates any candidate leader term
// that reached a ViewChange supermajority without this replica ever
// receiving the corresponding NewView. Without this, a replica that
// observes the quorum but isn't itself the new leader has no way to notice
// that the elected leader died or was partitioned right after election,
// and the cluster would stall in that term forever.
func (e *Engine) checkNewViewTimeouts() {
	ticker := time.NewTicker(NewViewTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.ViewChange.CheckTimeouts()
		}
	}
}

// periodicallySynchronize keeps a lagging replica converging on the
// majority chain even when it never received the relevant Commit.
func (e *Engine) periodicallySynchronize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if err := e.Synchronizer.Synchronize(); err != nil {
				log.Debug("synchronization round failed", "err", err)
			}
		}
	}
}

// Stop terminates every long-lived goroutine started by Start.
func (e *Engine) Stop() {
	close(e.stop)
}
