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
	"crypto/ed25519"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prellblock/prellblock/consensus"
	"github.com/prellblock/prellblock/crypto"
	"github.com/prellblock/prellblock/peer"
)

// Core holds the identity, peer list and transport every collaborator
// (Follower, Leader, ViewChange, Synchronizer, CensorshipChecker) needs,
// plus the signature-quorum math shared by all of them.
type Core struct {
	identity crypto.Identity
	peers    []crypto.PeerID
	sender   peer.Sender
	aliases  *crypto.AliasRegistry
}

// NewCore builds a Core for identity, participating in a consensus group of
// peers (including identity.PeerID() itself), communicating over sender.
func NewCore(identity crypto.Identity, peers []crypto.PeerID, sender peer.Sender) *Core {
	return &Core{
		identity: identity,
		peers:    append([]crypto.PeerID(nil), peers...),
		sender:   sender,
		aliases:  crypto.NewAliasRegistry(len(peers)),
	}
}

// SetSender installs the transport used for outbound messages, letting a
// caller wire Core before the concrete Sender (which may itself depend on
// Core's own Dispatch as its inbound handler) is constructed.
func (c *Core) SetSender(sender peer.Sender) {
	c.sender = sender
}

// Self returns this replica's own PeerID.
func (c *Core) Self() crypto.PeerID { return c.identity.PeerID() }

// PeerCount returns n, the number of RPUs in the consensus group.
func (c *Core) PeerCount() int { return len(c.peers) }

// Supermajority returns the number of matching signatures required to reach
// quorum: 2*floor(n/3)+1.
func (c *Core) Supermajority() int {
	return 2*(len(c.peers)/3) + 1
}

// NonfaultyCount returns f+1, the minimum number of honest replicas that
// must agree for a censorship accusation to be credible:
// ceil((n-1)/3)+1.
func (c *Core) NonfaultyCount() int {
	n := len(c.peers)
	return (n-1+2)/3 + 1
}

// Leader returns the peer elected to lead leaderTerm, a deterministic
// round-robin over the (fixed, ordered) peer list.
func (c *Core) Leader(leaderTerm uint64) crypto.PeerID {
	return c.peers[int(leaderTerm)%len(c.peers)]
}

// IsPeer reports whether id is a member of the consensus group.
func (c *Core) IsPeer(id crypto.PeerID) bool {
	for _, p := range c.peers {
		if p == id {
			return true
		}
	}
	return false
}

// SignMessage signs v with this replica's identity.
func (c *Core) SignMessage(v ConsensusMessage) (SignedMessage, error) {
	return crypto.SignObject[ConsensusMessage](c.identity, v)
}

// SignResponse signs v with this replica's identity.
func (c *Core) SignResponse(v ConsensusResponse) (SignedResponse, error) {
	return crypto.SignObject[ConsensusResponse](c.identity, v)
}

// BroadcastUntilMajority sends message to every peer and collects
// responses until either a supermajority of peers responded without error
// or every peer has been heard from. It returns as soon as a supermajority
// of valid signed responses is collected, without waiting for the
// remaining peers to reply -- those stragglers keep running to completion
// in the background on the Sender's own goroutines, but their results are
// discarded. It returns the collected signed responses keyed by peer.
func (c *Core) BroadcastUntilMajority(message ConsensusMessage) (map[crypto.PeerID]SignedResponse, error) {
	signed, err := c.SignMessage(message)
	if err != nil {
		return nil, err
	}
	responses := make(map[crypto.PeerID]SignedResponse, c.Supermajority())
	for r := range c.sender.Broadcast(signed) {
		if r.Err != nil {
			continue
		}
		signed, ok := r.Value.(SignedResponse)
		if !ok {
			log.Warn("dropping malformed response", "peer", c.aliases.Lookup(r.Peer))
			continue
		}
		if err := signed.Verify(); err != nil {
			log.Warn("dropping response with invalid signature", "peer", c.aliases.Lookup(r.Peer))
			continue
		}
		responses[r.Peer] = signed
		if len(responses) >= c.Supermajority() {
			break
		}
	}
	// Every collected response carries its own verifiable signature, and
	// the list returned here becomes the quorum witness a later phase (or
	// a synchronizing replica with no other reason to trust us) re-checks
	// independently; it must itself hold a full supermajority of explicit
	// signatures rather than counting this replica's own participation,
	// which contributes no signature to the list at all.
	if len(responses) < c.Supermajority() {
		return responses, ErrCouldNotGetSupermajority
	}
	return responses, nil
}

// VerifyRPUMajoritySignatures checks that signatures is a unique,
// supermajority-sized set of valid signatures over payload from members of
// the consensus group.
func (c *Core) VerifyRPUMajoritySignatures(payload []byte, signatures consensus.SignatureList) error {
	if len(signatures) < c.Supermajority() {
		return ErrNotEnoughSignatures
	}
	if !signatures.IsUnique() {
		return ErrDuplicateSignatures
	}
	for _, sig := range signatures {
		if !c.IsPeer(sig.Signer) {
			return &InvalidPeerError{Peer: sig.Signer}
		}
		if !ed25519.Verify(sig.Signer.PublicKey(), payload, sig.Signature[:]) {
			return crypto.ErrInvalidSignature
		}
	}
	return nil
}
