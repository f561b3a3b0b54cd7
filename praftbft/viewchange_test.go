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
	"testing"
	"time"

	"github.com/prellblock/prellblock/consensus"
	"github.com/stretchr/testify/require"
)

// TestRequestViewChangeRecordsOwnVote covers the local half of the
// protocol: requesting a view change records this replica's own vote
// before broadcasting.
func TestRequestViewChangeRecordsOwnVote(t *testing.T) {
	cluster := newTestCluster(t, 4)
	engine := cluster.engines[0]

	require.NoError(t, engine.ViewChange.RequestViewChange(1))
	sigs, err := engine.ViewChange.recordVote(1, cluster.peers[0], cluster.identities[0].Sign([]byte("x")))
	require.NoError(t, err)
	require.Len(t, sigs, 1, "recording the same voter again must not duplicate the vote")
}

// TestHandleViewChangeEscalatesOnNonfaultyQuorum covers the f+1
// amplification rule: once NonfaultyCount distinct replicas have voted for
// newTerm, a replica that hadn't independently voted yet records its own
// vote too, without erroring or panicking, before the full supermajority
// has even been reached.
func TestHandleViewChangeEscalatesOnNonfaultyQuorum(t *testing.T) {
	cluster := newTestCluster(t, 4)
	selfIdx := 3
	self := cluster.engines[selfIdx]
	need := self.Core.NonfaultyCount()
	require.Equal(t, 2, need, "four-node cluster tolerates one fault")

	msg := ConsensusMessage{Kind: KindViewChange, NewLeaderTerm: 1}
	payload, err := msg.SignableBytes()
	require.NoError(t, err)

	for i := 0; i < need; i++ {
		sig := cluster.identities[i].Sign(payload)
		_, err := self.ViewChange.HandleViewChange(cluster.peers[i], msg, sig)
		require.NoError(t, err)
	}

	sigs, err := self.ViewChange.recordVote(1, cluster.peers[0], cluster.identities[0].Sign(payload))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(sigs), need, "self's own vote must have been recorded once the nonfaulty threshold escalated")
	selfVoted := false
	for _, sig := range sigs {
		if sig.Signer == self.Core.Self() {
			selfVoted = true
		}
	}
	require.True(t, selfVoted)
}

// TestBroadcastNewViewAdvancesLeaderTerm covers the terminal step of a
// successful view change: once a supermajority of ViewChange votes for a
// term whose leader is this replica, the replica broadcasts NewView and
// adopts the new term locally.
func TestBroadcastNewViewAdvancesLeaderTerm(t *testing.T) {
	cluster := newTestCluster(t, 4)
	newLeaderIdx := cluster.leaderIndex(1)
	newLeader := cluster.engines[newLeaderIdx]

	msg := ConsensusMessage{Kind: KindViewChange, NewLeaderTerm: 1}
	payload, err := msg.SignableBytes()
	require.NoError(t, err)

	need := newLeader.Core.Supermajority()
	voted := 0
	for i := range cluster.peers {
		if i == newLeaderIdx || voted >= need {
			continue
		}
		sig := cluster.identities[i].Sign(payload)
		_, err := newLeader.ViewChange.HandleViewChange(cluster.peers[i], msg, sig)
		require.NoError(t, err)
		voted++
	}
	require.GreaterOrEqual(t, voted, need)

	require.Equal(t, consensus.LeaderTerm(1), newLeader.Follower.LeaderTerm())
}

// TestHandleNewViewRejectsStaleTerm covers the guard against regressing to
// an already-superseded leader term.
func TestHandleNewViewRejectsStaleTerm(t *testing.T) {
	cluster := newTestCluster(t, 4)
	engine := cluster.engines[0]
	engine.Follower.SetLeaderTerm(5)

	msg := ConsensusMessage{Kind: KindNewView, NewLeaderTerm: 2}
	vote := ConsensusMessage{Kind: KindViewChange, NewLeaderTerm: 2}
	payload, err := vote.SignableBytes()
	require.NoError(t, err)
	msg.ViewChangeSignatures = cluster.quorumSign(t, payload)

	_, err = engine.ViewChange.HandleNewView(msg)
	var tooSmall *LeaderTermTooSmallError
	require.ErrorAs(t, err, &tooSmall)
}

// TestHandleNewViewRejectsInsufficientSignatures covers the quorum check:
// HandleNewView must not adopt a term backed by fewer than a supermajority
// of valid ViewChange signatures.
func TestHandleNewViewRejectsInsufficientSignatures(t *testing.T) {
	cluster := newTestCluster(t, 4)
	engine := cluster.engines[0]

	vote := ConsensusMessage{Kind: KindViewChange, NewLeaderTerm: 1}
	payload, err := vote.SignableBytes()
	require.NoError(t, err)

	msg := ConsensusMessage{
		Kind:          KindNewView,
		NewLeaderTerm: 1,
		ViewChangeSignatures: consensus.SignatureList{
			{Signer: cluster.peers[1], Signature: cluster.identities[1].Sign(payload)},
		},
	}
	_, err = engine.ViewChange.HandleNewView(msg)
	require.Error(t, err)
	require.Equal(t, consensus.LeaderTerm(0), engine.Follower.LeaderTerm())
}

// TestCheckTimeoutsEscalatesAfterElectedLeaderNeverBroadcastsNewView covers
// the deadlock scenario of §4.6(3)/§5: a replica that isn't itself the
// newly elected leader observes a ViewChange supermajority for a term, but
// the elected leader dies before ever broadcasting NewView. Once
// NewViewTimeout has elapsed, CheckTimeouts must escalate to term+1 on its
// own rather than waiting forever.
func TestCheckTimeoutsEscalatesAfterElectedLeaderNeverBroadcastsNewView(t *testing.T) {
	cluster := newTestCluster(t, 4)
	leaderIdx := cluster.leaderIndex(1)
	selfIdx := 0
	for selfIdx == leaderIdx {
		selfIdx++
	}
	self := cluster.engines[selfIdx]

	msg := ConsensusMessage{Kind: KindViewChange, NewLeaderTerm: 1}
	payload, err := msg.SignableBytes()
	require.NoError(t, err)

	need := self.Core.Supermajority()
	voted := 0
	for i := range cluster.peers {
		if i == selfIdx || voted >= need {
			continue
		}
		sig := cluster.identities[i].Sign(payload)
		_, err := self.ViewChange.HandleViewChange(cluster.peers[i], msg, sig)
		require.NoError(t, err)
		voted++
	}
	require.GreaterOrEqual(t, voted, need)
	require.Equal(t, consensus.LeaderTerm(0), self.Follower.LeaderTerm(),
		"NewView never arrived, so self must still be on the old term")

	self.ViewChange.mu.Lock()
	_, armed := self.ViewChange.deadline[1]
	self.ViewChange.deadline[1] = time.Now().Add(-time.Millisecond) // force expiry without sleeping
	self.ViewChange.mu.Unlock()
	require.True(t, armed, "observing the supermajority must have armed a NewView deadline")

	before, err := self.ViewChange.votes.Get(2)
	require.NoError(t, err)
	require.NotContains(t, before.votes, self.Core.Self())

	self.ViewChange.CheckTimeouts()

	after, err := self.ViewChange.votes.Get(2)
	require.NoError(t, err)
	require.Contains(t, after.votes, self.Core.Self(), "timeout must have escalated to a view-change vote for term+1")

	self.ViewChange.mu.Lock()
	_, stillArmed := self.ViewChange.deadline[1]
	self.ViewChange.mu.Unlock()
	require.False(t, stillArmed, "an expired deadline must be cleared once escalated")
}

// TestCheckTimeoutsIgnoresUnexpiredDeadline covers the non-escalation path:
// a NewView deadline that hasn't elapsed yet must not trigger an escalation.
func TestCheckTimeoutsIgnoresUnexpiredDeadline(t *testing.T) {
	cluster := newTestCluster(t, 4)
	leaderIdx := cluster.leaderIndex(1)
	selfIdx := 0
	for selfIdx == leaderIdx {
		selfIdx++
	}
	self := cluster.engines[selfIdx]

	self.ViewChange.armNewViewTimeout(1)
	self.ViewChange.CheckTimeouts()

	_, err := self.ViewChange.votes.Get(2)
	require.NoError(t, err)
	after, err := self.ViewChange.votes.Get(2)
	require.NoError(t, err)
	require.NotContains(t, after.votes, self.Core.Self(), "an unexpired deadline must not escalate yet")

	self.ViewChange.mu.Lock()
	_, stillArmed := self.ViewChange.deadline[1]
	self.ViewChange.mu.Unlock()
	require.True(t, stillArmed, "an unexpired deadline must remain armed")
}
