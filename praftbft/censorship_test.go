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

	"github.com/prellblock/prellblock/consensus"
	"github.com/prellblock/prellblock/crypto"
	"github.com/stretchr/testify/require"
)

// TestCensorshipCheckerIgnoresEmptyQueue covers the no-op path: an empty
// pending queue gives the checker nothing to be suspicious about.
func TestCensorshipCheckerIgnoresEmptyQueue(t *testing.T) {
	cluster := newTestCluster(t, 4)
	followerIdx := (cluster.leaderIndex(0) + 1) % 4
	engine := cluster.engines[followerIdx]

	checker := NewCensorshipChecker(engine.Core, engine.Follower, engine.ViewChange, engine.Pending)
	checker.checkOnce() // must not panic or request a view change
	require.Equal(t, consensus.LeaderTerm(0), engine.Follower.LeaderTerm())
}

// TestCensorshipCheckerIgnoresFreshEntry covers the not-yet-stale path: a
// transaction inserted moments ago should not trigger a view change.
func TestCensorshipCheckerIgnoresFreshEntry(t *testing.T) {
	cluster := newTestCluster(t, 4)
	followerIdx := (cluster.leaderIndex(0) + 1) % 4
	engine := cluster.engines[followerIdx]

	identity, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	tx := consensus.NewKeyValue(identity.PeerID(), "t", nil)
	signed, err := crypto.SignObject[consensus.Transaction](identity, tx)
	require.NoError(t, err)
	engine.Pending.Insert(signed)

	checker := NewCensorshipChecker(engine.Core, engine.Follower, engine.ViewChange, engine.Pending)
	checker.checkOnce()
	require.Equal(t, consensus.LeaderTerm(0), engine.Follower.LeaderTerm())
}

// TestCensorshipCheckerSelfAsLeaderNeverAccusesItself covers the guard: a
// replica that is its own current leader never requests a view change
// against itself over a stale queue head.
func TestCensorshipCheckerSelfAsLeaderNeverAccusesItself(t *testing.T) {
	cluster := newTestCluster(t, 4)
	leaderEngine := cluster.engines[cluster.leaderIndex(0)]

	checker := NewCensorshipChecker(leaderEngine.Core, leaderEngine.Follower, leaderEngine.ViewChange, leaderEngine.Pending)
	require.Equal(t, leaderEngine.Core.Self(), leaderEngine.Core.Leader(uint64(leaderEngine.Follower.LeaderTerm())))
	checker.checkOnce()
	require.Equal(t, consensus.LeaderTerm(0), leaderEngine.Follower.LeaderTerm())
}
