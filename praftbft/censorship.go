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
	"github.com/prellblock/prellblock/queue"
)

// CensorshipTimeout is how long a transaction may sit in the pending queue
// before this replica suspects the leader of censoring it.
const CensorshipTimeout = 10 * time.Second

// CensorshipCheckInterval is how often the pending queue is scanned.
const CensorshipCheckInterval = 2 * time.Second

// CensorshipChecker periodically scans the pending queue for transactions
// the leader should have proposed by now, and requests a view change when
// it finds one.
type CensorshipChecker struct {
	core     *Core
	follower *Follower
	vc       *ViewChange
	pending  *queue.Queue[SignedTransaction]
}

// NewCensorshipChecker constructs a CensorshipChecker sharing core,
// follower and vc with the rest of the engine.
func NewCensorshipChecker(core *Core, follower *Follower, vc *ViewChange, pending *queue.Queue[SignedTransaction]) *CensorshipChecker {
	return &CensorshipChecker{core: core, follower: follower, vc: vc, pending: pending}
}

// Run scans the pending queue every CensorshipCheckInterval until stop is
// closed.
func (c *CensorshipChecker) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(CensorshipCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.checkOnce()
		}
	}
}

func (c *CensorshipChecker) checkOnce() {
	entry, ok := c.pending.Peek()
	if !ok {
		return
	}
	if time.Since(entry.InsertedAt) < CensorshipTimeout {
		return
	}
	currentLeader := c.core.Leader(uint64(c.follower.LeaderTerm()))
	if currentLeader == c.core.Self() {
		// We are the leader; a stale queue head is our own fault to fix,
		// not grounds to accuse ourselves.
		return
	}
	log.Warn("suspected censorship, requesting view change", "leader", currentLeader, "age", time.Since(entry.InsertedAt))
	if err := c.vc.RequestViewChange(c.follower.LeaderTerm().Add(1)); err != nil {
		log.Warn("failed to request view change", "err", err)
	}
}
