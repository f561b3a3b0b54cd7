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

// Package txchecker verifies that a transaction's signer has permission to
// perform the operation it carries, and applies it to a tentative copy of
// the world state.
package txchecker

import (
	"fmt"

	"github.com/prellblock/prellblock/consensus"
	"github.com/prellblock/prellblock/crypto"
	"github.com/prellblock/prellblock/worldstate"
)

// PermissionError reports why a transaction was rejected. It is a typed
// error so callers can switch on Reason without parsing strings.
type PermissionError struct {
	Reason string
	Peer   crypto.PeerID
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("txchecker: %s (peer %s)", e.Reason, e.Peer)
}

func permErr(reason string, peer crypto.PeerID) error {
	return &PermissionError{Reason: reason, Peer: peer}
}

// Checker verifies signatures and permissions against a worldstate.Service.
type Checker struct {
	world *worldstate.Service
}

// New creates a Checker backed by world.
func New(world *worldstate.Service) *Checker {
	return &Checker{world: world}
}

// WorldState returns the Service this Checker validates against.
func (c *Checker) WorldState() *worldstate.Service { return c.world }

// VerifyIsRPU reports whether signer is a registered RPU in the current
// world state.
func (c *Checker) VerifyIsRPU(signer crypto.PeerID) error {
	state := c.world.Get()
	account, ok := state.Accounts[signer]
	if !ok || !account.IsRPU {
		return permErr("signer is not a registered RPU", signer)
	}
	return nil
}

// Check is a stateful, tentative application of a batch of transactions
// against a private copy of the world state, letting the leader (or a
// follower replaying the leader's invalid list) partition a batch into
// valid and invalid transactions without mutating the shared state.
type Check struct {
	state *worldstate.State
}

// NewCheck snapshots the current world state for tentative application.
func (c *Checker) NewCheck() *Check {
	state := c.world.Get()
	return &Check{state: &state}
}

// NewCheckFromState wraps an already-held state (e.g. a Writable's
// in-flight state during block application) as a Check, so the same
// permission logic applies committed blocks as validates proposed ones.
func (c *Checker) NewCheckFromState(state *worldstate.State) *Check {
	return &Check{state: state}
}

// VerifyPermissionsAndApply checks whether tx is permitted given everything
// applied so far in this Check, and if so applies it in place. It returns a
// *PermissionError when the transaction must be rejected.
func (chk *Check) VerifyPermissionsAndApply(signer crypto.PeerID, tx consensus.Transaction) error {
	switch tx.Kind {
	case consensus.KindKeyValue:
		account, ok := chk.state.Accounts[signer]
		if !ok || !account.IsRPU {
			return permErr("signer is not a registered RPU", signer)
		}
		if !account.WritingRights {
			return permErr("account has no writing rights", signer)
		}
		account.Data[tx.Key] = tx.Value
		chk.state.Accounts[signer] = account
		return nil

	case consensus.KindUpdateAccount:
		admin, ok := chk.state.Accounts[signer]
		if !ok || !admin.IsAdmin {
			return permErr("signer is not an admin", signer)
		}
		target, ok := chk.state.Accounts[tx.Target]
		if !ok {
			return permErr("update target does not exist", tx.Target)
		}
		target.IsRPU = tx.IsRPU
		target.IsAdmin = tx.IsAdmin
		target.WritingRights = tx.WritingRights
		target.ReadingRights = tx.ReadingRights
		chk.state.Accounts[tx.Target] = target
		return nil

	case consensus.KindCreateAccount:
		admin, ok := chk.state.Accounts[signer]
		if !ok || !admin.IsAdmin {
			return permErr("signer is not an admin", signer)
		}
		if _, exists := chk.state.Accounts[tx.Target]; exists {
			return permErr("account already exists", tx.Target)
		}
		chk.state.Accounts[tx.Target] = worldstate.NewAccount(tx.Account)
		return nil

	case consensus.KindDeleteAccount:
		admin, ok := chk.state.Accounts[signer]
		if !ok || !admin.IsAdmin {
			return permErr("signer is not an admin", signer)
		}
		if _, exists := chk.state.Accounts[tx.Target]; !exists {
			return permErr("delete target does not exist", tx.Target)
		}
		delete(chk.state.Accounts, tx.Target)
		return nil

	default:
		return fmt.Errorf("txchecker: unknown transaction kind %d", tx.Kind)
	}
}

// State returns the tentative state accumulated by this Check.
func (chk *Check) State() *worldstate.State { return chk.state }
