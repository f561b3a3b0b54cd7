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

// Package worldstate holds the replicated, copy-on-write account state the
// consensus engine applies committed blocks to.
package worldstate

import (
	"github.com/prellblock/prellblock/consensus"
	"github.com/prellblock/prellblock/crypto"
)

// Account holds the permissions and stored readings for a single peer.
// Accounts are looked up by PeerID both for RPUs (who submit KeyValue
// transactions about themselves) and for human administrators (who only
// ever submit account-management transactions).
type Account struct {
	IsRPU         bool
	IsAdmin       bool
	WritingRights bool
	ReadingRights []consensus.ReadingPermission
	Data          map[string][]byte
}

// NewAccount returns an empty account with the given permission set.
func NewAccount(params consensus.AccountParams) Account {
	return Account{
		IsRPU:         params.IsRPU,
		IsAdmin:       params.IsAdmin,
		WritingRights: params.WritingRights,
		ReadingRights: append([]consensus.ReadingPermission(nil), params.ReadingRights...),
		Data:          make(map[string][]byte),
	}
}

// Clone returns a deep copy of the account, used whenever the world state
// hands out a cheap clone of its full map.
func (a Account) Clone() Account {
	data := make(map[string][]byte, len(a.Data))
	for k, v := range a.Data {
		cp := make([]byte, len(v))
		copy(cp, v)
		data[k] = cp
	}
	return Account{
		IsRPU:         a.IsRPU,
		IsAdmin:       a.IsAdmin,
		WritingRights: a.WritingRights,
		ReadingRights: append([]consensus.ReadingPermission(nil), a.ReadingRights...),
		Data:          data,
	}
}

// CanRead reports whether reader may read key from this account's namespace.
func (a Account) CanRead(reader crypto.PeerID, key string) bool {
	for _, perm := range a.ReadingRights {
		if perm.Peer != reader {
			continue
		}
		switch perm.Right {
		case consensus.ReadingRightNamespace:
			return true
		case consensus.ReadingRightKey:
			if perm.Key == key {
				return true
			}
		}
	}
	return false
}
