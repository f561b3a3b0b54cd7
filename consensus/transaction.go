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

package consensus

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/prellblock/prellblock/crypto"
)

// TransactionKind discriminates the Transaction tagged union. RLP has no
// native support for encoding interface values, so every client operation
// is carried as one Transaction struct with only the fields for its Kind
// populated -- the same tagged-union shape as praftbft's ConsensusMessage.
type TransactionKind uint8

const (
	// KindKeyValue writes a single timeseries reading.
	KindKeyValue TransactionKind = iota
	// KindUpdateAccount changes an existing account's permissions.
	KindUpdateAccount
	// KindCreateAccount introduces a new account.
	KindCreateAccount
	// KindDeleteAccount removes an account.
	KindDeleteAccount
)

// Transaction is a client-submitted operation awaiting consensus.
type Transaction struct {
	Kind TransactionKind

	// KeyValue
	Peer  crypto.PeerID
	Key   string
	Value []byte

	// UpdateAccount / CreateAccount / DeleteAccount
	Target  crypto.PeerID
	Account AccountParams // CreateAccount only

	// UpdateAccount only; CreateAccount uses Account above instead.
	IsRPU         bool
	IsAdmin       bool
	WritingRights bool
	ReadingRights []ReadingPermission
}

// AccountParams is the initial permission set for a newly created account.
type AccountParams struct {
	IsRPU         bool
	IsAdmin       bool
	WritingRights bool
	ReadingRights []ReadingPermission
}

// TargetPeer returns the RPU the transaction writes data for or the
// account it manages; String uses it to label the transaction.
func (tx Transaction) TargetPeer() crypto.PeerID {
	if tx.Kind == KindKeyValue {
		return tx.Peer
	}
	return tx.Target
}

// SignableBytes implements crypto.Signable.
func (tx Transaction) SignableBytes() ([]byte, error) { return rlp.EncodeToBytes(tx) }

// NewKeyValue builds a KeyValue transaction.
func NewKeyValue(peer crypto.PeerID, key string, value []byte) Transaction {
	return Transaction{Kind: KindKeyValue, Peer: peer, Key: key, Value: value}
}

// NewUpdateAccount builds an UpdateAccount transaction.
func NewUpdateAccount(target crypto.PeerID, isRPU, isAdmin, writingRights bool, readingRights []ReadingPermission) Transaction {
	return Transaction{
		Kind: KindUpdateAccount, Target: target,
		IsRPU: isRPU, IsAdmin: isAdmin, WritingRights: writingRights, ReadingRights: readingRights,
	}
}

// NewCreateAccount builds a CreateAccount transaction.
func NewCreateAccount(target crypto.PeerID, params AccountParams) Transaction {
	return Transaction{Kind: KindCreateAccount, Target: target, Account: params}
}

// NewDeleteAccount builds a DeleteAccount transaction.
func NewDeleteAccount(target crypto.PeerID) Transaction {
	return Transaction{Kind: KindDeleteAccount, Target: target}
}

func (tx Transaction) String() string {
	return fmt.Sprintf("Transaction{kind=%d, target=%s}", tx.Kind, tx.TargetPeer())
}

// ReadingRight scopes a reading permission to a single key or a whole
// account's namespace.
type ReadingRight int

const (
	// ReadingRightKey grants access to a single key.
	ReadingRightKey ReadingRight = iota
	// ReadingRightNamespace grants access to every key in the namespace.
	ReadingRightNamespace
)

// ReadingPermission is a single granted reading right.
type ReadingPermission struct {
	Right ReadingRight
	Peer  crypto.PeerID
	Key   string
}
