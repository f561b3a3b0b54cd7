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

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/prellblock/prellblock/consensus"
	"github.com/prellblock/prellblock/crypto"
)

// SignedTransaction is a client transaction together with its submitter's
// signature, the unit the pending queue and block bodies carry.
type SignedTransaction = crypto.Signed[consensus.Transaction]

// encodeSignedTransaction RLP-encodes a SignedTransaction for storage in a
// block body or on the wire.
func encodeSignedTransaction(tx SignedTransaction) ([]byte, error) {
	return rlp.EncodeToBytes(tx)
}

// decodeSignedTransaction decodes and signature-verifies a transaction
// previously encoded with encodeSignedTransaction, returning its signer and
// payload.
func decodeSignedTransaction(encoded []byte) (crypto.PeerID, consensus.Transaction, error) {
	var signed SignedTransaction
	if err := rlp.DecodeBytes(encoded, &signed); err != nil {
		return crypto.PeerID{}, consensus.Transaction{}, fmt.Errorf("praftbft: decode transaction: %w", err)
	}
	if err := signed.Verify(); err != nil {
		return crypto.PeerID{}, consensus.Transaction{}, err
	}
	return signed.Signer, signed.Value, nil
}
