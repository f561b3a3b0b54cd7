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
	"time"

	"github.com/prellblock/prellblock/crypto"
)

// Body is the committed payload of a block: its height, the hash of its
// predecessor, the valid signed transactions it contains and the timestamp
// the leader proposed it at. Hashing operates on the RLP encoding of Body,
// never on Block as a whole; the signatures in Block are over the round's
// AckAppend response, whose metadata carries that hash.
type Body struct {
	BlockNumber  BlockNumber
	PrevBlockHash BlockHash
	Timestamp    uint64 // unix nanos; RLP has no native time type
	Transactions [][]byte // RLP-encoded Signed[Transaction] values
}

// NewBody builds a Body, capturing the timestamp at proposal time.
func NewBody(number BlockNumber, prev BlockHash, at time.Time, transactions [][]byte) Body {
	return Body{
		BlockNumber:   number,
		PrevBlockHash: prev,
		Timestamp:     uint64(at.UnixNano()),
		Transactions:  transactions,
	}
}

// Block is a Body together with the 2f+1 AckAppend signatures that
// committed it.
type Block struct {
	Body       Body
	Signatures SignatureList
}

// Hash returns the BlockHash of the block's Body.
func (b Block) Hash() (BlockHash, error) {
	return HashBody(b.Body)
}

// SignatureList is the set of RPU signatures attesting to a block or a
// view-change. Implementations of the consensus core must verify IsUnique
// before accepting a SignatureList as a quorum.
type SignatureList []struct {
	Signer    crypto.PeerID
	Signature crypto.Signature
}

// IsUnique reports whether every signer in the list appears at most once.
func (l SignatureList) IsUnique() bool {
	seen := make(map[crypto.PeerID]struct{}, len(l))
	for _, entry := range l {
		if _, ok := seen[entry.Signer]; ok {
			return false
		}
		seen[entry.Signer] = struct{}{}
	}
	return true
}

// Len returns the number of signatures in the list.
func (l SignatureList) Len() int { return len(l) }

func (b Body) String() string {
	return fmt.Sprintf("Body{number=%s, prev=%s, txs=%d}", b.BlockNumber, b.PrevBlockHash, len(b.Transactions))
}
