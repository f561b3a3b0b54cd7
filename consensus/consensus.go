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

// Package consensus defines the scalar and composite types shared by every
// layer of the blockchain: leader terms, block numbers, block hashes and the
// signed block itself. It carries no behaviour beyond what these values need
// to serialize, hash and compare consistently.
package consensus

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/blake2b"
)

// LeaderTerm counts leader elections; it only ever increases.
type LeaderTerm uint64

// Add returns the term advanced by n. A wraparound can only happen after
// 2^64 view changes and is treated as an unrecoverable logic error.
func (t LeaderTerm) Add(n uint64) LeaderTerm {
	next := uint64(t) + n
	if next < uint64(t) {
		panic("consensus: LeaderTerm overflow")
	}
	return LeaderTerm(next)
}

func (t LeaderTerm) String() string { return fmt.Sprintf("%d", uint64(t)) }

// BlockNumber is the height of a block in the log, starting at zero.
type BlockNumber uint64

// Next returns the following block number.
func (n BlockNumber) Next() BlockNumber { return n + 1 }

// Bytes returns the big-endian encoding used as the block log's storage key,
// so lexicographic byte order matches numeric order.
func (n BlockNumber) Bytes() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

// BlockNumberFromBytes decodes a big-endian block number key.
func BlockNumberFromBytes(b []byte) BlockNumber {
	return BlockNumber(binary.BigEndian.Uint64(b))
}

func (n BlockNumber) String() string { return fmt.Sprintf("%d", uint64(n)) }

// BlockHash is the Blake2b-512 digest of a Body's RLP encoding.
type BlockHash [blake2b.Size]byte

func (h BlockHash) String() string { return fmt.Sprintf("%x", h[:8]) }

// IsZero reports whether h is the genesis predecessor hash.
func (h BlockHash) IsZero() bool { return h == BlockHash{} }

// HashBody computes the BlockHash of a Body by RLP-encoding it and taking
// its Blake2b-512 digest.
func HashBody(body Body) (BlockHash, error) {
	encoded, err := rlp.EncodeToBytes(body)
	if err != nil {
		return BlockHash{}, err
	}
	return blake2b.Sum512(encoded), nil
}
