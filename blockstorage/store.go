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

// Package blockstorage is the append-only, ordered, rollback-capable block
// log. Blocks are keyed by their big-endian BlockNumber so a goleveldb
// range scan visits them in height order.
package blockstorage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/prellblock/prellblock/consensus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned when a requested block number has no entry.
var ErrNotFound = errors.New("blockstorage: block not found")

// Store is a goleveldb-backed append-only block log.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if necessary) a Store at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("blockstorage: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// WriteBlock appends block at its BlockNumber. Writing a number that
// already exists overwrites it, which only ever happens during a
// synchronizer-driven rollback.
func (s *Store) WriteBlock(block consensus.Block) error {
	encoded, err := rlp.EncodeToBytes(block)
	if err != nil {
		return fmt.Errorf("blockstorage: encode block: %w", err)
	}
	key := block.Body.BlockNumber.Bytes()
	if err := s.db.Put(key, encoded, nil); err != nil {
		return fmt.Errorf("blockstorage: put: %w", err)
	}
	log.Debug("wrote block", "number", block.Body.BlockNumber)
	return nil
}

// Read returns the block stored at number.
func (s *Store) Read(number consensus.BlockNumber) (consensus.Block, error) {
	raw, err := s.db.Get(number.Bytes(), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return consensus.Block{}, ErrNotFound
	}
	if err != nil {
		return consensus.Block{}, fmt.Errorf("blockstorage: get: %w", err)
	}
	var block consensus.Block
	if err := rlp.DecodeBytes(raw, &block); err != nil {
		return consensus.Block{}, fmt.Errorf("blockstorage: decode: %w", err)
	}
	return block, nil
}

// Last returns the highest-numbered block, or ErrNotFound if the log is
// empty.
func (s *Store) Last() (consensus.Block, error) {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	if !iter.Last() {
		return consensus.Block{}, ErrNotFound
	}
	var block consensus.Block
	if err := rlp.DecodeBytes(iter.Value(), &block); err != nil {
		return consensus.Block{}, fmt.Errorf("blockstorage: decode: %w", err)
	}
	return block, nil
}

// RangeFrom iterates blocks with number >= from in ascending order, calling
// visit for each until it returns false or the log is exhausted.
func (s *Store) RangeFrom(from consensus.BlockNumber, visit func(consensus.Block) bool) error {
	iter := s.db.NewIterator(&util.Range{Start: from.Bytes()}, nil)
	defer iter.Release()
	for iter.Next() {
		var block consensus.Block
		if err := rlp.DecodeBytes(iter.Value(), &block); err != nil {
			return fmt.Errorf("blockstorage: decode: %w", err)
		}
		if !visit(block) {
			break
		}
	}
	return iter.Error()
}

// PopLast deletes and returns the highest-numbered block, used by the
// synchronizer when rolling back a diverged chain tail.
func (s *Store) PopLast() (consensus.Block, error) {
	block, err := s.Last()
	if err != nil {
		return consensus.Block{}, err
	}
	if err := s.db.Delete(block.Body.BlockNumber.Bytes(), nil); err != nil {
		return consensus.Block{}, fmt.Errorf("blockstorage: delete: %w", err)
	}
	log.Warn("rolled back block", "number", block.Body.BlockNumber)
	return block, nil
}
