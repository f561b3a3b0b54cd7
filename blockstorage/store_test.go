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

package blockstorage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prellblock/prellblock/consensus"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "blocks"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func testBlock(number consensus.BlockNumber) consensus.Block {
	body := consensus.NewBody(number, consensus.BlockHash{}, time.Now(), [][]byte{[]byte("tx")})
	return consensus.Block{Body: body}
}

func TestStoreWriteReadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	block := testBlock(1)

	require.NoError(t, store.WriteBlock(block))

	got, err := store.Read(1)
	require.NoError(t, err)
	require.Equal(t, block.Body.BlockNumber, got.Body.BlockNumber)
	require.Equal(t, block.Body.Transactions, got.Body.Transactions)
}

func TestStoreReadMissingReturnsErrNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Read(42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreLastReturnsHighestBlock(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.WriteBlock(testBlock(1)))
	require.NoError(t, store.WriteBlock(testBlock(2)))
	require.NoError(t, store.WriteBlock(testBlock(3)))

	last, err := store.Last()
	require.NoError(t, err)
	require.Equal(t, consensus.BlockNumber(3), last.Body.BlockNumber)
}

func TestStoreLastOnEmptyStoreReturnsErrNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Last()
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreRangeFromVisitsInAscendingOrder(t *testing.T) {
	store := openTestStore(t)
	for _, n := range []consensus.BlockNumber{1, 2, 3, 4} {
		require.NoError(t, store.WriteBlock(testBlock(n)))
	}

	var seen []consensus.BlockNumber
	err := store.RangeFrom(2, func(b consensus.Block) bool {
		seen = append(seen, b.Body.BlockNumber)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []consensus.BlockNumber{2, 3, 4}, seen)
}

func TestStoreRangeFromStopsWhenVisitReturnsFalse(t *testing.T) {
	store := openTestStore(t)
	for _, n := range []consensus.BlockNumber{1, 2, 3} {
		require.NoError(t, store.WriteBlock(testBlock(n)))
	}

	var seen []consensus.BlockNumber
	err := store.RangeFrom(1, func(b consensus.Block) bool {
		seen = append(seen, b.Body.BlockNumber)
		return len(seen) < 2
	})
	require.NoError(t, err)
	require.Equal(t, []consensus.BlockNumber{1, 2}, seen)
}

func TestStorePopLastRemovesAndReturnsTopBlock(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.WriteBlock(testBlock(1)))
	require.NoError(t, store.WriteBlock(testBlock(2)))

	popped, err := store.PopLast()
	require.NoError(t, err)
	require.Equal(t, consensus.BlockNumber(2), popped.Body.BlockNumber)

	last, err := store.Last()
	require.NoError(t, err)
	require.Equal(t, consensus.BlockNumber(1), last.Body.BlockNumber)
}
