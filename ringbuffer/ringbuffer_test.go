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

package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func zeroInt() int { return 0 }

func TestRingBufferGetMutCreatesAndPersists(t *testing.T) {
	rb := New[uint64, int](4, 0, zeroInt)

	slot, err := rb.GetMut(0)
	require.NoError(t, err)
	*slot = 42

	got, err := rb.Get(0)
	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestRingBufferGetBelowWindowUnderflows(t *testing.T) {
	rb := New[uint64, int](4, 10, zeroInt)

	_, err := rb.Get(5)
	require.Error(t, err)
	require.True(t, IsUnderflow[uint64](err))
	require.False(t, IsOverflow[uint64](err))
}

func TestRingBufferGetAboveWindowOverflows(t *testing.T) {
	rb := New[uint64, int](4, 0, zeroInt)

	_, err := rb.Get(10)
	require.Error(t, err)
	require.True(t, IsOverflow[uint64](err))
}

func TestRingBufferGetMutBelowWindowFails(t *testing.T) {
	rb := New[uint64, int](4, 10, zeroInt)

	_, err := rb.GetMut(5)
	require.Error(t, err)
	require.True(t, IsUnderflow[uint64](err))
}

func TestRingBufferGetMutAdvancesWindowAndEvictsOldSlots(t *testing.T) {
	rb := New[uint64, int](4, 0, zeroInt)

	slot0, err := rb.GetMut(0)
	require.NoError(t, err)
	*slot0 = 100

	// Advancing past the capacity evicts key 0.
	slot4, err := rb.GetMut(4)
	require.NoError(t, err)
	*slot4 = 200

	require.Equal(t, uint64(1), rb.Low())

	_, err = rb.Get(0)
	require.Error(t, err)
	require.True(t, IsUnderflow[uint64](err))

	got, err := rb.Get(4)
	require.NoError(t, err)
	require.Equal(t, 200, got)
}

func TestRingBufferGetMutAdvanceBeyondCapacityClearsEverySlot(t *testing.T) {
	rb := New[uint64, int](4, 0, zeroInt)
	slot0, err := rb.GetMut(0)
	require.NoError(t, err)
	*slot0 = 7

	_, err = rb.GetMut(100)
	require.NoError(t, err)
	require.Equal(t, uint64(97), rb.Low())

	_, err = rb.Get(0)
	require.Error(t, err)
}
