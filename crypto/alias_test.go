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

package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAliasRegistryLookupFallsBackToHex(t *testing.T) {
	reg := NewAliasRegistry(2)
	id, err := GenerateIdentity()
	require.NoError(t, err)

	require.Equal(t, id.PeerID().String(), reg.Lookup(id.PeerID()))

	reg.Set(id.PeerID(), "rpu-1")
	require.Equal(t, "rpu-1", reg.Lookup(id.PeerID()))
}

func TestAliasRegistryEvictsOldestBeyondCapacity(t *testing.T) {
	reg := NewAliasRegistry(1)
	a, err := GenerateIdentity()
	require.NoError(t, err)
	b, err := GenerateIdentity()
	require.NoError(t, err)

	reg.Set(a.PeerID(), "a")
	reg.Set(b.PeerID(), "b")

	require.Equal(t, a.PeerID().String(), reg.Lookup(a.PeerID()))
	require.Equal(t, "b", reg.Lookup(b.PeerID()))
}
