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

package worldstate

import (
	"sync"
	"testing"

	"github.com/prellblock/prellblock/consensus"
	"github.com/prellblock/prellblock/crypto"
	"github.com/stretchr/testify/require"
)

func newTestIdentity(t *testing.T) crypto.PeerID {
	t.Helper()
	id, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	return id.PeerID()
}

func TestServiceGetReturnsIndependentClone(t *testing.T) {
	peer := newTestIdentity(t)
	svc := NewService(State{Accounts: map[crypto.PeerID]Account{
		peer: NewAccount(consensus.AccountParams{IsRPU: true}),
	}})

	snapshot := svc.Get()
	acc := snapshot.Accounts[peer]
	acc.IsRPU = false
	snapshot.Accounts[peer] = acc

	stillRPU := svc.Get().Accounts[peer]
	require.True(t, stillRPU.IsRPU, "mutating a Get() snapshot must not affect the service")
}

func TestServiceWritableSaveInstallsNewState(t *testing.T) {
	svc := NewService(State{BlockNumber: 0})

	writable := svc.GetWritable()
	writable.State().BlockNumber = 1
	writable.Save()

	require.Equal(t, consensus.BlockNumber(1), svc.BlockNumber())
}

func TestServiceWritableDiscardLeavesStateUnchanged(t *testing.T) {
	svc := NewService(State{BlockNumber: 0})

	writable := svc.GetWritable()
	writable.State().BlockNumber = 99
	writable.Discard()

	require.Equal(t, consensus.BlockNumber(0), svc.BlockNumber())
}

func TestServiceGetWritableSerializesConcurrentWriters(t *testing.T) {
	svc := NewService(State{BlockNumber: 0})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := svc.GetWritable()
			w.State().BlockNumber++
			w.Save()
		}()
	}
	wg.Wait()

	require.Equal(t, consensus.BlockNumber(10), svc.BlockNumber())
}
