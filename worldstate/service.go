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

	"github.com/ethereum/go-ethereum/log"
	"github.com/prellblock/prellblock/consensus"
	"github.com/prellblock/prellblock/crypto"
)

// PeerAddress is a known member of the consensus group: its identity and
// the network address the transport layer dials to reach it.
type PeerAddress struct {
	PeerID  crypto.PeerID
	Address string
}

// State is a snapshot of the replicated world: the height and hash of the
// last applied block, the current committee and every account.
type State struct {
	BlockNumber   consensus.BlockNumber
	LastBlockHash consensus.BlockHash
	Peers         []PeerAddress
	Accounts      map[crypto.PeerID]Account
}

// Clone returns a deep, independent copy of the state.
func (s State) Clone() State {
	accounts := make(map[crypto.PeerID]Account, len(s.Accounts))
	for id, acc := range s.Accounts {
		accounts[id] = acc.Clone()
	}
	return State{
		BlockNumber:   s.BlockNumber,
		LastBlockHash: s.LastBlockHash,
		Peers:         append([]PeerAddress(nil), s.Peers...),
		Accounts:      accounts,
	}
}

// Service is the single owner of the replicated world state. Reads
// ("cheap clones") never block on each other; every mutation is funneled
// through a single-permit semaphore so that at most one writer ever
// constructs the next State.
type Service struct {
	mu     sync.RWMutex
	state  State
	permit chan struct{}
}

// NewService creates a Service seeded with the genesis state.
func NewService(initial State) *Service {
	s := &Service{
		state:  initial,
		permit: make(chan struct{}, 1),
	}
	s.permit <- struct{}{}
	return s
}

// Get returns a cheap clone of the current state, safe to read and mutate
// independently of concurrent writers.
func (s *Service) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// BlockNumber returns the height of the last applied block without cloning
// the whole account map.
func (s *Service) BlockNumber() consensus.BlockNumber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.BlockNumber
}

// Writable is a handle to the single write permit. Only one goroutine can
// hold one at a time; Save installs the new state and releases the permit.
type Writable struct {
	service *Service
	next    State
}

// GetWritable acquires the write permit and returns a handle seeded with a
// clone of the current state for the caller to mutate and later Save.
// It blocks until any concurrent writer releases the permit.
func (s *Service) GetWritable() *Writable {
	<-s.permit
	return &Writable{service: s, next: s.Get()}
}

// State returns the mutable clone owned by this handle.
func (w *Writable) State() *State {
	return &w.next
}

// Save installs w's state as the service's current state and releases the
// write permit.
func (w *Writable) Save() {
	w.service.mu.Lock()
	w.service.state = w.next
	w.service.mu.Unlock()
	w.service.permit <- struct{}{}
	log.Debug("world state updated", "block", w.next.BlockNumber)
}

// Discard releases the write permit without installing any changes, used
// when a tentative write turns out to be invalid.
func (w *Writable) Discard() {
	w.service.permit <- struct{}{}
}
