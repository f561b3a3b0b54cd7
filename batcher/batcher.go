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

// Package batcher groups client transactions submitted to this RPU into
// size- or time-bounded batches before fanning them out to every other RPU,
// so the leader never has to fetch transactions one at a time.
package batcher

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/prellblock/prellblock/peer"
)

// MaxTransactionsPerBatch caps how many transactions a single broadcast
// batch may carry.
const MaxTransactionsPerBatch = 4000

// MaxTimeBetweenBatches is how long the batcher waits for the bucket to
// fill before flushing it anyway.
const MaxTimeBetweenBatches = 400 * time.Millisecond

// Batch is the wire message carrying a group of RLP-encoded signed
// transactions, broadcast verbatim to every RPU.
type Batch struct {
	Transactions [][]byte
}

// Sink receives a transaction decoded from an incoming Batch so the caller
// can verify and enqueue it -- typically praftbft.Engine.SubmitTransaction
// fed through a small adapter.
type Sink func(encoded []byte) error

// Batcher accumulates transactions and periodically broadcasts them.
type Batcher struct {
	sender peer.Sender
	notify chan struct{}

	mu     sync.Mutex
	bucket [][]byte
}

// New creates a Batcher that broadcasts over sender.
func New(sender peer.Sender) *Batcher {
	return &Batcher{sender: sender, notify: make(chan struct{}, 1)}
}

// Add appends an RLP-encoded signed transaction to the current batch,
// waking the flush loop immediately if the batch is now full.
func (b *Batcher) Add(encoded []byte) {
	b.mu.Lock()
	b.bucket = append(b.bucket, encoded)
	full := len(b.bucket) >= MaxTransactionsPerBatch
	b.mu.Unlock()

	if full {
		select {
		case b.notify <- struct{}{}:
		default:
		}
	}
}

// Run flushes the accumulated batch either when notified (bucket full) or
// every MaxTimeBetweenBatches, until stop is closed.
func (b *Batcher) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(MaxTimeBetweenBatches)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-b.notify:
			b.flush()
		case <-ticker.C:
			b.flush()
		}
	}
}

func (b *Batcher) flush() {
	b.mu.Lock()
	transactions := b.bucket
	b.bucket = nil
	b.mu.Unlock()

	if len(transactions) == 0 {
		return
	}
	log.Debug("flushing transaction batch", "count", len(transactions))

	batch := Batch{Transactions: transactions}
	encoded, err := rlp.EncodeToBytes(batch)
	if err != nil {
		log.Error("failed to encode batch", "err", err)
		return
	}
	acks := 0
	for r := range b.sender.Broadcast(encoded) {
		if r.Err == nil {
			acks++
		}
	}
	log.Debug("batch broadcast complete", "acks", acks)
}
