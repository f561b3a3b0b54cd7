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

package peer

import (
	"fmt"
	"sync"

	"github.com/prellblock/prellblock/crypto"
)

// Handler processes an inbound message for a loopback peer and returns its
// response, or an error if the message could not be handled.
type Handler func(from crypto.PeerID, message interface{}) (interface{}, error)

// Fabric shares a single handler table across every participant in a test
// scenario, so a Broadcast issued from any one Loopback reaches every other
// one joined to the same Fabric.
type Fabric struct {
	mu       sync.RWMutex
	handlers map[crypto.PeerID]Handler
}

// NewFabric creates an empty shared Fabric.
func NewFabric() *Fabric {
	return &Fabric{handlers: make(map[crypto.PeerID]Handler)}
}

// Join registers id's inbound Handler on the fabric and returns a Sender
// id can use to reach every other participant.
func (f *Fabric) Join(id crypto.PeerID, h Handler) *Loopback {
	f.mu.Lock()
	f.handlers[id] = h
	f.mu.Unlock()
	return &Loopback{fabric: f, self: id}
}

// Loopback is an in-process Sender that dispatches directly to Handlers
// registered on a shared Fabric instead of going over a socket. It exists
// so the consensus core and its scenario tests have something concrete and
// exercised to call, matching this package's framing contract without
// standing up a real TLS listener.
type Loopback struct {
	fabric *Fabric
	self   crypto.PeerID
}

// SendTo implements Sender.
func (l *Loopback) SendTo(id crypto.PeerID, message interface{}) (interface{}, error) {
	l.fabric.mu.RLock()
	handler, ok := l.fabric.handlers[id]
	l.fabric.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("peer: no loopback handler registered for %s", id)
	}
	return handler(l.self, message)
}

// Broadcast implements Sender. Each target's handler runs on its own
// goroutine and writes its Response into the returned channel as soon as
// it completes; the channel is sized to hold every target's reply so a
// caller that reads only as many as it needs (e.g. a supermajority) never
// blocks a straggler, which keeps running to completion regardless.
func (l *Loopback) Broadcast(message interface{}) <-chan Response {
	l.fabric.mu.RLock()
	targets := make(map[crypto.PeerID]Handler, len(l.fabric.handlers))
	for id, h := range l.fabric.handlers {
		if id == l.self {
			continue
		}
		targets[id] = h
	}
	l.fabric.mu.RUnlock()

	out := make(chan Response, len(targets))
	var wg sync.WaitGroup
	for id, handler := range targets {
		wg.Add(1)
		go func(id crypto.PeerID, handler Handler) {
			defer wg.Done()
			resp, err := handler(l.self, message)
			out <- Response{Peer: id, Value: resp, Err: err}
		}(id, handler)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
