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

// Package peer defines the wire contract the consensus core talks to: a
// length-prefixed RLP frame codec and a Sender interface peers are
// broadcast through. The mutually authenticated TLS transport that
// implements Sender in production is out of scope; this package only
// carries the framing and a minimal in-process Sender, used by tests and by
// cmd/prellblock.
package peer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/prellblock/prellblock/crypto"
)

// maxFrameSize guards against a malicious or corrupt length prefix causing
// an unbounded allocation.
const maxFrameSize = 64 << 20

// WriteFrame encodes v as RLP and writes it to w prefixed with its
// little-endian uint32 length.
func WriteFrame(w io.Writer, v interface{}) error {
	body, err := rlp.EncodeToBytes(v)
	if err != nil {
		return fmt.Errorf("peer: encode frame: %w", err)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("peer: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("peer: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed RLP frame from r into v.
func ReadFrame(r *bufio.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	size := binary.LittleEndian.Uint32(lenBuf[:])
	if size > maxFrameSize {
		return fmt.Errorf("peer: frame of %d bytes exceeds limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("peer: read frame body: %w", err)
	}
	return rlp.DecodeBytes(body, v)
}

// Response is one peer's reply to a Broadcast, delivered as soon as that
// peer answers.
type Response struct {
	Peer  crypto.PeerID
	Value interface{}
	Err   error
}

// Sender delivers a signed message to one or all peers. The consensus
// core's broadcast loop calls through this interface and never knows
// whether it is backed by TLS sockets or an in-process loopback.
type Sender interface {
	// SendTo delivers message to the single peer identified by id and
	// returns its response.
	SendTo(id crypto.PeerID, message interface{}) (interface{}, error)
	// Broadcast delivers message to every known peer concurrently and
	// returns a channel of their Responses, delivered in arrival order as
	// each peer answers. The channel is buffered to hold every target's
	// reply, so a caller that stops reading early -- once it has the
	// quorum it needs -- never blocks the stragglers, which keep running
	// to completion in the background; their late replies are simply left
	// unread. The channel is closed once every target has replied.
	Broadcast(message interface{}) <-chan Response
}
