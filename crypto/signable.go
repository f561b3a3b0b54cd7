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

import "crypto/ed25519"

// Signable is implemented by every value that can be wrapped in a Signed[T]
// envelope. SignableBytes returns the canonical projection of the value that
// gets signed and verified -- usually its full RLP encoding, but some
// messages (notably praftbft's Append) sign only a restricted subset of
// their fields.
type Signable interface {
	SignableBytes() ([]byte, error)
}

// Signed wraps a Signable value together with the PeerID that signed it and
// the signature itself.
type Signed[T Signable] struct {
	Signer    PeerID
	Signature Signature
	Value     T
}

// Verify checks the signature against the signable projection of the
// wrapped value.
func (s Signed[T]) Verify() error {
	bytes, err := s.Value.SignableBytes()
	if err != nil {
		return err
	}
	if !ed25519.Verify(s.Signer.PublicKey(), bytes, s.Signature[:]) {
		return ErrInvalidSignature
	}
	return nil
}
