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

// Package crypto implements the RPU identity, peer-id and signature
// primitives used throughout the consensus engine.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrInvalidSignature is returned whenever a Signable's signature does not
// verify against its signable bytes.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// PeerID identifies an RPU by its ed25519 public key.
type PeerID [ed25519.PublicKeySize]byte

// String renders the PeerID as a hex string.
func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}

// PublicKey returns the ed25519 public key backing this PeerID.
func (id PeerID) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(id[:])
}

// PeerIDFromPublicKey builds a PeerID from a raw ed25519 public key.
func PeerIDFromPublicKey(pub ed25519.PublicKey) (PeerID, error) {
	var id PeerID
	if len(pub) != ed25519.PublicKeySize {
		return id, fmt.Errorf("crypto: public key has wrong length %d", len(pub))
	}
	copy(id[:], pub)
	return id, nil
}

// Signature is a 64-byte ed25519 signature.
type Signature [ed25519.SignatureSize]byte

// Identity is the signing half of an RPU or client: a private key together
// with the PeerID it corresponds to.
type Identity struct {
	peerID  PeerID
	private ed25519.PrivateKey
}

// GenerateIdentity creates a fresh random Identity. Used by tests and by the
// genesis wizard (out of scope here) to mint RPU keys.
func GenerateIdentity() (Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, err
	}
	id, err := PeerIDFromPublicKey(pub)
	if err != nil {
		return Identity{}, err
	}
	return Identity{peerID: id, private: priv}, nil
}

// IdentityFromPrivateKey wraps an existing ed25519 private key (e.g. loaded
// from a PKCS#12 bundle) as an Identity.
func IdentityFromPrivateKey(priv ed25519.PrivateKey) (Identity, error) {
	id, err := PeerIDFromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return Identity{}, err
	}
	return Identity{peerID: id, private: priv}, nil
}

// PeerID returns the public identity of this Identity.
func (i Identity) PeerID() PeerID {
	return i.peerID
}

// Sign produces a Signature over message.
func (i Identity) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(i.private, message))
	return sig
}

// SignObject signs the signable projection of v and returns a Signed[T]
// envelope carrying the signer, the signature, and the inner value.
func SignObject[T Signable](i Identity, v T) (Signed[T], error) {
	bytes, err := v.SignableBytes()
	if err != nil {
		return Signed[T]{}, err
	}
	return Signed[T]{
		Signer:    i.peerID,
		Signature: i.Sign(bytes),
		Value:     v,
	}, nil
}
