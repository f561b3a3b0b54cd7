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

type testValue struct {
	Payload string
}

func (v testValue) SignableBytes() ([]byte, error) { return []byte(v.Payload), nil }

func TestGenerateIdentityRoundTrip(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	signed, err := SignObject(id, testValue{Payload: "hello"})
	require.NoError(t, err)
	require.Equal(t, id.PeerID(), signed.Signer)
	require.NoError(t, signed.Verify())
}

func TestSignedVerifyRejectsTamperedValue(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	signed, err := SignObject(id, testValue{Payload: "hello"})
	require.NoError(t, err)

	signed.Value.Payload = "tampered"
	require.ErrorIs(t, signed.Verify(), ErrInvalidSignature)
}

func TestSignedVerifyRejectsWrongSigner(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)
	other, err := GenerateIdentity()
	require.NoError(t, err)

	signed, err := SignObject(id, testValue{Payload: "hello"})
	require.NoError(t, err)

	signed.Signer = other.PeerID()
	require.ErrorIs(t, signed.Verify(), ErrInvalidSignature)
}

func TestIdentityFromPrivateKeyMatchesPublicKey(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	restored, err := IdentityFromPrivateKey(id.private)
	require.NoError(t, err)
	require.Equal(t, id.PeerID(), restored.PeerID())
}
