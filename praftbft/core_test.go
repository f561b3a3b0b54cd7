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

package praftbft

import (
	"testing"

	"github.com/prellblock/prellblock/consensus"
	"github.com/prellblock/prellblock/crypto"
	"github.com/stretchr/testify/require"
)

func newTestCore(t *testing.T, n int) (*Core, []crypto.Identity) {
	t.Helper()
	identities := make([]crypto.Identity, n)
	peers := make([]crypto.PeerID, n)
	for i := range identities {
		id, err := crypto.GenerateIdentity()
		require.NoError(t, err)
		identities[i] = id
		peers[i] = id.PeerID()
	}
	return NewCore(identities[0], peers, nil), identities
}

func TestCoreSupermajorityFormula(t *testing.T) {
	cases := []struct{ n, want int }{
		{4, 3}, {5, 3}, {6, 5}, {7, 5}, {10, 7},
	}
	for _, c := range cases {
		core, _ := newTestCore(t, c.n)
		require.Equal(t, c.want, core.Supermajority(), "n=%d", c.n)
	}
}

func TestCoreNonfaultyCountFormula(t *testing.T) {
	cases := []struct{ n, want int }{
		{4, 2}, {5, 3}, {6, 3}, {7, 3}, {10, 4},
	}
	for _, c := range cases {
		core, _ := newTestCore(t, c.n)
		require.Equal(t, c.want, core.NonfaultyCount(), "n=%d", c.n)
	}
}

func TestCoreLeaderIsDeterministicRoundRobin(t *testing.T) {
	core, identities := newTestCore(t, 4)
	for term := uint64(0); term < 8; term++ {
		require.Equal(t, identities[int(term)%4].PeerID(), core.Leader(term))
	}
}

func TestCoreIsPeer(t *testing.T) {
	core, identities := newTestCore(t, 4)
	require.True(t, core.IsPeer(identities[2].PeerID()))

	outsider, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	require.False(t, core.IsPeer(outsider.PeerID()))
}

func TestVerifyRPUMajoritySignaturesRejectsShortList(t *testing.T) {
	core, identities := newTestCore(t, 4)
	payload := []byte("round-metadata")

	sigs := consensus.SignatureList{
		{Signer: identities[1].PeerID(), Signature: identities[1].Sign(payload)},
	}
	err := core.VerifyRPUMajoritySignatures(payload, sigs)
	require.ErrorIs(t, err, ErrNotEnoughSignatures)
}

func TestVerifyRPUMajoritySignaturesRejectsDuplicateSigner(t *testing.T) {
	core, identities := newTestCore(t, 4)
	payload := []byte("round-metadata")

	dup := struct {
		Signer    crypto.PeerID
		Signature crypto.Signature
	}{Signer: identities[1].PeerID(), Signature: identities[1].Sign(payload)}
	sigs := consensus.SignatureList{dup, dup, dup}
	err := core.VerifyRPUMajoritySignatures(payload, sigs)
	require.ErrorIs(t, err, ErrDuplicateSignatures)
}

func TestVerifyRPUMajoritySignaturesRejectsNonPeerSigner(t *testing.T) {
	core, identities := newTestCore(t, 4)
	payload := []byte("round-metadata")
	outsider, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	sigs := consensus.SignatureList{
		{Signer: identities[1].PeerID(), Signature: identities[1].Sign(payload)},
		{Signer: identities[2].PeerID(), Signature: identities[2].Sign(payload)},
		{Signer: outsider.PeerID(), Signature: outsider.Sign(payload)},
	}
	var invalidPeer *InvalidPeerError
	require.ErrorAs(t, core.VerifyRPUMajoritySignatures(payload, sigs), &invalidPeer)
}

func TestVerifyRPUMajoritySignaturesRejectsBadSignature(t *testing.T) {
	core, identities := newTestCore(t, 4)
	payload := []byte("round-metadata")

	sigs := consensus.SignatureList{
		{Signer: identities[1].PeerID(), Signature: identities[1].Sign(payload)},
		{Signer: identities[2].PeerID(), Signature: identities[2].Sign([]byte("wrong-payload"))},
		{Signer: identities[3].PeerID(), Signature: identities[3].Sign(payload)},
	}
	require.ErrorIs(t, core.VerifyRPUMajoritySignatures(payload, sigs), crypto.ErrInvalidSignature)
}

func TestVerifyRPUMajoritySignaturesAcceptsValidQuorum(t *testing.T) {
	core, identities := newTestCore(t, 4)
	payload := []byte("round-metadata")

	sigs := consensus.SignatureList{
		{Signer: identities[1].PeerID(), Signature: identities[1].Sign(payload)},
		{Signer: identities[2].PeerID(), Signature: identities[2].Sign(payload)},
		{Signer: identities[3].PeerID(), Signature: identities[3].Sign(payload)},
	}
	require.NoError(t, core.VerifyRPUMajoritySignatures(payload, sigs))
}

func TestSignMessageAndSignResponseRoundTrip(t *testing.T) {
	core, _ := newTestCore(t, 4)

	signedMsg, err := core.SignMessage(ConsensusMessage{Kind: KindViewChange, NewLeaderTerm: 3})
	require.NoError(t, err)
	require.NoError(t, signedMsg.Verify())

	signedResp, err := core.SignResponse(ConsensusResponse{Kind: KindOk})
	require.NoError(t, err)
	require.NoError(t, signedResp.Verify())
}
