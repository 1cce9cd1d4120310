package roles

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/zcash-pct/pkg/crypto"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
	"github.com/suffix-labs/zcash-pct/pkg/zip321"
)

func transparentProposal(t *testing.T, key *crypto.PrivateKey) *pczt.PCZT {
	t.Helper()
	opts := testOptions(t)
	opts.Fee = fee(1_000)
	opts.ChangeAddress = testAddress(t, key).String()
	prop, err := Propose(t.Context(), testEngine(), []Input{
		testInput(t, key, 0, 60_000),
		testInput(t, key, 1, 60_000),
	}, request(zip321.Payment{Address: testAddress(t, testKey(t, 2)).String(), Amount: 100_000}), opts)
	require.NoError(t, err)
	return prop.PCZT
}

func signatureCode(t *testing.T, err error) string {
	t.Helper()
	var se *pczt.SignatureError
	require.True(t, errors.As(err, &se), "got %v", err)
	return se.Code
}

func TestSighashDeterministic(t *testing.T) {
	key := testKey(t, 1)
	p := transparentProposal(t, key)

	s := NewSigner(p)
	h0, hashType, err := s.Sighash(0)
	require.NoError(t, err)
	assert.Equal(t, pczt.SighashAll, hashType)

	again, _, err := NewSigner(p.Clone()).Sighash(0)
	require.NoError(t, err)
	assert.Equal(t, h0, again)

	h1, _, err := s.Sighash(1)
	require.NoError(t, err)
	assert.NotEqual(t, h0, h1)

	require.NoError(t, s.SignTransparentInput(1, key))
	after, _, err := s.Sighash(0)
	require.NoError(t, err)
	assert.Equal(t, h0, after, "signatures are not committed to")

	_, _, err = s.Sighash(2)
	var she *pczt.SighashError
	require.True(t, errors.As(err, &she))
	assert.Equal(t, pczt.ErrIndexOutOfRange, she.Code)
}

func TestAppendSignatureTwice(t *testing.T) {
	key := testKey(t, 1)
	p := transparentProposal(t, key)
	s := NewSigner(p)

	hash, _, err := s.Sighash(0)
	require.NoError(t, err)
	sig := key.SignCompact(hash)
	require.NoError(t, s.AppendSignature(0, TransparentSignature{Signature: sig[:]}))
	before, err := pczt.Serialize(p)
	require.NoError(t, err)

	require.NoError(t, s.AppendSignature(0, TransparentSignature{Signature: sig[:]}))
	after, err := pczt.Serialize(p)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	other := altSignature(key, hash)
	require.NotEqual(t, sig[:], other)
	err = s.AppendSignature(0, TransparentSignature{Signature: other})
	assert.True(t, pczt.HasKind(err, pczt.KindSignature))
	assert.Equal(t, pczt.ErrConflictingSignature, signatureCode(t, err))
}

func TestAppendSignatureRejects(t *testing.T) {
	key := testKey(t, 1)
	p := transparentProposal(t, key)
	s := NewSigner(p)
	hash, _, err := s.Sighash(0)
	require.NoError(t, err)
	good := key.SignCompact(hash)

	err = s.AppendSignature(5, TransparentSignature{Signature: good[:]})
	assert.Equal(t, pczt.ErrIndexOutOfRange, signatureCode(t, err))

	err = s.AppendSignature(0, TransparentSignature{Signature: good[:63]})
	assert.Equal(t, pczt.ErrInvalidSignature, signatureCode(t, err))

	wrongInput, _, err := s.Sighash(1)
	require.NoError(t, err)
	bad := key.SignCompact(wrongInput)
	pub := key.PublicKey().SerializeCompressed()
	err = s.AppendSignature(0, TransparentSignature{Signature: bad[:], PubKey: &pub})
	assert.Equal(t, pczt.ErrInvalidSignature, signatureCode(t, err))

	stranger := testKey(t, 50)
	foreign := stranger.SignCompact(hash)
	err = s.AppendSignature(0, TransparentSignature{Signature: foreign[:]})
	assert.Equal(t, pczt.ErrUnknownKey, signatureCode(t, err))

	assert.Empty(t, p.Transparent.Inputs[0].PartialSignatures)
}

func TestAppendSignatureStoresHashType(t *testing.T) {
	key := testKey(t, 1)
	p := transparentProposal(t, key)
	s := NewSigner(p)
	require.NoError(t, s.SignTransparentInput(0, key))

	pub := key.PublicKey().SerializeCompressed()
	stored := p.Transparent.Inputs[0].PartialSignatures[pub]
	require.Len(t, stored, crypto.CompactSignatureSize+1)
	assert.Equal(t, pczt.SighashAll, stored[crypto.CompactSignatureSize])
	assert.True(t, p.Transparent.Inputs[0].IsSigned())
	assert.False(t, p.Transparent.Inputs[1].IsSigned())
}
