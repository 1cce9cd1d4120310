package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/zcash-pct/pkg/params"
)

func testKey(t *testing.T, b byte) *PrivateKey {
	t.Helper()
	raw := make([]byte, 32)
	raw[31] = b
	k, err := PrivateKeyFromBytes(raw)
	require.NoError(t, err)
	return k
}

func TestHash160KnownKey(t *testing.T) {
	pub := testKey(t, 1).PublicKey()
	assert.Equal(t, "751e76e8199196d454941c45d1b3a323f1433bd6", hex.EncodeToString(pub.Hash160()))
}

func TestPrivateKeyFromBytesRejectsInvalid(t *testing.T) {
	_, err := PrivateKeyFromBytes(make([]byte, 31))
	assert.Error(t, err)
	_, err = PrivateKeyFromBytes(make([]byte, 32))
	assert.Error(t, err, "zero key")
}

func TestSignVerifyCompact(t *testing.T) {
	k := testKey(t, 7)
	hash := sha256.Sum256([]byte("pct"))

	sig := k.SignCompact(hash)
	require.NoError(t, VerifyCompact(k.PublicKey(), hash, sig[:]))

	other := sha256.Sum256([]byte("other"))
	assert.ErrorIs(t, VerifyCompact(k.PublicKey(), other, sig[:]), ErrVerifyFailed)
	assert.ErrorIs(t, VerifyCompact(testKey(t, 8).PublicKey(), hash, sig[:]), ErrVerifyFailed)
	assert.ErrorIs(t, VerifyCompact(k.PublicKey(), hash, sig[:63]), ErrInvalidSignature)
}

func TestVerifyCompactRejectsHighS(t *testing.T) {
	k := testKey(t, 9)
	hash := sha256.Sum256([]byte("malleable"))
	sig := k.SignCompact(hash)

	r, s, err := parseCompact(sig[:])
	require.NoError(t, err)
	require.False(t, s.IsOverHalfOrder())
	s.Negate()

	var high [64]byte
	r.PutBytesUnchecked(high[:32])
	s.PutBytesUnchecked(high[32:])

	// The mirrored signature is mathematically valid but not canonical.
	assert.True(t, ecdsa.NewSignature(&r, &s).Verify(hash[:], k.PublicKey().Key()))
	assert.ErrorIs(t, VerifyCompact(k.PublicKey(), hash, high[:]), ErrHighS)
}

func TestRecoverCandidatesContainsSigner(t *testing.T) {
	k := testKey(t, 11)
	hash := sha256.Sum256([]byte("recover"))
	sig := k.SignCompact(hash)

	candidates, err := RecoverCandidates(hash, sig[:])
	require.NoError(t, err)
	want := k.PublicKey().SerializeCompressed()

	found := false
	for _, c := range candidates {
		if c.SerializeCompressed() == want {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDERSignature(t *testing.T) {
	k := testKey(t, 3)
	hash := sha256.Sum256([]byte("der"))
	sig := k.SignCompact(hash)

	der, err := DERSignature(sig[:])
	require.NoError(t, err)
	parsed, err := ecdsa.ParseDERSignature(der)
	require.NoError(t, err)
	assert.True(t, parsed.Verify(hash[:], k.PublicKey().Key()))
}

func TestWIFRoundTrip(t *testing.T) {
	for _, net := range []params.Network{params.Mainnet, params.Testnet} {
		k := testKey(t, 42)
		wif := EncodeWIF(k, net)

		parsed, gotNet, err := ParsePrivateKeyWIF(wif)
		require.NoError(t, err)
		assert.Equal(t, k.Bytes(), parsed.Bytes())
		assert.Equal(t, net, gotNet)
	}

	_, _, err := ParsePrivateKeyWIF("not-a-wif")
	assert.Error(t, err)
}

func TestParsePublicKey(t *testing.T) {
	pub := testKey(t, 5).PublicKey().SerializeCompressed()
	parsed, err := ParsePublicKey(pub[:])
	require.NoError(t, err)
	assert.Equal(t, pub, parsed.SerializeCompressed())

	_, err = ParsePublicKey(pub[:32])
	assert.Error(t, err)
}
