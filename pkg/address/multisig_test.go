package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/zcash-pct/pkg/params"
)

func testKeys(n int) [][33]byte {
	keys := make([][33]byte, n)
	for i := range keys {
		keys[i][0] = 0x02 + byte(i%2)
		keys[i][1] = byte(i + 1)
	}
	return keys
}

func TestMultisigScript(t *testing.T) {
	keys := testKeys(3)
	script, err := MultisigScript(2, keys)
	require.NoError(t, err)
	assert.Len(t, script, 3+3*34)
	assert.Equal(t, byte(0x52), script[0])
	assert.Equal(t, byte(0x53), script[len(script)-2])
	assert.Equal(t, byte(0xae), script[len(script)-1])

	ms, err := ParseMultisig(script)
	require.NoError(t, err)
	assert.Equal(t, 2, ms.Required)
	assert.Equal(t, keys, ms.Keys)
	assert.Equal(t, 1, ms.KeyIndex(keys[1]))
	assert.Equal(t, -1, ms.KeyIndex([33]byte{0x02, 0xff}))
}

func TestMultisigScriptRejects(t *testing.T) {
	_, err := MultisigScript(0, testKeys(2))
	assert.ErrorIs(t, err, ErrNotMultisig)
	_, err = MultisigScript(3, testKeys(2))
	assert.ErrorIs(t, err, ErrNotMultisig)
	_, err = MultisigScript(1, testKeys(MaxMultisigKeys+1))
	assert.ErrorIs(t, err, ErrNotMultisig)

	good, err := MultisigScript(1, testKeys(2))
	require.NoError(t, err)
	for name, script := range map[string][]byte{
		"empty":          nil,
		"p2pkh":          P2PKHScript(make([]byte, 20)),
		"truncated":      good[:len(good)-1],
		"m above n":      append([]byte{0x53}, good[1:]...),
		"bad key prefix": append(append([]byte{}, good[:2]...), append([]byte{0x04}, good[3:]...)...),
	} {
		_, err := ParseMultisig(script)
		assert.ErrorIs(t, err, ErrNotMultisig, name)
	}
}

func TestP2SHHash(t *testing.T) {
	hash := make([]byte, 20)
	hash[0] = 0x42
	assert.Equal(t, hash, P2SHHash(P2SHScript(hash)))
	assert.Nil(t, P2SHHash(P2PKHScript(hash)))

	a, ok := FromScript(P2SHScript(hash), params.Testnet)
	require.True(t, ok)
	assert.Equal(t, P2SH, a.Kind)
}
