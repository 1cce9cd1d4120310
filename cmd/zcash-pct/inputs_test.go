package main

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/zcash-pct/pkg/address"
	"github.com/suffix-labs/zcash-pct/pkg/crypto"
	"github.com/suffix-labs/zcash-pct/pkg/params"
)

func testOwner(t *testing.T) (*crypto.PrivateKey, *address.Transparent) {
	t.Helper()
	raw := make([]byte, 32)
	raw[31] = 0x0b
	key, err := crypto.PrivateKeyFromBytes(raw)
	require.NoError(t, err)
	owner, err := address.NewTransparent(address.P2PKH, key.PublicKey().Hash160(), params.Testnet)
	require.NoError(t, err)
	return key, owner
}

func TestParseInput(t *testing.T) {
	_, owner := testOwner(t)
	txid := crypto.FormatTxID([32]byte{7})

	in, err := parseInput(txid+":2:150000", owner)
	require.NoError(t, err)
	assert.Equal(t, txid, in.TxID)
	assert.Equal(t, uint32(2), in.Index)
	assert.Equal(t, uint64(150_000), in.Value)
	assert.Equal(t, hex.EncodeToString(owner.Script()), in.ScriptPubKey)

	in, err = parseInput(txid+":0:1:76a914", nil)
	require.NoError(t, err)
	assert.Equal(t, "76a914", in.ScriptPubKey)

	in, err = parseInput(txid+":0:1:a914:5121", nil)
	require.NoError(t, err)
	assert.Equal(t, "a914", in.ScriptPubKey)
	assert.Equal(t, "5121", in.RedeemScript)

	for _, spec := range []string{
		txid,
		txid + ":0:1",
		"zz:0:1:00",
		txid + ":x:1:00",
		txid + ":0:-5:00",
		txid + ":0:1:zz",
		txid + ":0:1:a914:zz",
		txid + ":0:1:a914:51:ae",
	} {
		_, err := parseInput(spec, nil)
		assert.Error(t, err, spec)
	}
}

func TestParseChange(t *testing.T) {
	o, err := parseChange("tm9iMLAuYMzJ6jtFLcA7rzUmfreGuKvr7Ma:40000")
	require.NoError(t, err)
	assert.Equal(t, "tm9iMLAuYMzJ6jtFLcA7rzUmfreGuKvr7Ma", o.Address)
	assert.Equal(t, uint64(40_000), o.Value)

	_, err = parseChange("no-value")
	assert.Error(t, err)
	_, err = parseChange("addr:lots")
	assert.Error(t, err)
}

func TestReadKey(t *testing.T) {
	key, _ := testOwner(t)
	path := filepath.Join(t.TempDir(), "key.wif")
	require.NoError(t, os.WriteFile(path, []byte(crypto.EncodeWIF(key, params.Testnet)+"\n"), 0o600))

	got, err := readKey(path, params.Testnet)
	require.NoError(t, err)
	assert.Equal(t, key.Bytes(), got.Bytes())

	_, err = readKey(path, params.Mainnet)
	assert.ErrorContains(t, err, "configured network")

	t.Setenv("PCT_SIGNING_KEY", crypto.EncodeWIF(key, params.Testnet))
	got, err = readKey("", params.Regtest)
	require.NoError(t, err)
	assert.Equal(t, key.Bytes(), got.Bytes())

	t.Setenv("PCT_SIGNING_KEY", "")
	_, err = readKey("", params.Testnet)
	assert.Error(t, err)
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, "a", orDefault("a", "b"))
	assert.Equal(t, "b", orDefault("", "b"))
}
