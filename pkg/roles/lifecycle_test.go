package roles

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/zcash-pct/pkg/crypto"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

func TestReadiness(t *testing.T) {
	key := testKey(t, 1)
	p := mixedProposal(t, key)

	r := CheckReadiness(p)
	assert.False(t, r.Ready)
	assert.Equal(t, []string{
		"transparent input 0: signature",
		"orchard action 0: proof",
		"orchard action 1: proof",
	}, r.Missing)

	_, err := Finalize(t.Context(), testEngine(), p)
	var fe *pczt.FinalizationError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, pczt.ErrIncomplete, fe.Code)
	assert.Equal(t, r.Missing, fe.Missing)

	p.Orchard.Bsk = nil
	assert.Contains(t, CheckReadiness(p).Missing, "orchard bundle: binding key")
}

func TestReadinessJSON(t *testing.T) {
	key := testKey(t, 1)
	p := transparentProposal(t, key)
	s := NewSigner(p)
	require.NoError(t, s.SignTransparentInput(0, key))
	require.NoError(t, s.SignTransparentInput(1, key))

	b, err := json.Marshal(CheckReadiness(p))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ready":true,"missing":[]}`, string(b))

	// A reused value must not keep a stale list.
	stale := Readiness{Missing: []string{"transparent input 0: signature"}}
	require.NoError(t, json.Unmarshal(b, &stale))
	assert.True(t, stale.Ready)
	assert.Empty(t, stale.Missing)
}

func TestTransparentLifecycle(t *testing.T) {
	key := testKey(t, 1)
	p := transparentProposal(t, key)
	txid := crypto.TxID(p)

	s := NewSigner(p)
	require.NoError(t, s.SignTransparentInput(0, key))
	require.NoError(t, s.SignTransparentInput(1, key))
	assert.Equal(t, txid, crypto.TxID(p), "signatures are not part of the txid")

	tx, err := Finalize(t.Context(), testEngine(), p)
	require.NoError(t, err)
	assert.Equal(t, txid, tx.TxID)
	assert.Len(t, tx.ID(), 64)
	assert.Empty(t, p.Transparent.Inputs[0].ScriptSig, "finalize works on a copy")

	raw := tx.Bytes
	assert.Equal(t, uint32(5|1<<31), binary.LittleEndian.Uint32(raw[0:4]))
	assert.Equal(t, pczt.V5VersionGroupID, binary.LittleEndian.Uint32(raw[4:8]))
	assert.Equal(t, p.Global.ConsensusBranchID, binary.LittleEndian.Uint32(raw[8:12]))
	assert.Equal(t, p.Global.ExpiryHeight, binary.LittleEndian.Uint32(raw[16:20]))
	assert.Equal(t, byte(2), raw[20], "input count")
	// No Sapling or Orchard data: three zero counts end the transaction.
	assert.True(t, bytes.HasSuffix(raw, []byte{0, 0, 0}))

	pub := key.PublicKey().SerializeCompressed()
	assert.True(t, bytes.Contains(raw, pub[:]), "scriptSig carries the public key")
}

func TestShieldedLifecycle(t *testing.T) {
	key := testKey(t, 1)
	p := mixedProposal(t, key)
	txid := crypto.TxID(p)

	proved, err := NewProver(testEngine(), testLogger(t)).Prove(t.Context(), p, nil)
	require.NoError(t, err)
	require.NoError(t, NewSigner(proved).SignTransparentInput(0, key))
	require.True(t, CheckReadiness(proved).Ready)

	tx, err := Finalize(t.Context(), testEngine(), proved)
	require.NoError(t, err)
	assert.Equal(t, txid, tx.TxID, "proofs are not part of the txid")
	assert.NotNil(t, proved.Orchard.Bsk, "caller's copy keeps bsk")

	// Every action's ciphertext and proof lands in the transaction.
	for _, a := range proved.Orchard.Actions {
		assert.True(t, bytes.Contains(tx.Bytes, a.Output.EncCiphertext))
		assert.True(t, bytes.Contains(tx.Bytes, a.Proof))
	}
}

func TestExtractRejectsBadProof(t *testing.T) {
	key := testKey(t, 1)
	proved, err := NewProver(testEngine(), testLogger(t)).Prove(t.Context(), mixedProposal(t, key), nil)
	require.NoError(t, err)
	require.NoError(t, NewSigner(proved).SignTransparentInput(0, key))
	proved.Orchard.Actions[0].Proof = proved.Orchard.Actions[1].Proof

	_, err = Finalize(t.Context(), testEngine(), proved)
	var fe *pczt.FinalizationError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.NotEqual(t, pczt.ErrIncomplete, fe.Code)
}

func TestExtractRejectsTamperedValueBalance(t *testing.T) {
	key := testKey(t, 1)
	p := mixedProposal(t, key)
	// Shift value from the shielded pool to the fee without touching the
	// commitments.
	p.Orchard.ValueBalance++
	proved, err := NewProver(testEngine(), testLogger(t)).Prove(t.Context(), p, nil)
	require.NoError(t, err)
	require.NoError(t, NewSigner(proved).SignTransparentInput(0, key))

	_, err = Finalize(t.Context(), testEngine(), proved)
	assert.True(t, pczt.HasKind(err, pczt.KindFinalization), "got %v", err)
}
