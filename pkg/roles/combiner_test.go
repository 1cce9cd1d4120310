package roles

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

func combine(t *testing.T, ps ...*pczt.PCZT) []byte {
	t.Helper()
	out, err := NewCombiner(ps).Combine()
	require.NoError(t, err)
	b, err := pczt.Serialize(out)
	require.NoError(t, err)
	return b
}

func combineCode(t *testing.T, err error) string {
	t.Helper()
	var ce *pczt.CombineError
	require.True(t, errors.As(err, &ce), "got %v", err)
	return ce.Code
}

func TestCombineSignatures(t *testing.T) {
	key := testKey(t, 1)
	base := transparentProposal(t, key)

	a, b := base.Clone(), base.Clone()
	require.NoError(t, NewSigner(a).SignTransparentInput(0, key))
	require.NoError(t, NewSigner(b).SignTransparentInput(1, key))

	merged, err := NewCombiner([]*pczt.PCZT{a, b}).Combine()
	require.NoError(t, err)
	assert.True(t, merged.Transparent.Inputs[0].IsSigned())
	assert.True(t, merged.Transparent.Inputs[1].IsSigned())
	assert.False(t, base.Transparent.Inputs[0].IsSigned(), "inputs are not modified")
	assert.True(t, CheckReadiness(merged).Ready)

	assert.Equal(t, combine(t, a, b), combine(t, b, a))
	assert.Equal(t, combine(t, a), combine(t, a, a))
	assert.Equal(t, combine(t, a, b), combine(t, a, b, base))
}

func TestCombineProofsAndSignatures(t *testing.T) {
	key := testKey(t, 1)
	base := mixedProposal(t, key)

	proved, err := NewProver(testEngine(), testLogger(t)).Prove(t.Context(), base, nil)
	require.NoError(t, err)
	signed := base.Clone()
	require.NoError(t, NewSigner(signed).SignTransparentInput(0, key))

	merged, err := NewCombiner([]*pczt.PCZT{signed, proved}).Combine()
	require.NoError(t, err)
	assert.True(t, CheckReadiness(merged).Ready, "missing %v", CheckReadiness(merged).Missing)
	assert.Equal(t, combine(t, signed, proved), combine(t, proved, signed))
}

func TestCombineConflicts(t *testing.T) {
	key := testKey(t, 1)
	base := transparentProposal(t, key)

	a, b := base.Clone(), base.Clone()
	require.NoError(t, NewSigner(a).SignTransparentInput(0, key))
	hash, _, err := NewSigner(b).Sighash(0)
	require.NoError(t, err)
	require.NoError(t, NewSigner(b).AppendSignature(0, TransparentSignature{Signature: altSignature(key, hash)}))

	_, err = NewCombiner([]*pczt.PCZT{a, b}).Combine()
	assert.Equal(t, pczt.ErrConflictingData, combineCode(t, err))
	assert.True(t, pczt.HasKind(err, pczt.KindCombine))
}

func TestCombineStructureMismatch(t *testing.T) {
	key := testKey(t, 1)
	base := transparentProposal(t, key)

	tests := []struct {
		name   string
		mutate func(p *pczt.PCZT)
	}{
		{"expiry", func(p *pczt.PCZT) { p.Global.ExpiryHeight++ }},
		{"branch", func(p *pczt.PCZT) { p.Global.ConsensusBranchID = 1 }},
		{"input value", func(p *pczt.PCZT) { p.Transparent.Inputs[0].Value++ }},
		{"output script", func(p *pczt.PCZT) { p.Transparent.Outputs[0].ScriptPubKey[3] ^= 1 }},
		{"change flag", func(p *pczt.PCZT) { p.Transparent.Outputs[1].Change = false }},
		{"extra output", func(p *pczt.PCZT) {
			p.Transparent.Outputs = append(p.Transparent.Outputs, p.Transparent.Outputs[0])
		}},
		{"value balance", func(p *pczt.PCZT) { p.Orchard.ValueBalance = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base.Clone()
			tt.mutate(other)
			_, err := NewCombiner([]*pczt.PCZT{base, other}).Combine()
			assert.Equal(t, pczt.ErrStructureMismatch, combineCode(t, err))
		})
	}
}

func TestCombineEmpty(t *testing.T) {
	_, err := NewCombiner(nil).Combine()
	assert.True(t, pczt.HasKind(err, pczt.KindCombine))
}
