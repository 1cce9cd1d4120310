package fees

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/zcash-pct/pkg/address"
)

func TestCalculateFee(t *testing.T) {
	tests := []struct {
		tin, tout, orchard int
		want               uint64
	}{
		{1, 1, 0, 10_000},
		{1, 2, 0, 10_000},
		{1, 1, 1, 15_000},
		{1, 0, 1, 15_000},
		{3, 1, 0, 15_000},
		{1, 1, 3, 20_000},
		{0, 0, 0, 10_000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CalculateFee(tt.tin, tt.tout, tt.orchard), "%d/%d/%d", tt.tin, tt.tout, tt.orchard)
	}
}

func TestOrchardActionsPadding(t *testing.T) {
	assert.Equal(t, 0, OrchardActions(0))
	assert.Equal(t, 2, OrchardActions(1))
	assert.Equal(t, 2, OrchardActions(2))
	assert.Equal(t, 5, OrchardActions(5))
}

func TestPerByteGrowsWithShape(t *testing.T) {
	p := PerByte{Rate: 2}
	small := p.Fee(Shape{TransparentInputs: 1, TransparentOutputs: 1})
	bigger := p.Fee(Shape{TransparentInputs: 2, TransparentOutputs: 1})
	shielded := p.Fee(Shape{TransparentInputs: 1, TransparentOutputs: 1, OrchardActions: 2})

	assert.Equal(t, uint64(2*EstimateSize(Shape{TransparentInputs: 1, TransparentOutputs: 1})), small)
	assert.Equal(t, small+2*P2PKHStandardInputSz, bigger)
	assert.Greater(t, shielded, bigger)
}

func multisig(t *testing.T, m, n int) []byte {
	t.Helper()
	keys := make([][33]byte, n)
	for i := range keys {
		keys[i][0] = 0x02
		keys[i][1] = byte(i)
	}
	script, err := address.MultisigScript(m, keys)
	require.NoError(t, err)
	return script
}

func TestInputSize(t *testing.T) {
	assert.Equal(t, P2PKHStandardInputSz, InputSize(nil))
	// outpoint, sequence, length byte, OP_0, two 74-byte pushes, 71-byte redeem push.
	assert.Equal(t, 36+4+1+221, InputSize(multisig(t, 2, 2)))
	// A 105-byte redeem script needs OP_PUSHDATA1 and the 330-byte scriptSig a three-byte length.
	assert.Equal(t, 36+4+3+330, InputSize(multisig(t, 3, 3)))
}

func TestMultisigInputsCountBySize(t *testing.T) {
	twoOfTwo := Shape{TransparentInputs: 1, TransparentOutputs: 1, TransparentInputSize: InputSize(multisig(t, 2, 2))}
	assert.Equal(t, 2, twoOfTwo.LogicalActions())
	assert.Equal(t, uint64(10_000), ConventionalFee(twoOfTwo))

	threeOfThree := Shape{TransparentInputs: 1, TransparentOutputs: 1, TransparentInputSize: InputSize(multisig(t, 3, 3))}
	assert.Equal(t, 3, threeOfThree.LogicalActions())
	assert.Equal(t, uint64(15_000), ConventionalFee(threeOfThree))

	p2pkh := Shape{TransparentInputs: 1, TransparentOutputs: 1}
	assert.Equal(t, EstimateSize(p2pkh)-P2PKHStandardInputSz+InputSize(multisig(t, 2, 2)), EstimateSize(twoOfTwo))
}

func TestFixed(t *testing.T) {
	assert.Equal(t, uint64(1_000), Fixed{Amount: 1_000}.Fee(Shape{TransparentInputs: 9}))
}

func TestConfigBuild(t *testing.T) {
	p, err := Config{}.Build()
	require.NoError(t, err)
	assert.Equal(t, "zip317", p.String())

	p, err = Config{Policy: "per-byte", Rate: 3}.Build()
	require.NoError(t, err)
	assert.Equal(t, PerByte{Rate: 3}, p)

	_, err = Config{Policy: "per-byte"}.Build()
	assert.Error(t, err)

	_, err = Config{Policy: "auction"}.Build()
	assert.Error(t, err)
}
