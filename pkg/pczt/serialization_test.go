package pczt

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/zcash-pct/pkg/params"
)

func emptyPCZT() *PCZT {
	return &PCZT{
		Global: Global{
			TxVersion:         V5TxVersion,
			VersionGroupID:    V5VersionGroupID,
			ConsensusBranchID: params.BranchIDNu61,
			ExpiryHeight:      2_500_040,
			CoinType:          params.TestnetCoinType,
			Network:           params.Testnet,
			TxModifiable:      FlagTransparentInputsModifiable | FlagTransparentOutputsModifiable,
			Proprietary:       map[string][]byte{},
		},
		Orchard: OrchardBundle{Flags: OrchardFlagsEnabled},
	}
}

func populatedPCZT() *PCZT {
	p := emptyPCZT()
	lock := uint32(7)
	p.Global.FallbackLockTime = &lock
	p.Global.Proprietary = map[string][]byte{ProprietaryFee: {0x10, 0x27}, ProprietaryChange: {0x01}}

	seq := uint32(0xfffffffe)
	var pk1, pk2 [33]byte
	pk1[0], pk1[1] = 0x02, 0x01
	pk2[0], pk2[1] = 0x03, 0x02
	addr := "tmBsTi2xWTjUdEXnuTceL7fecEQKeWaPDJd"

	p.Transparent.Inputs = []TransparentInput{{
		PrevoutTxID:       [32]byte{1, 2, 3},
		PrevoutIndex:      1,
		Sequence:          &seq,
		Value:             100_000,
		ScriptPubKey:      []byte{0xa9, 0x14},
		RedeemScript:      []byte{0x51, 0x21, 0x02, 0x51, 0xae},
		SighashType:       SighashAll,
		PartialSignatures: map[[33]byte][]byte{pk2: {0xaa, 0x01}, pk1: {0xbb, 0x01}},
		Bip32Derivation: map[[33]byte]Zip32Derivation{
			pk1: {SeedFingerprint: [32]byte{9}, DerivationPath: []uint32{0x8000002c, 0x80000001, 0}},
		},
		Proprietary: map[string][]byte{"b": {2}, "a": {1}},
	}}
	p.Transparent.Outputs = []TransparentOutput{
		{Value: 50_000, ScriptPubKey: []byte{0xa9, 0x14}, UserAddress: &addr, Proprietary: map[string][]byte{}, Bip32Derivation: map[[33]byte]Zip32Derivation{}},
		{Value: 35_000, ScriptPubKey: []byte{0x76}, Change: true, Proprietary: map[string][]byte{}, Bip32Derivation: map[[33]byte]Zip32Derivation{}},
	}

	zero := uint64(0)
	val := uint64(5_000)
	ua := "utest1example"
	p.Orchard.ValueBalance = -5_000
	p.Orchard.Anchor = [32]byte{0xee}
	p.Orchard.Bsk = &[32]byte{0x42}
	p.Orchard.Actions = []OrchardAction{{
		CvNet: [33]byte{0x02, 0x11},
		Spend: OrchardSpend{
			Nullifier:    [32]byte{0x33},
			Rk:           [33]byte{0x03, 0x44},
			SpendAuthSig: &[64]byte{0x55},
			Value:        &zero,
			Proprietary:  map[string][]byte{},
		},
		Output: OrchardOutput{
			Cmx:           [32]byte{0x66},
			EphemeralKey:  [32]byte{0x77},
			EncCiphertext: make([]byte, NoteCiphertextSize),
			OutCiphertext: make([]byte, OutCiphertextSize),
			Recipient:     &[43]byte{0x88},
			Value:         &val,
			Rseed:         &[32]byte{0x99},
			UserAddress:   &ua,
			Proprietary:   map[string][]byte{},
		},
		Rcv:   &[32]byte{0x12},
		Proof: []byte{0xde, 0xad, 0xbe, 0xef},
	}}
	return p
}

func TestSerializeHeader(t *testing.T) {
	data, err := Serialize(emptyPCZT())
	require.NoError(t, err)
	assert.Equal(t, MagicBytes, string(data[:4]))
	assert.Equal(t, PCZTVersion1, binary.LittleEndian.Uint32(data[4:8]))
}

func TestRoundTrip(t *testing.T) {
	for name, p := range map[string]*PCZT{
		"empty":     emptyPCZT(),
		"populated": populatedPCZT(),
	} {
		t.Run(name, func(t *testing.T) {
			data, err := Serialize(p)
			require.NoError(t, err)

			parsed, err := Parse(data)
			require.NoError(t, err)

			again, err := Serialize(parsed)
			require.NoError(t, err)
			assert.Equal(t, data, again)
		})
	}
}

func TestParsePreservesFields(t *testing.T) {
	p := populatedPCZT()
	data, err := Serialize(p)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, p.Global.Network, parsed.Global.Network)
	assert.Equal(t, uint32(7), parsed.Global.LockTime())
	require.Len(t, parsed.Transparent.Inputs, 1)
	in := parsed.Transparent.Inputs[0]
	assert.Equal(t, uint32(0xfffffffe), in.SequenceOrDefault())
	assert.Len(t, in.PartialSignatures, 2)
	assert.Equal(t, []byte{0x51, 0x21, 0x02, 0x51, 0xae}, in.RedeemScript)
	assert.Equal(t, []uint32{0x8000002c, 0x80000001, 0}, in.Bip32Derivation[[33]byte{0x02, 0x01}].DerivationPath)

	require.Len(t, parsed.Transparent.Outputs, 2)
	assert.True(t, parsed.Transparent.Outputs[1].Change)
	assert.Equal(t, "tmBsTi2xWTjUdEXnuTceL7fecEQKeWaPDJd", *parsed.Transparent.Outputs[0].UserAddress)

	require.Len(t, parsed.Orchard.Actions, 1)
	a := parsed.Orchard.Actions[0]
	assert.Equal(t, int64(-5_000), parsed.Orchard.ValueBalance)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, a.Proof)
	assert.Equal(t, uint64(5_000), *a.Output.Value)
	assert.Nil(t, a.Spend.DummySk)
	assert.Nil(t, parsed.Orchard.BindingSig)
	assert.NotNil(t, parsed.Orchard.Bsk)
}

func TestSerializeIsDeterministic(t *testing.T) {
	first, err := Serialize(populatedPCZT())
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		next, err := Serialize(populatedPCZT())
		require.NoError(t, err)
		require.Equal(t, first, next)
	}
}

func TestParseErrors(t *testing.T) {
	valid, err := Serialize(populatedPCZT())
	require.NoError(t, err)

	badVersion := append([]byte{}, valid...)
	binary.LittleEndian.PutUint32(badVersion[4:8], 2)

	badNetwork := append([]byte{}, valid...)
	// Network byte follows version, vgid, branch, lock-time option (1+4), expiry and coin type.
	badNetwork[headerSize+4+4+4+5+4+4] = 9

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte("PCZ")},
		{"bad magic", append([]byte("PSBT"), valid[4:]...)},
		{"bad version", badVersion},
		{"truncated", valid[:len(valid)-3]},
		{"trailing bytes", append(append([]byte{}, valid...), 0x00)},
		{"unknown network", badNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			require.Error(t, err)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, KindParse, KindOf(err))
		})
	}
}

func TestParseRejectsInvalidOptionTag(t *testing.T) {
	data, err := Serialize(emptyPCZT())
	require.NoError(t, err)
	// Lock-time option tag.
	data[headerSize+12] = 0x02

	_, err = Parse(data)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, headerSize+12, pe.Offset)
}

func TestParseRejectsHugeLength(t *testing.T) {
	data, err := Serialize(emptyPCZT())
	require.NoError(t, err)
	// Replace the input count with a varint claiming 2^35 inputs.
	idx := headerSize + 4 + 4 + 4 + 1 + 4 + 4 + 1 + 1 + 1
	require.Equal(t, byte(0), data[idx])
	huge := binary.AppendUvarint(nil, 1<<35)
	corrupt := append(append(append([]byte{}, data[:idx]...), huge...), data[idx+1:]...)

	_, err = Parse(corrupt)
	require.Error(t, err)
	assert.True(t, HasKind(err, KindParse))
}

func TestParseRejectsUnsortedKeys(t *testing.T) {
	p := emptyPCZT()
	p.Global.Proprietary = map[string][]byte{"a": {1}, "b": {2}}
	data, err := Serialize(p)
	require.NoError(t, err)

	// Swap the two single-letter keys in place.
	idx := headerSize + 4 + 4 + 4 + 1 + 4 + 4 + 1 + 1
	require.Equal(t, byte(2), data[idx])
	require.Equal(t, byte('a'), data[idx+2])
	require.Equal(t, byte('b'), data[idx+6])
	data[idx+2], data[idx+6] = 'b', 'a'

	_, err = Parse(data)
	require.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	p := populatedPCZT()
	c := p.Clone()

	before, err := Serialize(p)
	require.NoError(t, err)

	c.Transparent.Inputs[0].PartialSignatures[[33]byte{0x02, 0x01}][0] = 0x00
	c.Orchard.Actions[0].Proof[0] = 0x00
	*c.Orchard.Bsk = [32]byte{}
	c.Global.Proprietary[ProprietaryFee] = nil

	after, err := Serialize(p)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestComputeTotals(t *testing.T) {
	totals, err := ComputeTotals(populatedPCZT())
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), totals.Inputs)
	assert.Equal(t, uint64(85_000), totals.TransparentOutputs)
	assert.Equal(t, uint64(5_000), totals.ShieldedOutputs)
	assert.Equal(t, uint64(35_000), totals.Change)
	assert.Equal(t, int64(10_000), totals.Fee())

	p := emptyPCZT()
	p.Orchard.ValueBalance = 1
	_, err = ComputeTotals(p)
	assert.Error(t, err)

	p = emptyPCZT()
	p.Transparent.Inputs = []TransparentInput{{Value: MaxMoney}, {Value: 1}}
	_, err = ComputeTotals(p)
	assert.ErrorIs(t, err, ErrValueOverflow)
}

func TestHasKind(t *testing.T) {
	err := &ProposalError{Code: ErrInsufficientFunds, Message: "short"}
	assert.True(t, HasKind(err, KindProposal))
	assert.True(t, HasKind(err, KindInsufficientFunds))
	assert.False(t, HasKind(err, KindInvalidAddress))

	wrapped := &FinalizationError{Code: ErrIncomplete, Cause: &ParseError{Message: "x", Offset: -1}}
	assert.True(t, HasKind(wrapped, KindParse))
	assert.Equal(t, KindFinalization, KindOf(wrapped))
}
