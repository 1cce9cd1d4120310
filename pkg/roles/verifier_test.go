package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/zcash-pct/pkg/zip321"
)

func checkNamed(t *testing.T, r *VerificationReport, name string) Check {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no check %q in %+v", name, r.Checks)
	return Check{}
}

func TestVerifyTransparentWithChange(t *testing.T) {
	key := testKey(t, 1)
	p := transparentProposal(t, key)
	req := request(zip321.Payment{Address: testAddress(t, testKey(t, 2)).String(), Amount: 100_000})
	expected := ExpectedChange{Transparent: []ExpectedOutput{{Address: testAddress(t, key).String(), Value: 19_000}}}

	report, err := NewVerifier(testEngine()).Verify(t.Context(), p, req, expected)
	require.NoError(t, err)
	assert.True(t, report.Valid, "failed: %+v", report.Failed())
	assert.Empty(t, report.Failed())
	for _, name := range []string{CheckInputsPresent, CheckTransparentOutputs, CheckShieldedBundle,
		CheckChange, CheckNoUnexpectedOutputs, CheckValueBalance, CheckFeePolicy} {
		assert.True(t, checkNamed(t, report, name).Passed, name)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	key := testKey(t, 1)
	payee := testAddress(t, testKey(t, 2)).String()
	req := request(zip321.Payment{Address: payee, Amount: 100_000})
	change := ExpectedChange{Transparent: []ExpectedOutput{{Address: testAddress(t, key).String(), Value: 19_000}}}

	t.Run("wrong amount", func(t *testing.T) {
		p := transparentProposal(t, key)
		p.Transparent.Outputs[0].Value = 90_000
		r, err := NewVerifier(testEngine()).Verify(t.Context(), p, req, change)
		require.NoError(t, err)
		assert.False(t, r.Valid)
		assert.False(t, checkNamed(t, r, "payment[0]").Passed)
	})

	t.Run("undisclosed change", func(t *testing.T) {
		p := transparentProposal(t, key)
		r, err := NewVerifier(testEngine()).Verify(t.Context(), p, req, ExpectedChange{})
		require.NoError(t, err)
		assert.False(t, r.Valid)
		assert.False(t, checkNamed(t, r, CheckChange).Passed)
		assert.False(t, checkNamed(t, r, CheckNoUnexpectedOutputs).Passed)
	})

	t.Run("change to another key", func(t *testing.T) {
		p := transparentProposal(t, key)
		other := ExpectedChange{Transparent: []ExpectedOutput{{Address: testAddress(t, testKey(t, 3)).String(), Value: 19_000}}}
		r, err := NewVerifier(testEngine()).Verify(t.Context(), p, req, other)
		require.NoError(t, err)
		assert.False(t, checkNamed(t, r, CheckChange).Passed)
	})

	t.Run("shielded change", func(t *testing.T) {
		p := transparentProposal(t, key)
		r, err := NewVerifier(testEngine()).Verify(t.Context(), p, req, ExpectedChange{Transparent: change.Transparent, Shielded: 5})
		require.NoError(t, err)
		assert.False(t, checkNamed(t, r, CheckChange).Passed)
	})
}

func TestVerifyShieldedPayment(t *testing.T) {
	key := testKey(t, 1)
	p := mixedProposal(t, key)
	payee := testAddress(t, testKey(t, 99)).String()
	change := ExpectedChange{Transparent: []ExpectedOutput{{Address: testAddress(t, key).String(), Value: 15_000}}}
	req := request(
		zip321.Payment{Address: payee, Amount: 40_000},
		zip321.Payment{Address: testUnified(t, 1), Amount: 30_000, Memo: []byte("invoice 7")},
	)

	r, err := NewVerifier(testEngine()).Verify(t.Context(), p, req, change)
	require.NoError(t, err)
	assert.True(t, r.Valid, "failed: %+v", r.Failed())
	assert.NotEmpty(t, r.Warnings, "unproved actions are reported")

	wrongMemo := request(
		zip321.Payment{Address: payee, Amount: 40_000},
		zip321.Payment{Address: testUnified(t, 1), Amount: 30_000, Memo: []byte("invoice 8")},
	)
	r, err = NewVerifier(testEngine()).Verify(t.Context(), p, wrongMemo, change)
	require.NoError(t, err)
	assert.False(t, checkNamed(t, r, "payment[1]").Passed)

	otherRecipient := request(
		zip321.Payment{Address: payee, Amount: 40_000},
		zip321.Payment{Address: testUnified(t, 2), Amount: 30_000, Memo: []byte("invoice 7")},
	)
	r, err = NewVerifier(testEngine()).Verify(t.Context(), p, otherRecipient, change)
	require.NoError(t, err)
	assert.False(t, r.Valid)
}

func TestVerifyProofs(t *testing.T) {
	key := testKey(t, 1)
	p := mixedProposal(t, key)
	proved, err := NewProver(testEngine(), testLogger(t)).Prove(t.Context(), p, nil)
	require.NoError(t, err)
	req := request(
		zip321.Payment{Address: testAddress(t, testKey(t, 99)).String(), Amount: 40_000},
		zip321.Payment{Address: testUnified(t, 1), Amount: 30_000, Memo: []byte("invoice 7")},
	)
	change := ExpectedChange{Transparent: []ExpectedOutput{{Address: testAddress(t, key).String(), Value: 15_000}}}

	r, err := NewVerifier(testEngine()).Verify(t.Context(), proved, req, change)
	require.NoError(t, err)
	assert.True(t, checkNamed(t, r, CheckProofs).Passed)

	proved.Orchard.Actions[0].Proof = proved.Orchard.Actions[1].Proof
	r, err = NewVerifier(testEngine()).Verify(t.Context(), proved, req, change)
	require.NoError(t, err)
	assert.False(t, checkNamed(t, r, CheckProofs).Passed)
	assert.False(t, r.Valid)
}
