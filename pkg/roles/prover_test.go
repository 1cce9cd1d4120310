package roles

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

func proverCode(t *testing.T, err error) (string, int) {
	t.Helper()
	var pe *pczt.ProverError
	require.True(t, errors.As(err, &pe), "got %v", err)
	return pe.Code, pe.Action
}

func TestProveAttachesProofs(t *testing.T) {
	p := mixedProposal(t, testKey(t, 1))

	var events []Progress
	proved, err := NewProver(testEngine(), testLogger(t)).Prove(t.Context(), p, func(ev Progress) {
		events = append(events, ev)
	})
	require.NoError(t, err)

	for i := range proved.Orchard.Actions {
		assert.True(t, proved.Orchard.Actions[i].HasProof(), "action %d", i)
		assert.False(t, p.Orchard.Actions[i].HasProof(), "input PCZT untouched")
	}

	require.NotEmpty(t, events)
	assert.Equal(t, PhaseLoading, events[0].Phase)
	last := events[len(events)-1]
	assert.Equal(t, PhaseComplete, last.Phase)
	assert.Equal(t, 100.0, last.Percent)
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		assert.True(t, cur.Phase > prev.Phase || (cur.Phase == prev.Phase && cur.Percent >= prev.Percent),
			"event %d regressed: %+v after %+v", i, cur, prev)
	}

	before, err := pczt.Serialize(p)
	require.NoError(t, err)
	after, err := pczt.Serialize(proved)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestProveNothingToProve(t *testing.T) {
	p := transparentProposal(t, testKey(t, 1))
	_, err := NewProver(testEngine(), testLogger(t)).Prove(t.Context(), p, nil)
	code, _ := proverCode(t, err)
	assert.Equal(t, pczt.ErrNothingToProve, code)

	proved, err := NewProver(testEngine(), testLogger(t)).Prove(t.Context(), mixedProposal(t, testKey(t, 1)), nil)
	require.NoError(t, err)
	_, err = NewProver(testEngine(), testLogger(t)).Prove(t.Context(), proved, nil)
	code, _ = proverCode(t, err)
	assert.Equal(t, pczt.ErrNothingToProve, code)
}

func TestProveMissingWitness(t *testing.T) {
	p := mixedProposal(t, testKey(t, 1))
	p.Orchard.Actions[1].Output.Rseed = nil

	_, err := NewProver(testEngine(), testLogger(t)).Prove(t.Context(), p, nil)
	code, action := proverCode(t, err)
	assert.Equal(t, pczt.ErrMissingWitness, code)
	assert.Equal(t, 1, action)
	assert.True(t, pczt.HasKind(err, pczt.KindProver))
}

func TestProveWitnessMismatch(t *testing.T) {
	p := mixedProposal(t, testKey(t, 1))
	v := *p.Orchard.Actions[0].Output.Value + 1
	p.Orchard.Actions[0].Output.Value = &v

	_, err := NewProver(testEngine(), testLogger(t)).Prove(t.Context(), p, nil)
	code, _ := proverCode(t, err)
	assert.Equal(t, pczt.ErrProofCreationFailed, code)
}

func TestProveCanceled(t *testing.T) {
	p := mixedProposal(t, testKey(t, 1))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := NewProver(testEngine(), testLogger(t)).Prove(ctx, p, nil)
	code, _ := proverCode(t, err)
	assert.Equal(t, pczt.ErrCanceled, code)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "proving", PhaseProving.String())
	assert.Equal(t, "phase(9)", Phase(9).String())
}
