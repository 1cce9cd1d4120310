package roles

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/suffix-labs/zcash-pct/pkg/engine"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

// Phase is a proving stage. Phases are reported in increasing order.
type Phase int

const (
	PhaseLoading Phase = iota
	PhasePreparing
	PhaseProving
	PhaseVerifying
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhasePreparing:
		return "preparing"
	case PhaseProving:
		return "proving"
	case PhaseVerifying:
		return "verifying"
	case PhaseComplete:
		return "complete"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Progress is one proving event.
type Progress struct {
	Phase     Phase
	Percent   float64       // 0 to 100
	Remaining time.Duration // Estimate, 0 when unknown
}

// ProgressFunc observes proving. Calls are serialized.
type ProgressFunc func(Progress)

// Prover attaches a proof to every action that lacks one.
//
// Proving never touches the PCZT it is given: it works on a copy, so a
// failed or canceled run leaves no partial proofs behind.
type Prover struct {
	engine engine.Engine
	log    zerolog.Logger
}

// NewProver creates a Prover.
func NewProver(eng engine.Engine, log zerolog.Logger) *Prover {
	return &Prover{engine: eng, log: log}
}

// Prove returns a copy of p with proofs attached.
func (pr *Prover) Prove(ctx context.Context, p *pczt.PCZT, onProgress ProgressFunc) (*pczt.PCZT, error) {
	out := p.Clone()
	var pending []int
	for i := range out.Orchard.Actions {
		if !out.Orchard.Actions[i].HasProof() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil, proverError(pczt.ErrNothingToProve, -1, "no action needs a proof", nil)
	}

	var mu sync.Mutex
	last := Progress{Phase: -1}
	emit := func(ev Progress) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Phase < last.Phase || (ev.Phase == last.Phase && ev.Percent < last.Percent) {
			return
		}
		last = ev
		if onProgress != nil {
			onProgress(ev)
		}
	}

	emit(Progress{Phase: PhaseLoading})
	if err := pr.engine.Load(ctx); err != nil {
		return nil, pr.wrap(ctx, -1, "load proving material", err)
	}

	emit(Progress{Phase: PhasePreparing, Percent: 5})
	for _, i := range pending {
		o := &out.Orchard.Actions[i].Output
		if o.Recipient == nil || o.Value == nil || o.Rseed == nil {
			return nil, proverError(pczt.ErrMissingWitness, i, "action is missing its witness", nil)
		}
	}

	start := time.Now()
	emit(Progress{Phase: PhaseProving, Percent: 10})
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pr.engine.Workers())
	var done int
	for _, i := range pending {
		g.Go(func() error {
			action := &out.Orchard.Actions[i]
			proof, err := pr.engine.ProveAction(gctx, action)
			if err != nil {
				return pr.wrap(gctx, i, "prove action", err)
			}
			action.Proof = proof

			mu.Lock()
			done++
			n := done
			mu.Unlock()
			elapsed := time.Since(start)
			emit(Progress{
				Phase:     PhaseProving,
				Percent:   10 + 80*float64(n)/float64(len(pending)),
				Remaining: elapsed / time.Duration(n) * time.Duration(len(pending)-n),
			})
			pr.log.Debug().Int("action", i).Dur("elapsed", elapsed).Msg("action proved")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	emit(Progress{Phase: PhaseVerifying, Percent: 90})
	for _, i := range pending {
		if err := pr.engine.VerifyProof(ctx, &out.Orchard.Actions[i]); err != nil {
			return nil, proverError(pczt.ErrProofCreationFailed, i, "proof does not verify", err)
		}
	}

	emit(Progress{Phase: PhaseComplete, Percent: 100})
	pr.log.Info().
		Int("proved", len(pending)).
		Dur("elapsed", time.Since(start)).
		Msg("proofs attached")
	return out, nil
}

func (pr *Prover) wrap(ctx context.Context, action int, msg string, err error) error {
	var pe *pczt.ProverError
	switch {
	case errors.As(err, &pe):
		return err
	case ctx.Err() != nil:
		return proverError(pczt.ErrCanceled, action, "proving canceled", ctx.Err())
	case errors.Is(err, engine.ErrMissingWitness):
		return proverError(pczt.ErrMissingWitness, action, msg, err)
	case errors.Is(err, engine.ErrWitnessMismatch):
		return proverError(pczt.ErrProofCreationFailed, action, msg, err)
	}
	return proverError(pczt.ErrEngineFailure, action, msg, err)
}

func proverError(code string, action int, msg string, cause error) error {
	return &pczt.ProverError{Code: code, Message: msg, Action: action, Cause: cause}
}
