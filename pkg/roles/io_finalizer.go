package roles

import (
	"fmt"

	"github.com/suffix-labs/zcash-pct/pkg/crypto"
	"github.com/suffix-labs/zcash-pct/pkg/engine"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

// IoFinalizer finalizes inputs and outputs, preparing for signing.
//
// The IO Finalizer role:
//   - Clears all modification flags (no more I/O changes allowed)
//   - Computes the Orchard binding signature key (bsk)
//   - Signs dummy spends with their temporary keys
//   - Clears the dummy spending keys
//
// After this role executes, the PCZT structure is locked and ready for
// the Prover and the transparent signers.
type IoFinalizer struct {
	pczt   *pczt.PCZT
	engine engine.Engine
}

// NewIoFinalizer creates a new IO Finalizer.
func NewIoFinalizer(p *pczt.PCZT, eng engine.Engine) *IoFinalizer {
	return &IoFinalizer{pczt: p, engine: eng}
}

// Finalize performs IO finalization.
func (f *IoFinalizer) Finalize() error {
	// Signers rely on the structure being final from here on.
	f.pczt.Global.TxModifiable = 0

	actions := f.pczt.Orchard.Actions
	if len(actions) == 0 {
		return nil
	}

	// bsk = sum(rcv_i) over all actions
	bsk, err := f.engine.BindingKey(actions)
	if err != nil {
		return fmt.Errorf("binding key: %w", err)
	}
	f.pczt.Orchard.Bsk = &bsk

	// The shielded sighash does not cover spend authorizations, so it is
	// fixed once the flags are cleared.
	sighash := crypto.ShieldedSighash(f.pczt)
	for i := range actions {
		if actions[i].Spend.DummySk == nil {
			continue
		}
		if err := f.engine.SignSpendAuth(&actions[i], sighash); err != nil {
			return fmt.Errorf("action %d: sign dummy spend: %w", i, err)
		}
		actions[i].Spend.DummySk = nil
	}
	return nil
}

// Finish returns the finalized PCZT.
func (f *IoFinalizer) Finish() *pczt.PCZT {
	return f.pczt
}
