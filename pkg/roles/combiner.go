package roles

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

// Combiner merges independently evolved copies of one transaction.
//
// The Combiner role enables parallel workflows:
//   - Multiple parties sign different inputs on their own copies
//   - The prover works on yet another copy
//   - The Combiner unions every filled slot into one PCZT
//
// Combining is additive only. Copies must agree on the base structure
// (globals, inputs, outputs, actions, value balance) and a slot filled in
// two copies must hold the same value. The result does not depend on the
// order of the copies, and combining a copy with itself changes nothing.
type Combiner struct {
	pczts []*pczt.PCZT
}

// NewCombiner creates a new Combiner.
func NewCombiner(pczts []*pczt.PCZT) *Combiner {
	return &Combiner{pczts: pczts}
}

// Combine merges all PCZTs into a new PCZT. The inputs are not modified.
func (c *Combiner) Combine() (*pczt.PCZT, error) {
	if len(c.pczts) == 0 {
		return nil, combineError(pczt.ErrInvalidInput, "no PCZTs to combine")
	}

	result := c.pczts[0].Clone()
	for i := 1; i < len(c.pczts); i++ {
		if err := c.mergeInto(result, c.pczts[i]); err != nil {
			return nil, fmt.Errorf("PCZT %d: %w", i, err)
		}
	}
	return result, nil
}

func (c *Combiner) mergeInto(dst, src *pczt.PCZT) error {
	if err := c.validateCompatible(dst, src); err != nil {
		return err
	}
	if err := c.mergeGlobal(&dst.Global, &src.Global); err != nil {
		return err
	}
	if err := c.mergeTransparentInputs(dst, src); err != nil {
		return err
	}
	if err := c.mergeTransparentOutputs(dst, src); err != nil {
		return err
	}
	return c.mergeOrchard(&dst.Orchard, &src.Orchard)
}

// validateCompatible checks that two PCZTs describe the same transaction.
func (c *Combiner) validateCompatible(a, b *pczt.PCZT) error {
	ga, gb := a.Global, b.Global
	if ga.TxVersion != gb.TxVersion || ga.VersionGroupID != gb.VersionGroupID {
		return mismatch("transaction versions differ")
	}
	if ga.ConsensusBranchID != gb.ConsensusBranchID {
		return mismatch(fmt.Sprintf("consensus branch IDs differ: 0x%x != 0x%x", ga.ConsensusBranchID, gb.ConsensusBranchID))
	}
	if ga.LockTime() != gb.LockTime() || (ga.FallbackLockTime == nil) != (gb.FallbackLockTime == nil) {
		return mismatch("lock times differ")
	}
	if ga.ExpiryHeight != gb.ExpiryHeight {
		return mismatch(fmt.Sprintf("expiry heights differ: %d != %d", ga.ExpiryHeight, gb.ExpiryHeight))
	}
	if ga.CoinType != gb.CoinType || ga.Network != gb.Network {
		return mismatch("networks differ")
	}

	if len(a.Transparent.Inputs) != len(b.Transparent.Inputs) {
		return mismatch(fmt.Sprintf("input counts differ: %d != %d", len(a.Transparent.Inputs), len(b.Transparent.Inputs)))
	}
	for i := range a.Transparent.Inputs {
		x, y := &a.Transparent.Inputs[i], &b.Transparent.Inputs[i]
		if x.PrevoutTxID != y.PrevoutTxID || x.PrevoutIndex != y.PrevoutIndex {
			return mismatch(fmt.Sprintf("input %d spends a different outpoint", i))
		}
		if x.Value != y.Value || !bytes.Equal(x.ScriptPubKey, y.ScriptPubKey) ||
			x.SequenceOrDefault() != y.SequenceOrDefault() || x.SighashType != y.SighashType {
			return mismatch(fmt.Sprintf("input %d differs", i))
		}
	}

	if len(a.Transparent.Outputs) != len(b.Transparent.Outputs) {
		return mismatch(fmt.Sprintf("output counts differ: %d != %d", len(a.Transparent.Outputs), len(b.Transparent.Outputs)))
	}
	for i := range a.Transparent.Outputs {
		x, y := &a.Transparent.Outputs[i], &b.Transparent.Outputs[i]
		if x.Value != y.Value || !bytes.Equal(x.ScriptPubKey, y.ScriptPubKey) || x.Change != y.Change {
			return mismatch(fmt.Sprintf("output %d differs", i))
		}
	}

	oa, ob := &a.Orchard, &b.Orchard
	if oa.Flags != ob.Flags || oa.ValueBalance != ob.ValueBalance || oa.Anchor != ob.Anchor {
		return mismatch("orchard bundles differ")
	}
	if len(oa.Actions) != len(ob.Actions) {
		return mismatch(fmt.Sprintf("action counts differ: %d != %d", len(oa.Actions), len(ob.Actions)))
	}
	for i := range oa.Actions {
		x, y := &oa.Actions[i], &ob.Actions[i]
		if x.CvNet != y.CvNet || x.Spend.Nullifier != y.Spend.Nullifier || x.Spend.Rk != y.Spend.Rk ||
			x.Output.Cmx != y.Output.Cmx || x.Output.EphemeralKey != y.Output.EphemeralKey ||
			!bytes.Equal(x.Output.EncCiphertext, y.Output.EncCiphertext) ||
			!bytes.Equal(x.Output.OutCiphertext, y.Output.OutCiphertext) {
			return mismatch(fmt.Sprintf("action %d differs", i))
		}
	}
	return nil
}

// mergeGlobal unions proprietary fields. A flag stays modifiable only if
// every copy still allows it.
func (c *Combiner) mergeGlobal(dst, src *pczt.Global) error {
	const modifiable = pczt.FlagTransparentInputsModifiable | pczt.FlagTransparentOutputsModifiable | pczt.FlagShieldedModifiable
	dst.TxModifiable = (dst.TxModifiable & src.TxModifiable & modifiable) |
		((dst.TxModifiable | src.TxModifiable) &^ modifiable)

	var err error
	dst.Proprietary, err = mergeProprietary(dst.Proprietary, src.Proprietary, "global")
	return err
}

// mergeTransparentInputs merges, for each input:
//   - Partial signatures (by pubkey), so co-signers of a multisig input
//     can each sign their own copy
//   - BIP32 derivation paths
//   - The redeem script and the final scriptSig
//   - Proprietary fields
func (c *Combiner) mergeTransparentInputs(dst, src *pczt.PCZT) error {
	for i := range dst.Transparent.Inputs {
		d := &dst.Transparent.Inputs[i]
		s := &src.Transparent.Inputs[i]
		where := fmt.Sprintf("input %d", i)

		if len(s.PartialSignatures) > 0 && d.PartialSignatures == nil {
			d.PartialSignatures = map[[33]byte][]byte{}
		}
		for pubkey, sig := range s.PartialSignatures {
			if existing, ok := d.PartialSignatures[pubkey]; ok {
				if !bytes.Equal(existing, sig) {
					return conflict(fmt.Sprintf("%s: conflicting signatures for pubkey %x", where, pubkey))
				}
				continue
			}
			d.PartialSignatures[pubkey] = slices.Clone(sig)
		}

		var err error
		if d.Bip32Derivation, err = mergeDerivations(d.Bip32Derivation, s.Bip32Derivation, where); err != nil {
			return err
		}
		if err := mergeBytes(&d.RedeemScript, s.RedeemScript, where+" redeem script"); err != nil {
			return err
		}
		if err := mergeBytes(&d.ScriptSig, s.ScriptSig, where+" scriptSig"); err != nil {
			return err
		}
		if d.Proprietary, err = mergeProprietary(d.Proprietary, s.Proprietary, where); err != nil {
			return err
		}
	}
	return nil
}

// mergeTransparentOutputs merges derivations, user addresses and
// proprietary fields.
func (c *Combiner) mergeTransparentOutputs(dst, src *pczt.PCZT) error {
	for i := range dst.Transparent.Outputs {
		d := &dst.Transparent.Outputs[i]
		s := &src.Transparent.Outputs[i]
		where := fmt.Sprintf("output %d", i)

		var err error
		if d.Bip32Derivation, err = mergeDerivations(d.Bip32Derivation, s.Bip32Derivation, where); err != nil {
			return err
		}
		if err := mergeOpt(&d.UserAddress, s.UserAddress, where+" address"); err != nil {
			return err
		}
		if d.Proprietary, err = mergeProprietary(d.Proprietary, s.Proprietary, where); err != nil {
			return err
		}
	}
	return nil
}

// mergeOrchard merges proofs, spend authorizations, witness data and the
// binding material.
func (c *Combiner) mergeOrchard(dst, src *pczt.OrchardBundle) error {
	for i := range dst.Actions {
		d := &dst.Actions[i]
		s := &src.Actions[i]
		where := fmt.Sprintf("action %d", i)

		if err := mergeBytes(&d.Proof, s.Proof, where+" proof"); err != nil {
			return err
		}
		if err := mergeOpt(&d.Rcv, s.Rcv, where+" rcv"); err != nil {
			return err
		}
		if err := mergeOpt(&d.Spend.SpendAuthSig, s.Spend.SpendAuthSig, where+" spend authorization"); err != nil {
			return err
		}
		if err := mergeOpt(&d.Spend.Value, s.Spend.Value, where+" spend value"); err != nil {
			return err
		}
		if err := mergeOpt(&d.Spend.DummySk, s.Spend.DummySk, where+" dummy key"); err != nil {
			return err
		}
		if err := mergeOpt(&d.Output.Recipient, s.Output.Recipient, where+" recipient"); err != nil {
			return err
		}
		if err := mergeOpt(&d.Output.Value, s.Output.Value, where+" value"); err != nil {
			return err
		}
		if err := mergeOpt(&d.Output.Rseed, s.Output.Rseed, where+" rseed"); err != nil {
			return err
		}
		if err := mergeOpt(&d.Output.UserAddress, s.Output.UserAddress, where+" address"); err != nil {
			return err
		}
		var err error
		if d.Spend.Proprietary, err = mergeProprietary(d.Spend.Proprietary, s.Spend.Proprietary, where+" spend"); err != nil {
			return err
		}
		if d.Output.Proprietary, err = mergeProprietary(d.Output.Proprietary, s.Output.Proprietary, where+" output"); err != nil {
			return err
		}
	}
	if err := mergeOpt(&dst.Bsk, src.Bsk, "bsk"); err != nil {
		return err
	}
	return mergeOpt(&dst.BindingSig, src.BindingSig, "binding signature")
}

func mergeOpt[T comparable](dst **T, src *T, what string) error {
	switch {
	case src == nil:
	case *dst == nil:
		v := *src
		*dst = &v
	case **dst != *src:
		return conflict(what + " differs")
	}
	return nil
}

func mergeBytes(dst *[]byte, src []byte, what string) error {
	switch {
	case len(src) == 0:
	case len(*dst) == 0:
		*dst = slices.Clone(src)
	case !bytes.Equal(*dst, src):
		return conflict(what + " differs")
	}
	return nil
}

func mergeProprietary(dst, src map[string][]byte, where string) (map[string][]byte, error) {
	if len(src) > 0 && dst == nil {
		dst = map[string][]byte{}
	}
	for k, v := range src {
		if existing, ok := dst[k]; ok {
			if !bytes.Equal(existing, v) {
				return nil, conflict(fmt.Sprintf("%s: proprietary field %q differs", where, k))
			}
			continue
		}
		dst[k] = slices.Clone(v)
	}
	return dst, nil
}

func mergeDerivations(dst, src map[[33]byte]pczt.Zip32Derivation, where string) (map[[33]byte]pczt.Zip32Derivation, error) {
	if len(src) > 0 && dst == nil {
		dst = map[[33]byte]pczt.Zip32Derivation{}
	}
	for k, v := range src {
		if existing, ok := dst[k]; ok {
			if existing.SeedFingerprint != v.SeedFingerprint || !slices.Equal(existing.DerivationPath, v.DerivationPath) {
				return nil, conflict(fmt.Sprintf("%s: derivation for %x differs", where, k))
			}
			continue
		}
		dst[k] = pczt.Zip32Derivation{SeedFingerprint: v.SeedFingerprint, DerivationPath: slices.Clone(v.DerivationPath)}
	}
	return dst, nil
}

func combineError(code, msg string) error {
	return &pczt.CombineError{Code: code, Message: msg}
}

func mismatch(msg string) error { return combineError(pczt.ErrStructureMismatch, msg) }
func conflict(msg string) error { return combineError(pczt.ErrConflictingData, msg) }
