package pczt

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// MaxMoney is the largest valid amount in zatoshis (21 million ZEC).
const MaxMoney uint64 = 21_000_000 * 100_000_000

var ErrValueOverflow = errors.New("value overflow")

// Totals are the value flows of a PCZT, computed from its inputs and
// outputs.
type Totals struct {
	Inputs             uint64
	TransparentOutputs uint64
	ShieldedOutputs    uint64
	Change             uint64 // Transparent outputs marked as change
}

// Fee is the implicit fee. It is negative when outputs exceed inputs.
func (t Totals) Fee() int64 {
	return int64(t.Inputs) - int64(t.TransparentOutputs) - int64(t.ShieldedOutputs)
}

// ComputeTotals sums the PCZT's value flows. The shielded total is taken
// from the Orchard value balance, which is what the transaction commits to.
func ComputeTotals(p *PCZT) (Totals, error) {
	var t Totals
	var carry uint64
	for i := range p.Transparent.Inputs {
		t.Inputs, carry = bits.Add64(t.Inputs, p.Transparent.Inputs[i].Value, 0)
		if carry != 0 || t.Inputs > MaxMoney {
			return Totals{}, fmt.Errorf("transparent inputs: %w", ErrValueOverflow)
		}
	}
	for i := range p.Transparent.Outputs {
		out := &p.Transparent.Outputs[i]
		t.TransparentOutputs, carry = bits.Add64(t.TransparentOutputs, out.Value, 0)
		if carry != 0 || t.TransparentOutputs > MaxMoney {
			return Totals{}, fmt.Errorf("transparent outputs: %w", ErrValueOverflow)
		}
		if out.Change {
			t.Change += out.Value
		}
	}
	vb := p.Orchard.ValueBalance
	if vb > 0 {
		return Totals{}, fmt.Errorf("positive orchard value balance %d: shielded spends are not supported", vb)
	}
	if vb == math.MinInt64 || uint64(-vb) > MaxMoney {
		return Totals{}, fmt.Errorf("orchard value balance: %w", ErrValueOverflow)
	}
	t.ShieldedOutputs = uint64(-vb)
	return t, nil
}

// Clone returns a deep copy of p. Roles work on clones so that a failed
// transformation never leaves a half-modified PCZT behind.
func (p *PCZT) Clone() *PCZT {
	if p == nil {
		return nil
	}
	c := &PCZT{
		Global: p.Global,
		Orchard: OrchardBundle{
			Flags:        p.Orchard.Flags,
			ValueBalance: p.Orchard.ValueBalance,
			Anchor:       p.Orchard.Anchor,
			Bsk:          clonePtr(p.Orchard.Bsk),
			BindingSig:   clonePtr(p.Orchard.BindingSig),
		},
	}
	c.Global.FallbackLockTime = clonePtr(p.Global.FallbackLockTime)
	c.Global.Proprietary = cloneProprietary(p.Global.Proprietary)

	c.Transparent.Inputs = make([]TransparentInput, len(p.Transparent.Inputs))
	for i := range p.Transparent.Inputs {
		in := &p.Transparent.Inputs[i]
		c.Transparent.Inputs[i] = TransparentInput{
			PrevoutTxID:       in.PrevoutTxID,
			PrevoutIndex:      in.PrevoutIndex,
			Sequence:          clonePtr(in.Sequence),
			Value:             in.Value,
			ScriptPubKey:      cloneBytes(in.ScriptPubKey),
			RedeemScript:      cloneBytes(in.RedeemScript),
			SighashType:       in.SighashType,
			ScriptSig:         cloneBytes(in.ScriptSig),
			PartialSignatures: make(map[[33]byte][]byte, len(in.PartialSignatures)),
			Bip32Derivation:   cloneDerivations(in.Bip32Derivation),
			Proprietary:       cloneProprietary(in.Proprietary),
		}
		for k, v := range in.PartialSignatures {
			c.Transparent.Inputs[i].PartialSignatures[k] = cloneBytes(v)
		}
	}

	c.Transparent.Outputs = make([]TransparentOutput, len(p.Transparent.Outputs))
	for i := range p.Transparent.Outputs {
		out := &p.Transparent.Outputs[i]
		c.Transparent.Outputs[i] = TransparentOutput{
			Value:           out.Value,
			ScriptPubKey:    cloneBytes(out.ScriptPubKey),
			UserAddress:     clonePtr(out.UserAddress),
			Change:          out.Change,
			Bip32Derivation: cloneDerivations(out.Bip32Derivation),
			Proprietary:     cloneProprietary(out.Proprietary),
		}
	}

	c.Orchard.Actions = make([]OrchardAction, len(p.Orchard.Actions))
	for i := range p.Orchard.Actions {
		a := &p.Orchard.Actions[i]
		c.Orchard.Actions[i] = OrchardAction{
			CvNet: a.CvNet,
			Spend: OrchardSpend{
				Nullifier:    a.Spend.Nullifier,
				Rk:           a.Spend.Rk,
				SpendAuthSig: clonePtr(a.Spend.SpendAuthSig),
				Value:        clonePtr(a.Spend.Value),
				DummySk:      clonePtr(a.Spend.DummySk),
				Proprietary:  cloneProprietary(a.Spend.Proprietary),
			},
			Output: OrchardOutput{
				Cmx:           a.Output.Cmx,
				EphemeralKey:  a.Output.EphemeralKey,
				EncCiphertext: cloneBytes(a.Output.EncCiphertext),
				OutCiphertext: cloneBytes(a.Output.OutCiphertext),
				Recipient:     clonePtr(a.Output.Recipient),
				Value:         clonePtr(a.Output.Value),
				Rseed:         clonePtr(a.Output.Rseed),
				UserAddress:   clonePtr(a.Output.UserAddress),
				Proprietary:   cloneProprietary(a.Output.Proprietary),
			},
			Rcv:   clonePtr(a.Rcv),
			Proof: cloneBytes(a.Proof),
		}
	}
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func cloneProprietary(m map[string][]byte) map[string][]byte {
	c := make(map[string][]byte, len(m))
	for k, v := range m {
		c[k] = cloneBytes(v)
	}
	return c
}

func cloneDerivations(m map[[33]byte]Zip32Derivation) map[[33]byte]Zip32Derivation {
	c := make(map[[33]byte]Zip32Derivation, len(m))
	for k, v := range m {
		c[k] = Zip32Derivation{
			SeedFingerprint: v.SeedFingerprint,
			DerivationPath:  append([]uint32(nil), v.DerivationPath...),
		}
	}
	return c
}
