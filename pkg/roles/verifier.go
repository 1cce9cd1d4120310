package roles

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/suffix-labs/zcash-pct/pkg/address"
	"github.com/suffix-labs/zcash-pct/pkg/engine"
	"github.com/suffix-labs/zcash-pct/pkg/fees"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
	"github.com/suffix-labs/zcash-pct/pkg/zip321"
)

// Names of the verification checks.
const (
	CheckInputsPresent       = "inputs_present"
	CheckTransparentOutputs  = "transparent_output_count"
	CheckShieldedBundle      = "shielded_bundle"
	CheckChange              = "change"
	CheckNoUnexpectedOutputs = "no_unexpected_outputs"
	CheckValueBalance        = "value_balance"
	CheckFeePolicy           = "fee_policy"
	CheckProofs              = "proofs"
)

// highFeeFactor is how many times the conventional fee triggers a warning.
const highFeeFactor = 10

// ExpectedChange is the change a signer expects the transaction to return.
type ExpectedChange struct {
	Transparent []ExpectedOutput
	Shielded    uint64 // Always zero for transparent-only wallets
}

// ExpectedOutput names a transparent output by address or script.
type ExpectedOutput struct {
	Address      string
	ScriptPubKey []byte
	Value        uint64
}

// Check is one named verification result.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// VerificationReport is the outcome of Verify. Failed checks are data.
type VerificationReport struct {
	Valid    bool     `json:"valid"`
	Checks   []Check  `json:"checks"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *VerificationReport) pass(name string) {
	r.Checks = append(r.Checks, Check{Name: name, Passed: true})
}

func (r *VerificationReport) fail(name, format string, args ...any) {
	r.Checks = append(r.Checks, Check{Name: name, Reason: fmt.Sprintf(format, args...)})
}

func (r *VerificationReport) check(name string, ok bool, format string, args ...any) {
	if ok {
		r.pass(name)
	} else {
		r.fail(name, format, args...)
	}
}

func (r *VerificationReport) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Failed returns the checks that did not pass.
func (r *VerificationReport) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Verifier re-derives the structure a payment request implies and compares
// it with a PCZT, so that a signer who did not construct the transaction
// does not sign blindly.
type Verifier struct {
	engine engine.Engine
}

// NewVerifier creates a Verifier.
func NewVerifier(eng engine.Engine) *Verifier {
	return &Verifier{engine: eng}
}

// Verify runs every check. It returns an error only when verification
// itself could not run.
func (v *Verifier) Verify(ctx context.Context, p *pczt.PCZT, req *zip321.PaymentRequest, expected ExpectedChange) (*VerificationReport, error) {
	r := &VerificationReport{}
	net := p.Global.Network
	outputs := p.Transparent.Outputs
	actions := p.Orchard.Actions
	claimedOut := make([]bool, len(outputs))
	claimedAction := make([]bool, len(actions))

	r.check(CheckInputsPresent, len(p.Transparent.Inputs) > 0, "transaction has no inputs")

	var payments []zip321.Payment
	if req != nil {
		payments = req.Payments
	}
	var nTransparent, nShielded int
	var shieldedPaid uint64
	decoded := make([]address.Address, len(payments))
	decodeErrs := make([]error, len(payments))
	for i, pay := range payments {
		decoded[i], decodeErrs[i] = address.Decode(pay.Address, net)
		if _, ok := decoded[i].(*address.Unified); ok {
			nShielded++
			shieldedPaid += pay.Amount
		} else {
			nTransparent++
		}
	}

	r.check(CheckTransparentOutputs, len(outputs) >= nTransparent,
		"%d transparent outputs for %d transparent payments", len(outputs), nTransparent)

	switch {
	case nShielded > 0:
		r.check(CheckShieldedBundle, len(actions) >= nShielded,
			"%d actions for %d shielded payments", len(actions), nShielded)
	case len(actions) > 0:
		r.pass(CheckShieldedBundle)
		r.warn("shielded bundle with %d actions present although no shielded payment was requested", len(actions))
	default:
		r.pass(CheckShieldedBundle)
	}

	for i, pay := range payments {
		name := fmt.Sprintf("payment[%d]", i)
		if decodeErrs[i] != nil {
			r.fail(name, "address: %v", decodeErrs[i])
			continue
		}
		switch a := decoded[i].(type) {
		case *address.Transparent:
			script := a.Script()
			idx := findOutput(outputs, claimedOut, script, pay.Amount)
			if idx < 0 {
				r.fail(name, "no transparent output pays %d to %s", pay.Amount, pay.Address)
				continue
			}
			claimedOut[idx] = true
			r.pass(name)
		case *address.Unified:
			if a.Orchard == nil {
				r.fail(name, "unified address has no Orchard receiver")
				continue
			}
			idx, err := v.findAction(actions, claimedAction, *a.Orchard, pay)
			if err != nil {
				return nil, &pczt.VerificationError{Code: pczt.ErrEngineFailure, Message: "note decryption", Cause: err}
			}
			if idx < 0 {
				r.fail(name, "no shielded action pays %d to %s with the requested memo", pay.Amount, pay.Address)
				continue
			}
			claimedAction[idx] = true
			r.pass(name)
		}
	}

	v.checkChange(r, p, claimedOut, expected)

	var unexpected []string
	for i, claimed := range claimedOut {
		if !claimed {
			unexpected = append(unexpected, fmt.Sprintf("transparent output %d (%d zatoshis)", i, outputs[i].Value))
		}
	}
	if shielded := uint64(-min(p.Orchard.ValueBalance, 0)); shielded != shieldedPaid+expected.Shielded {
		unexpected = append(unexpected, fmt.Sprintf("%d zatoshis shielded, %d requested", shielded, shieldedPaid+expected.Shielded))
	}
	r.check(CheckNoUnexpectedOutputs, len(unexpected) == 0, "unexpected: %v", unexpected)

	totals, err := pczt.ComputeTotals(p)
	if err != nil {
		r.fail(CheckValueBalance, "%v", err)
		r.fail(CheckFeePolicy, "fee unknown")
	} else {
		fee := totals.Fee()
		r.check(CheckValueBalance, fee >= 0,
			"outputs of %d exceed inputs of %d", totals.TransparentOutputs+totals.ShieldedOutputs, totals.Inputs)
		v.checkFee(r, p, fee)
	}

	if err := v.checkProofs(ctx, r, p); err != nil {
		return nil, err
	}

	r.Valid = true
	for _, c := range r.Checks {
		r.Valid = r.Valid && c.Passed
	}
	return r, nil
}

func findOutput(outputs []pczt.TransparentOutput, claimed []bool, script []byte, value uint64) int {
	for i := range outputs {
		if !claimed[i] && outputs[i].Value == value && bytes.Equal(outputs[i].ScriptPubKey, script) {
			return i
		}
	}
	return -1
}

// findAction returns the first unclaimed action whose note decrypts for
// the recipient with the payment's value and memo.
func (v *Verifier) findAction(actions []pczt.OrchardAction, claimed []bool, recipient [address.OrchardReceiverSize]byte, pay zip321.Payment) (int, error) {
	for i := range actions {
		if claimed[i] {
			continue
		}
		note, err := v.engine.DecryptNote(&actions[i], recipient)
		if errors.Is(err, engine.ErrDecryption) {
			continue
		}
		if err != nil {
			return -1, err
		}
		if note.Value == pay.Amount && memoMatches(note.Memo[:], pay.Memo) {
			return i, nil
		}
	}
	return -1, nil
}

// memoMatches compares a padded memo field with requested memo bytes. An
// empty request matches the "no memo" marker.
func memoMatches(field, memo []byte) bool {
	if len(memo) == 0 {
		return field[0] == 0xF6 && allZero(field[1:])
	}
	return len(memo) <= len(field) && bytes.Equal(field[:len(memo)], memo) && allZero(field[len(memo):])
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (v *Verifier) checkChange(r *VerificationReport, p *pczt.PCZT, claimed []bool, expected ExpectedChange) {
	outputs := p.Transparent.Outputs
	if expected.Shielded > 0 {
		r.fail(CheckChange, "shielded change of %d expected but transactions only return transparent change", expected.Shielded)
		return
	}
	for i, exp := range expected.Transparent {
		script := exp.ScriptPubKey
		if exp.Address != "" {
			addr, err := address.DecodeTransparent(exp.Address, p.Global.Network)
			if err != nil {
				r.fail(CheckChange, "expected change %d: %v", i, err)
				return
			}
			script = addr.Script()
		}
		idx := findOutput(outputs, claimed, script, exp.Value)
		if idx < 0 {
			r.fail(CheckChange, "no output returns expected change of %d", exp.Value)
			return
		}
		claimed[idx] = true
	}
	var marked int
	for i := range outputs {
		if outputs[i].Change {
			marked++
		}
	}
	r.check(CheckChange, marked == len(expected.Transparent),
		"%d outputs marked as change, %d expected", marked, len(expected.Transparent))
}

func (v *Verifier) checkFee(r *VerificationReport, p *pczt.PCZT, fee int64) {
	shape := fees.Shape{
		TransparentInputs:  len(p.Transparent.Inputs),
		TransparentOutputs: len(p.Transparent.Outputs),
		OrchardActions:     len(p.Orchard.Actions),
	}
	for i := range p.Transparent.Inputs {
		shape.TransparentInputSize += fees.InputSize(p.Transparent.Inputs[i].RedeemScript)
	}
	conventional := fees.ConventionalFee(shape)
	recorded, hasRecorded := recordedFee(p)
	ok := fee >= 0 && (uint64(fee) == conventional || (hasRecorded && uint64(fee) == recorded))
	r.check(CheckFeePolicy, ok, "fee %d matches neither the ZIP 317 fee %d nor the recorded fee", fee, conventional)
	if fee > 0 && uint64(fee) > highFeeFactor*conventional {
		r.warn("fee %d is more than %d times the conventional fee %d", fee, highFeeFactor, conventional)
	}
}

func recordedFee(p *pczt.PCZT) (uint64, bool) {
	b, ok := p.Global.Proprietary[pczt.ProprietaryFee]
	if !ok || len(b) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

// checkProofs verifies the proofs that are present and warns about the
// ones still missing.
func (v *Verifier) checkProofs(ctx context.Context, r *VerificationReport, p *pczt.PCZT) error {
	var unproved, proved int
	var bad []int
	for i := range p.Orchard.Actions {
		a := &p.Orchard.Actions[i]
		if !a.HasProof() {
			unproved++
			continue
		}
		proved++
		err := v.engine.VerifyProof(ctx, a)
		switch {
		case err == nil:
		case errors.Is(err, engine.ErrInvalidProof):
			bad = append(bad, i)
		default:
			return &pczt.VerificationError{Code: pczt.ErrEngineFailure, Message: "proof verification", Cause: err}
		}
	}
	if unproved > 0 {
		r.warn("%d of %d actions are not proved yet", unproved, len(p.Orchard.Actions))
	}
	if proved > 0 {
		r.check(CheckProofs, len(bad) == 0, "invalid proofs on actions %v", bad)
	}
	return nil
}
