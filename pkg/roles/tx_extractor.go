package roles

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/suffix-labs/zcash-pct/pkg/crypto"
	"github.com/suffix-labs/zcash-pct/pkg/engine"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

// Transaction is the terminal artifact: raw v5 bytes and the txid.
//
// Only transactions without Orchard actions can be broadcast. With the
// Groth16 engine an Orchard bundle follows the v5 layout but carries
// 33-byte secp256k1 cv_net and rk values and BN254 proofs, which consensus
// nodes reject.
type Transaction struct {
	Bytes []byte
	TxID  [32]byte
}

// ID renders the txid the way block explorers show it.
func (t *Transaction) ID() string {
	return crypto.FormatTxID(t.TxID)
}

// TxExtractor extracts a final Zcash transaction from a finalized PCZT.
//
// The Transaction Extractor role:
//   - Verifies every proof and spend authorization through the engine
//   - Creates the Orchard binding signature and clears bsk
//   - Serializes the transaction in Zcash v5 format
//
// Transparent-only output is network-valid. Output with Orchard actions is
// not; see Transaction.
type TxExtractor struct {
	pczt   *pczt.PCZT
	engine engine.Engine
}

// NewTxExtractor creates a new Transaction Extractor.
func NewTxExtractor(p *pczt.PCZT, eng engine.Engine) *TxExtractor {
	return &TxExtractor{pczt: p, engine: eng}
}

// Extract produces the final transaction.
func (e *TxExtractor) Extract(ctx context.Context) (*Transaction, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	if len(e.pczt.Orchard.Actions) > 0 {
		if err := e.authorizeOrchard(ctx); err != nil {
			return nil, err
		}
	}

	raw, err := e.serializeTransaction()
	if err != nil {
		return nil, fmt.Errorf("serialize transaction: %w", err)
	}
	return &Transaction{Bytes: raw, TxID: crypto.TxID(e.pczt)}, nil
}

func (e *TxExtractor) validate() error {
	for i := range e.pczt.Transparent.Inputs {
		if len(e.pczt.Transparent.Inputs[i].ScriptSig) == 0 {
			return fmt.Errorf("input %d missing scriptSig (not finalized)", i)
		}
	}
	if _, err := pczt.ComputeTotals(e.pczt); err != nil {
		return err
	}
	return nil
}

// authorizeOrchard checks the proofs and spend authorizations, then binds
// the value balance with the binding signature.
func (e *TxExtractor) authorizeOrchard(ctx context.Context) error {
	bundle := &e.pczt.Orchard
	sighash := crypto.ShieldedSighash(e.pczt)
	for i := range bundle.Actions {
		a := &bundle.Actions[i]
		if err := e.engine.VerifyProof(ctx, a); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		if err := e.engine.VerifySpendAuth(a, sighash); err != nil {
			return fmt.Errorf("action %d: spend authorization: %w", i, err)
		}
	}

	if bundle.BindingSig == nil {
		sig, err := e.engine.SignBinding(bundle, sighash)
		if err != nil {
			return fmt.Errorf("binding signature: %w", err)
		}
		bundle.BindingSig = &sig
	}
	if err := e.engine.VerifyBinding(bundle, sighash); err != nil {
		return fmt.Errorf("binding signature: %w", err)
	}
	bundle.Bsk = nil
	return nil
}

// serializeTransaction writes the v5 layout (ZIP 225):
//   - Header (version, version_group_id, consensus_branch_id, lock_time, expiry_height)
//   - Transparent bundle
//   - Empty Sapling bundle
//   - Orchard bundle
func (e *TxExtractor) serializeTransaction() ([]byte, error) {
	var buf bytes.Buffer
	e.writeHeader(&buf)
	e.writeTransparentBundle(&buf)

	writeCompactSize(&buf, 0) // Sapling spends
	writeCompactSize(&buf, 0) // Sapling outputs

	if err := e.writeOrchardBundle(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *TxExtractor) writeHeader(buf *bytes.Buffer) {
	g := &e.pczt.Global
	// The version field carries the overwintered bit.
	writeU32(buf, g.TxVersion|1<<31)
	writeU32(buf, g.VersionGroupID)
	writeU32(buf, g.ConsensusBranchID)
	writeU32(buf, g.LockTime())
	writeU32(buf, g.ExpiryHeight)
}

func (e *TxExtractor) writeTransparentBundle(buf *bytes.Buffer) {
	writeCompactSize(buf, uint64(len(e.pczt.Transparent.Inputs)))
	for i := range e.pczt.Transparent.Inputs {
		input := &e.pczt.Transparent.Inputs[i]
		buf.Write(input.PrevoutTxID[:])
		writeU32(buf, input.PrevoutIndex)
		writeCompactSize(buf, uint64(len(input.ScriptSig)))
		buf.Write(input.ScriptSig)
		writeU32(buf, input.SequenceOrDefault())
	}

	writeCompactSize(buf, uint64(len(e.pczt.Transparent.Outputs)))
	for i := range e.pczt.Transparent.Outputs {
		output := &e.pczt.Transparent.Outputs[i]
		buf.Write(binary.LittleEndian.AppendUint64(nil, output.Value))
		writeCompactSize(buf, uint64(len(output.ScriptPubKey)))
		buf.Write(output.ScriptPubKey)
	}
}

// writeOrchardBundle writes the actions, then flags, value balance and
// anchor, then the proofs, spend authorizations and binding signature.
// Each action's proof is length-prefixed inside the proofs field. Field
// widths follow the engine, so the bundle is not consensus-valid Orchard.
func (e *TxExtractor) writeOrchardBundle(buf *bytes.Buffer) error {
	ob := &e.pczt.Orchard
	writeCompactSize(buf, uint64(len(ob.Actions)))
	if len(ob.Actions) == 0 {
		return nil
	}

	for i := range ob.Actions {
		a := &ob.Actions[i]
		if len(a.Output.EncCiphertext) != pczt.NoteCiphertextSize || len(a.Output.OutCiphertext) != pczt.OutCiphertextSize {
			return fmt.Errorf("action %d: malformed ciphertexts", i)
		}
		buf.Write(a.CvNet[:])
		buf.Write(a.Spend.Nullifier[:])
		buf.Write(a.Spend.Rk[:])
		buf.Write(a.Output.Cmx[:])
		buf.Write(a.Output.EphemeralKey[:])
		buf.Write(a.Output.EncCiphertext)
		buf.Write(a.Output.OutCiphertext)
	}

	buf.WriteByte(ob.Flags)
	buf.Write(binary.LittleEndian.AppendUint64(nil, uint64(ob.ValueBalance)))
	buf.Write(ob.Anchor[:])

	var proofs []byte
	for i := range ob.Actions {
		proofs = crypto.AppendCompactSize(proofs, uint64(len(ob.Actions[i].Proof)))
		proofs = append(proofs, ob.Actions[i].Proof...)
	}
	writeCompactSize(buf, uint64(len(proofs)))
	buf.Write(proofs)

	for i := range ob.Actions {
		if ob.Actions[i].Spend.SpendAuthSig == nil {
			return fmt.Errorf("action %d missing spend_auth_sig", i)
		}
		buf.Write(ob.Actions[i].Spend.SpendAuthSig[:])
	}
	if ob.BindingSig == nil {
		return fmt.Errorf("orchard bundle missing binding signature")
	}
	buf.Write(ob.BindingSig[:])
	return nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	buf.Write(binary.LittleEndian.AppendUint32(nil, v))
}

func writeCompactSize(buf *bytes.Buffer, n uint64) {
	buf.Write(crypto.AppendCompactSize(nil, n))
}

// Finalize checks readiness, then runs the Spend Finalizer and the
// Transaction Extractor on a copy of p. When p is not ready the error's
// Missing list equals CheckReadiness(p).Missing.
func Finalize(ctx context.Context, eng engine.Engine, p *pczt.PCZT) (*Transaction, error) {
	if r := CheckReadiness(p); !r.Ready {
		return nil, &pczt.FinalizationError{
			Code:    pczt.ErrIncomplete,
			Message: "transaction is not ready",
			Missing: r.Missing,
		}
	}

	work := p.Clone()
	sf := NewSpendFinalizer(work)
	if err := sf.Finalize(); err != nil {
		return nil, &pczt.FinalizationError{Code: pczt.ErrInvalidPCZT, Message: "spend finalization", Cause: err}
	}
	tx, err := NewTxExtractor(sf.Finish(), eng).Extract(ctx)
	if err != nil {
		return nil, &pczt.FinalizationError{Code: pczt.ErrEngineFailure, Message: "extraction", Cause: err}
	}
	return tx, nil
}
