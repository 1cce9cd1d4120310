package roles

import (
	"fmt"

	"github.com/suffix-labs/zcash-pct/pkg/address"
	"github.com/suffix-labs/zcash-pct/pkg/crypto"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

// SpendFinalizer finalizes transparent inputs by constructing scriptSigs.
//
// The Spend Finalizer role:
//   - Takes the partial signatures collected by the Signer role
//   - Constructs the scriptSig for each P2PKH or multisig P2SH input
//   - Clears signing metadata after finalization
type SpendFinalizer struct {
	pczt *pczt.PCZT
}

// NewSpendFinalizer creates a new Spend Finalizer.
func NewSpendFinalizer(p *pczt.PCZT) *SpendFinalizer {
	return &SpendFinalizer{pczt: p}
}

// Finalize finalizes all transparent inputs. Inputs that already carry a
// scriptSig are left alone.
func (f *SpendFinalizer) Finalize() error {
	for i := range f.pczt.Transparent.Inputs {
		input := &f.pczt.Transparent.Inputs[i]
		if len(input.ScriptSig) > 0 {
			continue
		}
		var err error
		if len(input.RedeemScript) > 0 {
			err = f.finalizeP2SH(input)
		} else {
			err = f.finalizeP2PKH(input)
		}
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		input.PartialSignatures = nil
		input.Bip32Derivation = nil
	}
	return nil
}

// finalizeP2PKH builds <DER signature || sighash type> <pubkey>.
func (f *SpendFinalizer) finalizeP2PKH(input *pczt.TransparentInput) error {
	if len(input.PartialSignatures) != 1 {
		return fmt.Errorf("P2PKH requires exactly 1 signature, got %d", len(input.PartialSignatures))
	}
	for pubkey, sig := range input.PartialSignatures {
		der, err := scriptSignature(sig)
		if err != nil {
			return err
		}
		input.ScriptSig = pushData(pushData(nil, der), pubkey[:])
	}
	return nil
}

// finalizeP2SH builds OP_0 <sig>... <redeemScript>. CHECKMULTISIG pops one
// extra stack item, and the signatures must follow the key order of the
// redeem script. Only the first m signatures in that order are used.
func (f *SpendFinalizer) finalizeP2SH(input *pczt.TransparentInput) error {
	ms, err := address.ParseMultisig(input.RedeemScript)
	if err != nil {
		return err
	}
	script := []byte{opZero}
	used := 0
	for _, key := range ms.Keys {
		if used == ms.Required {
			break
		}
		sig, ok := input.PartialSignatures[key]
		if !ok {
			continue
		}
		der, err := scriptSignature(sig)
		if err != nil {
			return fmt.Errorf("key %x: %w", key, err)
		}
		script = pushData(script, der)
		used++
	}
	if used < ms.Required {
		return fmt.Errorf("P2SH input requires %d signatures, got %d", ms.Required, used)
	}
	input.ScriptSig = pushData(script, input.RedeemScript)
	return nil
}

// Finish returns the finalized PCZT.
func (f *SpendFinalizer) Finish() *pczt.PCZT {
	return f.pczt
}

// scriptSignature turns a stored compact signature and sighash type into
// the DER encoding scripts carry.
func scriptSignature(sig []byte) ([]byte, error) {
	if len(sig) != crypto.CompactSignatureSize+1 {
		return nil, fmt.Errorf("malformed partial signature of %d bytes", len(sig))
	}
	der, err := crypto.DERSignature(sig[:crypto.CompactSignatureSize])
	if err != nil {
		return nil, err
	}
	return append(der, sig[crypto.CompactSignatureSize]), nil
}

const (
	opZero      = 0x00
	opPushData1 = 0x4c
	opPushData2 = 0x4d
)

// pushData appends the smallest push of data to script.
func pushData(script, data []byte) []byte {
	switch n := len(data); {
	case n <= 75:
		script = append(script, byte(n))
	case n <= 0xff:
		script = append(script, opPushData1, byte(n))
	default:
		script = append(script, opPushData2, byte(n), byte(n>>8))
	}
	return append(script, data...)
}
