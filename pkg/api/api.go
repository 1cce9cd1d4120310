// Package api provides the high-level public API for PCZT operations.
//
// This is the main entry point for applications using the zcash-pct library.
// Manager runs the lifecycle over consumable handles; the package-level
// functions below wrap it for callers that pass serialized PCZTs around:
//
//  1. ProposeTransaction - Creates a PCZT paying a ZIP 321 request
//  2. ProveTransaction - Attaches a proof to every Orchard action
//  3. VerifyBeforeSigning - Checks a PCZT against the request it should pay
//  4. GetSighash - Computes the signature hash for an input
//  5. AppendSignature - Adds a signature to an input
//  6. Combine - Merges copies carrying different signatures and proofs
//  7. FinalizeAndExtract - Finalizes and extracts the final transaction
//  8. ParsePCZT / SerializePCZT - Binary encoding/decoding
//
// The package-level functions use engine.Default() and a silent logger.
package api

import (
	"context"
	"sync"

	"github.com/suffix-labs/zcash-pct/pkg/fees"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
	"github.com/suffix-labs/zcash-pct/pkg/zip321"
)

var defaultManager = sync.OnceValue(func() *Manager { return New() })

// ============================================================================
// API Function 1: ProposeTransaction
// ============================================================================

// ProposeTransaction creates a PCZT paying the ZIP 321 request in
// paymentURI from the given P2PKH or multisig P2SH inputs.
//
// This function:
//  1. Creates a new PCZT using the Creator role
//  2. Adds the inputs, one output per payment and the change output using
//     the Constructor role
//  3. Finalizes I/O using the IO Finalizer role
//
// The resulting PCZT is ready for proving (ProveTransaction) and signing.
func ProposeTransaction(inputs []Input, paymentURI string, opts ProposalOptions) ([]byte, error) {
	req, err := ParsePaymentRequest(paymentURI)
	if err != nil {
		return nil, &pczt.ProposalError{Code: pczt.ErrInvalidInput, Message: "payment request", Cause: err}
	}
	m := defaultManager()
	h, err := m.Propose(context.Background(), inputs, req, opts)
	if err != nil {
		return nil, err
	}
	return m.Serialize(h)
}

// ============================================================================
// API Function 2: ProveTransaction
// ============================================================================

// ProveTransaction attaches a proof to every Orchard action that lacks one.
//
// Proving loads the engine's proving key on first use. Use Manager.ProveAsync
// to observe progress or cancel.
func ProveTransaction(pcztBytes []byte) ([]byte, error) {
	m := defaultManager()
	h, err := m.Parse(pcztBytes)
	if err != nil {
		return nil, err
	}
	proved, err := m.Prove(context.Background(), h, nil)
	if err != nil {
		return nil, err
	}
	return m.Serialize(proved)
}

// ============================================================================
// API Function 3: VerifyBeforeSigning
// ============================================================================

// VerifyBeforeSigning checks a PCZT before signing.
//
// The report lists one named check per property:
//   - every payment of the request is paid exactly once
//   - change goes where the signer expects it
//   - nothing else leaves the wallet
//   - the transaction balances and the fee follows policy
//   - proofs that are present verify
//
// Wallets should call this before presenting the transaction to the user
// for signing. Failed checks are data; an error means verification could
// not run.
func VerifyBeforeSigning(pcztBytes []byte, paymentURI string, expected ExpectedChange) (*VerificationReport, error) {
	req, err := ParsePaymentRequest(paymentURI)
	if err != nil {
		return nil, &pczt.VerificationError{Code: pczt.ErrInvalidInput, Message: "payment request", Cause: err}
	}
	m := defaultManager()
	h, err := m.Parse(pcztBytes)
	if err != nil {
		return nil, err
	}
	return m.VerifyBeforeSigning(context.Background(), h, req, expected)
}

// ============================================================================
// API Function 4: GetSighash
// ============================================================================

// GetSighash computes the ZIP 244 signature hash for a transparent input.
//
// The hash commits to the input's sighash type (SIGHASH_ALL unless the
// proposer chose otherwise). An external signer signs it with the key
// controlling the input.
func GetSighash(pcztBytes []byte, inputIndex uint32) ([32]byte, error) {
	m := defaultManager()
	h, err := m.Parse(pcztBytes)
	if err != nil {
		return [32]byte{}, err
	}
	sh, err := m.Sighash(context.Background(), h, inputIndex)
	return sh.Hash, err
}

// ============================================================================
// API Function 5: AppendSignature
// ============================================================================

// AppendSignature adds a 64-byte compact (r || s) signature to an input.
//
// The signing key is recovered from the signature and must control the
// input: hash to its P2PKH script or appear in its multisig redeem script.
// Appending the same signature twice is a no-op.
func AppendSignature(pcztBytes []byte, inputIndex uint32, signature [64]byte) ([]byte, error) {
	m := defaultManager()
	h, err := m.Parse(pcztBytes)
	if err != nil {
		return nil, err
	}
	signed, err := m.AppendSignature(context.Background(), h, inputIndex, TransparentSignature{Signature: signature[:]})
	if err != nil {
		return nil, err
	}
	return m.Serialize(signed)
}

// ============================================================================
// API Function 6: Combine
// ============================================================================

// Combine merges PCZTs that describe the same transaction.
//
// Use it when different parties sign different inputs, or when proving
// happened on a separate copy. The order of the copies does not matter.
func Combine(pcztBytesList [][]byte) ([]byte, error) {
	m := defaultManager()
	handles := make([]*Handle, 0, len(pcztBytesList))
	for _, b := range pcztBytesList {
		h, err := m.Parse(b)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	merged, err := m.Combine(context.Background(), handles...)
	if err != nil {
		return nil, err
	}
	return m.Serialize(merged)
}

// ============================================================================
// API Function 7: FinalizeAndExtract
// ============================================================================

// FinalizeAndExtract builds the transparent scriptSigs, verifies and binds
// the Orchard bundle and returns the raw v5 transaction with its txid.
//
// It fails with a FinalizationError listing what is missing when the PCZT
// is not ready.
func FinalizeAndExtract(pcztBytes []byte) (*Transaction, error) {
	m := defaultManager()
	h, err := m.Parse(pcztBytes)
	if err != nil {
		return nil, err
	}
	return m.FinalizeAndExtract(context.Background(), h)
}

// ============================================================================
// API Functions 8a & 8b: ParsePCZT / SerializePCZT
// ============================================================================

// ParsePCZT decodes a PCZT.
func ParsePCZT(pcztBytes []byte) (*pczt.PCZT, error) {
	return pczt.Parse(pcztBytes)
}

// SerializePCZT encodes a PCZT.
func SerializePCZT(p *pczt.PCZT) ([]byte, error) {
	return pczt.Serialize(p)
}

// ============================================================================
// Helpers
// ============================================================================

// ParsePaymentRequest parses a ZIP 321 payment URI.
func ParsePaymentRequest(uri string) (*zip321.PaymentRequest, error) {
	return zip321.Parse(uri)
}

// CalculateFee returns the ZIP 317 fee for a transaction shape.
func CalculateFee(transparentInputs, transparentOutputs, orchardOutputs int) uint64 {
	return fees.CalculateFee(transparentInputs, transparentOutputs, orchardOutputs)
}
