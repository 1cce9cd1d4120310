// Package pczt error types.
//
// Every failure surface of the lifecycle API has its own error struct. Each
// carries a machine-readable code, a human-readable message and an optional
// cause, and reports its Kind so callers can branch without type switches.
package pczt

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names a failure surface.
type Kind string

const (
	KindProposal          Kind = "PROPOSAL"
	KindProver            Kind = "PROVER"
	KindSighash           Kind = "SIGHASH"
	KindSignature         Kind = "SIGNATURE"
	KindVerification      Kind = "VERIFICATION"
	KindCombine           Kind = "COMBINE"
	KindFinalization      Kind = "FINALIZATION"
	KindParse             Kind = "PARSE"
	KindInvalidAddress    Kind = "INVALID_ADDRESS"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindNetwork           Kind = "NETWORK"
)

// Error codes carried in the Code field of the error structs.
const (
	ErrInvalidInput         = "INVALID_INPUT"
	ErrInsufficientFunds    = string(KindInsufficientFunds)
	ErrInvalidAddress       = string(KindInvalidAddress)
	ErrMissingChangeAddress = "MISSING_CHANGE_ADDRESS"
	ErrEngineFailure        = "ENGINE_FAILURE"
	ErrNothingToProve       = "NOTHING_TO_PROVE"
	ErrMissingWitness       = "MISSING_WITNESS"
	ErrProofCreationFailed  = "PROOF_CREATION_FAILED"
	ErrCanceled             = "CANCELED"
	ErrIndexOutOfRange      = "INDEX_OUT_OF_RANGE"
	ErrInvalidSighashType   = "INVALID_SIGHASH_TYPE"
	ErrInvalidSignature     = "INVALID_SIGNATURE"
	ErrConflictingSignature = "CONFLICTING_SIGNATURE"
	ErrUnknownKey           = "UNKNOWN_KEY"
	ErrStructureMismatch    = "STRUCTURE_MISMATCH"
	ErrConflictingData      = "CONFLICTING_DATA"
	ErrIncomplete           = "INCOMPLETE"
	ErrInvalidPCZT          = "INVALID_PCZT"
)

// ProposalError is returned when building a transaction proposal fails:
// invalid inputs, unusable addresses, insufficient funds or a change amount
// without a change address.
type ProposalError struct {
	Code    string
	Message string
	Change  uint64 // Set with ErrMissingChangeAddress
	Cause   error
}

func (e *ProposalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("proposal error [%s]: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("proposal error [%s]: %s", e.Code, e.Message)
}

func (e *ProposalError) Unwrap() error { return e.Cause }
func (e *ProposalError) Kind() Kind    { return KindProposal }

// ProverError is returned when proofs cannot be attached. It always points
// at a structural problem; retrying with the same PCZT fails the same way.
type ProverError struct {
	Code    string
	Message string
	Action  int // Index of the failing action, -1 when not action specific
	Cause   error
}

func (e *ProverError) Error() string {
	msg := fmt.Sprintf("prover error [%s]: %s", e.Code, e.Message)
	if e.Action >= 0 {
		msg = fmt.Sprintf("prover error [%s] at action %d: %s", e.Code, e.Action, e.Message)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProverError) Unwrap() error { return e.Cause }
func (e *ProverError) Kind() Kind    { return KindProver }

// SighashError is returned when the signature digest of an input cannot be
// computed.
type SighashError struct {
	Code       string
	InputIndex uint32
	Message    string
	Cause      error
}

func (e *SighashError) Error() string {
	return fmt.Sprintf("sighash error [%s] at input %d: %s", e.Code, e.InputIndex, e.Message)
}

func (e *SighashError) Unwrap() error { return e.Cause }
func (e *SighashError) Kind() Kind    { return KindSighash }

// SignatureError is returned when a signature cannot be appended.
type SignatureError struct {
	Code       string
	InputIndex uint32
	Message    string
	Cause      error
}

func (e *SignatureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("signature error [%s] at input %d: %s: %v", e.Code, e.InputIndex, e.Message, e.Cause)
	}
	return fmt.Sprintf("signature error [%s] at input %d: %s", e.Code, e.InputIndex, e.Message)
}

func (e *SignatureError) Unwrap() error { return e.Cause }
func (e *SignatureError) Kind() Kind    { return KindSignature }

// VerificationError is returned only when verification itself could not
// run. Failed checks are reported as data, not as this error.
type VerificationError struct {
	Code    string
	Message string
	Cause   error
}

func (e *VerificationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("verification error [%s]: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("verification error [%s]: %s", e.Code, e.Message)
}

func (e *VerificationError) Unwrap() error { return e.Cause }
func (e *VerificationError) Kind() Kind    { return KindVerification }

// CombineError is returned when PCZTs do not describe the same transaction
// or carry conflicting slot values.
type CombineError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CombineError) Error() string {
	return fmt.Sprintf("combine error [%s]: %s", e.Code, e.Message)
}

func (e *CombineError) Unwrap() error { return e.Cause }
func (e *CombineError) Kind() Kind    { return KindCombine }

// FinalizationError is returned by finalize-and-extract. When the PCZT is
// not ready, Missing lists the same items the readiness check reports.
type FinalizationError struct {
	Code    string
	Message string
	Missing []string
	Cause   error
}

func (e *FinalizationError) Error() string {
	msg := fmt.Sprintf("finalization error [%s]: %s", e.Code, e.Message)
	if len(e.Missing) > 0 {
		msg += " (missing: " + strings.Join(e.Missing, ", ") + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *FinalizationError) Unwrap() error { return e.Cause }
func (e *FinalizationError) Kind() Kind    { return KindFinalization }

// ParseError is returned when bytes are not a valid PCZT container.
type ParseError struct {
	Message string
	Offset  int // Byte offset where decoding stopped, -1 if unknown
	Cause   error
}

func (e *ParseError) Error() string {
	msg := "parse error: " + e.Message
	if e.Offset >= 0 {
		msg = fmt.Sprintf("parse error at byte %d: %s", e.Offset, e.Message)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Cause }
func (e *ParseError) Kind() Kind    { return KindParse }

// NetworkError wraps transport failures when roles talk over HTTP.
type NetworkError struct {
	Op    string
	URL   string
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s %s: %v", e.Op, e.URL, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }
func (e *NetworkError) Kind() Kind    { return KindNetwork }

type kinded interface {
	Kind() Kind
}

// HasKind reports whether any error in err's chain is of kind k. Proposal
// errors with code INVALID_ADDRESS or INSUFFICIENT_FUNDS also match those
// kinds.
func HasKind(err error, k Kind) bool {
	for err != nil {
		if ke, ok := err.(kinded); ok && ke.Kind() == k {
			return true
		}
		if pe, ok := err.(*ProposalError); ok && pe.Code == string(k) {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or the empty string.
func KindOf(err error) Kind {
	var ke kinded
	if errors.As(err, &ke) {
		return ke.Kind()
	}
	return ""
}
