// Package pczt implements the Partially Created Zcash Transaction (PCZT)
// container used to hand a transaction between the roles that build it.
//
// The layout follows ZIP 374: a transaction-wide Global section, a
// transparent bundle and an Orchard bundle. Each role fills the slots it is
// responsible for (signatures, proofs, binding data) and leaves the rest
// untouched, so independently evolved copies can be merged by the Combiner.
//
// References:
//   - ZIP 374: https://zips.z.cash/zip-0374
//   - ZIP 225 (v5 transaction format): https://zips.z.cash/zip-0225
package pczt

import (
	"github.com/suffix-labs/zcash-pct/pkg/address"
	"github.com/suffix-labs/zcash-pct/pkg/params"
)

// PCZT is a partially created transaction (v1 container).
type PCZT struct {
	Global      Global            // Transaction-wide metadata
	Transparent TransparentBundle // Transparent inputs and outputs
	Orchard     OrchardBundle     // Shielded actions (empty when nothing is shielded)
}

// Global contains the fields every party must agree on.
type Global struct {
	TxVersion         uint32         // Always 5
	VersionGroupID    uint32         // 0x26A7270A for v5
	ConsensusBranchID uint32         // Network upgrade the tx commits to
	FallbackLockTime  *uint32        // nLockTime, 0 when nil
	ExpiryHeight      uint32         // ZIP 203 expiry
	CoinType          uint32         // SLIP 44 coin type
	Network           params.Network // Selects address prefixes for verification
	TxModifiable      uint8          // Bitfield of the Flag* constants
	Proprietary       map[string][]byte
}

// Modification flags for Global.TxModifiable.
const (
	FlagTransparentInputsModifiable  uint8 = 1 << 0
	FlagTransparentOutputsModifiable uint8 = 1 << 1
	FlagHasSighashSingle             uint8 = 1 << 2
	FlagShieldedModifiable           uint8 = 1 << 7
)

// Proprietary keys written by the proposer. They are informational only:
// totals are always recomputed from the inputs and outputs.
const (
	ProprietaryFee    = "pct:fee"
	ProprietaryChange = "pct:change"
)

// TransparentBundle contains transparent inputs and outputs.
type TransparentBundle struct {
	Inputs  []TransparentInput
	Outputs []TransparentOutput
}

// TransparentInput is a transparent coin being spent together with the
// signing metadata collected for it.
//
// The Constructor sets the outpoint, value and script; the Signature
// Appender fills PartialSignatures; the Spend Finalizer replaces those with
// ScriptSig.
type TransparentInput struct {
	PrevoutTxID  [32]byte
	PrevoutIndex uint32
	Sequence     *uint32 // 0xffffffff when nil
	Value        uint64  // zatoshis
	ScriptPubKey []byte
	RedeemScript []byte // Multisig script behind a P2SH ScriptPubKey
	SighashType  uint8

	// ScriptSig is set by the Spend Finalizer.
	ScriptSig []byte

	// PartialSignatures maps a compressed public key to a 64-byte compact
	// (r || s) signature followed by the sighash type byte.
	PartialSignatures map[[33]byte][]byte

	// Bip32Derivation records the keys known to control this input. A key
	// whose path is unknown carries an empty derivation.
	Bip32Derivation map[[33]byte]Zip32Derivation

	Proprietary map[string][]byte
}

// TransparentOutput is a transparent coin being created.
type TransparentOutput struct {
	Value           uint64
	ScriptPubKey    []byte
	UserAddress     *string // Address the script was derived from, for signer display
	Change          bool    // Set on outputs returning value to the spender
	Bip32Derivation map[[33]byte]Zip32Derivation
	Proprietary     map[string][]byte
}

// OrchardBundle contains the shielded actions.
type OrchardBundle struct {
	Actions      []OrchardAction
	Flags        uint8
	ValueBalance int64 // spends minus outputs; negative when value enters the pool
	Anchor       [32]byte
	Bsk          *[32]byte // Binding signature key, cleared at extraction
	BindingSig   *[64]byte // Set by the Transaction Extractor
}

// OrchardAction pairs a (dummy) spend with one output and carries the
// proof slot for that output.
type OrchardAction struct {
	CvNet  [33]byte // Value commitment to spend value minus output value
	Spend  OrchardSpend
	Output OrchardOutput
	Rcv    *[32]byte // Value commitment randomness
	Proof  []byte    // Set by the Prover
}

// OrchardSpend is the spend half of an action. Transparent-to-shielded
// transactions only ever carry dummy spends.
type OrchardSpend struct {
	Nullifier    [32]byte
	Rk           [33]byte  // Spend validating key
	SpendAuthSig *[64]byte // Set by the IO Finalizer for dummy spends
	Value        *uint64   // Always zero for dummy spends
	DummySk      *[32]byte // Cleared by the IO Finalizer after signing
	Proprietary  map[string][]byte
}

// OrchardOutput is the note being created.
type OrchardOutput struct {
	Cmx           [32]byte
	EphemeralKey  [32]byte
	EncCiphertext []byte // NoteCiphertextSize bytes
	OutCiphertext []byte // OutCiphertextSize bytes

	// Witness data required by the Prover.
	Recipient *[43]byte
	Value     *uint64
	Rseed     *[32]byte

	UserAddress *string // Unified address shown to signers
	Proprietary map[string][]byte
}

// Zip32Derivation is a hierarchical derivation path for a key.
type Zip32Derivation struct {
	SeedFingerprint [32]byte
	DerivationPath  []uint32 // Values >= 2^31 are hardened
}

// Transaction format constants.
const (
	V5TxVersion      uint32 = 5
	V5VersionGroupID uint32 = 0x26A7270A
	DefaultSequence  uint32 = 0xFFFFFFFF
)

// SIGHASH types (ZIP 244).
const (
	SighashAll          uint8 = 0x01
	SighashNone         uint8 = 0x02
	SighashSingle       uint8 = 0x03
	SighashAnyoneCanPay uint8 = 0x80
)

// Orchard constants.
const (
	OrchardFlagsEnabled uint8 = 0b00000011 // spends and outputs enabled
	MinOrchardActions         = 2
	NoteCiphertextSize        = 580
	OutCiphertextSize         = 80
	MemoSize                  = 512
)

// ValidSighashType reports whether t is a base type optionally combined with
// ANYONECANPAY.
func ValidSighashType(t uint8) bool {
	switch t &^ SighashAnyoneCanPay {
	case SighashAll, SighashNone, SighashSingle:
		return true
	}
	return false
}

// SequenceOrDefault returns the input's nSequence.
func (ti *TransparentInput) SequenceOrDefault() uint32 {
	if ti.Sequence == nil {
		return DefaultSequence
	}
	return *ti.Sequence
}

// LockTime returns the transaction's nLockTime.
func (g *Global) LockTime() uint32 {
	if g.FallbackLockTime == nil {
		return 0
	}
	return *g.FallbackLockTime
}

// IsSigned reports whether the input carries a final scriptSig or every
// signature its script requires.
func (ti *TransparentInput) IsSigned() bool {
	return len(ti.ScriptSig) > 0 || len(ti.PartialSignatures) >= ti.RequiredSignatures()
}

// RequiredSignatures is m for a P2SH m-of-n input and 1 otherwise.
func (ti *TransparentInput) RequiredSignatures() int {
	if len(ti.RedeemScript) == 0 {
		return 1
	}
	ms, err := address.ParseMultisig(ti.RedeemScript)
	if err != nil {
		return 1
	}
	return ms.Required
}

// HasProof reports whether the action's proof slot is filled.
func (oa *OrchardAction) HasProof() bool {
	return len(oa.Proof) > 0
}
