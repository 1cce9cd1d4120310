// Package engine is the boundary to the cryptographic primitives behind
// shielded actions: laying out actions, proving and verifying them, and the
// spend authorization and binding signatures.
//
// Callers depend only on the Engine interface and the typed results below.
// The Groth16 implementation proves a MiMC note commitment over BN254 with
// gnark and uses secp256k1 Pedersen value commitments; it is a reference
// engine with the same lifecycle (lazy key loading, seconds-scale proving)
// as a production Orchard prover. Its value commitments, rk and proofs are
// not Orchard encodings, so transactions carrying its actions must not be
// broadcast.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

var (
	ErrMissingWitness  = errors.New("action is missing witness data")
	ErrWitnessMismatch = errors.New("witness does not open the note commitment")
	ErrInvalidProof    = errors.New("proof does not verify")
	ErrMissingKey      = errors.New("signing key not available")
	ErrBadSignature    = errors.New("signature does not verify")
	ErrDecryption      = errors.New("note decryption failed")
)

// RecipientSize is the size of a raw Orchard receiver.
const RecipientSize = 43

// Output describes a shielded payment to lay out as an action.
type Output struct {
	Recipient   [RecipientSize]byte
	Value       uint64
	Memo        []byte    // At most pczt.MemoSize bytes; empty means "no memo"
	OVK         *[32]byte // Outgoing viewing key, nil for unrecoverable outputs
	UserAddress string
}

// Note is a decrypted output note.
type Note struct {
	Recipient [RecipientSize]byte
	Value     uint64
	Rseed     [32]byte
	Memo      [pczt.MemoSize]byte
}

// Engine is the narrow interface the roles use.
type Engine interface {
	// Load prepares proving material. Concurrent callers share a single
	// load; a caller whose context ends stops waiting without aborting it.
	Load(ctx context.Context) error

	// Workers bounds how many actions are proved in parallel.
	Workers() int

	// BuildAction lays out one action paying out. A nil output produces a
	// zero-value padding action.
	BuildAction(out *Output) (pczt.OrchardAction, error)

	ProveAction(ctx context.Context, a *pczt.OrchardAction) ([]byte, error)
	VerifyProof(ctx context.Context, a *pczt.OrchardAction) error

	SignSpendAuth(a *pczt.OrchardAction, sighash [32]byte) error
	VerifySpendAuth(a *pczt.OrchardAction, sighash [32]byte) error

	BindingKey(actions []pczt.OrchardAction) ([32]byte, error)
	SignBinding(b *pczt.OrchardBundle, sighash [32]byte) ([64]byte, error)
	VerifyBinding(b *pczt.OrchardBundle, sighash [32]byte) error

	DecryptNote(a *pczt.OrchardAction, recipient [RecipientSize]byte) (*Note, error)
}

// Config selects where proving keys live and how many proofs run at once.
type Config struct {
	KeyDir  string `yaml:"key_dir"` // Empty keeps keys in memory only
	Workers int    `yaml:"workers"` // Defaults to GOMAXPROCS
}

var defaultEngine = sync.OnceValue(func() *Groth16 {
	return New(Config{}, zerolog.Nop())
})

// Default returns the process-wide engine with in-memory keys.
func Default() *Groth16 {
	return defaultEngine()
}
