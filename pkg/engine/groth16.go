package engine

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"runtime"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/rs/zerolog"

	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

// Groth16 is the reference engine.
type Groth16 struct {
	cfg  Config
	log  zerolog.Logger
	keys *future[*material]
}

var _ Engine = (*Groth16)(nil)

func New(cfg Config, log zerolog.Logger) *Groth16 {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Groth16{
		cfg:  cfg,
		log:  log.With().Str("component", "engine").Logger(),
		keys: newFuture[*material](),
	}
}

func (e *Groth16) Workers() int { return e.cfg.Workers }

// Loaded reports whether proving material is ready.
func (e *Groth16) Loaded() bool { return e.keys.ready() }

func (e *Groth16) Load(ctx context.Context) error {
	_, err := e.material(ctx)
	return err
}

func (e *Groth16) material(ctx context.Context) (*material, error) {
	return e.keys.get(ctx, func() (*material, error) {
		start := time.Now()
		e.log.Info().Str("key_dir", e.cfg.KeyDir).Msg("loading proving material")
		m, err := loadMaterial(e.cfg.KeyDir)
		if err != nil {
			e.log.Error().Err(err).Msg("proving material unavailable")
			return nil, err
		}
		e.log.Info().
			Int("constraints", m.ccs.GetNbConstraints()).
			Dur("elapsed", time.Since(start)).
			Msg("proving material ready")
		return m, nil
	})
}

// ============================================================================
// Action layout
// ============================================================================

func (e *Groth16) BuildAction(out *Output) (pczt.OrchardAction, error) {
	var a pczt.OrchardAction

	note := &Note{}
	var memo []byte
	var ovk *[32]byte
	var userAddress *string
	if out != nil {
		note.Recipient = out.Recipient
		note.Value = out.Value
		memo = out.Memo
		ovk = out.OVK
		if out.UserAddress != "" {
			addr := out.UserAddress
			userAddress = &addr
		}
	} else if _, err := rand.Read(note.Recipient[:]); err != nil {
		return a, err
	}
	var err error
	if note.Memo, err = padMemo(memo); err != nil {
		return a, err
	}
	if _, err := rand.Read(note.Rseed[:]); err != nil {
		return a, err
	}

	sk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return a, err
	}
	dummySk := sk.Key.Bytes()
	zero := uint64(0)
	a.Spend = pczt.OrchardSpend{
		Nullifier:   dummyNullifier(dummySk),
		Value:       &zero,
		DummySk:     &dummySk,
		Proprietary: map[string][]byte{},
	}
	copy(a.Spend.Rk[:], sk.PubKey().SerializeCompressed())

	rcvKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return a, err
	}
	rcv := rcvKey.Key.Bytes()
	negValue := scalarFromValue(note.Value)
	negValue.Negate()
	if a.CvNet, err = serializePoint(commitValue(&negValue, &rcvKey.Key)); err != nil {
		return a, err
	}
	a.Rcv = &rcv

	var epk [32]byte
	if _, err := rand.Read(epk[:]); err != nil {
		return a, err
	}
	cmx := noteCommitment(note.Recipient, note.Value, a.Spend.Nullifier, note.Rseed)
	outCt, err := encryptOut(ovk, a.CvNet, cmx, epk, note)
	if err != nil {
		return a, err
	}
	recipient, value, rseed := note.Recipient, note.Value, note.Rseed
	a.Output = pczt.OrchardOutput{
		Cmx:           cmx,
		EphemeralKey:  epk,
		EncCiphertext: encryptNote(note, epk),
		OutCiphertext: outCt,
		Recipient:     &recipient,
		Value:         &value,
		Rseed:         &rseed,
		UserAddress:   userAddress,
		Proprietary:   map[string][]byte{},
	}
	return a, nil
}

// ============================================================================
// Proofs
// ============================================================================

func (e *Groth16) ProveAction(ctx context.Context, a *pczt.OrchardAction) ([]byte, error) {
	o := a.Output
	if o.Recipient == nil || o.Value == nil || o.Rseed == nil {
		return nil, ErrMissingWitness
	}
	opening := openNote(*o.Recipient, *o.Value, a.Spend.Nullifier, *o.Rseed)
	if opening.cmx.Bytes() != o.Cmx {
		return nil, ErrWitnessMismatch
	}

	m, err := e.material(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, err := frontend.NewWitness(opening.assignment(), ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("witness: %w", err)
	}
	proof, err := groth16.Prove(m.ccs, m.pk, w)
	if err != nil {
		return nil, fmt.Errorf("prove: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Groth16) VerifyProof(ctx context.Context, a *pczt.OrchardAction) error {
	if !a.HasProof() {
		return fmt.Errorf("%w: no proof", ErrInvalidProof)
	}
	m, err := e.material(ctx)
	if err != nil {
		return err
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(a.Proof)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	pub, err := frontend.NewWitness(publicAssignment(a.Output.Cmx, a.Spend.Nullifier),
		ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("public witness: %w", err)
	}
	if err := groth16.Verify(proof, m.vk, pub); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}

// ============================================================================
// Signatures
// ============================================================================

func (e *Groth16) SignSpendAuth(a *pczt.OrchardAction, sighash [32]byte) error {
	if a.Spend.DummySk == nil {
		return ErrMissingKey
	}
	sk := secp256k1.PrivKeyFromBytes(a.Spend.DummySk[:])
	if string(sk.PubKey().SerializeCompressed()) != string(a.Spend.Rk[:]) {
		return fmt.Errorf("%w: dummy key does not match rk", ErrMissingKey)
	}
	sig, err := schnorrSign(sk, sighash)
	if err != nil {
		return err
	}
	a.Spend.SpendAuthSig = &sig
	return nil
}

func (e *Groth16) VerifySpendAuth(a *pczt.OrchardAction, sighash [32]byte) error {
	if a.Spend.SpendAuthSig == nil {
		return fmt.Errorf("%w: missing spend authorization", ErrBadSignature)
	}
	rk, err := secp256k1.ParsePubKey(a.Spend.Rk[:])
	if err != nil {
		return fmt.Errorf("%w: rk: %v", ErrBadSignature, err)
	}
	return schnorrVerify(rk, sighash, a.Spend.SpendAuthSig[:])
}

func (e *Groth16) BindingKey(actions []pczt.OrchardAction) ([32]byte, error) {
	bsk, err := bindingKey(actions)
	if err != nil {
		return [32]byte{}, err
	}
	return bsk.Bytes(), nil
}

// SignBinding signs with the bundle's bsk after checking that it opens the
// value commitments at the declared value balance.
func (e *Groth16) SignBinding(b *pczt.OrchardBundle, sighash [32]byte) ([64]byte, error) {
	if b.Bsk == nil {
		return [64]byte{}, ErrMissingKey
	}
	bvk, err := bindingValidatingKey(b)
	if err != nil {
		return [64]byte{}, err
	}
	bsk := secp256k1.PrivKeyFromBytes(b.Bsk[:])
	if !bsk.PubKey().IsEqual(bvk) {
		return [64]byte{}, fmt.Errorf("%w: bsk does not match value commitments", ErrMissingKey)
	}
	return schnorrSign(bsk, sighash)
}

func (e *Groth16) VerifyBinding(b *pczt.OrchardBundle, sighash [32]byte) error {
	if b.BindingSig == nil {
		return fmt.Errorf("%w: missing binding signature", ErrBadSignature)
	}
	bvk, err := bindingValidatingKey(b)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return schnorrVerify(bvk, sighash, b.BindingSig[:])
}

func (e *Groth16) DecryptNote(a *pczt.OrchardAction, recipient [RecipientSize]byte) (*Note, error) {
	return decryptNote(a, recipient)
}
