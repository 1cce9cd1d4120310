package roles

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/suffix-labs/zcash-pct/pkg/address"
	"github.com/suffix-labs/zcash-pct/pkg/crypto"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

// TransparentSignature is a signature produced by an external signer.
type TransparentSignature struct {
	Signature []byte    // 64-byte compact r || s
	PubKey    *[33]byte // Optional; recovered from the signature when nil
}

// Signer computes signature hashes for transparent inputs and stores the
// signatures produced for them.
//
// The Signer role:
//   - Computes ZIP 244 signature hashes for each transparent input
//   - Verifies externally produced signatures against the input's key
//   - Stores signatures as "partial signatures" in the PCZT
//   - Updates modification flags based on SIGHASH types
//
// Multiple signers can operate in parallel on copies, each signing their
// inputs. The Combiner then merges the signatures together.
type Signer struct {
	pczt *pczt.PCZT
}

// NewSigner creates a new Signer.
func NewSigner(p *pczt.PCZT) *Signer {
	return &Signer{pczt: p}
}

// Sighash returns the digest to sign for an input and the sighash type it
// commits to. Signatures already present do not change the digest.
func (s *Signer) Sighash(inputIndex uint32) ([32]byte, uint8, error) {
	if int(inputIndex) >= len(s.pczt.Transparent.Inputs) {
		return [32]byte{}, 0, &pczt.SighashError{
			Code:       pczt.ErrIndexOutOfRange,
			InputIndex: inputIndex,
			Message:    fmt.Sprintf("have %d inputs", len(s.pczt.Transparent.Inputs)),
		}
	}
	hashType := s.pczt.Transparent.Inputs[inputIndex].SighashType
	digest, err := crypto.TransparentSighash(s.pczt, inputIndex, hashType)
	if err != nil {
		return [32]byte{}, 0, err
	}
	return digest, hashType, nil
}

// AppendSignature verifies sig for an input and stores it. Appending the
// signature already stored is a no-op; a different one is rejected.
func (s *Signer) AppendSignature(inputIndex uint32, sig TransparentSignature) error {
	fail := func(code, msg string, cause error) error {
		return &pczt.SignatureError{Code: code, InputIndex: inputIndex, Message: msg, Cause: cause}
	}
	if int(inputIndex) >= len(s.pczt.Transparent.Inputs) {
		return fail(pczt.ErrIndexOutOfRange, fmt.Sprintf("have %d inputs", len(s.pczt.Transparent.Inputs)), nil)
	}
	input := &s.pczt.Transparent.Inputs[inputIndex]

	sighash, hashType, err := s.Sighash(inputIndex)
	if err != nil {
		return fail(pczt.ErrInvalidSighashType, "sighash", err)
	}
	if len(sig.Signature) != crypto.CompactSignatureSize {
		return fail(pczt.ErrInvalidSignature,
			fmt.Sprintf("signature is %d bytes, expected %d", len(sig.Signature), crypto.CompactSignatureSize), nil)
	}

	key, err := signingKey(input, sighash, sig)
	if err != nil {
		if errors.Is(err, errUnknownKey) {
			return fail(pczt.ErrUnknownKey, "no key for this input produced the signature", err)
		}
		return fail(pczt.ErrInvalidSignature, "signature does not verify", err)
	}

	stored := append(append([]byte(nil), sig.Signature...), hashType)
	if existing, ok := input.PartialSignatures[key]; ok {
		if bytes.Equal(existing, stored) {
			return nil
		}
		return fail(pczt.ErrConflictingSignature, "input already carries a different signature", nil)
	}
	if len(input.ScriptSig) > 0 {
		return fail(pczt.ErrConflictingSignature, "input is already finalized", nil)
	}
	if input.PartialSignatures == nil {
		input.PartialSignatures = map[[33]byte][]byte{}
	}
	input.PartialSignatures[key] = stored
	s.updateModifiableFlags(hashType)
	return nil
}

// SignTransparentInput signs an input with a local key.
func (s *Signer) SignTransparentInput(inputIndex uint32, key *crypto.PrivateKey) error {
	sighash, _, err := s.Sighash(inputIndex)
	if err != nil {
		return err
	}
	sig := key.SignCompact(sighash)
	pub := key.PublicKey().SerializeCompressed()
	return s.AppendSignature(inputIndex, TransparentSignature{Signature: sig[:], PubKey: &pub})
}

var errUnknownKey = errors.New("unknown key")

// controls reports whether pub hashes to the input's P2PKH script or is
// one of the keys in its multisig redeem script.
func controls(input *pczt.TransparentInput, pub [33]byte) bool {
	if len(input.RedeemScript) > 0 {
		ms, err := address.ParseMultisig(input.RedeemScript)
		return err == nil && ms.KeyIndex(pub) >= 0
	}
	hash := address.P2PKHHash(input.ScriptPubKey)
	return hash != nil && bytes.Equal(crypto.Hash160(pub[:]), hash)
}

// signingKey finds the compressed key that produced sig. The key must
// control the input.
func signingKey(input *pczt.TransparentInput, sighash [32]byte, sig TransparentSignature) ([33]byte, error) {
	if sig.PubKey != nil {
		pub, err := crypto.ParsePublicKey(sig.PubKey[:])
		if err != nil {
			return [33]byte{}, err
		}
		if !controls(input, *sig.PubKey) {
			return [33]byte{}, errUnknownKey
		}
		if err := crypto.VerifyCompact(pub, sighash, sig.Signature); err != nil {
			return [33]byte{}, err
		}
		return *sig.PubKey, nil
	}

	candidates, err := crypto.RecoverCandidates(sighash, sig.Signature)
	if err != nil {
		return [33]byte{}, err
	}
	for _, pub := range candidates {
		key := pub.SerializeCompressed()
		if !controls(input, key) {
			continue
		}
		if err := crypto.VerifyCompact(pub, sighash, sig.Signature); err != nil {
			return [33]byte{}, err
		}
		return key, nil
	}
	return [33]byte{}, errUnknownKey
}

// updateModifiableFlags clears the flags a signature of this type commits
// to:
//   - SIGHASH_ALL: all inputs and outputs
//   - SIGHASH_NONE: all inputs
//   - SIGHASH_SINGLE: all inputs and the matching output
//   - SIGHASH_ANYONECANPAY: only this input
func (s *Signer) updateModifiableFlags(sighashType uint8) {
	base := sighashType &^ pczt.SighashAnyoneCanPay
	if sighashType&pczt.SighashAnyoneCanPay == 0 {
		s.pczt.Global.TxModifiable &^= pczt.FlagTransparentInputsModifiable | pczt.FlagShieldedModifiable
	}
	if base == pczt.SighashAll {
		s.pczt.Global.TxModifiable &^= pczt.FlagTransparentOutputsModifiable | pczt.FlagShieldedModifiable
	}
	if base == pczt.SighashSingle {
		s.pczt.Global.TxModifiable |= pczt.FlagHasSighashSingle
	}
}

// Finish returns the signed PCZT.
func (s *Signer) Finish() *pczt.PCZT {
	return s.pczt
}
