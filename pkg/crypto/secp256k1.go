package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required by P2PKH

	"github.com/suffix-labs/zcash-pct/pkg/params"
)

// Transparent signatures are carried as 64-byte compact r || s values. A
// signature is valid only when s is in the lower half of the group order.
const CompactSignatureSize = 64

// WIF version bytes.
const (
	wifMainnet byte = 0x80
	wifTestnet byte = 0xef
)

var (
	ErrInvalidSignature = errors.New("invalid signature encoding")
	ErrHighS            = errors.New("signature s value is not low")
	ErrVerifyFailed     = errors.New("signature does not verify")
)

// PrivateKey wraps a secp256k1 private key
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// PublicKey wraps a secp256k1 public key
type PublicKey struct {
	key *secp256k1.PublicKey
}

// PrivateKeyFromBytes creates a private key from 32 raw bytes.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(b); overflow || s.IsZero() {
		return nil, errors.New("private key out of range")
	}
	return &PrivateKey{key: secp256k1.NewPrivateKey(&s)}, nil
}

// GeneratePrivateKey returns a fresh random key.
func GeneratePrivateKey() (*PrivateKey, error) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: k}, nil
}

// ParsePrivateKeyWIF decodes a Wallet Import Format key and reports the
// network family it was encoded for. Regtest keys use the testnet version.
func ParsePrivateKeyWIF(wif string) (*PrivateKey, params.Network, error) {
	payload, version, err := base58.CheckDecode(wif)
	if err != nil {
		return nil, 0, fmt.Errorf("decode WIF: %w", err)
	}
	var net params.Network
	switch version {
	case wifMainnet:
		net = params.Mainnet
	case wifTestnet:
		net = params.Testnet
	default:
		return nil, 0, fmt.Errorf("invalid WIF version byte 0x%02x", version)
	}
	switch {
	case len(payload) == 33 && payload[32] == 0x01:
		payload = payload[:32]
	case len(payload) != 32:
		return nil, 0, fmt.Errorf("invalid WIF payload length %d", len(payload))
	}
	k, err := PrivateKeyFromBytes(payload)
	if err != nil {
		return nil, 0, err
	}
	return k, net, nil
}

// EncodeWIF encodes a key for the given network with the compressed flag.
func EncodeWIF(k *PrivateKey, net params.Network) string {
	version := wifTestnet
	if net == params.Mainnet {
		version = wifMainnet
	}
	return base58.CheckEncode(append(k.Bytes(), 0x01), version)
}

// Bytes returns the raw 32-byte private key
func (k *PrivateKey) Bytes() []byte {
	return k.key.Serialize()
}

// PublicKey derives the public key
func (k *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{key: k.key.PubKey()}
}

// Scalar exposes the key as a group scalar.
func (k *PrivateKey) Scalar() secp256k1.ModNScalar {
	return k.key.Key
}

// SignCompact signs a 32-byte digest with RFC 6979 nonces and returns the
// 64-byte r || s encoding. The result always has a low s.
func (k *PrivateKey) SignCompact(hash [32]byte) [CompactSignatureSize]byte {
	// ecdsa.SignCompact prefixes a recovery byte.
	withRecovery := ecdsa.SignCompact(k.key, hash[:], true)
	var sig [CompactSignatureSize]byte
	copy(sig[:], withRecovery[1:])
	return sig
}

// ParsePublicKey parses a 33-byte compressed public key.
func ParsePublicKey(b []byte) (*PublicKey, error) {
	if len(b) != 33 {
		return nil, fmt.Errorf("compressed public key must be 33 bytes, got %d", len(b))
	}
	pk, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &PublicKey{key: pk}, nil
}

// SerializeCompressed returns the 33-byte compressed public key
func (p *PublicKey) SerializeCompressed() [33]byte {
	var out [33]byte
	copy(out[:], p.key.SerializeCompressed())
	return out
}

// Hash160 returns RIPEMD160(SHA256(compressed key)).
func (p *PublicKey) Hash160() []byte {
	return Hash160(p.key.SerializeCompressed())
}

// Key exposes the underlying curve point.
func (p *PublicKey) Key() *secp256k1.PublicKey {
	return p.key
}

func parseCompact(sig []byte) (r, s secp256k1.ModNScalar, err error) {
	if len(sig) != CompactSignatureSize {
		return r, s, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, CompactSignatureSize, len(sig))
	}
	if r.SetByteSlice(sig[:32]) || r.IsZero() {
		return r, s, fmt.Errorf("%w: r out of range", ErrInvalidSignature)
	}
	if s.SetByteSlice(sig[32:]) || s.IsZero() {
		return r, s, fmt.Errorf("%w: s out of range", ErrInvalidSignature)
	}
	return r, s, nil
}

// VerifyCompact checks a 64-byte r || s signature over hash.
func VerifyCompact(pub *PublicKey, hash [32]byte, sig []byte) error {
	r, s, err := parseCompact(sig)
	if err != nil {
		return err
	}
	if s.IsOverHalfOrder() {
		return ErrHighS
	}
	if !ecdsa.NewSignature(&r, &s).Verify(hash[:], pub.key) {
		return ErrVerifyFailed
	}
	return nil
}

// RecoverCandidates returns every compressed public key for which sig is a
// valid signature over hash.
func RecoverCandidates(hash [32]byte, sig []byte) ([]*PublicKey, error) {
	if _, _, err := parseCompact(sig); err != nil {
		return nil, err
	}
	var out []*PublicKey
	for code := byte(0); code < 4; code++ {
		buf := make([]byte, 0, 1+CompactSignatureSize)
		buf = append(buf, 27+4+code) // compressed key marker
		buf = append(buf, sig...)
		pk, _, err := ecdsa.RecoverCompact(buf, hash[:])
		if err != nil {
			continue
		}
		out = append(out, &PublicKey{key: pk})
	}
	return out, nil
}

// DERSignature converts a compact signature to strict DER for scriptSig.
func DERSignature(sig []byte) ([]byte, error) {
	r, s, err := parseCompact(sig)
	if err != nil {
		return nil, err
	}
	return ecdsa.NewSignature(&r, &s).Serialize(), nil
}

// Hash160 computes RIPEMD160(SHA256(b)).
func Hash160(b []byte) []byte {
	sha := sha256.Sum256(b)
	h := ripemd160.New()
	h.Write(sha[:])
	return h.Sum(nil)
}
