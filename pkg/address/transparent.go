package address

import (
	"bytes"

	"github.com/btcsuite/btcutil/base58"

	"github.com/suffix-labs/zcash-pct/pkg/params"
)

// TransparentKind distinguishes pay-to-pubkey-hash from pay-to-script-hash.
type TransparentKind uint8

const (
	P2PKH TransparentKind = iota
	P2SH
)

func (k TransparentKind) String() string {
	if k == P2SH {
		return "p2sh"
	}
	return "p2pkh"
}

// Two-byte base58check prefixes. base58.CheckDecode splits off the first
// byte as the version, so the second byte leads the payload.
var transparentPrefixes = map[params.Network]map[TransparentKind][2]byte{
	params.Mainnet: {P2PKH: {0x1c, 0xb8}, P2SH: {0x1c, 0xbd}},
	params.Testnet: {P2PKH: {0x1d, 0x25}, P2SH: {0x1c, 0xba}},
	params.Regtest: {P2PKH: {0x1d, 0x25}, P2SH: {0x1c, 0xba}},
}

// Transparent is a P2PKH or P2SH address.
type Transparent struct {
	Kind TransparentKind
	Hash [20]byte
	Net  params.Network
}

// NewTransparent builds an address from a 20-byte hash.
func NewTransparent(kind TransparentKind, hash []byte, net params.Network) (*Transparent, error) {
	if len(hash) != 20 {
		return nil, invalid("hash must be 20 bytes, got %d", len(hash))
	}
	t := &Transparent{Kind: kind, Net: net}
	copy(t.Hash[:], hash)
	return t, nil
}

// DecodeTransparent parses a base58check transparent address for net.
func DecodeTransparent(s string, net params.Network) (*Transparent, error) {
	payload, version, err := base58.CheckDecode(s)
	if err != nil {
		return nil, invalid("base58check: %v", err)
	}
	if len(payload) != 21 {
		return nil, invalid("unexpected payload length %d", len(payload))
	}
	prefix := [2]byte{version, payload[0]}

	for kind, p := range transparentPrefixes[net] {
		if p == prefix {
			return NewTransparent(kind, payload[1:], net)
		}
	}
	for other, kinds := range transparentPrefixes {
		for _, p := range kinds {
			if p == prefix {
				return nil, invalid("address is for %s, expected %s", other, net)
			}
		}
	}
	return nil, invalid("unknown prefix %x", prefix[:])
}

func (t *Transparent) Network() params.Network { return t.Net }

func (t *Transparent) String() string {
	p := transparentPrefixes[t.Net][t.Kind]
	return base58.CheckEncode(append([]byte{p[1]}, t.Hash[:]...), p[0])
}

// Script returns the scriptPubKey paying to this address.
func (t *Transparent) Script() []byte {
	if t.Kind == P2SH {
		return P2SHScript(t.Hash[:])
	}
	return P2PKHScript(t.Hash[:])
}

// Script opcodes.
const (
	opDup         = 0x76
	opHash160     = 0xa9
	opEqual       = 0x87
	opEqualVerify = 0x88
	opCheckSig    = 0xac
	opData20      = 0x14
)

// P2PKHScript returns OP_DUP OP_HASH160 <hash> OP_EQUALVERIFY OP_CHECKSIG.
func P2PKHScript(hash []byte) []byte {
	s := make([]byte, 0, 25)
	s = append(s, opDup, opHash160, opData20)
	s = append(s, hash...)
	return append(s, opEqualVerify, opCheckSig)
}

// P2SHScript returns OP_HASH160 <hash> OP_EQUAL.
func P2SHScript(hash []byte) []byte {
	s := make([]byte, 0, 23)
	s = append(s, opHash160, opData20)
	s = append(s, hash...)
	return append(s, opEqual)
}

// P2PKHHash returns the key hash of a P2PKH script, or nil for any other
// script.
func P2PKHHash(script []byte) []byte {
	if len(script) != 25 ||
		!bytes.Equal(script[:3], []byte{opDup, opHash160, opData20}) ||
		script[23] != opEqualVerify || script[24] != opCheckSig {
		return nil
	}
	return script[3:23]
}

// FromScript recovers the address a standard script pays to.
func FromScript(script []byte, net params.Network) (*Transparent, bool) {
	if h := P2PKHHash(script); h != nil {
		t, _ := NewTransparent(P2PKH, h, net)
		return t, true
	}
	if h := P2SHHash(script); h != nil {
		t, _ := NewTransparent(P2SH, h, net)
		return t, true
	}
	return nil, false
}
