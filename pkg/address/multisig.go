package address

import (
	"errors"
	"fmt"
)

// ErrNotMultisig is returned for redeem scripts that are not a standard
// m-of-n CHECKMULTISIG over compressed keys.
var ErrNotMultisig = errors.New("not a standard multisig script")

const (
	op1             = 0x51
	opCheckMultisig = 0xae
	opData33        = 0x21

	// MaxMultisigKeys keeps the redeem script under the 520-byte push limit.
	MaxMultisigKeys = 15
)

// Multisig is a parsed m-of-n redeem script.
type Multisig struct {
	Required int
	Keys     [][33]byte // In script order
}

// MultisigScript returns OP_m <key>... OP_n OP_CHECKMULTISIG.
func MultisigScript(required int, keys [][33]byte) ([]byte, error) {
	if len(keys) == 0 || len(keys) > MaxMultisigKeys {
		return nil, fmt.Errorf("%w: %d keys", ErrNotMultisig, len(keys))
	}
	if required < 1 || required > len(keys) {
		return nil, fmt.Errorf("%w: %d of %d", ErrNotMultisig, required, len(keys))
	}
	s := make([]byte, 0, 3+len(keys)*34)
	s = append(s, byte(op1+required-1))
	for _, k := range keys {
		s = append(s, opData33)
		s = append(s, k[:]...)
	}
	return append(s, byte(op1+len(keys)-1), opCheckMultisig), nil
}

// ParseMultisig parses a redeem script built by MultisigScript.
func ParseMultisig(script []byte) (*Multisig, error) {
	if len(script) < 3+34 || script[len(script)-1] != opCheckMultisig {
		return nil, ErrNotMultisig
	}
	m := smallInt(script[0])
	n := smallInt(script[len(script)-2])
	if m < 1 || n < m || n > MaxMultisigKeys || len(script) != 3+n*34 {
		return nil, ErrNotMultisig
	}
	ms := &Multisig{Required: m, Keys: make([][33]byte, n)}
	for i := range n {
		push := script[1+i*34:]
		if push[0] != opData33 || (push[1] != 0x02 && push[1] != 0x03) {
			return nil, fmt.Errorf("%w: key %d is not a compressed key push", ErrNotMultisig, i)
		}
		copy(ms.Keys[i][:], push[1:34])
	}
	return ms, nil
}

// KeyIndex returns the position of pub in the script, or -1.
func (m *Multisig) KeyIndex(pub [33]byte) int {
	for i, k := range m.Keys {
		if k == pub {
			return i
		}
	}
	return -1
}

func smallInt(op byte) int {
	if op < op1 || op > op1+15 {
		return -1
	}
	return int(op-op1) + 1
}

// P2SHHash returns the script hash of a P2SH script, or nil for any other
// script.
func P2SHHash(script []byte) []byte {
	if len(script) != 23 || script[0] != opHash160 || script[1] != opData20 || script[22] != opEqual {
		return nil
	}
	return script[2:22]
}
