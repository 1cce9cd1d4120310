// Package address decodes and encodes the Zcash address forms a transaction
// proposal can name: transparent P2PKH/P2SH addresses (base58check) and
// ZIP 316 unified addresses (bech32m over F4Jumble).
//
// Every decoder takes the expected network and rejects addresses encoded
// for a different one.
package address

import (
	"errors"
	"fmt"

	"github.com/suffix-labs/zcash-pct/pkg/params"
)

// ErrInvalidAddress is wrapped by every decoding failure.
var ErrInvalidAddress = errors.New("invalid address")

// Address is a decoded payment address.
type Address interface {
	Network() params.Network
	String() string
}

// Decode parses s as either a transparent or a unified address for net.
func Decode(s string, net params.Network) (Address, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if s[0] == 't' {
		return DecodeTransparent(s, net)
	}
	return DecodeUnified(s, net)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidAddress, fmt.Sprintf(format, args...))
}
