// Package params holds the network selector and the per-network consensus
// parameters a PCZT needs (coin type, consensus branch ID, default expiry).
package params

import (
	"fmt"
	"strings"
)

// Network selects address prefixes and consensus parameters.
type Network uint8

const (
	Mainnet Network = iota
	Testnet
	Regtest
)

// Consensus branch IDs (ZIP 200 / ZIP 252 / ZIP 253).
const (
	BranchIDNu5  uint32 = 0xC2D6D0B4
	BranchIDNu6  uint32 = 0xC8E71055
	BranchIDNu61 uint32 = 0x4DEC4DF0
)

// SLIP 44 coin types.
const (
	MainnetCoinType uint32 = 133
	TestnetCoinType uint32 = 1
)

// DefaultExpiryDelta is the number of blocks after the target height at
// which a proposed transaction expires (ZIP 203).
const DefaultExpiryDelta uint32 = 40

// ParseNetwork accepts "main", "mainnet", "test", "testnet", "regtest" and
// "regression". An empty string selects testnet.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "main", "mainnet":
		return Mainnet, nil
	case "test", "testnet", "":
		return Testnet, nil
	case "regtest", "regression":
		return Regtest, nil
	}
	return 0, fmt.Errorf("unknown network %q", s)
}

func (n Network) String() string {
	switch n {
	case Mainnet:
		return "main"
	case Testnet:
		return "test"
	case Regtest:
		return "regtest"
	}
	return fmt.Sprintf("network(%d)", uint8(n))
}

// Valid reports whether n is one of the three known networks.
func (n Network) Valid() bool {
	return n <= Regtest
}

// CoinType returns the SLIP 44 coin type. Regtest shares the testnet value.
func (n Network) CoinType() uint32 {
	if n == Mainnet {
		return MainnetCoinType
	}
	return TestnetCoinType
}

// BranchID returns the consensus branch ID used when the caller does not
// override it.
func (n Network) BranchID() uint32 {
	return BranchIDNu61
}

// MarshalYAML and UnmarshalYAML let the network appear by name in
// configuration files.
func (n Network) MarshalYAML() (interface{}, error) {
	return n.String(), nil
}

func (n *Network) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseNetwork(s)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// MarshalText and UnmarshalText cover JSON request bodies.
func (n Network) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

func (n *Network) UnmarshalText(b []byte) error {
	parsed, err := ParseNetwork(string(b))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
