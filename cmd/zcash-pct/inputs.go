package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/suffix-labs/zcash-pct/pkg/address"
	"github.com/suffix-labs/zcash-pct/pkg/crypto"
	"github.com/suffix-labs/zcash-pct/pkg/params"
	"github.com/suffix-labs/zcash-pct/pkg/server"
)

// parseInput reads txid:index:value[:script[:redeem]]. Without a script
// the coin is taken to belong to owner.
func parseInput(spec string, owner *address.Transparent) (server.InputRequest, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 3 || len(parts) > 5 {
		return server.InputRequest{}, fmt.Errorf("input %q: want txid:index:value[:script[:redeem]]", spec)
	}
	if _, err := crypto.ParseTxID(parts[0]); err != nil {
		return server.InputRequest{}, fmt.Errorf("input %q: %w", spec, err)
	}
	index, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return server.InputRequest{}, fmt.Errorf("input %q: index: %w", spec, err)
	}
	value, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return server.InputRequest{}, fmt.Errorf("input %q: value: %w", spec, err)
	}

	in := server.InputRequest{TxID: parts[0], Index: uint32(index), Value: value}
	switch {
	case len(parts) >= 4:
		for i, field := range parts[3:] {
			if _, err := hex.DecodeString(field); err != nil {
				return server.InputRequest{}, fmt.Errorf("input %q: script %d: %w", spec, i, err)
			}
		}
		in.ScriptPubKey = parts[3]
		if len(parts) == 5 {
			in.RedeemScript = parts[4]
		}
	case owner != nil:
		in.ScriptPubKey = hex.EncodeToString(owner.Script())
	default:
		return server.InputRequest{}, fmt.Errorf("input %q: no script and no --from address", spec)
	}
	return in, nil
}

// parseChange reads address:value.
func parseChange(spec string) (server.ExpectedOutputRequest, error) {
	i := strings.LastIndex(spec, ":")
	if i <= 0 {
		return server.ExpectedOutputRequest{}, fmt.Errorf("change %q: want address:value", spec)
	}
	value, err := strconv.ParseUint(spec[i+1:], 10, 64)
	if err != nil {
		return server.ExpectedOutputRequest{}, fmt.Errorf("change %q: %w", spec, err)
	}
	return server.ExpectedOutputRequest{Address: spec[:i], Value: value}, nil
}

// readKey reads a WIF key from a file or, when path is empty, from
// PCT_SIGNING_KEY.
func readKey(path string, net params.Network) (*crypto.PrivateKey, error) {
	wif := os.Getenv("PCT_SIGNING_KEY")
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		wif = string(b)
	}
	wif = strings.TrimSpace(wif)
	if wif == "" {
		return nil, fmt.Errorf("no signing key, use --key or PCT_SIGNING_KEY")
	}
	key, keyNet, err := crypto.ParsePrivateKeyWIF(wif)
	if err != nil {
		return nil, err
	}
	if (keyNet == params.Mainnet) != (net == params.Mainnet) {
		return nil, fmt.Errorf("key is for %s, configured network is %s", keyNet, net)
	}
	return key, nil
}

func readPCZT(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("no PCZT file given")
	}
	return os.ReadFile(path)
}

func writePCZT(path string, b []byte) error {
	return os.WriteFile(path, b, 0o600)
}
