package roles

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/suffix-labs/zcash-pct/pkg/address"
	"github.com/suffix-labs/zcash-pct/pkg/crypto"
	"github.com/suffix-labs/zcash-pct/pkg/engine"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

var (
	errInputsLocked  = errors.New("transparent inputs not modifiable")
	errOutputsLocked = errors.New("transparent outputs not modifiable")
	errShieldedLock  = errors.New("shielded outputs not modifiable")
)

// Input is a transparent coin offered for spending: P2PKH, or P2SH over a
// standard multisig redeem script.
type Input struct {
	TxID         [32]byte
	Index        uint32
	Value        uint64 // zatoshis
	ScriptPubKey []byte
	RedeemScript []byte // Required for P2SH coins

	// PubKey optionally names a key controlling the coin. It must hash to
	// a P2PKH script or appear in the redeem script. Derivation records
	// where the key came from.
	PubKey     *[33]byte
	Derivation *pczt.Zip32Derivation

	Sequence    *uint32 // 0xffffffff when nil
	SighashType uint8   // 0 selects SIGHASH_ALL
}

// Constructor adds inputs and outputs to a PCZT.
//
// For transparent-to-Orchard transactions, this role bridges the transparent
// and shielded pools by laying out Orchard actions whose spends are dummies.
type Constructor struct {
	pczt   *pczt.PCZT
	engine engine.Engine
}

// NewConstructor creates a Constructor over a PCZT made by the Creator.
func NewConstructor(p *pczt.PCZT, eng engine.Engine) *Constructor {
	return &Constructor{pczt: p, engine: eng}
}

// AddTransparentInput adds a coin to spend.
func (c *Constructor) AddTransparentInput(in Input) error {
	if c.pczt.Global.TxModifiable&pczt.FlagTransparentInputsModifiable == 0 {
		return errInputsLocked
	}
	if in.Value == 0 || in.Value > pczt.MaxMoney {
		return fmt.Errorf("input value %d out of range", in.Value)
	}
	if err := checkInputScript(in.ScriptPubKey, in.RedeemScript); err != nil {
		return err
	}
	sighashType := in.SighashType
	if sighashType == 0 {
		sighashType = pczt.SighashAll
	}
	if !pczt.ValidSighashType(sighashType) {
		return fmt.Errorf("invalid sighash type 0x%02x", sighashType)
	}

	input := pczt.TransparentInput{
		PrevoutTxID:       in.TxID,
		PrevoutIndex:      in.Index,
		Sequence:          in.Sequence,
		Value:             in.Value,
		ScriptPubKey:      append([]byte(nil), in.ScriptPubKey...),
		RedeemScript:      bytes.Clone(in.RedeemScript),
		SighashType:       sighashType,
		PartialSignatures: map[[33]byte][]byte{},
		Bip32Derivation:   map[[33]byte]pczt.Zip32Derivation{},
		Proprietary:       map[string][]byte{},
	}
	if in.PubKey != nil {
		if !controls(&input, *in.PubKey) {
			return errors.New("public key does not match the input script")
		}
		var d pczt.Zip32Derivation
		if in.Derivation != nil {
			d = *in.Derivation
		}
		input.Bip32Derivation[*in.PubKey] = d
	}

	c.pczt.Transparent.Inputs = append(c.pczt.Transparent.Inputs, input)
	return nil
}

func checkInputScript(script, redeem []byte) error {
	switch {
	case address.P2PKHHash(script) != nil:
		if len(redeem) > 0 {
			return errors.New("P2PKH input carries a redeem script")
		}
		return nil
	case address.P2SHHash(script) != nil:
		if len(redeem) == 0 {
			return errors.New("P2SH input needs its redeem script")
		}
		if !bytes.Equal(crypto.Hash160(redeem), address.P2SHHash(script)) {
			return errors.New("redeem script does not match the input script")
		}
		if _, err := address.ParseMultisig(redeem); err != nil {
			return fmt.Errorf("redeem script: %w", err)
		}
		return nil
	}
	return errors.New("only P2PKH and multisig P2SH inputs are supported")
}

// AddTransparentOutput adds a transparent output.
func (c *Constructor) AddTransparentOutput(value uint64, addr *address.Transparent, change bool) error {
	if c.pczt.Global.TxModifiable&pczt.FlagTransparentOutputsModifiable == 0 {
		return errOutputsLocked
	}
	userAddress := addr.String()
	c.pczt.Transparent.Outputs = append(c.pczt.Transparent.Outputs, pczt.TransparentOutput{
		Value:           value,
		ScriptPubKey:    addr.Script(),
		UserAddress:     &userAddress,
		Change:          change,
		Bip32Derivation: map[[33]byte]pczt.Zip32Derivation{},
		Proprietary:     map[string][]byte{},
	})
	return nil
}

// AddOrchardOutput lays out one action paying out and moves its value into
// the shielded pool. A nil output adds a zero-value padding action.
func (c *Constructor) AddOrchardOutput(out *engine.Output) error {
	if c.pczt.Global.TxModifiable&pczt.FlagShieldedModifiable == 0 {
		return errShieldedLock
	}
	action, err := c.engine.BuildAction(out)
	if err != nil {
		return fmt.Errorf("build action: %w", err)
	}
	c.pczt.Orchard.Actions = append(c.pczt.Orchard.Actions, action)
	if out != nil {
		c.pczt.Orchard.ValueBalance -= int64(out.Value)
	}
	return nil
}

// PadOrchard adds padding actions until a non-empty bundle holds at least
// MinOrchardActions actions.
func (c *Constructor) PadOrchard() error {
	n := len(c.pczt.Orchard.Actions)
	if n == 0 {
		return nil
	}
	for ; n < pczt.MinOrchardActions; n++ {
		if err := c.AddOrchardOutput(nil); err != nil {
			return err
		}
	}
	return nil
}

// Finish returns the constructed PCZT.
func (c *Constructor) Finish() *pczt.PCZT {
	return c.pczt
}
