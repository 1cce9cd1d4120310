// Package fees computes transaction fees from the shape of a transaction.
//
// The default policy is the ZIP 317 conventional fee: a marginal fee per
// logical action with a grace of two actions. A per-byte policy over an
// estimated v5 transaction size and a fixed override are also available.
//
// References:
//   - ZIP 317: https://zips.z.cash/zip-0317
package fees

import (
	"fmt"
	"strings"

	"github.com/suffix-labs/zcash-pct/pkg/address"
)

// ZIP 317 parameters.
const (
	MarginalFee           uint64 = 5_000
	GraceActions                 = 2
	P2PKHStandardInputSz         = 150
	P2PKHStandardOutputSz        = 34
	MinOrchardActions            = 2
)

// Shape is the part of a transaction the fee depends on.
type Shape struct {
	TransparentInputs  int
	TransparentOutputs int
	OrchardActions     int // Padded action count, 0 when there is no bundle

	// TransparentInputSize is the signed size of all inputs. Zero means
	// every input is a standard P2PKH input.
	TransparentInputSize int
}

func (s Shape) inputSize() int {
	if s.TransparentInputSize > 0 {
		return s.TransparentInputSize
	}
	return s.TransparentInputs * P2PKHStandardInputSz
}

// InputSize is the signed size of one transparent input. A nil redeem
// script means P2PKH.
func InputSize(redeemScript []byte) int {
	if len(redeemScript) == 0 {
		return P2PKHStandardInputSz
	}
	required := 1
	if ms, err := address.ParseMultisig(redeemScript); err == nil {
		required = ms.Required
	}
	script := 1 + required*(1+maxSignatureSize) + pushSize(len(redeemScript)) + len(redeemScript)
	return outpointSize + sequenceSize + compactSizeLen(script) + script
}

// OrchardActions returns the number of actions a bundle with the given
// number of outputs carries once padded.
func OrchardActions(outputs int) int {
	if outputs == 0 {
		return 0
	}
	return max(outputs, MinOrchardActions)
}

// LogicalActions is the ZIP 317 action count of s. Inputs count by size in
// units of a standard P2PKH input, outputs one each.
func (s Shape) LogicalActions() int {
	inputs := (s.inputSize() + P2PKHStandardInputSz - 1) / P2PKHStandardInputSz
	return max(inputs, s.TransparentOutputs) + s.OrchardActions
}

// CalculateFee returns the ZIP 317 fee for a transaction with the given
// numbers of transparent inputs, transparent outputs and Orchard outputs.
func CalculateFee(transparentInputs, transparentOutputs, orchardOutputs int) uint64 {
	return ConventionalFee(Shape{
		TransparentInputs:  transparentInputs,
		TransparentOutputs: transparentOutputs,
		OrchardActions:     OrchardActions(orchardOutputs),
	})
}

// ConventionalFee is the ZIP 317 fee for s.
func ConventionalFee(s Shape) uint64 {
	return MarginalFee * uint64(max(GraceActions, s.LogicalActions()))
}

// Policy decides the fee for a transaction shape.
type Policy interface {
	Fee(s Shape) uint64
	String() string
}

// ZIP317 is the conventional fee policy.
type ZIP317 struct{}

func (ZIP317) Fee(s Shape) uint64 { return ConventionalFee(s) }
func (ZIP317) String() string     { return "zip317" }

// PerByte charges Rate zatoshis per estimated byte.
type PerByte struct {
	Rate uint64
}

func (p PerByte) Fee(s Shape) uint64 { return p.Rate * uint64(EstimateSize(s)) }
func (p PerByte) String() string     { return fmt.Sprintf("per-byte(%d)", p.Rate) }

// Fixed always returns Amount.
type Fixed struct {
	Amount uint64
}

func (f Fixed) Fee(Shape) uint64 { return f.Amount }
func (f Fixed) String() string   { return fmt.Sprintf("fixed(%d)", f.Amount) }

// Consensus v5 sizes used by EstimateSize.
const (
	v5HeaderSize          = 20
	orchardActionSize     = 820
	orchardProofBase      = 2720
	orchardProofPerAction = 2272
	orchardSigSize        = 64
	orchardBundleFixed    = 1 + 8 + 32 + orchardSigSize // flags, value balance, anchor, binding sig
	saplingEmptySize      = 2
	outpointSize          = 36
	sequenceSize          = 4
	maxSignatureSize      = 73 // DER plus sighash type
)

// EstimateSize estimates the serialized size of a fully signed v5
// transaction of shape s.
func EstimateSize(s Shape) int {
	size := v5HeaderSize
	size += compactSizeLen(s.TransparentInputs) + s.inputSize()
	size += compactSizeLen(s.TransparentOutputs) + s.TransparentOutputs*P2PKHStandardOutputSz
	size += saplingEmptySize
	size += compactSizeLen(s.OrchardActions)
	if s.OrchardActions > 0 {
		proofs := orchardProofBase + orchardProofPerAction*s.OrchardActions
		size += s.OrchardActions * (orchardActionSize + orchardSigSize)
		size += orchardBundleFixed + compactSizeLen(proofs) + proofs
	}
	return size
}

func pushSize(n int) int {
	switch {
	case n <= 75:
		return 1
	case n <= 0xff:
		return 2
	default:
		return 3
	}
}

func compactSizeLen(n int) int {
	switch {
	case n < 0xfd:
		return 1
	case n <= 0xffff:
		return 3
	default:
		return 5
	}
}

// Config selects a policy in configuration files.
type Config struct {
	Policy string `yaml:"policy"` // zip317 (default), per-byte or fixed
	Rate   uint64 `yaml:"rate"`
	Amount uint64 `yaml:"amount"`
}

// Build returns the configured policy.
func (c Config) Build() (Policy, error) {
	switch strings.ToLower(c.Policy) {
	case "", "zip317":
		return ZIP317{}, nil
	case "per-byte", "perbyte":
		if c.Rate == 0 {
			return nil, fmt.Errorf("fees: per-byte policy needs a non-zero rate")
		}
		return PerByte{Rate: c.Rate}, nil
	case "fixed":
		return Fixed{Amount: c.Amount}, nil
	}
	return nil, fmt.Errorf("fees: unknown policy %q", c.Policy)
}
