// Package roles implements the PCZT role pattern.
//
// PCZT roles separate transaction construction into distinct responsibilities:
//   - Creator: Initializes empty PCZT structure
//   - Constructor: Adds transparent inputs/outputs and lays out Orchard actions
//   - IO Finalizer: Locks the structure, derives bsk, signs dummy spends
//   - Prover: Attaches a proof to every action
//   - Signer: Computes sighashes and appends transparent signatures
//   - Verifier: Re-derives the expected structure for a signer
//   - Combiner: Merges independently evolved copies
//   - Spend Finalizer: Builds transparent scriptSigs
//   - Transaction Extractor: Produces the final transaction bytes
//
// Propose runs the first three roles as one step. Each role can be executed
// by a different party or at a different time; the PCZT container is the
// only thing handed between them.
package roles

import (
	"github.com/suffix-labs/zcash-pct/pkg/params"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
)

// Creator initializes a base PCZT with no inputs or outputs.
//
// The Creator sets up the transaction-wide metadata (version, expiry,
// branch ID, anchor) that all parties must agree on.
type Creator struct {
	network           params.Network
	consensusBranchID uint32
	expiryHeight      uint32
	orchardAnchor     [32]byte
	fallbackLockTime  *uint32
}

// NewCreator creates a Creator for net. The consensus branch ID defaults to
// the network's current one.
func NewCreator(net params.Network, expiryHeight uint32) *Creator {
	return &Creator{
		network:           net,
		consensusBranchID: net.BranchID(),
		expiryHeight:      expiryHeight,
	}
}

// WithConsensusBranchID overrides the network upgrade the transaction
// commits to.
func (c *Creator) WithConsensusBranchID(id uint32) *Creator {
	c.consensusBranchID = id
	return c
}

// WithFallbackLockTime sets an optional nLockTime value. It is either a
// block height (< 500000000) or a UNIX timestamp.
func (c *Creator) WithFallbackLockTime(lockTime uint32) *Creator {
	c.fallbackLockTime = &lockTime
	return c
}

// WithOrchardAnchor sets the Orchard commitment tree root. Output-only
// bundles only use dummy spends, so the zero anchor is accepted.
func (c *Creator) WithOrchardAnchor(anchor [32]byte) *Creator {
	c.orchardAnchor = anchor
	return c
}

// Create returns a PCZT with the global metadata set, empty bundles and
// every modification flag raised.
func (c *Creator) Create() *pczt.PCZT {
	return &pczt.PCZT{
		Global: pczt.Global{
			TxVersion:         pczt.V5TxVersion,
			VersionGroupID:    pczt.V5VersionGroupID,
			ConsensusBranchID: c.consensusBranchID,
			FallbackLockTime:  c.fallbackLockTime,
			ExpiryHeight:      c.expiryHeight,
			CoinType:          c.network.CoinType(),
			Network:           c.network,
			TxModifiable: pczt.FlagTransparentInputsModifiable |
				pczt.FlagTransparentOutputsModifiable |
				pczt.FlagShieldedModifiable,
			Proprietary: map[string][]byte{},
		},
		Orchard: pczt.OrchardBundle{
			Flags:  pczt.OrchardFlagsEnabled,
			Anchor: c.orchardAnchor,
		},
	}
}
