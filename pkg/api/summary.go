package api

import (
	"encoding/binary"
	"fmt"

	"github.com/suffix-labs/zcash-pct/pkg/crypto"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
	"github.com/suffix-labs/zcash-pct/pkg/roles"
)

// Summary describes a PCZT for display. Totals are always recomputed from
// the inputs and outputs; the values the proposer recorded are reported
// next to them and never used.
type Summary struct {
	TxID         string `json:"txid"`
	Network      string `json:"network"`
	BranchID     uint32 `json:"consensus_branch_id"`
	ExpiryHeight uint32 `json:"expiry_height"`

	Inputs             int `json:"inputs"`
	TransparentOutputs int `json:"transparent_outputs"`
	Actions            int `json:"orchard_actions"`

	TotalInput             uint64 `json:"total_input"`
	TotalTransparentOutput uint64 `json:"total_transparent_output"`
	TotalShieldedOutput    uint64 `json:"total_shielded_output"`
	Fee                    int64  `json:"fee"`
	Change                 uint64 `json:"change"`

	RecordedFee    *uint64 `json:"recorded_fee,omitempty"`
	RecordedChange *uint64 `json:"recorded_change,omitempty"`

	SignaturesPresent int      `json:"signatures_present"`
	ProofsPresent     int      `json:"proofs_present"`
	Modifiable        bool     `json:"modifiable"`
	Ready             bool     `json:"ready"`
	Missing           []string `json:"missing,omitempty"`
}

// Summarize describes the PCZT held by h.
func (m *Manager) Summarize(h *Handle) (*Summary, error) {
	var s *Summary
	err := h.borrow(func(p *pczt.PCZT) error {
		var err error
		s, err = summarize(p)
		return err
	})
	return s, err
}

func summarize(p *pczt.PCZT) (*Summary, error) {
	totals, err := pczt.ComputeTotals(p)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	r := roles.CheckReadiness(p)
	s := &Summary{
		TxID:                   crypto.FormatTxID(crypto.TxID(p)),
		Network:                p.Global.Network.String(),
		BranchID:               p.Global.ConsensusBranchID,
		ExpiryHeight:           p.Global.ExpiryHeight,
		Inputs:                 len(p.Transparent.Inputs),
		TransparentOutputs:     len(p.Transparent.Outputs),
		Actions:                len(p.Orchard.Actions),
		TotalInput:             totals.Inputs,
		TotalTransparentOutput: totals.TransparentOutputs,
		TotalShieldedOutput:    totals.ShieldedOutputs,
		Fee:                    totals.Fee(),
		Change:                 totals.Change,
		RecordedFee:            proprietaryU64(p.Global.Proprietary, pczt.ProprietaryFee),
		RecordedChange:         proprietaryU64(p.Global.Proprietary, pczt.ProprietaryChange),
		Modifiable:             p.Global.TxModifiable != 0,
		Ready:                  r.Ready,
		Missing:                r.Missing,
	}
	for i := range p.Transparent.Inputs {
		if p.Transparent.Inputs[i].IsSigned() {
			s.SignaturesPresent++
		}
	}
	for i := range p.Orchard.Actions {
		if p.Orchard.Actions[i].HasProof() {
			s.ProofsPresent++
		}
	}
	return s, nil
}

func proprietaryU64(m map[string][]byte, key string) *uint64 {
	b, ok := m[key]
	if !ok || len(b) != 8 {
		return nil
	}
	v := binary.LittleEndian.Uint64(b)
	return &v
}
