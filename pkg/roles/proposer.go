package roles

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/suffix-labs/zcash-pct/pkg/address"
	"github.com/suffix-labs/zcash-pct/pkg/engine"
	"github.com/suffix-labs/zcash-pct/pkg/fees"
	"github.com/suffix-labs/zcash-pct/pkg/params"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
	"github.com/suffix-labs/zcash-pct/pkg/zip321"
)

// ProposalOptions control how a payment request becomes a PCZT.
type ProposalOptions struct {
	Network params.Network

	// Fee overrides the fee policy when set. FeePolicy defaults to ZIP 317.
	Fee       *uint64
	FeePolicy fees.Policy

	// ChangeAddress receives leftover value. It must be a transparent
	// address for Network.
	ChangeAddress string

	// ExpiryHeight defaults to TargetHeight + params.DefaultExpiryDelta.
	TargetHeight uint32
	ExpiryHeight uint32

	LockTime *uint32
	BranchID uint32 // 0 selects the network default

	// OVK lets the sender recover its shielded outputs.
	OVK *[32]byte

	Logger zerolog.Logger
}

// Proposal is a constructed and IO-finalized PCZT.
type Proposal struct {
	PCZT   *pczt.PCZT
	Fee    uint64
	Change uint64
}

type routedPayment struct {
	payment     zip321.Payment
	transparent *address.Transparent
	orchard     *[address.OrchardReceiverSize]byte
}

// Propose runs the Creator, Constructor and IO Finalizer over a payment
// request. Every failure is a *pczt.ProposalError.
func Propose(ctx context.Context, eng engine.Engine, inputs []Input, req *zip321.PaymentRequest, opts ProposalOptions) (*Proposal, error) {
	log := opts.Logger
	if len(inputs) == 0 {
		return nil, proposalError(pczt.ErrInvalidInput, "no inputs", nil)
	}
	if req == nil || len(req.Payments) == 0 {
		return nil, proposalError(pczt.ErrInvalidInput, "payment request is empty", nil)
	}

	var totalIn uint64
	for i, in := range inputs {
		if in.Value > pczt.MaxMoney-totalIn {
			return nil, proposalError(pczt.ErrInvalidInput, fmt.Sprintf("input %d: total exceeds maximum money", i), nil)
		}
		totalIn += in.Value
	}
	totalPay, err := req.Total()
	if err != nil {
		return nil, proposalError(pczt.ErrInvalidInput, "payment total", err)
	}

	routed, err := routePayments(req.Payments, opts.Network)
	if err != nil {
		return nil, err
	}
	var transparentOuts, shieldedOuts int
	for _, r := range routed {
		if r.orchard != nil {
			shieldedOuts++
		} else {
			transparentOuts++
		}
	}

	var changeAddr *address.Transparent
	if opts.ChangeAddress != "" {
		changeAddr, err = address.DecodeTransparent(opts.ChangeAddress, opts.Network)
		if err != nil {
			return nil, proposalError(pczt.ErrInvalidAddress, "change address", err)
		}
	}

	fee, change, err := selectFee(totalIn, totalPay, inputs, transparentOuts, shieldedOuts, opts)
	if err != nil {
		return nil, err
	}
	if change > 0 && changeAddr == nil {
		return nil, &pczt.ProposalError{
			Code:    pczt.ErrMissingChangeAddress,
			Message: fmt.Sprintf("change of %d zatoshis needs a change address", change),
			Change:  change,
		}
	}

	expiry := opts.ExpiryHeight
	if expiry == 0 && opts.TargetHeight > 0 {
		expiry = opts.TargetHeight + params.DefaultExpiryDelta
	}
	creator := NewCreator(opts.Network, expiry)
	if opts.BranchID != 0 {
		creator.WithConsensusBranchID(opts.BranchID)
	}
	if opts.LockTime != nil {
		creator.WithFallbackLockTime(*opts.LockTime)
	}

	con := NewConstructor(creator.Create(), eng)
	for i, in := range inputs {
		if err := con.AddTransparentInput(in); err != nil {
			return nil, proposalError(pczt.ErrInvalidInput, fmt.Sprintf("input %d", i), err)
		}
	}
	for i, r := range routed {
		if err := ctx.Err(); err != nil {
			return nil, proposalError(pczt.ErrCanceled, "proposal canceled", err)
		}
		if r.transparent != nil {
			err = con.AddTransparentOutput(r.payment.Amount, r.transparent, false)
		} else {
			err = con.AddOrchardOutput(&engine.Output{
				Recipient:   *r.orchard,
				Value:       r.payment.Amount,
				Memo:        r.payment.Memo,
				OVK:         opts.OVK,
				UserAddress: r.payment.Address,
			})
		}
		if err != nil {
			return nil, proposalError(pczt.ErrEngineFailure, fmt.Sprintf("payment %d", i), err)
		}
	}
	if change > 0 {
		if err := con.AddTransparentOutput(change, changeAddr, true); err != nil {
			return nil, proposalError(pczt.ErrInvalidInput, "change output", err)
		}
	}
	if err := con.PadOrchard(); err != nil {
		return nil, proposalError(pczt.ErrEngineFailure, "padding actions", err)
	}

	p := con.Finish()
	p.Global.Proprietary[pczt.ProprietaryFee] = binary.LittleEndian.AppendUint64(nil, fee)
	p.Global.Proprietary[pczt.ProprietaryChange] = binary.LittleEndian.AppendUint64(nil, change)

	fin := NewIoFinalizer(p, eng)
	if err := fin.Finalize(); err != nil {
		return nil, proposalError(pczt.ErrEngineFailure, "io finalization", err)
	}

	totals, err := pczt.ComputeTotals(p)
	if err != nil || totals.Fee() != int64(fee) {
		return nil, proposalError(pczt.ErrInvalidInput, "value is not conserved", err)
	}

	log.Debug().
		Int("inputs", len(inputs)).
		Int("transparent_outputs", len(p.Transparent.Outputs)).
		Int("actions", len(p.Orchard.Actions)).
		Uint64("fee", fee).
		Uint64("change", change).
		Msg("proposal built")
	return &Proposal{PCZT: fin.Finish(), Fee: fee, Change: change}, nil
}

// routePayments classifies each destination. Transparent addresses become
// transparent outputs; unified addresses need an Orchard receiver.
func routePayments(payments []zip321.Payment, net params.Network) ([]routedPayment, error) {
	routed := make([]routedPayment, 0, len(payments))
	for i, p := range payments {
		if p.Amount == 0 {
			return nil, proposalError(pczt.ErrInvalidInput, fmt.Sprintf("payment %d: amount is zero", i), nil)
		}
		addr, err := address.Decode(p.Address, net)
		if err != nil {
			return nil, proposalError(pczt.ErrInvalidAddress, fmt.Sprintf("payment %d", i), err)
		}
		r := routedPayment{payment: p}
		switch a := addr.(type) {
		case *address.Transparent:
			if len(p.Memo) > 0 {
				return nil, proposalError(pczt.ErrInvalidInput,
					fmt.Sprintf("payment %d: memos are not allowed on transparent addresses", i), nil)
			}
			r.transparent = a
		case *address.Unified:
			if a.Orchard == nil {
				return nil, proposalError(pczt.ErrInvalidAddress, fmt.Sprintf("payment %d", i),
					fmt.Errorf("%w: unified address has no Orchard receiver", address.ErrInvalidAddress))
			}
			if len(p.Memo) > pczt.MemoSize {
				return nil, proposalError(pczt.ErrInvalidInput, fmt.Sprintf("payment %d: memo too long", i), nil)
			}
			r.orchard = a.Orchard
		}
		routed = append(routed, r)
	}
	return routed, nil
}

// selectFee returns the fee and change for the proposal.
//
// Without an override the fee is first computed for a shape with a change
// output. Leftover value too small to pay for that output is added to the
// fee instead.
func selectFee(totalIn, totalPay uint64, inputs []Input, nTransparent, nShielded int, opts ProposalOptions) (fee, change uint64, err error) {
	insufficient := func(fee uint64) error {
		return proposalError(pczt.ErrInsufficientFunds,
			fmt.Sprintf("inputs of %d cannot cover payments of %d plus fee %d", totalIn, totalPay, fee), nil)
	}

	if opts.Fee != nil {
		fee = *opts.Fee
		if totalIn < totalPay || totalIn-totalPay < fee {
			return 0, 0, insufficient(fee)
		}
		return fee, totalIn - totalPay - fee, nil
	}

	policy := opts.FeePolicy
	if policy == nil {
		policy = fees.ZIP317{}
	}
	shape := fees.Shape{
		TransparentInputs:  len(inputs),
		TransparentOutputs: nTransparent,
		OrchardActions:     fees.OrchardActions(nShielded),
	}
	for _, in := range inputs {
		shape.TransparentInputSize += fees.InputSize(in.RedeemScript)
	}
	feeNoChange := policy.Fee(shape)
	shape.TransparentOutputs++
	feeWithChange := policy.Fee(shape)

	if totalIn < totalPay || totalIn-totalPay < feeNoChange {
		return 0, 0, insufficient(feeNoChange)
	}
	leftover := totalIn - totalPay
	switch {
	case leftover == feeNoChange:
		return feeNoChange, 0, nil
	case leftover > feeWithChange:
		return feeWithChange, leftover - feeWithChange, nil
	default:
		opts.Logger.Debug().
			Uint64("leftover", leftover-feeNoChange).
			Msg("leftover below change output cost, added to fee")
		return leftover, 0, nil
	}
}

func proposalError(code, msg string, cause error) error {
	return &pczt.ProposalError{Code: code, Message: msg, Cause: cause}
}
