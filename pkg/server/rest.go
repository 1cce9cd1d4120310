package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/suffix-labs/zcash-pct/pkg/api"
	"github.com/suffix-labs/zcash-pct/pkg/crypto"
	"github.com/suffix-labs/zcash-pct/pkg/fees"
	"github.com/suffix-labs/zcash-pct/pkg/params"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
	"github.com/suffix-labs/zcash-pct/pkg/zip321"
)

// AliveResponse is a response for alive and version check.
type AliveResponse struct {
	Alive      bool   `json:"alive"`
	APIVersion string `json:"api_version"`
	APIHeader  string `json:"api_header"`
	Network    string `json:"network"`
}

func (s *server) alive(c *fiber.Ctx) error {
	return c.JSON(AliveResponse{
		Alive:      true,
		APIVersion: ApiVersion,
		APIHeader:  Header,
		Network:    s.network.String(),
	})
}

// ErrorResponse describes a failed request.
type ErrorResponse struct {
	Kind    string   `json:"kind,omitempty"`
	Code    string   `json:"code,omitempty"`
	Message string   `json:"message"`
	Missing []string `json:"missing,omitempty"`
}

// InputRequest is a transparent coin to spend. Hex fields; the txid is in
// display order.
type InputRequest struct {
	TxID         string  `json:"txid"`
	Index        uint32  `json:"index"`
	Value        uint64  `json:"value"`
	ScriptPubKey string  `json:"script_pubkey"`
	RedeemScript string  `json:"redeem_script,omitempty"`
	PubKey       string  `json:"pubkey,omitempty"`
	Sequence     *uint32 `json:"sequence,omitempty"`
	SighashType  uint8   `json:"sighash_type,omitempty"`
}

// Input converts the request into a proposer input.
func (r InputRequest) Input() (api.Input, error) {
	txid, err := crypto.ParseTxID(r.TxID)
	if err != nil {
		return api.Input{}, err
	}
	script, err := hex.DecodeString(r.ScriptPubKey)
	if err != nil {
		return api.Input{}, fmt.Errorf("script_pubkey: %w", err)
	}
	redeem, err := hex.DecodeString(r.RedeemScript)
	if err != nil {
		return api.Input{}, fmt.Errorf("redeem_script: %w", err)
	}
	in := api.Input{
		TxID:         txid,
		Index:        r.Index,
		Value:        r.Value,
		ScriptPubKey: script,
		RedeemScript: redeem,
		Sequence:     r.Sequence,
		SighashType:  r.SighashType,
	}
	if r.PubKey != "" {
		pub, err := decodePubKey(r.PubKey)
		if err != nil {
			return api.Input{}, err
		}
		in.PubKey = pub
	}
	return in, nil
}

// ProposeRequest asks for a PCZT paying PaymentURI. Fee wins over
// FeePerByte; with neither the ZIP 317 fee is used.
type ProposeRequest struct {
	Inputs        []InputRequest `json:"inputs"`
	PaymentURI    string         `json:"payment_uri"`
	Fee           *uint64        `json:"fee,omitempty"`
	FeePerByte    uint64         `json:"fee_per_byte,omitempty"`
	ChangeAddress string         `json:"change_address,omitempty"`
	TargetHeight  uint32         `json:"target_height,omitempty"`
	ExpiryHeight  uint32         `json:"expiry_height,omitempty"`
	LockTime      *uint32        `json:"lock_time,omitempty"`
}

// PCZTRequest carries one serialized PCZT.
type PCZTRequest struct {
	PCZT []byte `json:"pczt"`
}

// PCZTResponse carries one serialized PCZT.
type PCZTResponse struct {
	PCZT []byte `json:"pczt"`
}

// SighashRequest asks for the digest of one input.
type SighashRequest struct {
	PCZT       []byte `json:"pczt"`
	InputIndex uint32 `json:"input_index"`
}

// SighashResponse is the digest of one input, hex encoded.
type SighashResponse struct {
	Sighash     string `json:"sighash"`
	InputIndex  uint32 `json:"input_index"`
	SighashType uint8  `json:"sighash_type"`
}

// SignatureRequest appends a 64-byte compact signature, hex encoded.
type SignatureRequest struct {
	PCZT       []byte `json:"pczt"`
	InputIndex uint32 `json:"input_index"`
	Signature  string `json:"signature"`
	PubKey     string `json:"pubkey,omitempty"`
}

// ExpectedOutputRequest is change the signer expects back.
type ExpectedOutputRequest struct {
	Address      string `json:"address,omitempty"`
	ScriptPubKey string `json:"script_pubkey,omitempty"`
	Value        uint64 `json:"value"`
}

// VerifyRequest checks a PCZT against a payment request.
type VerifyRequest struct {
	PCZT           []byte                  `json:"pczt"`
	PaymentURI     string                  `json:"payment_uri"`
	ExpectedChange []ExpectedOutputRequest `json:"expected_change,omitempty"`
	ShieldedChange uint64                  `json:"shielded_change,omitempty"`
}

// CombineRequest merges copies of one transaction.
type CombineRequest struct {
	PCZTs [][]byte `json:"pczts"`
}

// TransactionResponse is the extracted transaction.
type TransactionResponse struct {
	TxID        string `json:"txid"`
	Transaction string `json:"transaction"`
}

// Resolve decodes the request into proposer arguments for net.
func (r ProposeRequest) Resolve(net params.Network) ([]api.Input, *zip321.PaymentRequest, api.ProposalOptions, error) {
	inputs := make([]api.Input, 0, len(r.Inputs))
	for i, ir := range r.Inputs {
		in, err := ir.Input()
		if err != nil {
			return nil, nil, api.ProposalOptions{}, fmt.Errorf("input %d: %w", i, err)
		}
		inputs = append(inputs, in)
	}
	payments, err := zip321.Parse(r.PaymentURI)
	if err != nil {
		return nil, nil, api.ProposalOptions{}, err
	}
	opts := api.ProposalOptions{
		Network:       net,
		Fee:           r.Fee,
		ChangeAddress: r.ChangeAddress,
		TargetHeight:  r.TargetHeight,
		ExpiryHeight:  r.ExpiryHeight,
		LockTime:      r.LockTime,
	}
	if r.FeePerByte > 0 {
		opts.FeePolicy = fees.PerByte{Rate: r.FeePerByte}
	}
	return inputs, payments, opts, nil
}

// Resolve decodes the payment request and the expected change.
func (r VerifyRequest) Resolve() (*zip321.PaymentRequest, api.ExpectedChange, error) {
	payments, err := zip321.Parse(r.PaymentURI)
	if err != nil {
		return nil, api.ExpectedChange{}, err
	}
	expected := api.ExpectedChange{Shielded: r.ShieldedChange}
	for i, o := range r.ExpectedChange {
		script, err := hex.DecodeString(o.ScriptPubKey)
		if err != nil {
			return nil, api.ExpectedChange{}, fmt.Errorf("expected change %d: %w", i, err)
		}
		expected.Transparent = append(expected.Transparent, api.ExpectedOutput{
			Address: o.Address, ScriptPubKey: script, Value: o.Value,
		})
	}
	return payments, expected, nil
}

func (s *server) propose(c *fiber.Ctx) error {
	var req ProposeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	inputs, payments, opts, err := req.Resolve(s.network)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	h, err := s.manager.Propose(c.UserContext(), inputs, payments, opts)
	if err != nil {
		return err
	}
	return s.respondPCZT(c, h)
}

func (s *server) prove(c *fiber.Ctx) error {
	h, err := s.parse(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), s.proveTimeout)
	defer cancel()
	proved, err := s.manager.Prove(ctx, h, nil)
	if err != nil {
		return err
	}
	return s.respondPCZT(c, proved)
}

func (s *server) sighash(c *fiber.Ctx) error {
	var req SighashRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	h, err := s.manager.Parse(req.PCZT)
	if err != nil {
		return err
	}
	sh, err := s.manager.Sighash(c.UserContext(), h, req.InputIndex)
	if err != nil {
		return err
	}
	return c.JSON(SighashResponse{
		Sighash:     hex.EncodeToString(sh.Hash[:]),
		InputIndex:  sh.InputIndex,
		SighashType: sh.SighashType,
	})
}

func (s *server) signature(c *fiber.Ctx) error {
	var req SignatureRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "signature: "+err.Error())
	}
	ts := api.TransparentSignature{Signature: sig}
	if req.PubKey != "" {
		if ts.PubKey, err = decodePubKey(req.PubKey); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}
	h, err := s.manager.Parse(req.PCZT)
	if err != nil {
		return err
	}
	signed, err := s.manager.AppendSignature(c.UserContext(), h, req.InputIndex, ts)
	if err != nil {
		return err
	}
	return s.respondPCZT(c, signed)
}

func (s *server) verify(c *fiber.Ctx) error {
	var req VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	payments, expected, err := req.Resolve()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	h, err := s.manager.Parse(req.PCZT)
	if err != nil {
		return err
	}
	report, err := s.manager.VerifyBeforeSigning(c.UserContext(), h, payments, expected)
	if err != nil {
		return err
	}
	return c.JSON(report)
}

func (s *server) combine(c *fiber.Ctx) error {
	var req CombineRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	handles := make([]*api.Handle, 0, len(req.PCZTs))
	for _, b := range req.PCZTs {
		h, err := s.manager.Parse(b)
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}
	merged, err := s.manager.Combine(c.UserContext(), handles...)
	if err != nil {
		return err
	}
	return s.respondPCZT(c, merged)
}

func (s *server) status(c *fiber.Ctx) error {
	h, err := s.parse(c)
	if err != nil {
		return err
	}
	r, err := s.manager.Status(h)
	if err != nil {
		return err
	}
	return c.JSON(r)
}

func (s *server) summary(c *fiber.Ctx) error {
	h, err := s.parse(c)
	if err != nil {
		return err
	}
	sum, err := s.manager.Summarize(h)
	if err != nil {
		return err
	}
	return c.JSON(sum)
}

func (s *server) finalize(c *fiber.Ctx) error {
	h, err := s.parse(c)
	if err != nil {
		return err
	}
	tx, err := s.manager.FinalizeAndExtract(c.UserContext(), h)
	if err != nil {
		return err
	}
	return c.JSON(TransactionResponse{TxID: tx.ID(), Transaction: hex.EncodeToString(tx.Bytes)})
}

func (s *server) parse(c *fiber.Ctx) (*api.Handle, error) {
	var req PCZTRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return s.manager.Parse(req.PCZT)
}

func (s *server) respondPCZT(c *fiber.Ctx, h *api.Handle) error {
	b, err := s.manager.Serialize(h)
	if err != nil {
		return err
	}
	return c.JSON(PCZTResponse{PCZT: b})
}

// errorHandler maps lifecycle errors to status codes and a JSON body.
func (s *server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(ErrorResponse{Message: fe.Message})
	}

	resp := ErrorResponse{Kind: string(pczt.KindOf(err)), Message: err.Error()}
	resp.Code, resp.Missing = errorCode(err)

	var status int
	switch {
	case resp.Kind == "":
		status = fiber.StatusInternalServerError
		s.log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	case resp.Kind == string(pczt.KindParse):
		status = fiber.StatusBadRequest
	case resp.Code == pczt.ErrEngineFailure:
		status = fiber.StatusInternalServerError
	case resp.Code == pczt.ErrCanceled:
		status = fiber.StatusServiceUnavailable
	case resp.Code == pczt.ErrConflictingSignature, resp.Kind == string(pczt.KindCombine):
		status = fiber.StatusConflict
	default:
		status = fiber.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(resp)
}

func errorCode(err error) (string, []string) {
	var (
		proposal *pczt.ProposalError
		prover   *pczt.ProverError
		sighash  *pczt.SighashError
		sig      *pczt.SignatureError
		verify   *pczt.VerificationError
		combine  *pczt.CombineError
		final    *pczt.FinalizationError
	)
	switch {
	case errors.As(err, &final):
		return final.Code, final.Missing
	case errors.As(err, &proposal):
		return proposal.Code, nil
	case errors.As(err, &prover):
		return prover.Code, nil
	case errors.As(err, &sighash):
		return sighash.Code, nil
	case errors.As(err, &sig):
		return sig.Code, nil
	case errors.As(err, &verify):
		return verify.Code, nil
	case errors.As(err, &combine):
		return combine.Code, nil
	}
	return "", nil
}

func decodePubKey(s string) (*[33]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 33 {
		return nil, fmt.Errorf("pubkey must be 33 hex-encoded bytes")
	}
	var pub [33]byte
	copy(pub[:], b)
	return &pub, nil
}
