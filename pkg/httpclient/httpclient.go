// Package httpclient talks to a zcash-pct server. Every method sends a
// JSON request to one route and decodes the JSON response.
package httpclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/suffix-labs/zcash-pct/pkg/api"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
	"github.com/suffix-labs/zcash-pct/pkg/roles"
	"github.com/suffix-labs/zcash-pct/pkg/server"
)

var (
	ErrApiVersionMismatch  = fmt.Errorf("api version mismatch")
	ErrApiHeaderMismatch   = fmt.Errorf("api header mismatch")
	ErrStatusCodeMismatch  = fmt.Errorf("status code mismatch")
	ErrContentTypeMismatch = fmt.Errorf("content type mismatch")
)

// RejectedError is a lifecycle error reported by the server. Its Kind is
// the kind the server reported, so pczt.KindOf and pczt.HasKind work on it.
type RejectedError struct {
	Status   int
	Response server.ErrorResponse
}

func (e *RejectedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "server rejected request (%d)", e.Status)
	if e.Response.Code != "" {
		b.WriteString(" " + e.Response.Code)
	}
	b.WriteString(": " + e.Response.Message)
	return b.String()
}

func (e *RejectedError) Kind() pczt.Kind { return pczt.Kind(e.Response.Kind) }

// Client is a zcash-pct server client.
type Client struct {
	base    string
	timeout time.Duration
	http    *fasthttp.Client
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the network dialer, e.g. with an in-memory listener.
func WithDialer(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

// New creates a client for the server at base, e.g. http://localhost:8080.
// Requests without a context deadline give up after timeout.
func New(base string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		base:    strings.TrimSuffix(base, "/"),
		timeout: timeout,
		http:    &fasthttp.Client{Name: server.Header},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Alive checks the server and its API version.
func (c *Client) Alive(ctx context.Context) (server.AliveResponse, error) {
	var resp server.AliveResponse
	if err := c.makeGet(ctx, server.AliveURL, &resp); err != nil {
		return resp, err
	}
	if resp.APIVersion != server.ApiVersion {
		return resp, errors.Join(ErrApiVersionMismatch,
			fmt.Errorf("expected %s but got %s", server.ApiVersion, resp.APIVersion))
	}
	if resp.APIHeader != server.Header {
		return resp, ErrApiHeaderMismatch
	}
	return resp, nil
}

// Propose asks the server to build a PCZT.
func (c *Client) Propose(ctx context.Context, req server.ProposeRequest) ([]byte, error) {
	var resp server.PCZTResponse
	err := c.makePost(ctx, server.ProposeURL, req, &resp)
	return resp.PCZT, err
}

// Prove attaches proofs on the server.
func (c *Client) Prove(ctx context.Context, p []byte) ([]byte, error) {
	var resp server.PCZTResponse
	err := c.makePost(ctx, server.ProveURL, server.PCZTRequest{PCZT: p}, &resp)
	return resp.PCZT, err
}

// Sighash returns the digest to sign for one input.
func (c *Client) Sighash(ctx context.Context, p []byte, index uint32) ([32]byte, error) {
	var resp server.SighashResponse
	if err := c.makePost(ctx, server.SighashURL, server.SighashRequest{PCZT: p, InputIndex: index}, &resp); err != nil {
		return [32]byte{}, err
	}
	var hash [32]byte
	raw, err := hex.DecodeString(resp.Sighash)
	if err != nil || len(raw) != len(hash) {
		return hash, fmt.Errorf("malformed sighash %q", resp.Sighash)
	}
	copy(hash[:], raw)
	return hash, nil
}

// AppendSignature stores a compact signature on one input.
func (c *Client) AppendSignature(ctx context.Context, p []byte, index uint32, sig []byte) ([]byte, error) {
	var resp server.PCZTResponse
	req := server.SignatureRequest{PCZT: p, InputIndex: index, Signature: hex.EncodeToString(sig)}
	err := c.makePost(ctx, server.SignatureURL, req, &resp)
	return resp.PCZT, err
}

// Verify checks p against the payment request before signing.
func (c *Client) Verify(ctx context.Context, req server.VerifyRequest) (*roles.VerificationReport, error) {
	var resp roles.VerificationReport
	if err := c.makePost(ctx, server.VerifyURL, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Combine merges copies of one transaction.
func (c *Client) Combine(ctx context.Context, ps ...[]byte) ([]byte, error) {
	var resp server.PCZTResponse
	err := c.makePost(ctx, server.CombineURL, server.CombineRequest{PCZTs: ps}, &resp)
	return resp.PCZT, err
}

// Status lists what p still lacks.
func (c *Client) Status(ctx context.Context, p []byte) (roles.Readiness, error) {
	var resp roles.Readiness
	err := c.makePost(ctx, server.StatusURL, server.PCZTRequest{PCZT: p}, &resp)
	return resp, err
}

// Summary describes p.
func (c *Client) Summary(ctx context.Context, p []byte) (*api.Summary, error) {
	var resp api.Summary
	if err := c.makePost(ctx, server.SummaryURL, server.PCZTRequest{PCZT: p}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Finalize extracts the transaction.
func (c *Client) Finalize(ctx context.Context, p []byte) (server.TransactionResponse, error) {
	var resp server.TransactionResponse
	err := c.makePost(ctx, server.FinalizeURL, server.PCZTRequest{PCZT: p}, &resp)
	return resp, err
}

func (c *Client) makePost(ctx context.Context, route string, out, in any) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(c.base + route)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	req.SetBody(raw)

	return c.do(ctx, req, in)
}

func (c *Client) makeGet(ctx context.Context, route string, in any) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(c.base + route)
	req.Header.SetMethod(fasthttp.MethodGet)

	return c.do(ctx, req, in)
}

func (c *Client) do(ctx context.Context, req *fasthttp.Request, in any) error {
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := ctx.Err(); err != nil {
		return &pczt.NetworkError{Op: string(req.Header.Method()), URL: req.URI().String(), Cause: err}
	}
	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return &pczt.NetworkError{Op: string(req.Header.Method()), URL: req.URI().String(), Cause: err}
	}

	contentType := resp.Header.Peek(fasthttp.HeaderContentType)
	isJSON := bytes.Index(contentType, []byte("application/json")) == 0

	switch resp.StatusCode() {
	case fasthttp.StatusOK, fasthttp.StatusCreated, fasthttp.StatusAccepted:
	case fasthttp.StatusNoContent:
		return nil
	default:
		rejected := &RejectedError{Status: resp.StatusCode()}
		if isJSON && json.Unmarshal(resp.Body(), &rejected.Response) == nil {
			return rejected
		}
		return errors.Join(
			ErrStatusCodeMismatch,
			fmt.Errorf("expected status code %d but got %d", fasthttp.StatusOK, resp.StatusCode()))
	}

	if !isJSON {
		return errors.Join(
			ErrContentTypeMismatch,
			fmt.Errorf("expected content type application/json but got %s", contentType))
	}

	if in != nil {
		return json.Unmarshal(resp.Body(), in)
	}
	return nil
}
