package main

import (
	"context"
	"encoding/hex"

	"github.com/suffix-labs/zcash-pct/pkg/api"
	"github.com/suffix-labs/zcash-pct/pkg/httpclient"
	"github.com/suffix-labs/zcash-pct/pkg/params"
	"github.com/suffix-labs/zcash-pct/pkg/roles"
	"github.com/suffix-labs/zcash-pct/pkg/server"
)

// backend runs lifecycle operations on serialized PCZTs, either in this
// process or on a zcash-pct server.
type backend interface {
	Propose(ctx context.Context, req server.ProposeRequest) ([]byte, error)
	Prove(ctx context.Context, p []byte, onProgress roles.ProgressFunc) ([]byte, error)
	Sighash(ctx context.Context, p []byte, index uint32) ([32]byte, error)
	AppendSignature(ctx context.Context, p []byte, index uint32, sig []byte) ([]byte, error)
	Verify(ctx context.Context, req server.VerifyRequest) (*roles.VerificationReport, error)
	Combine(ctx context.Context, ps ...[]byte) ([]byte, error)
	Status(ctx context.Context, p []byte) (roles.Readiness, error)
	Summary(ctx context.Context, p []byte) (*api.Summary, error)
	Finalize(ctx context.Context, p []byte) (server.TransactionResponse, error)
}

type local struct {
	m   *api.Manager
	net params.Network
}

func (l local) Propose(ctx context.Context, req server.ProposeRequest) ([]byte, error) {
	inputs, payments, opts, err := req.Resolve(l.net)
	if err != nil {
		return nil, err
	}
	h, err := l.m.Propose(ctx, inputs, payments, opts)
	if err != nil {
		return nil, err
	}
	return l.m.Serialize(h)
}

func (l local) Prove(ctx context.Context, p []byte, onProgress roles.ProgressFunc) ([]byte, error) {
	h, err := l.m.Parse(p)
	if err != nil {
		return nil, err
	}
	proved, err := l.m.Prove(ctx, h, onProgress)
	if err != nil {
		return nil, err
	}
	return l.m.Serialize(proved)
}

func (l local) Sighash(ctx context.Context, p []byte, index uint32) ([32]byte, error) {
	h, err := l.m.Parse(p)
	if err != nil {
		return [32]byte{}, err
	}
	sh, err := l.m.Sighash(ctx, h, index)
	return sh.Hash, err
}

func (l local) AppendSignature(ctx context.Context, p []byte, index uint32, sig []byte) ([]byte, error) {
	h, err := l.m.Parse(p)
	if err != nil {
		return nil, err
	}
	signed, err := l.m.AppendSignature(ctx, h, index, api.TransparentSignature{Signature: sig})
	if err != nil {
		return nil, err
	}
	return l.m.Serialize(signed)
}

func (l local) Verify(ctx context.Context, req server.VerifyRequest) (*roles.VerificationReport, error) {
	payments, expected, err := req.Resolve()
	if err != nil {
		return nil, err
	}
	h, err := l.m.Parse(req.PCZT)
	if err != nil {
		return nil, err
	}
	return l.m.VerifyBeforeSigning(ctx, h, payments, expected)
}

func (l local) Combine(ctx context.Context, ps ...[]byte) ([]byte, error) {
	handles := make([]*api.Handle, 0, len(ps))
	for _, p := range ps {
		h, err := l.m.Parse(p)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	merged, err := l.m.Combine(ctx, handles...)
	if err != nil {
		return nil, err
	}
	return l.m.Serialize(merged)
}

func (l local) Status(_ context.Context, p []byte) (roles.Readiness, error) {
	h, err := l.m.Parse(p)
	if err != nil {
		return roles.Readiness{}, err
	}
	return l.m.Status(h)
}

func (l local) Summary(_ context.Context, p []byte) (*api.Summary, error) {
	h, err := l.m.Parse(p)
	if err != nil {
		return nil, err
	}
	return l.m.Summarize(h)
}

func (l local) Finalize(ctx context.Context, p []byte) (server.TransactionResponse, error) {
	h, err := l.m.Parse(p)
	if err != nil {
		return server.TransactionResponse{}, err
	}
	tx, err := l.m.FinalizeAndExtract(ctx, h)
	if err != nil {
		return server.TransactionResponse{}, err
	}
	return server.TransactionResponse{TxID: tx.ID(), Transaction: hex.EncodeToString(tx.Bytes)}, nil
}

// remote proves on the server, which reports no progress.
type remote struct {
	*httpclient.Client
}

func (r remote) Prove(ctx context.Context, p []byte, _ roles.ProgressFunc) ([]byte, error) {
	return r.Client.Prove(ctx, p)
}
