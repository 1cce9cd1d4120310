package api

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/suffix-labs/zcash-pct/pkg/crypto"
	"github.com/suffix-labs/zcash-pct/pkg/engine"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
	"github.com/suffix-labs/zcash-pct/pkg/roles"
	"github.com/suffix-labs/zcash-pct/pkg/telemetry"
	"github.com/suffix-labs/zcash-pct/pkg/zip321"
)

// Types shared with the roles package.
type (
	Input                = roles.Input
	ProposalOptions      = roles.ProposalOptions
	Progress             = roles.Progress
	Phase                = roles.Phase
	ExpectedChange       = roles.ExpectedChange
	ExpectedOutput       = roles.ExpectedOutput
	VerificationReport   = roles.VerificationReport
	TransparentSignature = roles.TransparentSignature
	Readiness            = roles.Readiness
	Transaction          = roles.Transaction
)

// SigHash is the digest one transparent input must be signed over.
type SigHash struct {
	Hash        [32]byte `json:"hash"`
	InputIndex  uint32   `json:"input_index"`
	SighashType uint8    `json:"sighash_type"`
}

// Manager runs the lifecycle operations over handles.
type Manager struct {
	engine  engine.Engine
	log     zerolog.Logger
	metrics *telemetry.Measurements
}

// Option configures a Manager.
type Option func(*Manager)

// WithEngine selects the cryptographic engine. The default is
// engine.Default().
func WithEngine(e engine.Engine) Option {
	return func(m *Manager) { m.engine = e }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics records operation and proving metrics.
func WithMetrics(ms *telemetry.Measurements) Option {
	return func(m *Manager) { m.metrics = ms }
}

// New creates a Manager.
func New(opts ...Option) *Manager {
	m := &Manager{log: zerolog.Nop()}
	for _, o := range opts {
		o(m)
	}
	if m.engine == nil {
		m.engine = engine.Default()
	}
	return m
}

// Engine returns the engine the Manager proves and verifies with.
func (m *Manager) Engine() engine.Engine {
	return m.engine
}

func (m *Manager) observe(op string, start time.Time, err error) {
	m.metrics.ObserveOperation(op, start, err)
	ev := m.log.Debug()
	if err != nil {
		ev = m.log.Warn().Err(err).Str("kind", string(pczt.KindOf(err)))
	}
	ev.Str("op", op).Dur("elapsed", time.Since(start)).Msg("operation finished")
}

// Propose builds a proposal for req. The returned handle is ready for
// proving and signing.
func (m *Manager) Propose(ctx context.Context, inputs []Input, req *zip321.PaymentRequest, opts ProposalOptions) (h *Handle, err error) {
	defer func(start time.Time) { m.observe("propose", start, err) }(time.Now())
	opts.Logger = m.log.With().Str("op", "propose").Logger()
	prop, err := roles.Propose(ctx, m.engine, inputs, req, opts)
	if err != nil {
		return nil, err
	}
	return newHandle(prop.PCZT), nil
}

// Prove attaches proofs to every action of h. onProgress may be nil.
func (m *Manager) Prove(ctx context.Context, h *Handle, onProgress roles.ProgressFunc) (out *Handle, err error) {
	defer func(start time.Time) { m.observe("prove", start, err) }(time.Now())
	p, err := h.snapshot()
	if err != nil {
		return nil, err
	}

	m.metrics.ProvingStarted()
	defer m.metrics.ProvingDone()
	phase, phaseStart := roles.Phase(-1), time.Now()
	track := func(ev Progress) {
		if ev.Phase != phase {
			if phase >= 0 {
				m.metrics.ObservePhase(phase.String(), time.Since(phaseStart))
			}
			phase, phaseStart = ev.Phase, time.Now()
			m.log.Debug().Str("phase", ev.Phase.String()).Msg("proving phase")
		}
		if onProgress != nil {
			onProgress(ev)
		}
	}

	proved, err := roles.NewProver(m.engine, m.log).Prove(ctx, p, track)
	if err != nil {
		return nil, err
	}
	if err := h.consume(); err != nil {
		return nil, err
	}
	return newHandle(proved), nil
}

// Sighash returns the digest to sign for a transparent input.
func (m *Manager) Sighash(ctx context.Context, h *Handle, index uint32) (SigHash, error) {
	var out SigHash
	err := h.borrow(func(p *pczt.PCZT) error {
		hash, hashType, err := roles.NewSigner(p).Sighash(index)
		out = SigHash{Hash: hash, InputIndex: index, SighashType: hashType}
		return err
	})
	return out, err
}

// ShieldedSighash returns the bundle-level digest that spend
// authorizations and the binding signature sign.
func (m *Manager) ShieldedSighash(h *Handle) ([32]byte, error) {
	var out [32]byte
	err := h.borrow(func(p *pczt.PCZT) error {
		out = crypto.ShieldedSighash(p)
		return nil
	})
	return out, err
}

// AppendSignature verifies sig and stores it on a transparent input.
func (m *Manager) AppendSignature(ctx context.Context, h *Handle, index uint32, sig TransparentSignature) (out *Handle, err error) {
	defer func(start time.Time) { m.observe("append_signature", start, err) }(time.Now())
	return h.transform(func(p *pczt.PCZT) (*pczt.PCZT, error) {
		s := roles.NewSigner(p)
		if err := s.AppendSignature(index, sig); err != nil {
			return nil, err
		}
		return s.Finish(), nil
	})
}

// VerifyBeforeSigning compares h with the payment request and expected
// change. Failed checks are reported in the result.
func (m *Manager) VerifyBeforeSigning(ctx context.Context, h *Handle, req *zip321.PaymentRequest, expected ExpectedChange) (r *VerificationReport, err error) {
	defer func(start time.Time) { m.observe("verify", start, err) }(time.Now())
	p, err := h.snapshot()
	if err != nil {
		return nil, err
	}
	return roles.NewVerifier(m.engine).Verify(ctx, p, req, expected)
}

// Combine merges handles describing the same transaction. Every input
// handle is consumed on success and none is on failure.
func (m *Manager) Combine(ctx context.Context, handles ...*Handle) (out *Handle, err error) {
	defer func(start time.Time) { m.observe("combine", start, err) }(time.Now())
	if len(handles) == 0 {
		return nil, &pczt.CombineError{Code: pczt.ErrInvalidInput, Message: "no handles to combine"}
	}
	return consumeAll(handles, func(ps []*pczt.PCZT) (*pczt.PCZT, error) {
		return roles.NewCombiner(ps).Combine()
	})
}

// Status reports what h still needs before it can be finalized.
func (m *Manager) Status(h *Handle) (Readiness, error) {
	var r Readiness
	err := h.borrow(func(p *pczt.PCZT) error {
		r = roles.CheckReadiness(p)
		return nil
	})
	return r, err
}

// FinalizeAndExtract produces the final transaction and consumes h.
func (m *Manager) FinalizeAndExtract(ctx context.Context, h *Handle) (tx *Transaction, err error) {
	defer func(start time.Time) { m.observe("finalize", start, err) }(time.Now())
	p, err := h.snapshot()
	if err != nil {
		return nil, err
	}
	tx, err = roles.Finalize(ctx, m.engine, p)
	if err != nil {
		return nil, err
	}
	if err := h.consume(); err != nil {
		return nil, err
	}
	m.log.Info().Str("txid", tx.ID()).Int("size", len(tx.Bytes)).Msg("transaction extracted")
	return tx, nil
}

// Parse decodes a serialized PCZT into a new handle.
func (m *Manager) Parse(b []byte) (*Handle, error) {
	p, err := pczt.Parse(b)
	if err != nil {
		return nil, err
	}
	return newHandle(p), nil
}

// Serialize encodes the PCZT held by h.
func (m *Manager) Serialize(h *Handle) ([]byte, error) {
	var out []byte
	err := h.borrow(func(p *pczt.PCZT) error {
		var err error
		out, err = pczt.Serialize(p)
		return err
	})
	return out, err
}
