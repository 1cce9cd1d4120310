package server

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/consensys/gnark/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/zcash-pct/pkg/address"
	"github.com/suffix-labs/zcash-pct/pkg/api"
	"github.com/suffix-labs/zcash-pct/pkg/crypto"
	"github.com/suffix-labs/zcash-pct/pkg/engine"
	"github.com/suffix-labs/zcash-pct/pkg/params"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
	"github.com/suffix-labs/zcash-pct/pkg/roles"
	"github.com/suffix-labs/zcash-pct/pkg/telemetry"
	"github.com/suffix-labs/zcash-pct/pkg/zip321"
)

func TestMain(m *testing.M) {
	logger.Disable()
	os.Exit(m.Run())
}

var testEngine = sync.OnceValue(func() engine.Engine {
	return engine.New(engine.Config{}, zerolog.Nop())
})

type fixture struct {
	app     *fiber.App
	metrics *telemetry.Measurements
	key     *crypto.PrivateKey
	own     *address.Transparent
	payee   *address.Transparent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	raw := make([]byte, 32)
	raw[31] = 0x17
	key, err := crypto.PrivateKeyFromBytes(raw)
	require.NoError(t, err)
	own, err := address.NewTransparent(address.P2PKH, key.PublicKey().Hash160(), params.Testnet)
	require.NoError(t, err)
	payee, err := address.NewTransparent(address.P2PKH, bytes.Repeat([]byte{0x33}, 20), params.Testnet)
	require.NoError(t, err)

	log := zerolog.New(zerolog.NewTestWriter(t))
	metrics := telemetry.New(prometheus.NewRegistry())
	m := api.New(api.WithEngine(testEngine()), api.WithLogger(log), api.WithMetrics(metrics))
	app := NewRouter(Config{Port: 8080}, m, params.Testnet, metrics, log)
	return &fixture{app: app, metrics: metrics, key: key, own: own, payee: payee}
}

func (f *fixture) paymentURI() string {
	req := zip321.PaymentRequest{Payments: []zip321.Payment{{Address: f.payee.String(), Amount: 100_000}}}
	return req.Encode()
}

func (f *fixture) proposeRequest() ProposeRequest {
	fee := uint64(1_000)
	script := hex.EncodeToString(f.own.Script())
	return ProposeRequest{
		Inputs: []InputRequest{
			{TxID: crypto.FormatTxID([32]byte{1}), Index: 0, Value: 60_000, ScriptPubKey: script},
			{TxID: crypto.FormatTxID([32]byte{2}), Index: 3, Value: 60_000, ScriptPubKey: script},
		},
		PaymentURI:    f.paymentURI(),
		Fee:           &fee,
		ChangeAddress: f.own.String(),
		TargetHeight:  2_500_000,
	}
}

// post sends body as JSON and decodes the response into out.
func (f *fixture) post(t *testing.T, url string, body, out any) int {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) propose(t *testing.T) []byte {
	t.Helper()
	var resp PCZTResponse
	require.Equal(t, fiber.StatusOK, f.post(t, ProposeURL, f.proposeRequest(), &resp))
	require.NotEmpty(t, resp.PCZT)
	return resp.PCZT
}

func (f *fixture) sign(t *testing.T, b []byte, index uint32) []byte {
	t.Helper()
	var sh SighashResponse
	require.Equal(t, fiber.StatusOK, f.post(t, SighashURL, SighashRequest{PCZT: b, InputIndex: index}, &sh))
	assert.Equal(t, uint8(pczt.SighashAll), sh.SighashType)

	raw, err := hex.DecodeString(sh.Sighash)
	require.NoError(t, err)
	var hash [32]byte
	copy(hash[:], raw)
	sig := f.key.SignCompact(hash)

	var resp PCZTResponse
	req := SignatureRequest{PCZT: b, InputIndex: index, Signature: hex.EncodeToString(sig[:])}
	require.Equal(t, fiber.StatusOK, f.post(t, SignatureURL, req, &resp))
	return resp.PCZT
}

func TestAlive(t *testing.T) {
	f := newFixture(t)
	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, AliveURL, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var alive AliveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&alive))
	assert.True(t, alive.Alive)
	assert.Equal(t, ApiVersion, alive.APIVersion)
	assert.Equal(t, "test", alive.Network)
}

func TestTransparentLifecycle(t *testing.T) {
	f := newFixture(t)
	b := f.propose(t)

	var report roles.VerificationReport
	verify := VerifyRequest{
		PCZT:           b,
		PaymentURI:     f.paymentURI(),
		ExpectedChange: []ExpectedOutputRequest{{Address: f.own.String(), Value: 19_000}},
	}
	require.Equal(t, fiber.StatusOK, f.post(t, VerifyURL, verify, &report))
	assert.True(t, report.Valid, "%+v", report.Checks)

	var status roles.Readiness
	require.Equal(t, fiber.StatusOK, f.post(t, StatusURL, PCZTRequest{PCZT: b}, &status))
	assert.False(t, status.Ready)
	assert.Len(t, status.Missing, 2)

	// Each input is signed on its own copy and the copies are merged.
	first := f.sign(t, b, 0)
	second := f.sign(t, b, 1)
	var combined PCZTResponse
	require.Equal(t, fiber.StatusOK, f.post(t, CombineURL, CombineRequest{PCZTs: [][]byte{second, first}}, &combined))

	var ready roles.Readiness
	require.Equal(t, fiber.StatusOK, f.post(t, StatusURL, PCZTRequest{PCZT: combined.PCZT}, &ready))
	assert.True(t, ready.Ready)
	assert.Empty(t, ready.Missing)

	var sum api.Summary
	require.Equal(t, fiber.StatusOK, f.post(t, SummaryURL, PCZTRequest{PCZT: combined.PCZT}, &sum))
	assert.Equal(t, 2, sum.SignaturesPresent)
	assert.Equal(t, int64(1_000), sum.Fee)
	assert.Equal(t, uint64(19_000), sum.Change)

	var tx TransactionResponse
	require.Equal(t, fiber.StatusOK, f.post(t, FinalizeURL, PCZTRequest{PCZT: combined.PCZT}, &tx))
	assert.Equal(t, sum.TxID, tx.TxID)
	raw, err := hex.DecodeString(tx.Transaction)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x00, 0x00, 0x80}, raw[:4])
}

func TestErrorResponses(t *testing.T) {
	f := newFixture(t)
	b := f.propose(t)

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, ProposeURL, bytes.NewBufferString("{"))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := f.app.Test(req, -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		req := f.proposeRequest()
		req.Inputs = req.Inputs[:1]
		var e ErrorResponse
		assert.Equal(t, fiber.StatusUnprocessableEntity, f.post(t, ProposeURL, req, &e))
		assert.Equal(t, string(pczt.KindProposal), e.Kind)
		assert.Equal(t, pczt.ErrInsufficientFunds, e.Code)
	})

	t.Run("bad txid", func(t *testing.T) {
		req := f.proposeRequest()
		req.Inputs[0].TxID = "zz"
		assert.Equal(t, fiber.StatusBadRequest, f.post(t, ProposeURL, req, nil))
	})

	t.Run("garbage pczt", func(t *testing.T) {
		var e ErrorResponse
		assert.Equal(t, fiber.StatusBadRequest, f.post(t, StatusURL, PCZTRequest{PCZT: []byte("nope")}, &e))
		assert.Equal(t, string(pczt.KindParse), e.Kind)
	})

	t.Run("index out of range", func(t *testing.T) {
		var e ErrorResponse
		assert.Equal(t, fiber.StatusUnprocessableEntity, f.post(t, SighashURL, SighashRequest{PCZT: b, InputIndex: 7}, &e))
		assert.Equal(t, pczt.ErrIndexOutOfRange, e.Code)
	})

	t.Run("bad signature", func(t *testing.T) {
		var e ErrorResponse
		req := SignatureRequest{PCZT: b, Signature: hex.EncodeToString(make([]byte, 64))}
		assert.Equal(t, fiber.StatusUnprocessableEntity, f.post(t, SignatureURL, req, &e))
		assert.Equal(t, string(pczt.KindSignature), e.Kind)
	})

	t.Run("finalize unsigned", func(t *testing.T) {
		var e ErrorResponse
		assert.Equal(t, fiber.StatusUnprocessableEntity, f.post(t, FinalizeURL, PCZTRequest{PCZT: b}, &e))
		assert.Equal(t, pczt.ErrIncomplete, e.Code)
		assert.Len(t, e.Missing, 2)
	})

	t.Run("nothing to prove", func(t *testing.T) {
		var e ErrorResponse
		assert.Equal(t, fiber.StatusUnprocessableEntity, f.post(t, ProveURL, PCZTRequest{PCZT: b}, &e))
		assert.Equal(t, pczt.ErrNothingToProve, e.Code)
	})
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t)
	f.propose(t)

	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, MetricsURL, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `pct_operation_duration_seconds_count{operation="propose",outcome="ok"} 1`)
}

func TestRunRejectsPort(t *testing.T) {
	err := Run(t.Context(), Config{Port: 70000}, api.New(), params.Testnet, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrWrongPortSpecified)
}
