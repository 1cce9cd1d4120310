package httpclient

import (
	"context"
	"encoding/hex"
	"net"
	"os"
	"testing"
	"time"

	"github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/suffix-labs/zcash-pct/pkg/address"
	"github.com/suffix-labs/zcash-pct/pkg/api"
	"github.com/suffix-labs/zcash-pct/pkg/crypto"
	"github.com/suffix-labs/zcash-pct/pkg/engine"
	"github.com/suffix-labs/zcash-pct/pkg/params"
	"github.com/suffix-labs/zcash-pct/pkg/pczt"
	"github.com/suffix-labs/zcash-pct/pkg/server"
	"github.com/suffix-labs/zcash-pct/pkg/zip321"
)

func TestMain(m *testing.M) {
	logger.Disable()
	os.Exit(m.Run())
}

func startServer(t *testing.T) *Client {
	t.Helper()
	log := zerolog.New(zerolog.NewTestWriter(t))
	m := api.New(api.WithEngine(engine.New(engine.Config{}, zerolog.Nop())), api.WithLogger(log))
	app := server.NewRouter(server.Config{Port: 8080}, m, params.Testnet, nil, log)

	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	return New("http://pct.local/", 10*time.Second, WithDialer(func(string) (net.Conn, error) {
		return ln.Dial()
	}))
}

func TestAlive(t *testing.T) {
	c := startServer(t)
	alive, err := c.Alive(t.Context())
	require.NoError(t, err)
	assert.True(t, alive.Alive)
	assert.Equal(t, "test", alive.Network)
}

func TestSignAndFinalize(t *testing.T) {
	c := startServer(t)

	raw := make([]byte, 32)
	raw[31] = 0x29
	key, err := crypto.PrivateKeyFromBytes(raw)
	require.NoError(t, err)
	own, err := address.NewTransparent(address.P2PKH, key.PublicKey().Hash160(), params.Testnet)
	require.NoError(t, err)
	payee, err := address.NewTransparent(address.P2SH, make([]byte, 20), params.Testnet)
	require.NoError(t, err)
	uri := (&zip321.PaymentRequest{Payments: []zip321.Payment{{Address: payee.String(), Amount: 50_000}}}).Encode()

	fee := uint64(2_000)
	p, err := c.Propose(t.Context(), server.ProposeRequest{
		Inputs: []server.InputRequest{{
			TxID:         crypto.FormatTxID([32]byte{9}),
			Value:        80_000,
			ScriptPubKey: hex.EncodeToString(own.Script()),
		}},
		PaymentURI:    uri,
		Fee:           &fee,
		ChangeAddress: own.String(),
		TargetHeight:  2_800_000,
	})
	require.NoError(t, err)

	report, err := c.Verify(t.Context(), server.VerifyRequest{
		PCZT:           p,
		PaymentURI:     uri,
		ExpectedChange: []server.ExpectedOutputRequest{{Address: own.String(), Value: 28_000}},
	})
	require.NoError(t, err)
	assert.True(t, report.Valid, "%+v", report.Checks)

	hash, err := c.Sighash(t.Context(), p, 0)
	require.NoError(t, err)
	sig := key.SignCompact(hash)
	signed, err := c.AppendSignature(t.Context(), p, 0, sig[:])
	require.NoError(t, err)

	status, err := c.Status(t.Context(), signed)
	require.NoError(t, err)
	assert.True(t, status.Ready)

	merged, err := c.Combine(t.Context(), p, signed)
	require.NoError(t, err)

	sum, err := c.Summary(t.Context(), merged)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SignaturesPresent)

	tx, err := c.Finalize(t.Context(), merged)
	require.NoError(t, err)
	assert.Equal(t, sum.TxID, tx.TxID)
}

func TestRejected(t *testing.T) {
	c := startServer(t)

	_, err := c.Status(t.Context(), []byte("garbage"))
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, 400, rejected.Status)
	assert.True(t, pczt.HasKind(err, pczt.KindParse))

	_, err = c.Sighash(t.Context(), nil, 0)
	assert.Error(t, err)
}

func TestNetworkError(t *testing.T) {
	ln := fasthttputil.NewInmemoryListener()
	require.NoError(t, ln.Close())
	c := New("http://pct.local", time.Second, WithDialer(func(string) (net.Conn, error) {
		return ln.Dial()
	}))

	_, err := c.Alive(t.Context())
	assert.True(t, pczt.HasKind(err, pczt.KindNetwork))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = c.Status(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
