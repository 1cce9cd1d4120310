package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suffix-labs/zcash-pct/pkg/fees"
	"github.com/suffix-labs/zcash-pct/pkg/params"
)

const sample = `network: main
log_level: debug
engine:
  key_dir: /var/lib/pct/keys
  workers: 4
fees:
  policy: per-byte
  rate: 3
server:
  port: 9090
  prove_timeout: 2m
telemetry:
  enabled: true
`

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRead(t *testing.T) {
	c, err := Read(write(t, "pct.yaml", sample))
	require.NoError(t, err)

	assert.Equal(t, params.Mainnet, c.Network)
	assert.Equal(t, zerolog.DebugLevel, c.Level())
	assert.Equal(t, "/var/lib/pct/keys", c.Engine.KeyDir)
	assert.Equal(t, 4, c.Engine.Workers)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, 2*time.Minute, c.Server.ProveTimeout)
	assert.True(t, c.Telemetry.Enabled)

	policy, err := c.Fees.Build()
	require.NoError(t, err)
	assert.Equal(t, fees.PerByte{Rate: 3}, policy)
}

func TestReadDefaults(t *testing.T) {
	c, err := Read(write(t, "pct.yaml", "fees:\n  policy: zip317\n"))
	require.NoError(t, err)
	assert.Equal(t, params.Testnet, c.Network)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, zerolog.InfoLevel, c.Level())

	c, err = Read("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestReadErrors(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Read(write(t, "bad.yaml", "network: moon\n"))
	assert.ErrorContains(t, err, "unknown network")
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	env := write(t, ".env", "PCT_NETWORK=regtest\nPCT_LOG_LEVEL=trace\nPCT_SERVER_PORT=7000\n")
	// godotenv.Load does not clear variables; the test owns them.
	t.Cleanup(func() {
		os.Unsetenv(EnvNetwork)
		os.Unsetenv(EnvServerPort)
	})

	c, err := Load(write(t, "pct.yaml", sample), env, filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, params.Regtest, c.Network)
	assert.Equal(t, zerolog.WarnLevel, c.Level())
	assert.Equal(t, 7000, c.Server.Port)
	assert.Equal(t, "/var/lib/pct/keys", c.Engine.KeyDir)
}

func TestLoadRejectsBadEnvironment(t *testing.T) {
	t.Setenv(EnvServerPort, "eighty")
	_, err := Load("")
	assert.ErrorContains(t, err, EnvServerPort)
}
