package configuration

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"

	"github.com/suffix-labs/zcash-pct/pkg/engine"
	"github.com/suffix-labs/zcash-pct/pkg/fees"
	"github.com/suffix-labs/zcash-pct/pkg/params"
	"github.com/suffix-labs/zcash-pct/pkg/server"
	"github.com/suffix-labs/zcash-pct/pkg/telemetry"
)

// Environment variables that override the file.
const (
	EnvNetwork    = "PCT_NETWORK"
	EnvLogLevel   = "PCT_LOG_LEVEL"
	EnvKeyDir     = "PCT_KEY_DIR"
	EnvServerPort = "PCT_SERVER_PORT"
)

// Configuration is the main configuration of the application that corresponds to the *.yaml file
// that holds the configuration.
type Configuration struct {
	Network   params.Network   `yaml:"network"`
	LogLevel  string           `yaml:"log_level"`
	Engine    engine.Config    `yaml:"engine"`
	Fees      fees.Config      `yaml:"fees"`
	Server    server.Config    `yaml:"server"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration used when no file is given.
func Default() Configuration {
	return Configuration{
		Network:  params.Testnet,
		LogLevel: zerolog.LevelInfoValue,
		Server:   server.Config{Port: 8080},
	}
}

// Read reads the configuration from the file and returns the Configuration with set fields according to the yaml setup.
// Missing fields keep their Default values. An empty path skips the file.
func Read(path string) (Configuration, error) {
	main := Default()
	if path == "" {
		return main, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, err
	}

	err = yaml.Unmarshal(buf, &main)
	if err != nil {
		return Configuration{}, fmt.Errorf("in file %q: %w", path, err)
	}

	return main, nil
}

// Load reads path, then applies the environment and any .env files on top.
// Variables already set in the environment win over .env files.
func Load(path string, envFiles ...string) (Configuration, error) {
	c, err := Read(path)
	if err != nil {
		return Configuration{}, err
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Configuration{}, fmt.Errorf("env file %q: %w", f, err)
		}
	}
	return c, c.applyEnv()
}

func (c *Configuration) applyEnv() error {
	if v, ok := os.LookupEnv(EnvNetwork); ok {
		n, err := params.ParseNetwork(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvNetwork, err)
		}
		c.Network = n
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv(EnvKeyDir); ok {
		c.Engine.KeyDir = v
	}
	if v, ok := os.LookupEnv(EnvServerPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvServerPort, err)
		}
		c.Server.Port = port
	}
	return nil
}

// Level parses LogLevel, falling back to info.
func (c Configuration) Level() zerolog.Level {
	l, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return l
}
