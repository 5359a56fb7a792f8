package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// resolve runs a throwaway cli app with the node flags and returns the
// configuration FromContext produced.
func resolve(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	var (
		got    Config
		resErr error
	)
	app := &cli.App{
		Name:  "test",
		Flags: NodeFlags(),
		Action: func(c *cli.Context) error {
			got, resErr = FromContext(c)
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"test"}, args...)))
	return got, resErr
}

func TestDefaults(t *testing.T) {
	cfg, err := resolve(t)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 3001, cfg.API.Port)
	assert.Equal(t, 2, cfg.Chain.Difficulty)
	assert.Equal(t, ":3001", cfg.API.ListenAddr())
}

func TestPortFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_PORT", "5005")
	cfg, err := resolve(t)
	require.NoError(t, err)
	assert.Equal(t, 5005, cfg.API.Port)

	// An explicit flag wins over the environment.
	cfg, err = resolve(t, "--port", "6006")
	require.NoError(t, err)
	assert.Equal(t, 6006, cfg.API.Port)
}

func TestFlags(t *testing.T) {
	cfg, err := resolve(t,
		"--host", "127.0.0.1",
		"--difficulty", "3",
		"--hash", "sha3-256",
		"--mine.timeout", "5s",
		"--api.writeTimeout", "10s",
		"--api.origins", "http://a.example, ,http://b.example",
		"--log.format", "text",
	)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3001", cfg.API.ListenAddr())
	assert.Equal(t, 3, cfg.Chain.Difficulty)
	assert.Equal(t, "sha3-256", cfg.Chain.HashAlgorithm)
	assert.Equal(t, 5*time.Second, cfg.Chain.MineTimeout)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.API.AllowedOrigins)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  port: 4100
  apiKey: secret
chain:
  difficulty: 1
  mineTimeout: 1m
log:
  level: debug
`), 0o600))

	cfg, err := resolve(t, "--config", path)
	require.NoError(t, err)
	assert.Equal(t, 4100, cfg.API.Port)
	assert.Equal(t, "secret", cfg.API.APIKey)
	assert.Equal(t, 1, cfg.Chain.Difficulty)
	assert.Equal(t, time.Minute, cfg.Chain.MineTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, Default().API.ReadTimeout, cfg.API.ReadTimeout)

	// Flags override the file.
	cfg, err = resolve(t, "--config", path, "--difficulty", "2")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Chain.Difficulty)
}

func TestMissingFile(t *testing.T) {
	_, err := resolve(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	bad := map[string]func(*Config){
		"port zero":          func(c *Config) { c.API.Port = 0 },
		"port too large":     func(c *Config) { c.API.Port = 70000 },
		"negative diff":      func(c *Config) { c.Chain.Difficulty = -1 },
		"huge difficulty":    func(c *Config) { c.Chain.Difficulty = 40 },
		"unknown hash":       func(c *Config) { c.Chain.HashAlgorithm = "md5" },
		"write before mine":  func(c *Config) { c.API.WriteTimeout = c.Chain.MineTimeout },
		"unbounded mining":   func(c *Config) { c.Chain.MineTimeout = 0 },
		"bad log level":      func(c *Config) { c.Log.Level = "loud" },
		"bad log format":     func(c *Config) { c.Log.Format = "xml" },
		"zero body":          func(c *Config) { c.API.MaxBodyBytes = 0 },
		"zero mine rate":     func(c *Config) { c.API.MineRate = 0 },
		"negative queue":     func(c *Config) { c.Chain.QueueSize = -1 },
		"negative mine time": func(c *Config) { c.Chain.MineTimeout = -time.Second },
	}
	for name, mutate := range bad {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}

	cfg := Default()
	cfg.Chain.MineTimeout = 0
	cfg.API.WriteTimeout = 0
	assert.NoError(t, Validate(cfg), "unbounded mining is allowed without a write timeout")
}
