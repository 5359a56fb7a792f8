package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	vcrypto "github.com/VeltarosLabs/powledger/internal/crypto"
)

type Config struct {
	API   APIConfig   `yaml:"api"`
	Log   LogConfig   `yaml:"log"`
	Chain ChainConfig `yaml:"chain"`
}

type APIConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	MaxBodyBytes   int64         `yaml:"maxBodyBytes"`
	APIKey         string        `yaml:"apiKey"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
	MineRate       float64       `yaml:"mineRate"` // requests/sec per client IP
	MineBurst      float64       `yaml:"mineBurst"`
}

// ListenAddr joins Host and Port.
func (a APIConfig) ListenAddr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|text
}

type ChainConfig struct {
	Difficulty    int           `yaml:"difficulty"`
	HashAlgorithm string        `yaml:"hash"`
	MineTimeout   time.Duration `yaml:"mineTimeout"`
	QueueSize     int           `yaml:"queueSize"`
}

func Default() Config {
	return Config{
		API: APIConfig{
			Host:         "",
			Port:         3001,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 45 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 1 << 20,
			MineRate:     1,
			MineBurst:    5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Chain: ChainConfig{
			Difficulty:    2,
			HashAlgorithm: string(vcrypto.DefaultAlgorithm),
			MineTimeout:   30 * time.Second,
			QueueSize:     16,
		},
	}
}

// LoadFile overlays the YAML file at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}
	return nil
}

// NodeFlags are the command-line flags of the node binary. Every flag can
// also be set from the environment; the listening port keeps HTTP_PORT.
func NodeFlags() []cli.Flag {
	def := Default()
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file (optional)", EnvVars: []string{"POWLEDGER_CONFIG"}},

		&cli.StringFlag{Name: "host", Usage: "HTTP listen host", Value: def.API.Host, EnvVars: []string{"POWLEDGER_HOST"}},
		&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "HTTP listen port", Value: def.API.Port, EnvVars: []string{"HTTP_PORT", "POWLEDGER_PORT"}},
		&cli.DurationFlag{Name: "api.readTimeout", Usage: "HTTP read timeout", Value: def.API.ReadTimeout, EnvVars: []string{"POWLEDGER_API_READ_TIMEOUT"}},
		&cli.DurationFlag{Name: "api.writeTimeout", Usage: "HTTP write timeout (must exceed mine.timeout)", Value: def.API.WriteTimeout, EnvVars: []string{"POWLEDGER_API_WRITE_TIMEOUT"}},
		&cli.DurationFlag{Name: "api.idleTimeout", Usage: "HTTP idle timeout", Value: def.API.IdleTimeout, EnvVars: []string{"POWLEDGER_API_IDLE_TIMEOUT"}},
		&cli.Int64Flag{Name: "api.maxBody", Usage: "Maximum request body size in bytes", Value: def.API.MaxBodyBytes, EnvVars: []string{"POWLEDGER_API_MAX_BODY"}},
		&cli.StringFlag{Name: "api.key", Usage: "API key required for write endpoints (optional)", EnvVars: []string{"POWLEDGER_API_KEY"}},
		&cli.StringFlag{Name: "api.origins", Usage: "Comma-separated CORS origins", EnvVars: []string{"POWLEDGER_API_ORIGINS"}},
		&cli.Float64Flag{Name: "api.mineRate", Usage: "Mining requests per second per client", Value: def.API.MineRate, EnvVars: []string{"POWLEDGER_API_MINE_RATE"}},
		&cli.Float64Flag{Name: "api.mineBurst", Usage: "Mining request burst per client", Value: def.API.MineBurst, EnvVars: []string{"POWLEDGER_API_MINE_BURST"}},

		&cli.IntFlag{Name: "difficulty", Usage: "Required leading zero hex characters", Value: def.Chain.Difficulty, EnvVars: []string{"POWLEDGER_DIFFICULTY"}},
		&cli.StringFlag{Name: "hash", Usage: "Block hash: sha256|sha256d|sha3-256|keccak256", Value: def.Chain.HashAlgorithm, EnvVars: []string{"POWLEDGER_HASH"}},
		&cli.DurationFlag{Name: "mine.timeout", Usage: "Maximum time spent mining one block (0 = unbounded)", Value: def.Chain.MineTimeout, EnvVars: []string{"POWLEDGER_MINE_TIMEOUT"}},
		&cli.IntFlag{Name: "mine.queue", Usage: "Pending mining requests", Value: def.Chain.QueueSize, EnvVars: []string{"POWLEDGER_MINE_QUEUE"}},

		&cli.StringFlag{Name: "log.level", Usage: "Log level: debug|info|warn|error", Value: def.Log.Level, EnvVars: []string{"POWLEDGER_LOG_LEVEL"}},
		&cli.StringFlag{Name: "log.format", Usage: "Log format: json|text", Value: def.Log.Format, EnvVars: []string{"POWLEDGER_LOG_FORMAT"}},
	}
}

// FromContext resolves the node configuration: defaults, then the YAML
// file, then any flag or environment variable that was set explicitly.
func FromContext(c *cli.Context) (Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(c.String("config")); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if c.IsSet("host") {
		cfg.API.Host = strings.TrimSpace(c.String("host"))
	}
	if c.IsSet("port") {
		cfg.API.Port = c.Int("port")
	}
	if c.IsSet("api.readTimeout") {
		cfg.API.ReadTimeout = c.Duration("api.readTimeout")
	}
	if c.IsSet("api.writeTimeout") {
		cfg.API.WriteTimeout = c.Duration("api.writeTimeout")
	}
	if c.IsSet("api.idleTimeout") {
		cfg.API.IdleTimeout = c.Duration("api.idleTimeout")
	}
	if c.IsSet("api.maxBody") {
		cfg.API.MaxBodyBytes = c.Int64("api.maxBody")
	}
	if c.IsSet("api.key") {
		cfg.API.APIKey = strings.TrimSpace(c.String("api.key"))
	}
	if c.IsSet("api.origins") {
		cfg.API.AllowedOrigins = splitCSV(c.String("api.origins"))
	}
	if c.IsSet("api.mineRate") {
		cfg.API.MineRate = c.Float64("api.mineRate")
	}
	if c.IsSet("api.mineBurst") {
		cfg.API.MineBurst = c.Float64("api.mineBurst")
	}
	if c.IsSet("difficulty") {
		cfg.Chain.Difficulty = c.Int("difficulty")
	}
	if c.IsSet("hash") {
		cfg.Chain.HashAlgorithm = strings.TrimSpace(c.String("hash"))
	}
	if c.IsSet("mine.timeout") {
		cfg.Chain.MineTimeout = c.Duration("mine.timeout")
	}
	if c.IsSet("mine.queue") {
		cfg.Chain.QueueSize = c.Int("mine.queue")
	}
	if c.IsSet("log.level") {
		cfg.Log.Level = strings.TrimSpace(c.String("log.level"))
	}
	if c.IsSet("log.format") {
		cfg.Log.Format = strings.TrimSpace(c.String("log.format"))
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
		return fmt.Errorf("port out of range: %d", cfg.API.Port)
	}
	if cfg.API.MaxBodyBytes <= 0 {
		return fmt.Errorf("api.maxBody must be positive: %d", cfg.API.MaxBodyBytes)
	}
	if cfg.API.MineRate <= 0 || cfg.API.MineBurst < 1 {
		return fmt.Errorf("invalid mining rate limit: rate=%v burst=%v", cfg.API.MineRate, cfg.API.MineBurst)
	}

	// Beyond 16 characters the expected search cost exceeds 2^64 hashes.
	if cfg.Chain.Difficulty < 0 || cfg.Chain.Difficulty > 16 {
		return fmt.Errorf("difficulty out of range: %d", cfg.Chain.Difficulty)
	}
	if _, err := vcrypto.ParseAlgorithm(cfg.Chain.HashAlgorithm); err != nil {
		return err
	}
	if cfg.Chain.MineTimeout < 0 {
		return fmt.Errorf("mine.timeout must not be negative: %s", cfg.Chain.MineTimeout)
	}
	if cfg.Chain.QueueSize < 0 {
		return fmt.Errorf("mine.queue must not be negative: %d", cfg.Chain.QueueSize)
	}
	if cfg.API.WriteTimeout > 0 && (cfg.Chain.MineTimeout == 0 || cfg.API.WriteTimeout <= cfg.Chain.MineTimeout) {
		return fmt.Errorf("api.writeTimeout (%s) must exceed mine.timeout (%s)", cfg.API.WriteTimeout, cfg.Chain.MineTimeout)
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", cfg.Log.Level)
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log.format: %q", cfg.Log.Format)
	}
	return nil
}

func splitCSV(s string) []string {
	raw := strings.Split(s, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		t := strings.TrimSpace(r)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
