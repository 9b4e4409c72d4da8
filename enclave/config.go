package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config is the host configuration: configs/auctiond.yaml merged over defaults, then
// AUCTIOND_* environment overrides.
type Config struct {
	// VsockPort is used inside an enclave. When TCPAddr is set the host listens on TCP
	// instead, for development outside Nitro.
	VsockPort uint32 `yaml:"vsockPort"`
	TCPAddr   string `yaml:"tcpAddr"`

	MaxWorkers  int           `yaml:"maxWorkers"`
	ReadTimeout time.Duration `yaml:"readTimeout"`

	// RequestToken, when set, must be presented by every request except ping.
	RequestToken string `yaml:"requestToken"`

	LogLevel    string `yaml:"logLevel"`
	MetricsAddr string `yaml:"metricsAddr"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`

	RetryInterval time.Duration `yaml:"retryInterval"`

	Store StoreConfig `yaml:"store"`

	// SigningKeyPath holds a PEM P-256 key. Empty generates a fresh key at startup, which
	// is the only mode that makes sense inside an enclave.
	SigningKeyPath string `yaml:"signingKeyPath"`

	// Attest asks the NSM for attestations on announce_winner and key_request.
	Attest bool `yaml:"attest"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	IdleTTL           time.Duration `yaml:"idleTTL"`
}

type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	KeyPrefix     string `yaml:"keyPrefix"`
}

func DefaultConfig() Config {
	return Config{
		VsockPort:     5000,
		ReadTimeout:   30 * time.Second,
		LogLevel:      "info",
		MetricsAddr:   ":9090",
		RetryInterval: 2 * time.Second,
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			IdleTTL:           10 * time.Minute,
		},
		Store: StoreConfig{Backend: "memory"},
	}
}

// LoadConfig reads the first readable candidate file. A file that exists but does not
// parse is an error; no file at all means defaults.
func LoadConfig(configPath string) (Config, error) {
	cfg := DefaultConfig()

	candidates := []string{"configs/auctiond.yaml", "/etc/auctiond/auctiond.yaml"}
	if configPath != "" {
		candidates = []string{configPath}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if configPath != "" {
				return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
			}
			continue
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		log.Info().Str("path", path).Msg("Loaded config file")
		break
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.MaxWorkers == 0 {
		maxWorkers, err := getRequiredEnvInt("ENCLAVE_MAX_WORKERS")
		if err != nil {
			return Config{}, fmt.Errorf("failed to get max workers config: %w", err)
		}
		cfg.MaxWorkers = maxWorkers
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("maxWorkers must be positive, got %d", c.MaxWorkers)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("readTimeout must be positive")
	}
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redisAddr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("AUCTIOND_TCP_ADDR"); v != "" {
		cfg.TCPAddr = v
	}
	if v := os.Getenv("AUCTIOND_VSOCK_PORT"); v != "" {
		port, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid AUCTIOND_VSOCK_PORT %q: %w", v, err)
		}
		cfg.VsockPort = uint32(port)
	}
	if v := os.Getenv("AUCTIOND_REQUEST_TOKEN"); v != "" {
		cfg.RequestToken = v
	}
	if v := os.Getenv("AUCTIOND_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AUCTIOND_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("AUCTIOND_SIGNING_KEY"); v != "" {
		cfg.SigningKeyPath = v
	}
	if v := os.Getenv("AUCTIOND_ATTEST"); v != "" {
		attest, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid AUCTIOND_ATTEST %q: %w", v, err)
		}
		cfg.Attest = attest
	}
	if v := os.Getenv("AUCTIOND_STORE"); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	// Same variable the redis tooling in this repo reads.
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
	}
	if _, ok := os.LookupEnv("ENCLAVE_MAX_WORKERS"); ok {
		maxWorkers, err := getRequiredEnvInt("ENCLAVE_MAX_WORKERS")
		if err != nil {
			return err
		}
		cfg.MaxWorkers = maxWorkers
	}
	return nil
}

// getRequiredEnvInt parses a required integer environment variable.
func getRequiredEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, fmt.Errorf("required environment variable %s is not set", key)
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}

	log.Info().Str("key", key).Int("value", intValue).Msg("Using value from environment")
	return intValue, nil
}
