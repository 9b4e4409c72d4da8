package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auctiond.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearHostEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AUCTIOND_TCP_ADDR", "AUCTIOND_VSOCK_PORT", "AUCTIOND_REQUEST_TOKEN", "AUCTIOND_LOG_LEVEL",
		"AUCTIOND_METRICS_ADDR", "AUCTIOND_SIGNING_KEY", "AUCTIOND_ATTEST", "AUCTIOND_STORE",
		"REDIS_ADDR", "ENCLAVE_MAX_WORKERS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearHostEnv(t)
	path := writeConfig(t, `
tcpAddr: "127.0.0.1:7400"
maxWorkers: 8
readTimeout: 10s
rateLimit:
  requestsPerSecond: 5
  burst: 10
store:
  backend: redis
  redisAddr: "redis:6379"
`)

	cfg, err := LoadConfig(path)
	assert.NoError(t, err)
	check.Equal(t, "127.0.0.1:7400", cfg.TCPAddr)
	check.Equal(t, 8, cfg.MaxWorkers)
	check.Equal(t, 10*time.Second, cfg.ReadTimeout)
	check.Equal(t, 5.0, cfg.RateLimit.RequestsPerSecond)
	check.Equal(t, 10, cfg.RateLimit.Burst)
	check.Equal(t, "redis", cfg.Store.Backend)
	check.Equal(t, "redis:6379", cfg.Store.RedisAddr)

	// Untouched fields keep their defaults.
	check.Equal(t, uint32(5000), cfg.VsockPort)
	check.Equal(t, 2*time.Second, cfg.RetryInterval)
	check.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearHostEnv(t)
	path := writeConfig(t, "maxWorkers: 8\n")
	t.Setenv("AUCTIOND_VSOCK_PORT", "6000")
	t.Setenv("AUCTIOND_REQUEST_TOKEN", "s3cret")
	t.Setenv("AUCTIOND_ATTEST", "true")
	t.Setenv("AUCTIOND_STORE", "REDIS")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6380")
	t.Setenv("ENCLAVE_MAX_WORKERS", "32")

	cfg, err := LoadConfig(path)
	assert.NoError(t, err)
	check.Equal(t, uint32(6000), cfg.VsockPort)
	check.Equal(t, "s3cret", cfg.RequestToken)
	check.True(t, cfg.Attest)
	check.Equal(t, "redis", cfg.Store.Backend)
	check.Equal(t, "127.0.0.1:6380", cfg.Store.RedisAddr)
	check.Equal(t, 32, cfg.MaxWorkers)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{"missing max workers", "readTimeout: 5s\n", nil},
		{"bad max workers", "", map[string]string{"ENCLAVE_MAX_WORKERS": "many"}},
		{"bad vsock port", "maxWorkers: 2\n", map[string]string{"AUCTIOND_VSOCK_PORT": "-1"}},
		{"bad attest flag", "maxWorkers: 2\n", map[string]string{"AUCTIOND_ATTEST": "sometimes"}},
		{"unknown backend", "maxWorkers: 2\nstore:\n  backend: etcd\n", nil},
		{"redis without address", "maxWorkers: 2\nstore:\n  backend: redis\n", nil},
		{"unparsable yaml", "maxWorkers: [\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearHostEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig(writeConfig(t, tt.body))
			check.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	clearHostEnv(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	check.Error(t, err)
}

func TestCallerLimiter(t *testing.T) {
	l := newCallerLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute})
	assert.NotNil(t, l)

	check.True(t, l.Allow("bob", t0))
	check.False(t, l.Allow("bob", t0))
	check.True(t, l.Allow(" bob ", t0.Add(time.Second)))
	check.True(t, l.Allow("alice", t0))
}
