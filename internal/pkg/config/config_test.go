package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "order-service.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9090"
redis:
  addrs: ["redis-1:6379", "redis-2:6379"]
timeouts:
  autoAccept: 5s
acceptance:
  policy: manual
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, []string{"redis-1:6379", "redis-2:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.AutoAccept)
	assert.Equal(t, "manual", cfg.Acceptance.Policy)
	// 文件未提及的字段保留默认值
	assert.Equal(t, 10*time.Minute, cfg.Timeouts.PaymentExpiry)
	assert.Equal(t, "order-service", cfg.Service.Name)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9090"
kafka:
  enabled: false
`)
	t.Setenv("HTTP_ADDR", ":7070")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PAYMENT_EXPIRY", "90s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 90*time.Second, cfg.Timeouts.PaymentExpiry)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "http: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "acceptance:\n  policy: sometimes\n"))
	assert.ErrorContains(t, err, "acceptance.policy")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Tracing.SampleRatio = 2
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Redis.Addrs = nil
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = nil
	assert.Error(t, cfg.Validate())
}
