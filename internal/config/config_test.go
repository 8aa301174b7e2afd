package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, BrokerLocal, cfg.Broker)
	assert.Equal(t, 5*time.Second, cfg.PersistTimeout)
	assert.Equal(t, 256, cfg.SendBuffer)
	assert.False(t, cfg.RateLimitEnabled())
	assert.False(t, cfg.CrossDeviceReadSync)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("BROKER", "nats")
	t.Setenv("PERSIST_TIMEOUT", "750ms")
	t.Setenv("RATE_LIMIT_MESSAGES", "5")
	t.Setenv("CROSS_DEVICE_READ_SYNC", "true")
	t.Setenv("SEND_BUFFER", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BrokerNATS, cfg.Broker)
	assert.Equal(t, 750*time.Millisecond, cfg.PersistTimeout)
	assert.True(t, cfg.RateLimitEnabled())
	assert.True(t, cfg.CrossDeviceReadSync)
	assert.Equal(t, 256, cfg.SendBuffer)
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestValidateRejectsUnknownBroker(t *testing.T) {
	cfg := &Config{JWTSecret: "s", Broker: "kafka", PersistTimeout: time.Second, SendBuffer: 1}
	assert.EqualError(t, cfg.Validate(), `unknown BROKER "kafka"`)
}
