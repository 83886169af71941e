package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Millisecond, cfg.Queue.SpinlockWindow)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.MaxSleep)
	assert.True(t, cfg.Queue.CaptureSigInt)
}

func TestValidateRejectsBadMaxSleep(t *testing.T) {
	cfg := defaultConfig()
	cfg.Queue.MaxSleep = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownBroadcastTransport(t *testing.T) {
	cfg := defaultConfig()
	cfg.Broadcast.Transport = "carrier-pigeon"
	assert.Error(t, cfg.Validate())
}

func TestLoadAppliesDefaultsWithoutFileOrEnv(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "memory", cfg.Broadcast.Transport)
}

func TestLoadHonorsEnvironmentOverride(t *testing.T) {
	t.Setenv("ICHOR_LOG_LEVEL", "debug")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}
