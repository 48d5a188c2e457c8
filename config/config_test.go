package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.API.Port)
	assert.Equal(t, 4, cfg.Engine.WorkerCount)
	assert.Equal(t, 1000, cfg.Engine.ChannelBufferSize)
	assert.Equal(t, 60*time.Second, cfg.Rules.BruteForce.Window)
	assert.Equal(t, 5, cfg.Rules.BruteForce.Threshold)
	assert.Equal(t, 120*time.Second, cfg.Rules.PortScan.Window)
	assert.Equal(t, 10, cfg.Rules.PortScan.Threshold)
	assert.Equal(t, 10000, cfg.Windows.MaxKeysPerRule)
	assert.Equal(t, 3, cfg.Dedup.CooldownMultiplier)
	assert.Equal(t, "LOW", cfg.Notify.MinSeverity)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig()
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.API.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Engine.WorkerCount = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Windows.SweepInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Rules.BruteForce.Threshold = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Rules.PortScan.Window = -time.Second
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Dedup.CooldownMultiplier = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Notify.MinSeverity = "EXTREME"
	assert.Error(t, cfg.Validate())
}
