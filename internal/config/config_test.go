package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// env-driven tests mutate process state and cannot run in parallel

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()

	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, ":8080", cfg.Addr())
	require.Equal(t, StoreMemory, cfg.StoreDriver)
	require.True(t, cfg.MinBidIncrement.Equal(decimal.NewFromInt(500)))
	require.Equal(t, 5*time.Second, cfg.SweepInterval)
	require.Equal(t, 4, cfg.SweepWorkers)
	require.Equal(t, NotifyLog, cfg.NotifyDriver)
	require.Equal(t, "auction.finalized", cfg.NotifyQueue)
	require.False(t, cfg.VirtualClock())
	require.False(t, cfg.RateLimit.Enabled)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "BOLT")
	t.Setenv("MIN_BID_INCREMENT", "250.50")
	t.Setenv("SWEEP_INTERVAL", "1s")
	t.Setenv("SWEEP_WORKERS", "8")
	t.Setenv("VIRTUAL_CLOCK_START", "2025-10-21 03:00:00")
	t.Setenv("NOTIFY_DRIVER", "amqp")
	t.Setenv("SEED_DEMO", "yes")

	cfg := FromEnv()

	require.Equal(t, ":9090", cfg.Addr())
	require.Equal(t, StoreBolt, cfg.StoreDriver)
	require.True(t, cfg.MinBidIncrement.Equal(decimal.RequireFromString("250.5")))
	require.Equal(t, time.Second, cfg.SweepInterval)
	require.Equal(t, 8, cfg.SweepWorkers)
	require.True(t, cfg.VirtualClockStart.Equal(time.Date(2025, 10, 21, 3, 0, 0, 0, time.UTC)))
	require.True(t, cfg.VirtualClock())
	require.Equal(t, NotifyAMQP, cfg.NotifyDriver)
	require.True(t, cfg.SeedDemo)
}

func TestFromEnv_InvalidValuesFallBack(t *testing.T) {
	tests := []struct {
		key   string
		value string
		check func(t *testing.T, cfg Config)
	}{
		{key: "STORE_DRIVER", value: "postgres", check: func(t *testing.T, cfg Config) { require.Equal(t, StoreMemory, cfg.StoreDriver) }},
		{key: "MIN_BID_INCREMENT", value: "-5", check: func(t *testing.T, cfg Config) { require.True(t, cfg.MinBidIncrement.Equal(decimal.NewFromInt(500))) }},
		{key: "MIN_BID_INCREMENT", value: "lots", check: func(t *testing.T, cfg Config) { require.True(t, cfg.MinBidIncrement.Equal(decimal.NewFromInt(500))) }},
		{key: "SWEEP_INTERVAL", value: "-1s", check: func(t *testing.T, cfg Config) { require.Equal(t, 5*time.Second, cfg.SweepInterval) }},
		{key: "SWEEP_INTERVAL", value: "soon", check: func(t *testing.T, cfg Config) { require.Equal(t, 5*time.Second, cfg.SweepInterval) }},
		{key: "SWEEP_WORKERS", value: "0", check: func(t *testing.T, cfg Config) { require.Equal(t, 4, cfg.SweepWorkers) }},
		{key: "VIRTUAL_CLOCK_START", value: "yesterday", check: func(t *testing.T, cfg Config) { require.True(t, cfg.VirtualClockStart.IsZero()) }},
		{key: "NOTIFY_DRIVER", value: "kafka", check: func(t *testing.T, cfg Config) { require.Equal(t, NotifyLog, cfg.NotifyDriver) }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			tc.check(t, FromEnv())
		})
	}
}

func TestLoadRateLimitConfig_Normalizes(t *testing.T) {
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	cfg := LoadRateLimitConfig()
	require.True(t, cfg.Enabled)
	require.Equal(t, 1, cfg.Capacity)
	require.Equal(t, 2*time.Second, cfg.RefillInterval)
	require.Equal(t, 10*time.Second, cfg.TTL)
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=7070\nSWEEP_WORKERS=2\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		os.Unsetenv("PORT")
		os.Unsetenv("SWEEP_WORKERS")
	})

	cfg := Load()
	require.Equal(t, "7070", cfg.Port)
	require.Equal(t, 2, cfg.SweepWorkers)
}
