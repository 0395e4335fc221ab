package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, ":7480", cfg.Listen)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 100, cfg.HugeThreshold)
	assert.Equal(t, 10, cfg.TruncatedCount)
	assert.Equal(t, 10*time.Minute, cfg.IdleTTL)
	assert.False(t, cfg.AuthEnabled())
	assert.NotNil(t, cfg.Logger())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("OPTIONTREE_LISTEN", ":9000")
	t.Setenv("OPTIONTREE_HUGE_THRESHOLD", "50")
	t.Setenv("OPTIONTREE_TRUNCATED_COUNT", "5")
	t.Setenv("OPTIONTREE_IDLE_TTL", "90s")
	t.Setenv("OPTIONTREE_DEBUG", "true")
	t.Setenv("OPTIONTREE_MAX_BODY_SIZE", "1024")
	t.Setenv("OPTIONTREE_JWT_KEY", "k")
	t.Setenv("OPTIONTREE_LOG_FORMAT", "JSON")

	cfg := FromEnv()
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, 50, cfg.HugeThreshold)
	assert.Equal(t, 5, cfg.TruncatedCount)
	assert.Equal(t, 90*time.Second, cfg.IdleTTL)
	assert.True(t, cfg.Debug)
	assert.Equal(t, int64(1024), cfg.MaxBodySize)
	assert.True(t, cfg.AuthEnabled())
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("OPTIONTREE_MAX_OPEN", "lots")
	t.Setenv("OPTIONTREE_DEBUG", "maybe")
	t.Setenv("OPTIONTREE_REQUEST_TIMEOUT", "soon")

	cfg := FromEnv()
	assert.Equal(t, 256, cfg.MaxOpenMissions)
	assert.False(t, cfg.Debug)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestFromArgs(t *testing.T) {
	t.Setenv("OPTIONTREE_DATA", "/env")
	cfg := FromArgs(":1", "")
	assert.Equal(t, ":1", cfg.Listen)
	assert.Equal(t, "/env", cfg.DataDir)
}
