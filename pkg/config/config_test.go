package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_DEV_BYPASS", "true")

	logger := logrus.New()
	cfg, err := Load(logger)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, 5*time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, 1000, cfg.Fusion.PacketHistorySize)
	assert.Equal(t, 300, cfg.Fusion.ScoreHistorySize)
	assert.Equal(t, 24*time.Hour, cfg.Fusion.MaxSessionAge)
	assert.False(t, cfg.Fusion.EmpiricalBaseline)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("REDIS_CACHE_TTL", "90s")
	t.Setenv("FUSION_EMPIRICAL_BASELINE", "yes")

	logger := logrus.New()
	cfg, err := Load(logger)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.HTTP.Port)
	assert.Equal(t, 90*time.Second, cfg.Redis.CacheTTL)
	assert.True(t, cfg.Fusion.EmpiricalBaseline)
}

func TestValidateRejectsMissingSecret(t *testing.T) {
	cfg := &Config{
		HTTP:   HTTPConfig{Port: 8080},
		Fusion: FusionConfig{PacketHistorySize: 1000, ScoreHistorySize: 300, MaxSessionAge: time.Hour},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_JWT_SECRET")
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{
		HTTP: HTTPConfig{Port: -1},
		Auth: AuthConfig{DevBypass: true},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMessagingWithoutURL(t *testing.T) {
	cfg := &Config{
		HTTP:      HTTPConfig{Port: 8080},
		Auth:      AuthConfig{DevBypass: true},
		Messaging: MessagingConfig{Enabled: true},
		Fusion:    FusionConfig{PacketHistorySize: 1000, ScoreHistorySize: 300, MaxSessionAge: time.Hour},
	}
	assert.Error(t, cfg.Validate())
}
