package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "wisefido_equipment", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	assert.Equal(t, 5, cfg.Endpoint.ReconnectBaseSeconds)
	assert.Equal(t, 5, cfg.Endpoint.MaxReconnectAttempts)

	assert.Equal(t, "equipment:device:", cfg.Cache.SnapshotKeyPrefix)
	assert.Equal(t, ":realtime", cfg.Cache.SnapshotSuffix)
	assert.Equal(t, ":warnings", cfg.Cache.WarningSuffix)
	assert.Equal(t, "equipment:readings:stream", cfg.Cache.ReadingStream)

	assert.Equal(t, 300, cfg.Warning.CooldownSeconds)
	assert.Equal(t, 60, cfg.Escalation.SweepIntervalSeconds)
	assert.Equal(t, 30, cfg.Escalation.WarningRetentionDays)
	assert.Equal(t, 7, cfg.Escalation.NotificationRetentionDays)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "15432")
	t.Setenv("MAX_RECONNECT_ATTEMPTS", "3")
	t.Setenv("WARNING_COOLDOWN_SECONDS", "120")
	t.Setenv("NOTIFY_WEBHOOK_URL", "http://notify.internal/hook")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 15432, cfg.Database.Port)
	assert.Equal(t, 3, cfg.Endpoint.MaxReconnectAttempts)
	assert.Equal(t, 120, cfg.Warning.CooldownSeconds)
	assert.Equal(t, "http://notify.internal/hook", cfg.Notifier.WebhookURL)
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	// webhook 未配置时校验失败
	cfg.Notifier.WebhookURL = ""
	err = cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "webhook url is required")

	cfg.Notifier.WebhookURL = "http://notify.internal/hook"
	require.NoError(t, cfg.Validate())

	cfg.Endpoint.MaxReconnectAttempts = 0
	err = cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "reconnect attempts")
}
