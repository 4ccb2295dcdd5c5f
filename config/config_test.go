package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"ENVIRONMENT", "SERVER_PORT", "ENCRYPTION_KEY", "JWT_SECRET", "LOG_LEVEL", "LOG_FORMAT",
	"SENTRY_DSN", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSL_MODE",
	"DB_MAX_IDLE_CONNS", "DB_MAX_OPEN_CONNS", "API_RATE_LIMIT", "REDIS_ENABLED", "REDIS_ADDRESS",
	"REDIS_PASSWORD", "REDIS_DB", "MONGODB_URI", "MONGODB_DATABASE", "SEND_POLL_INTERVAL",
	"SEND_BATCH_SIZE", "CYCLE_BACKOFF", "SATURATED_BACKOFF", "CAMPAIGN_LOCK_TTL",
	"CONTACT_LEASE_TTL", "REPLY_FETCH_LIMIT", "TRANSPORT", "OPENAI_BASE_URL",
	"DEEPSEEK_BASE_URL", "AI_TIMEOUT", "ENRICH_TIMEOUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		if value, ok := os.LookupEnv(key); ok {
			_ = os.Unsetenv(key)
			t.Cleanup(func() { _ = os.Setenv(key, value) })
		}
	}
	t.Cleanup(func() {
		for _, key := range configKeys {
			_ = os.Unsetenv(key)
		}
	})
}

func setRequired(t *testing.T) {
	t.Helper()
	_ = os.Setenv("DB_PASSWORD", "secret")
	_ = os.Setenv("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")
	_ = os.Setenv("JWT_SECRET", "jwt-secret")
}

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "5000", cfg.ServerPort)
	assert.Equal(t, "outreach", cfg.DBName)
	assert.Equal(t, time.Minute, cfg.Worker.SendPollInterval)
	assert.Equal(t, 1, cfg.Worker.SendBatchSize)
	assert.Equal(t, 50, cfg.Worker.ReplyFetchLimit)
	assert.Equal(t, "simulated", cfg.Worker.Transport)
	assert.Equal(t, "https://api.deepseek.com", cfg.AI.DeepSeekBaseURL)
	assert.Equal(t, 30*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 10*time.Second, cfg.AI.EnrichTimeout)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadConfig_CustomValues(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	_ = os.Setenv("SERVER_PORT", "9090")
	_ = os.Setenv("SEND_POLL_INTERVAL", "90")
	_ = os.Setenv("CYCLE_BACKOFF", "2m")
	_ = os.Setenv("SEND_BATCH_SIZE", "5")
	_ = os.Setenv("TRANSPORT", "SMTP")
	_ = os.Setenv("REDIS_ENABLED", "true")
	_ = os.Setenv("REDIS_ADDRESS", "redis:6379")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 90*time.Second, cfg.Worker.SendPollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Worker.CycleBackoff)
	assert.Equal(t, 5, cfg.Worker.SendBatchSize)
	assert.Equal(t, "smtp", cfg.Worker.Transport)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing database password",
			env:     map[string]string{"DB_PASSWORD": ""},
			wantErr: "dbpassword is required",
		},
		{
			name:    "short encryption key",
			env:     map[string]string{"ENCRYPTION_KEY": "short"},
			wantErr: "encryptionkey must be exactly 32 characters",
		},
		{
			name:    "unknown transport",
			env:     map[string]string{"TRANSPORT": "carrier-pigeon"},
			wantErr: "transport is invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setRequired(t)
			for k, v := range tt.env {
				_ = os.Setenv(k, v)
			}

			cfg, err := LoadConfig()
			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMaskPassword(t *testing.T) {
	dsn := "host=db port=5432 user=app password=hunter2 dbname=outreach sslmode=disable"
	assert.Equal(t, "host=db port=5432 user=app password=***** dbname=outreach sslmode=disable", maskPassword(dsn))
	assert.Equal(t, "host=db", maskPassword("host=db"))
}
