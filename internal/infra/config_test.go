package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")
	t.Setenv("NSFW_CHECK_MODELS", "")
	t.Setenv("WEBHOOK_STRICT_STATUS", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/static", cfg.StorageBaseURL)
	assert.Equal(t, "filesystem", cfg.StorageDriver)
	assert.Equal(t, []string{"z-image", "z-image-lora"}, cfg.NSFWCheckModels)
	assert.True(t, cfg.WebhookStrictStatus)
	assert.Equal(t, 30*time.Second, cfg.AssetDownloadTimeout)
	assert.Equal(t, 50, cfg.DailyFreeQuota)
	assert.Contains(t, cfg.DailyFreeQuotaBoostedCountries, "FR")
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:1919/static", cfg.StorageBaseURL)
}

func TestLoadConfigWebhookSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("WEBHOOK_SECRET_WAVESPEED", " ws-secret ")
	t.Setenv("WEBHOOK_SECRET_FAL", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "ws-secret", cfg.WebhookSecret("Wavespeed"))
	assert.Empty(t, cfg.WebhookSecret("fal"))
}

func TestLoadConfigS3DriverNeedsBucket(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("STORAGE_DRIVER", "s3")
	t.Setenv("STORAGE_BUCKET_NAME", "")

	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("STORAGE_BUCKET_NAME", "assets")
	t.Setenv("STORAGE_PUBLIC_URL", "https://cdn.example.com")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "s3", cfg.StorageDriver)
}

func TestLoadConfigRejectsUnknownStorageDriver(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("STORAGE_DRIVER", "ftp")

	_, err := LoadConfig()
	require.Error(t, err)
}
