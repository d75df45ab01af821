package bootstrap

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mediagen/internal/infra"
)

func TestDownloadOptionsRetryOnce(t *testing.T) {
	client := &http.Client{}
	cfg := &infra.Config{AssetDownloadTimeout: 30 * time.Second, AssetMaxBytes: 1 << 20}

	opts := downloadOptions(cfg, client)
	assert.EqualValues(t, 1, opts.Retries)
	assert.Equal(t, time.Second, opts.RetryDelay)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.EqualValues(t, 1<<20, opts.MaxBytes)
	assert.Same(t, client, opts.HTTPClient)
}
