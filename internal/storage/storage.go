// Package storage persists generated assets and returns their public URLs.
package storage

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"mediagen/internal/infra"
)

// Uploader stores data and returns the URL it can be fetched from.
type Uploader interface {
	Upload(ctx context.Context, data []byte, name, contentType, prefix string) (string, error)
}

// ObjectKey builds prefix/<id>-<unix millis>.<ext> from the original file name.
func ObjectKey(name, prefix string, now time.Time) string {
	base := shortuuid.New() + "-" + strconv.FormatInt(now.UnixMilli(), 10)
	if ext := strings.TrimPrefix(path.Ext(strings.TrimSpace(name)), "."); ext != "" {
		base += "." + strings.ToLower(ext)
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return base
	}
	return prefix + "/" + base
}

// PublicURL joins baseURL and key with exactly one slash.
func PublicURL(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(key, "/")
}

// New returns the Uploader selected by cfg.StorageDriver.
func New(cfg *infra.Config) (Uploader, error) {
	switch cfg.StorageDriver {
	case "", "filesystem":
		return NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	case "s3":
		return NewS3Store(S3Options{
			Endpoint:        cfg.StorageEndpoint,
			Region:          cfg.StorageRegion,
			AccessKeyID:     cfg.StorageAccessKeyID,
			SecretAccessKey: cfg.StorageSecretAccessKey,
			Bucket:          cfg.StorageBucketName,
			PublicURL:       cfg.StoragePublicURL,
		})
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", cfg.StorageDriver)
	}
}
