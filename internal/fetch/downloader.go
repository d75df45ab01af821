// Package fetch downloads provider-hosted assets.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrTooLarge is returned when an asset exceeds the configured size limit.
var ErrTooLarge = errors.New("fetch: asset exceeds size limit")

// Asset is a downloaded file.
type Asset struct {
	Data        []byte
	ContentType string
}

// Options configures a Downloader.
type Options struct {
	HTTPClient *http.Client
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Retries is the number of attempts after the first.
	Retries uint64
	// RetryDelay is the constant pause between attempts.
	RetryDelay time.Duration
	MaxBytes   int64
}

// Downloader fetches URLs with a per-attempt timeout and a fixed retry budget.
type Downloader struct {
	httpClient *http.Client
	timeout    time.Duration
	retries    uint64
	delay      time.Duration
	maxBytes   int64
}

// NewDownloader constructs a Downloader with defaults for zero options.
func NewDownloader(opts Options) *Downloader {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 50 << 20
	}
	return &Downloader{
		httpClient: httpClient,
		timeout:    timeout,
		retries:    opts.Retries,
		delay:      delay,
		maxBytes:   maxBytes,
	}
}

// Download fetches rawURL. Transport errors, 429 and 5xx responses are
// retried; other failures are returned at once.
func (d *Downloader) Download(ctx context.Context, rawURL string) (*Asset, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("fetch: invalid asset url: %s", rawURL)
	}

	var asset *Asset
	backoff := retry.WithMaxRetries(d.retries, retry.NewConstant(d.delay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		a, err := d.attempt(ctx, parsed.String())
		if err != nil {
			return err
		}
		asset = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

func (d *Downloader) attempt(ctx context.Context, target string) (*Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("fetch: download: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		err := fmt.Errorf("fetch: download status %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, retry.RetryableError(err)
		}
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("fetch: read body: %w", err))
	}
	if int64(len(data)) > d.maxBytes {
		return nil, ErrTooLarge
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &Asset{Data: data, ContentType: contentType}, nil
}
