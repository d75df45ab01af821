package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("moderation: api key is required")

const moderatorPath = "/wavespeed-ai/content-moderator/image"

// Options configures the content moderator client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client calls the Wavespeed content moderator in synchronous mode.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// Classification is the verdict for one image.
type Classification struct {
	IsNSFW  bool
	Details *domain.NSFWDetails
}

type moderatorRequest struct {
	Image          string `json:"image"`
	EnableSyncMode bool   `json:"enable_sync_mode"`
}

type moderatorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		ID      string               `json:"id"`
		Status  string               `json:"status"`
		Outputs []domain.NSFWDetails `json:"outputs"`
		Error   string               `json:"error"`
	} `json:"data"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewClient constructs a client with defaults applied.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.wavespeed.ai/api/v3"
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Classify screens imageURL. A completed response without outputs is
// reported as safe with nil details.
func (c *Client) Classify(ctx context.Context, imageURL string) (Classification, error) {
	if !c.HasCredentials() {
		return Classification{}, ErrMissingAPIKey
	}
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return Classification{}, errors.New("moderation: image url is required")
	}
	body, err := json.Marshal(moderatorRequest{Image: imageURL, EnableSyncMode: true})
	if err != nil {
		return Classification{}, fmt.Errorf("moderation: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+moderatorPath, bytes.NewReader(body))
	if err != nil {
		return Classification{}, fmt.Errorf("moderation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Classification{}, fmt.Errorf("moderation: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Classification{}, fmt.Errorf("moderation: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return Classification{}, fmt.Errorf("moderation: %s (%d)", detail.Message, resp.StatusCode)
		}
		return Classification{}, fmt.Errorf("moderation: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded moderatorResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Classification{}, fmt.Errorf("moderation: decode response: %w", err)
	}
	if decoded.Data.Status == "failed" {
		msg := decoded.Data.Error
		if msg == "" {
			msg = "moderation failed"
		}
		return Classification{}, fmt.Errorf("moderation: %s", msg)
	}
	if decoded.Data.Status != "completed" || len(decoded.Data.Outputs) == 0 {
		c.logger.Debug().Str("url", imageURL).Str("status", decoded.Data.Status).Msg("moderation: no verdict, treating as safe")
		return Classification{}, nil
	}
	details := decoded.Data.Outputs[0]
	c.logger.Debug().
		Str("url", imageURL).
		Str("request_id", decoded.Data.ID).
		Bool("nsfw", details.Flagged()).
		Msg("moderation: classified image")
	return Classification{IsNSFW: details.Flagged(), Details: &details}, nil
}
