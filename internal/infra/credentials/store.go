package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mediagen/internal/infra"
	"mediagen/internal/sqlinline"
)

// Kind classifies a stored provider secret.
type Kind string

const (
	KindAPIKey        Kind = "api_key"
	KindWebhookSecret Kind = "webhook_secret"

	ProviderWavespeed = "wavespeed"
)

// Store reads and writes provider secrets kept in provider_credential. The
// database is the fallback when a secret is not set in the environment.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Get returns the secret for (provider, kind), or "" when none is stored.
func (s *Store) Get(ctx context.Context, provider string, kind Kind) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QCredentialGet, normalize(provider), string(kind))
	var secret string
	if err := row.Scan(&secret); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(secret), nil
}

// Set stores secret for (provider, kind), replacing any previous value.
func (s *Store) Set(ctx context.Context, provider string, kind Kind, secret string) error {
	provider = normalize(provider)
	secret = strings.TrimSpace(secret)
	if provider == "" {
		return errors.New("provider is required")
	}
	if secret == "" {
		return fmt.Errorf("%s %s is required", provider, kind)
	}
	switch kind {
	case KindAPIKey, KindWebhookSecret:
	default:
		return fmt.Errorf("unsupported credential kind %q", kind)
	}
	_, err := s.sql.Exec(ctx, sqlinline.QCredentialUpsert, provider, string(kind), secret)
	return err
}

// WavespeedAPIKey returns the stored Wavespeed API key.
func (s *Store) WavespeedAPIKey(ctx context.Context) (string, error) {
	return s.Get(ctx, ProviderWavespeed, KindAPIKey)
}

// WebhookSecrets returns every stored webhook signing secret keyed by provider.
func (s *Store) WebhookSecrets(ctx context.Context) (map[string]string, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QCredentialListByKind, string(KindWebhookSecret))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var provider, secret string
		if err := rows.Scan(&provider, &secret); err != nil {
			return nil, err
		}
		if secret = strings.TrimSpace(secret); secret != "" {
			out[normalize(provider)] = secret
		}
	}
	return out, rows.Err()
}

// Resolve fills cfg's Wavespeed API key and webhook secrets from the store
// where the environment left them unset. Environment values always win.
func (s *Store) Resolve(ctx context.Context, cfg *infra.Config) error {
	if strings.TrimSpace(cfg.WavespeedAPIKey) == "" {
		key, err := s.WavespeedAPIKey(ctx)
		if err != nil {
			return fmt.Errorf("load wavespeed api key: %w", err)
		}
		cfg.WavespeedAPIKey = key
	}
	stored, err := s.WebhookSecrets(ctx)
	if err != nil {
		return fmt.Errorf("load webhook secrets: %w", err)
	}
	if cfg.WebhookSecrets == nil {
		cfg.WebhookSecrets = make(map[string]string, len(stored))
	}
	for provider, secret := range stored {
		if _, ok := cfg.WebhookSecrets[provider]; !ok {
			cfg.WebhookSecrets[provider] = secret
		}
	}
	return nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
