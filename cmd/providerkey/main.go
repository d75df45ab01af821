package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mediagen/internal/infra"
	"mediagen/internal/infra/credentials"
)

func main() {
	var (
		secretFlag   string
		providerFlag string
		kindFlag     string
	)
	flag.StringVar(&secretFlag, "secret", "", "secret to store (falls back to WAVESPEED_API_KEY or WEBHOOK_SECRET_<PROVIDER>)")
	flag.StringVar(&providerFlag, "provider", credentials.ProviderWavespeed, "provider id, e.g. wavespeed or fal")
	flag.StringVar(&kindFlag, "kind", string(credentials.KindAPIKey), "credential kind (api_key or webhook_secret)")
	flag.Parse()

	provider := strings.TrimSpace(strings.ToLower(providerFlag))
	if provider == "" {
		exitWithError(fmt.Errorf("-provider is required"))
	}
	kind := credentials.Kind(strings.TrimSpace(strings.ToLower(kindFlag)))

	if err := infra.LoadDotEnv(); err != nil {
		exitWithError(err)
	}

	secret := strings.TrimSpace(secretFlag)
	if secret == "" {
		switch kind {
		case credentials.KindWebhookSecret:
			secret = strings.TrimSpace(os.Getenv("WEBHOOK_SECRET_" + strings.ToUpper(provider)))
		case credentials.KindAPIKey:
			if provider == credentials.ProviderWavespeed {
				secret = strings.TrimSpace(os.Getenv("WAVESPEED_API_KEY"))
			}
		}
	}
	if secret == "" {
		exitWithError(fmt.Errorf("%s %s is required via -secret or environment", provider, kind))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(fmt.Errorf("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to create pool: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "providerkey").Str("provider", provider).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))
	if err := store.Set(ctx, provider, kind, secret); err != nil {
		exitWithError(fmt.Errorf("failed to persist %s %s: %w", provider, kind, err))
	}
	fmt.Printf("%s %s stored successfully\n", strings.ToUpper(provider), kind)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
