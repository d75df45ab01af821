package infra

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	DBMaxConns       int
	JWTSecret        string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string

	StorageDriver          string
	StoragePath            string
	StorageBaseURL         string
	StorageEndpoint        string
	StorageRegion          string
	StorageAccessKeyID     string
	StorageSecretAccessKey string
	StorageBucketName      string
	StoragePublicURL       string

	WavespeedAPIKey  string
	WavespeedBaseURL string

	WebhookSecrets      map[string]string
	WebhookStrictStatus bool
	NSFWCheckModels     []string

	AssetDownloadTimeout time.Duration
	AssetConcurrency     int
	AssetMaxBytes        int64
	WatermarkText        string
	WatermarkDomain      string

	GeoIPDBPath                    string
	DailyFreeQuota                 int
	DailyFreeQuotaBoosted          int
	DailyFreeQuotaBoostedCountries []string

	ReconcileInterval time.Duration
	ClaimLease        time.Duration
	ReconcileBatch    int
	MaxRefundAttempts int

	OTLPEndpoint    string
	OTelServiceName string
}

// webhookSecretPrefix namespaces per-provider signing secrets, e.g. WEBHOOK_SECRET_WAVESPEED.
const webhookSecretPrefix = "WEBHOOK_SECRET_"

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             port,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBMaxConns:       getEnvInt("DB_MAX_CONNS", 10),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 600),
		CORSOrigins:      splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),

		StorageDriver:          strings.ToLower(getEnv("STORAGE_DRIVER", "filesystem")),
		StoragePath:            getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:         getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		StorageEndpoint:        os.Getenv("STORAGE_ENDPOINT"),
		StorageRegion:          getEnv("STORAGE_REGION", "auto"),
		StorageAccessKeyID:     os.Getenv("STORAGE_ACCESS_KEY_ID"),
		StorageSecretAccessKey: os.Getenv("STORAGE_SECRET_ACCESS_KEY"),
		StorageBucketName:      os.Getenv("STORAGE_BUCKET_NAME"),
		StoragePublicURL:       os.Getenv("STORAGE_PUBLIC_URL"),

		WavespeedAPIKey:  os.Getenv("WAVESPEED_API_KEY"),
		WavespeedBaseURL: getEnv("WAVESPEED_BASE_URL", "https://api.wavespeed.ai/api/v3"),

		WebhookSecrets:      webhookSecretsFromEnv(os.Environ()),
		WebhookStrictStatus: getEnvBool("WEBHOOK_STRICT_STATUS", true),
		NSFWCheckModels:     splitList(getEnv("NSFW_CHECK_MODELS", "z-image,z-image-lora")),

		AssetDownloadTimeout: time.Second * time.Duration(getEnvInt("ASSET_DOWNLOAD_TIMEOUT_SECONDS", 30)),
		AssetConcurrency:     getEnvInt("ASSET_CONCURRENCY", 4),
		AssetMaxBytes:        int64(getEnvInt("ASSET_MAX_BYTES", 50<<20)),
		WatermarkText:        getEnv("WATERMARK_TEXT", "FluxReve"),
		WatermarkDomain:      getEnv("WATERMARK_DOMAIN", "fluxreve.com"),

		GeoIPDBPath:                    os.Getenv("GEOIP_DB_PATH"),
		DailyFreeQuota:                 getEnvInt("DAILY_FREE_QUOTA", 50),
		DailyFreeQuotaBoosted:          getEnvInt("DAILY_FREE_QUOTA_BOOSTED", 100),
		DailyFreeQuotaBoostedCountries: upperList(splitList(getEnv("DAILY_FREE_QUOTA_BOOSTED_COUNTRIES", "SA,FR,DE,BH,BE,NL,AE,QA,LU,IL"))),

		ReconcileInterval: time.Second * time.Duration(getEnvInt("RECONCILE_INTERVAL_SECONDS", 60)),
		ClaimLease:        time.Second * time.Duration(getEnvInt("CLAIM_LEASE_SECONDS", 600)),
		ReconcileBatch:    getEnvInt("RECONCILE_BATCH_SIZE", 50),
		MaxRefundAttempts: getEnvInt("RECONCILE_MAX_REFUND_ATTEMPTS", 20),

		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelServiceName: getEnv("OTEL_SERVICE_NAME", "mediagen"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	switch cfg.StorageDriver {
	case "filesystem":
	case "s3":
		if cfg.StorageBucketName == "" || cfg.StoragePublicURL == "" {
			return nil, fmt.Errorf("STORAGE_BUCKET_NAME and STORAGE_PUBLIC_URL are required for the s3 driver")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.AssetConcurrency <= 0 {
		cfg.AssetConcurrency = 1
	}

	return cfg, nil
}

// WebhookSecret returns the signing secret configured for provider, if any.
func (c *Config) WebhookSecret(provider string) string {
	if c == nil {
		return ""
	}
	return c.WebhookSecrets[strings.ToLower(strings.TrimSpace(provider))]
}

func webhookSecretsFromEnv(environ []string) map[string]string {
	secrets := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, webhookSecretPrefix) {
			continue
		}
		provider := strings.ToLower(strings.TrimPrefix(key, webhookSecretPrefix))
		value = strings.TrimSpace(value)
		if provider == "" || value == "" {
			continue
		}
		secrets[provider] = value
	}
	return secrets
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(raw string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	sort.Strings(out)
	return out
}

func upperList(in []string) []string {
	for i := range in {
		in[i] = strings.ToUpper(in[i])
	}
	return in
}
