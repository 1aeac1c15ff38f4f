package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

var (
	configOnce  sync.Once
	configValue *Config
)

// Load 는 환경 변수 기반 설정을 로드한다.
func Load() *Config {
	configOnce.Do(func() {
		_ = godotenv.Load()
		configValue = buildConfig()
	})
	return configValue
}

// ProvideConfig 는 설정을 로드하고 검증한다.
func ProvideConfig() (*Config, error) {
	cfg := Load()
	if cfg == nil {
		return nil, errors.New("config not initialized")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 는 설정 유효성을 검사한다.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported db driver: %q", c.Database.Driver)
	}
	if c.Billing.TokensPerCredit <= 0 {
		return fmt.Errorf("tokens per credit must be positive: %d", c.Billing.TokensPerCredit)
	}
	if c.Billing.FreeTierTokens <= 0 || c.Billing.FreeTierExpiryDays <= 0 {
		return fmt.Errorf(
			"invalid free tier policy: tokens=%d expiry_days=%d",
			c.Billing.FreeTierTokens,
			c.Billing.FreeTierExpiryDays,
		)
	}
	if c.Billing.WriteMaxAttempts <= 0 {
		return fmt.Errorf("write max attempts must be positive: %d", c.Billing.WriteMaxAttempts)
	}
	if c.BalanceCache.TTLSeconds <= 0 {
		return fmt.Errorf("balance cache ttl must be positive: %d", c.BalanceCache.TTLSeconds)
	}
	if c.BalanceCache.Required && !c.BalanceCache.Enabled {
		return errors.New("balance cache required but disabled")
	}
	if strings.TrimSpace(c.Payment.Currency) == "" {
		return errors.New("payment currency is empty")
	}
	return nil
}

// LogEnvStatus 는 환경 설정 상태를 로그로 남긴다.
func LogEnvStatus(cfg *Config, logger *slog.Logger) {
	if logger == nil || cfg == nil {
		return
	}

	envFilePresent := fileExists(".env")
	logger.Debug(
		"env_status",
		"env_file", envFilePresent,
		"db_driver", cfg.Database.Driver,
		"db_host", cfg.Database.Host,
		"db_name", cfg.Database.Name,
		"balance_cache_url", cfg.BalanceCache.URL,
		"balance_cache_ttl", cfg.BalanceCache.TTLSeconds,
		"stripe_key", maskSecret(cfg.Payment.StripeSecretKey),
		"api_key", maskSecret(cfg.HTTPAuth.APIKey),
		"jwt_secret", maskSecret(cfg.HTTPAuth.JWTSecret),
		"metering_upstream", cfg.Metering.UpstreamURL,
	)

	if cfg.Payment.StripeSecretKey == "" {
		logger.Warn("env_missing_stripe_secret_key")
	}
	if cfg.HTTPAuth.JWTSecret == "" && !cfg.HTTPAuth.TrustAccountHeader {
		logger.Warn("env_missing_account_identity", "hint", "set HTTP_JWT_SECRET or HTTP_TRUST_ACCOUNT_HEADER")
	}
}

func buildConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      getEnvString("LOG_LEVEL", "info"),
			LogDir:     getEnvString("LOG_DIR", ""),
			MaxSizeMB:  getEnvInt("LOG_FILE_MAX_SIZE_MB", 1),
			MaxBackups: getEnvInt("LOG_FILE_MAX_BACKUPS", 30),
			MaxAgeDays: getEnvInt("LOG_FILE_MAX_AGE_DAYS", 7),
			Compress:   getEnvBool("LOG_FILE_COMPRESS", true),
		},
		HTTP: HTTPConfig{
			Host:         getEnvString("HTTP_HOST", "127.0.0.1"),
			Port:         getEnvInt("HTTP_PORT", 40610),
			HTTP2Enabled: getEnvBool("HTTP2_ENABLED", true),
			GzipEnabled:  getEnvBool("HTTP_GZIP_ENABLED", true),
		},
		HTTPAuth: HTTPAuthConfig{
			APIKey:             getEnvString("HTTP_API_KEY", ""),
			JWTSecret:          getEnvString("HTTP_JWT_SECRET", ""),
			JWTIssuer:          getEnvString("HTTP_JWT_ISSUER", ""),
			TrustAccountHeader: getEnvBool("HTTP_TRUST_ACCOUNT_HEADER", false),
		},
		HTTPRateLimit: HTTPRateLimitConfig{
			RequestsPerMinute: getEnvNonNegativeInt("HTTP_RATE_LIMIT_RPM", 0),
			CacheSize:         max(1, getEnvNonNegativeInt("HTTP_RATE_LIMIT_CACHE_SIZE", 10000)),
			CacheTTLSeconds:   max(1, getEnvNonNegativeInt("HTTP_RATE_LIMIT_CACHE_TTL_SECONDS", 120)),
		},
		Database: DatabaseConfig{
			Driver:                               strings.ToLower(getEnvString("DB_DRIVER", DriverPostgres)),
			SQLitePath:                           getEnvString("DB_SQLITE_PATH", "credit_ledger.db"),
			Host:                                 getEnvString("DB_HOST", "localhost"),
			Port:                                 getEnvInt("DB_PORT", 5432),
			Name:                                 getEnvString("DB_NAME", "credit_ledger"),
			User:                                 getEnvString("DB_USER", "credit_ledger"),
			Password:                             getEnvString("DB_PASSWORD", ""),
			MinPool:                              getEnvInt("DB_MIN_POOL", 1),
			MaxPool:                              getEnvInt("DB_MAX_POOL", 10),
			ConnMaxLifetimeMinutes:               getEnvNonNegativeInt("DB_CONN_MAX_LIFETIME_MINUTES", 60),
			ConnMaxIdleTimeMinutes:               getEnvNonNegativeInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
			ConnectMaxAttempts:                   max(1, getEnvNonNegativeInt("DB_CONNECT_MAX_ATTEMPTS", 5)),
			ConnectRetrySeconds:                  getEnvNonNegativeInt("DB_CONNECT_RETRY_SECONDS", 2),
			UsageBatchEnabled:                    getEnvBool("DB_USAGE_BATCH_ENABLED", false),
			UsageBatchFlushIntervalSeconds:       max(1, getEnvNonNegativeInt("DB_USAGE_BATCH_FLUSH_INTERVAL_SECONDS", 1)),
			UsageBatchFlushTimeoutSeconds:        max(1, getEnvNonNegativeInt("DB_USAGE_BATCH_FLUSH_TIMEOUT_SECONDS", 5)),
			UsageBatchMaxPendingRecords:          max(1, getEnvNonNegativeInt("DB_USAGE_BATCH_MAX_PENDING_RECORDS", 100)),
			UsageBatchMaxBufferedRecords:         max(1, getEnvNonNegativeInt("DB_USAGE_BATCH_MAX_BUFFERED_RECORDS", 10000)),
			UsageBatchMaxBackoffSeconds:          getEnvNonNegativeInt("DB_USAGE_BATCH_MAX_BACKOFF_SECONDS", 60),
			UsageBatchErrorLogMaxIntervalSeconds: getEnvNonNegativeInt("DB_USAGE_BATCH_ERROR_LOG_MAX_INTERVAL_SECONDS", 60),
		},
		BalanceCache: BalanceCacheConfig{
			URL:          getEnvString("BALANCE_CACHE_URL", "redis://localhost:6379"),
			Enabled:      getEnvBool("BALANCE_CACHE_ENABLED", true),
			Required:     getEnvBool("BALANCE_CACHE_REQUIRED", false),
			DisableCache: getEnvBool("BALANCE_CACHE_DISABLE_CLIENT_CACHE", true),
			TTLSeconds:   getEnvInt("BALANCE_CACHE_TTL_SECONDS", 300),
			KeyPrefix:    getEnvString("BALANCE_CACHE_KEY_PREFIX", "user_credits"),
			MemorySize:   max(1, getEnvNonNegativeInt("BALANCE_CACHE_MEMORY_SIZE", 10000)),
		},
		Billing: BillingConfig{
			FreeTierTokens:       getEnvInt64("BILLING_FREE_TIER_TOKENS", 700_000),
			FreeTierExpiryDays:   getEnvInt("BILLING_FREE_TIER_EXPIRY_DAYS", 30),
			TokensPerCredit:      getEnvInt64("BILLING_TOKENS_PER_CREDIT", 70_000),
			WriteMaxAttempts:     max(1, getEnvNonNegativeInt("BILLING_WRITE_MAX_ATTEMPTS", 5)),
			WriteRetryBaseMillis: max(1, getEnvNonNegativeInt("BILLING_WRITE_RETRY_BASE_MS", 20)),
			DeductAlertThreshold: getEnvInt64("BILLING_DEDUCT_ALERT_THRESHOLD", 1_000_000),
			SweepIntervalSeconds: getEnvNonNegativeInt("BILLING_SWEEP_INTERVAL_SECONDS", 0),
			SweepBatchSize:       max(1, getEnvNonNegativeInt("BILLING_SWEEP_BATCH_SIZE", 200)),
		},
		Payment: PaymentConfig{
			StripeSecretKey: getEnvString("STRIPE_SECRET_KEY", ""),
			FrontendURL:     strings.TrimRight(getEnvString("FRONTEND_URL", "http://localhost:3000"), "/"),
			Currency:        strings.ToLower(getEnvString("PAYMENT_CURRENCY", "usd")),
			PlanCatalogPath: getEnvString("PLAN_CATALOG_PATH", ""),
		},
		Metering: MeteringConfig{
			UpstreamURL:   getEnvString("METERING_UPSTREAM_URL", ""),
			CostOverrides: getEnvString("METERING_COST_OVERRIDES", ""),
		},
		Telemetry: readTelemetryConfig(),
	}
}
