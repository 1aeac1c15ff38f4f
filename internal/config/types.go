package config

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

// Database driver 값
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// LoggingConfig: 로깅 설정입니다.
type LoggingConfig struct {
	Level      string
	LogDir     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// HTTPConfig: HTTP 서버 설정입니다.
type HTTPConfig struct {
	Host         string
	Port         int
	HTTP2Enabled bool
	GzipEnabled  bool
}

// HTTPAuthConfig: 인증 설정입니다.
// APIKey 는 /internal/ 경로의 서비스 간 호출을, JWTSecret 은 계정 식별을 담당한다.
type HTTPAuthConfig struct {
	APIKey             string
	JWTSecret          string
	JWTIssuer          string
	TrustAccountHeader bool
}

// HTTPRateLimitConfig: 요청 제한 설정입니다.
type HTTPRateLimitConfig struct {
	RequestsPerMinute int
	CacheSize         int
	CacheTTLSeconds   int
}

// DatabaseConfig: DB 연결 및 저장 설정입니다.
type DatabaseConfig struct {
	Driver                               string
	SQLitePath                           string
	Host                                 string
	Port                                 int
	Name                                 string
	User                                 string
	Password                             string
	MinPool                              int
	MaxPool                              int
	ConnMaxLifetimeMinutes               int
	ConnMaxIdleTimeMinutes               int
	ConnectMaxAttempts                   int
	ConnectRetrySeconds                  int
	UsageBatchEnabled                    bool
	UsageBatchFlushIntervalSeconds       int
	UsageBatchFlushTimeoutSeconds        int
	UsageBatchMaxPendingRecords          int
	UsageBatchMaxBufferedRecords         int
	UsageBatchMaxBackoffSeconds          int
	UsageBatchErrorLogMaxIntervalSeconds int
}

// DSN: DB 접속 문자열을 반환합니다.
func (d DatabaseConfig) DSN() string {
	if d.Driver == DriverSQLite {
		if d.SQLitePath == "" {
			return ":memory:"
		}
		return d.SQLitePath
	}
	host := net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
	u := &url.URL{
		Scheme: "postgresql",
		Host:   host,
		Path:   "/" + d.Name,
	}
	if d.Password == "" {
		u.User = url.User(d.User)
	} else {
		u.User = url.UserPassword(d.User, d.Password)
	}
	return u.String()
}

// BalanceCacheConfig: 잔액 캐시(Valkey) 설정입니다.
type BalanceCacheConfig struct {
	URL          string
	Enabled      bool
	Required     bool
	DisableCache bool
	TTLSeconds   int
	KeyPrefix    string
	MemorySize   int
}

// TTL: 캐시 엔트리 유효 시간입니다.
func (b BalanceCacheConfig) TTL() time.Duration {
	return time.Duration(b.TTLSeconds) * time.Second
}

// BillingConfig: 원장/과금 정책 설정입니다.
type BillingConfig struct {
	FreeTierTokens       int64
	FreeTierExpiryDays   int
	TokensPerCredit      int64
	WriteMaxAttempts     int
	WriteRetryBaseMillis int
	DeductAlertThreshold int64
	SweepIntervalSeconds int
	SweepBatchSize       int
}

// WriteRetryBase: 버전 충돌 재시도 초기 대기 시간입니다.
func (b BillingConfig) WriteRetryBase() time.Duration {
	return time.Duration(b.WriteRetryBaseMillis) * time.Millisecond
}

// PaymentConfig: 결제 제공자 및 요금제 설정입니다.
type PaymentConfig struct {
	StripeSecretKey string
	FrontendURL     string
	Currency        string
	PlanCatalogPath string
}

// MeteringConfig: 과금 대상 API 설정입니다.
type MeteringConfig struct {
	UpstreamURL   string
	CostOverrides string
}

// TelemetryConfig: OpenTelemetry 설정입니다.
type TelemetryConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	OTLPInsecure   bool
	SampleRate     float64
}

// Config: 애플리케이션 전체 설정입니다.
type Config struct {
	Logging       LoggingConfig
	HTTP          HTTPConfig
	HTTPAuth      HTTPAuthConfig
	HTTPRateLimit HTTPRateLimitConfig
	Database      DatabaseConfig
	BalanceCache  BalanceCacheConfig
	Billing       BillingConfig
	Payment       PaymentConfig
	Metering      MeteringConfig
	Telemetry     TelemetryConfig
}
