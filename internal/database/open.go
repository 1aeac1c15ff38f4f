package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
)

// RetryConfig: DB 연결 재시도 설정
type RetryConfig struct {
	MaxAttempts int           // 최대 시도 횟수 (기본: 5)
	BaseDelay   time.Duration // 초기 대기 시간 (기본: 2초)
	MaxDelay    time.Duration // 최대 대기 시간 (기본: 30초)
}

// OpenFunc: DB 연결을 시도하는 함수 타입
type OpenFunc func(ctx context.Context) (*gorm.DB, *sql.DB, error)

// DB 는 gorm 핸들과 하위 sql.DB 를 함께 보관한다.
type DB struct {
	Gorm   *gorm.DB
	sqlDB  *sql.DB
	driver string
}

// Driver 는 사용 중인 드라이버 이름을 반환한다.
func (d *DB) Driver() string {
	if d == nil {
		return ""
	}
	return d.driver
}

// Ping 은 DB 연결 상태를 확인한다.
func (d *DB) Ping(ctx context.Context) error {
	if d == nil || d.sqlDB == nil {
		return errors.New("database not open")
	}
	if err := d.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

// Close 는 DB 연결을 닫는다.
func (d *DB) Close() {
	if d == nil || d.sqlDB == nil {
		return
	}
	_ = d.sqlDB.Close()
}

// Open 은 설정된 드라이버로 DB 를 연다. 연결 실패 시 지수 백오프로 재시도한다.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*DB, error) {
	if cfg == nil {
		return nil, errors.New("database config is nil")
	}

	retry := RetryConfig{
		MaxAttempts: cfg.Database.ConnectMaxAttempts,
		BaseDelay:   time.Duration(cfg.Database.ConnectRetrySeconds) * time.Second,
	}
	if cfg.Database.Driver == config.DriverSQLite {
		retry.MaxAttempts = 1
	}

	gormDB, sqlDB, err := OpenWithRetry(ctx, func(ctx context.Context) (*gorm.DB, *sql.DB, error) {
		return openOnce(ctx, cfg, logger)
	}, retry, logger)
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("db_connected", "driver", cfg.Database.Driver, "host", cfg.Database.Host, "name", cfg.Database.Name)
	}
	return &DB{Gorm: gormDB, sqlDB: sqlDB, driver: cfg.Database.Driver}, nil
}

// ProvideDB 는 DI 용 DB 생성자다.
func ProvideDB(cfg *config.Config, logger *slog.Logger) (*DB, error) {
	return Open(context.Background(), cfg, logger)
}

// OpenSQLiteMemory 는 테스트와 로컬 도구용 인메모리 sqlite DB 를 연다.
func OpenSQLiteMemory() (*DB, error) {
	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("get sqlite handle: %w", err)
	}
	// :memory: 는 연결마다 별도 DB 이므로 단일 연결로 고정한다.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return &DB{Gorm: gormDB, sqlDB: sqlDB, driver: config.DriverSQLite}, nil
}

func openOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gorm.DB, *sql.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		db, err = gorm.Open(sqlite.Open(cfg.Database.DSN()), gormCfg)
	default:
		db, err = gorm.Open(postgres.Open(cfg.Database.DSN()), gormCfg)
		if err != nil && shouldFallbackToLocalhost(err, cfg.Database.Host) {
			fallback := cfg.Database
			fallback.Host = "127.0.0.1"
			db, err = gorm.Open(postgres.Open(fallback.DSN()), gormCfg)
			if err == nil && logger != nil {
				logger.Warn("db_host_fallback", "configured_host", cfg.Database.Host, "effective_host", fallback.Host)
			}
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("get db handle: %w", err)
	}

	if cfg.Database.Driver == config.DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(cfg.Database.MinPool)
		sqlDB.SetMaxOpenConns(cfg.Database.MaxPool)
	}
	if cfg.Database.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeMinutes) * time.Minute)
	}
	if cfg.Database.ConnMaxIdleTimeMinutes > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.Database.ConnMaxIdleTimeMinutes) * time.Minute)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("ping db: %w", err)
	}
	return db, sqlDB, nil
}

// OpenWithRetry: exponential backoff로 DB 연결을 재시도합니다.
func OpenWithRetry(
	ctx context.Context,
	openFn OpenFunc,
	cfg RetryConfig,
	logger *slog.Logger,
) (*gorm.DB, *sql.DB, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		db, sqlDB, err := openFn(ctx)
		if err == nil {
			if attempt > 0 && logger != nil {
				logger.Info("db_connect_success_after_retry", slog.Int("attempts", attempt+1))
			}
			return db, sqlDB, nil
		}

		lastErr = err
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		delay := min(cfg.BaseDelay*time.Duration(1<<uint(attempt)), cfg.MaxDelay)
		if logger != nil {
			logger.Warn("db_connect_retry",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", cfg.MaxAttempts),
				slog.Duration("delay", delay),
				slog.Any("error", err),
			)
		}

		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("db connect cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return nil, nil, fmt.Errorf("db connect failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

func shouldFallbackToLocalhost(err error, host string) bool {
	if err == nil {
		return false
	}
	if !strings.EqualFold(host, "postgres") {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return strings.EqualFold(dnsErr.Name, host)
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "no such host") && strings.Contains(lower, strings.ToLower(host))
}
