package di

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/balancecache"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/billing"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/database"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/telemetry"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/usage"
)

// App: 애플리케이션 구성 요소를 묶는다.
type App struct {
	Server        *http.Server
	Logger        *slog.Logger
	Config        *config.Config
	DB            *database.DB
	BalanceCache  *balancecache.Cache
	UsageRecorder *usage.Recorder
	Sweeper       *billing.Sweeper
	Telemetry     *telemetry.Provider
}

// NewApp: App 인스턴스를 생성합니다.
func NewApp(
	server *http.Server,
	logger *slog.Logger,
	cfg *config.Config,
	db *database.DB,
	balanceCache *balancecache.Cache,
	usageRecorder *usage.Recorder,
	sweeper *billing.Sweeper,
	provider *telemetry.Provider,
) *App {
	return &App{
		Server:        server,
		Logger:        logger,
		Config:        cfg,
		DB:            db,
		BalanceCache:  balanceCache,
		UsageRecorder: usageRecorder,
		Sweeper:       sweeper,
		Telemetry:     provider,
	}
}

// Close: 앱 리소스를 정리합니다. 남은 사용 기록을 먼저 적재한 뒤 연결을 닫습니다.
func (a *App) Close() {
	if a.UsageRecorder != nil {
		a.UsageRecorder.Close()
	}
	if a.BalanceCache != nil {
		a.BalanceCache.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Telemetry.Shutdown(ctx); err != nil && a.Logger != nil {
			a.Logger.Warn("telemetry_shutdown_failed", "err", err)
		}
	}
}

// Ledger: CLI 용 최소 구성입니다. HTTP 서버 없이 과금 서비스만 노출합니다.
type Ledger struct {
	Service       *billing.Service
	Logger        *slog.Logger
	DB            *database.DB
	BalanceCache  *balancecache.Cache
	UsageRecorder *usage.Recorder
}

// NewLedger: Ledger 인스턴스를 생성합니다.
func NewLedger(
	service *billing.Service,
	logger *slog.Logger,
	db *database.DB,
	balanceCache *balancecache.Cache,
	usageRecorder *usage.Recorder,
) *Ledger {
	return &Ledger{
		Service:       service,
		Logger:        logger,
		DB:            db,
		BalanceCache:  balanceCache,
		UsageRecorder: usageRecorder,
	}
}

// Close: CLI 리소스를 정리합니다.
func (l *Ledger) Close() {
	if l.UsageRecorder != nil {
		l.UsageRecorder.Close()
	}
	if l.BalanceCache != nil {
		l.BalanceCache.Close()
	}
	if l.DB != nil {
		l.DB.Close()
	}
}
