package di

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/account"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/balancecache"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/billing"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/database"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/handler"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/health"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/metrics"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/payment"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/plan"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/preflight"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/server"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/telemetry"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/usage"
)

// core 는 서버와 CLI 가 공유하는 저장소/과금 구성 요소다.
type core struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	db       *database.DB
	cache    *balancecache.Cache
	recorder *usage.Recorder
	service  *billing.Service
}

func (c *core) close() {
	if c.recorder != nil {
		c.recorder.Close()
	}
	if c.cache != nil {
		c.cache.Close()
	}
	if c.db != nil {
		c.db.Close()
	}
}

func initializeCore(cfg *config.Config) (_ *core, err error) {
	c := &core{cfg: cfg, metrics: metrics.NewMetrics()}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	if c.logger, err = ProvideLogger(cfg); err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if c.db, err = database.ProvideDB(cfg, c.logger); err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	accountRepository, err := account.ProvideRepository(c.db, c.logger)
	if err != nil {
		return nil, fmt.Errorf("account repository: %w", err)
	}
	usageRepository, err := usage.ProvideRepository(c.db, c.logger)
	if err != nil {
		return nil, fmt.Errorf("usage repository: %w", err)
	}
	c.recorder = usage.NewRecorder(cfg, usageRepository, c.metrics, c.logger)

	if c.cache, err = balancecache.ProvideCache(cfg, c.metrics, c.logger); err != nil {
		return nil, fmt.Errorf("balance cache: %w", err)
	}

	c.service = billing.ProvideService(cfg, accountRepository, c.cache, c.recorder, c.metrics, c.logger)
	return c, nil
}

// InitializeApp 은 애플리케이션 의존성을 초기화하고 App 인스턴스를 반환한다.
func InitializeApp(ctx context.Context) (_ *App, err error) {
	cfg, err := config.ProvideConfig()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	c, err := initializeCore(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	provider, err := telemetry.ProvideProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	catalog, err := plan.ProvideCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("plan catalog: %w", err)
	}
	reconciler := payment.ProvideReconciler(cfg, c.service, catalog, c.metrics, c.logger)

	gate, err := preflight.ProvideGate(cfg, c.service, c.metrics, c.logger)
	if err != nil {
		return nil, fmt.Errorf("preflight gate: %w", err)
	}
	meteredProxy, err := handler.NewMeteredProxy(cfg, gate, c.logger)
	if err != nil {
		return nil, fmt.Errorf("metered proxy: %w", err)
	}

	checker := health.ProvideChecker(cfg, c.db, c.cache)
	router := handler.NewRouter(
		cfg,
		c.logger,
		c.metrics,
		checker,
		handler.NewCreditsHandler(c.service, c.logger),
		handler.NewPaymentHandler(reconciler, c.logger),
		handler.NewUsageHandler(c.recorder, c.logger),
		handler.NewInternalHandler(c.service, c.logger),
		meteredProxy,
	)
	httpServer := server.NewHTTPServer(cfg, router)
	sweeper := billing.ProvideSweeper(cfg, c.service, c.logger)

	return NewApp(httpServer, c.logger, cfg, c.db, c.cache, c.recorder, sweeper, provider), nil
}

// InitializeLedger 는 CLI 용 과금 서비스를 초기화한다.
func InitializeLedger(cfg *config.Config) (*Ledger, error) {
	c, err := initializeCore(cfg)
	if err != nil {
		return nil, err
	}
	return NewLedger(c.service, c.logger, c.db, c.cache, c.recorder), nil
}
