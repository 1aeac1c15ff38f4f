//go:build wireinject

package di

import (
	"context"

	"github.com/google/wire"

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

var coreSet = wire.NewSet(
	ProvideLogger,
	metrics.NewMetrics,
	database.ProvideDB,
	account.ProvideRepository,
	usage.ProvideRepository,
	wire.Bind(new(usage.Store), new(*usage.Repository)),
	usage.NewRecorder,
	balancecache.ProvideCache,
	billing.ProvideService,
)

func InitializeApp(ctx context.Context) (*App, error) {
	wire.Build(
		config.ProvideConfig,
		coreSet,
		telemetry.ProvideProvider,
		plan.ProvideCatalog,
		payment.ProvideReconciler,
		wire.Bind(new(preflight.BalanceChecker), new(*billing.Service)),
		preflight.ProvideGate,
		handler.NewMeteredProxy,
		health.ProvideChecker,
		handler.NewCreditsHandler,
		handler.NewPaymentHandler,
		handler.NewUsageHandler,
		handler.NewInternalHandler,
		handler.NewRouter,
		server.NewHTTPServer,
		billing.ProvideSweeper,
		NewApp,
	)
	return nil, nil
}

func InitializeLedger(cfg *config.Config) (*Ledger, error) {
	wire.Build(
		coreSet,
		NewLedger,
	)
	return nil, nil
}
