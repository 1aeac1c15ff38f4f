package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/di"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := di.InitializeApp(ctx)
	if err != nil {
		log.Fatalf("failed to initialize app: %v", err)
	}

	config.LogEnvStatus(app.Config, app.Logger)
	app.Logger.Info(
		"http_server_start",
		"host", app.Config.HTTP.Host,
		"port", app.Config.HTTP.Port,
		"http2", app.Config.HTTP.HTTP2Enabled,
	)

	if app.Sweeper.Enabled() {
		go app.Sweeper.Run(ctx)
	}

	err = server.Serve(ctx, app.Server, app.Logger, server.DefaultShutdownTimeout)
	app.Close()
	if err != nil {
		app.Logger.Error("http_server_failed", "err", err)
		os.Exit(1)
	}
}
