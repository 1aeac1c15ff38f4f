// Package server 는 HTTP 서버 생성과 종료 절차를 담당한다.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
)

// DefaultShutdownTimeout 은 종료 시 진행 중 요청을 기다리는 최대 시간이다.
const DefaultShutdownTimeout = 10 * time.Second

// NewHTTPServer 는 HTTP 서버를 생성한다.
// 프록시 스트리밍 응답 때문에 WriteTimeout 은 두지 않는다.
func NewHTTPServer(cfg *config.Config, router *gin.Engine) *http.Server {
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if cfg.HTTP.HTTP2Enabled {
		server.Handler = h2c.NewHandler(router, &http2.Server{})
	}

	return server
}

// Serve 는 ctx 가 끝날 때까지 서버를 실행하고 정상 종료를 시도한다.
// 정상 종료면 nil 을 반환한다.
func Serve(ctx context.Context, srv *http.Server, logger *slog.Logger, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
		logger.Info("http_server_shutdown_signal", "cause", context.Cause(ctx))

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("http_server_shutdown_failed", "err", shutdownErr)
			_ = srv.Close()
		}
		err = <-serverErr
	case err = <-serverErr:
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
