package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/httperror"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/middleware"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/preflight"
)

// MeteredProxy: 과금 대상 API 를 사전 잔액 검사 뒤 업스트림으로 전달합니다.
// 실제 차감은 업스트림이 /internal/metering/usage 로 보고합니다.
type MeteredProxy struct {
	upstream *url.URL
	gate     *preflight.Gate
	proxy    *httputil.ReverseProxy
	logger   *slog.Logger
}

// NewMeteredProxy: 업스트림 URL 이 비어 있으면 nil 을 반환합니다.
func NewMeteredProxy(cfg *config.Config, gate *preflight.Gate, logger *slog.Logger) (*MeteredProxy, error) {
	raw := strings.TrimSpace(cfg.Metering.UpstreamURL)
	if raw == "" {
		return nil, nil
	}
	upstream, err := url.Parse(raw)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid metering upstream url %q", raw)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &MeteredProxy{upstream: upstream, gate: gate, logger: logger}
	p.proxy = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(upstream)
			r.SetXForwarded()
			// 클라이언트가 보낸 계정 헤더는 믿지 않고 확인된 값으로 덮어쓴다.
			r.Out.Header.Del(middleware.AccountIDHeader)
			if accountID, ok := r.In.Context().Value(accountContextKey{}).(string); ok && accountID != "" {
				r.Out.Header.Set(middleware.AccountIDHeader, accountID)
			}
		},
		// 스트리밍 응답은 즉시 내보낸다.
		FlushInterval: -1,
		ErrorHandler:  p.handleProxyError,
	}
	return p, nil
}

type accountContextKey struct{}

// RegisterRoutes: 비용 표의 경로마다 프록시 라우트를 등록합니다.
// 익명 요청의 인증은 업스트림이 담당합니다.
func (p *MeteredProxy) RegisterRoutes(router *gin.Engine) {
	if p == nil {
		return
	}
	for _, path := range p.gate.Costs().Paths() {
		router.Any(path, p.gate.Middleware(), p.serve)
	}
}

func (p *MeteredProxy) serve(c *gin.Context) {
	req := c.Request.WithContext(contextWithAccount(c))
	p.proxy.ServeHTTP(c.Writer, req)
}

func contextWithAccount(c *gin.Context) context.Context {
	return context.WithValue(c.Request.Context(), accountContextKey{}, middleware.GetAccountID(c))
}

func (p *MeteredProxy) handleProxyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	p.logger.Warn("metered_proxy_failed", "path", r.URL.Path, "upstream", p.upstream.Host, "err", err)
	apiErr := &httperror.Error{
		Code:    httperror.ErrorCodeInternal,
		Status:  http.StatusBadGateway,
		Type:    "UpstreamError",
		Message: "Upstream request failed",
	}
	status, payload := httperror.Response(apiErr, r.Header.Get(middleware.RequestIDHeader))
	body, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
