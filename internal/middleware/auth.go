package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/httperror"
)

// APIKeyAuth 는 서비스 간 호출 경로(/internal/)를 보호하는 API 키 인증 미들웨어다.
func APIKeyAuth(cfg *config.Config) gin.HandlerFunc {
	expected := ""
	if cfg != nil {
		expected = strings.TrimSpace(cfg.HTTPAuth.APIKey)
	}

	return func(c *gin.Context) {
		if !isInternalPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		// 키가 없으면 내부 경로 자체를 닫는다.
		if expected == "" {
			abortWithError(c, httperror.NewUnauthorized("Internal API disabled", map[string]any{"path": c.Request.URL.Path}))
			return
		}

		provided := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			abortWithError(c, httperror.NewUnauthorized("Invalid API key", map[string]any{"path": c.Request.URL.Path}))
			return
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if c == nil {
		return ""
	}

	authValue := strings.TrimSpace(c.GetHeader("Authorization"))
	if authValue == "" {
		return ""
	}

	if len(authValue) > 7 && strings.EqualFold(authValue[:7], "bearer ") {
		return strings.TrimSpace(authValue[7:])
	}

	return ""
}

func isInternalPath(path string) bool {
	return strings.HasPrefix(path, "/internal/")
}

func abortWithError(c *gin.Context, err error) {
	status, payload := httperror.Response(err, GetRequestID(c))
	c.AbortWithStatusJSON(status, payload)
}
