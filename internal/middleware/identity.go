package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"
	"github.com/park285/llm-kakao-bots/credit-ledger-go/internal/httperror"
)

// AccountIDHeader 는 신뢰된 게이트웨이가 전달하는 계정 ID 헤더다.
const AccountIDHeader = "X-Account-ID"

const accountIDKey = "account_id"

var errMissingSubject = errors.New("token subject is empty")

// AccountIdentity 는 요청자의 계정 ID 를 확인해 컨텍스트에 저장한다.
// 자격 증명이 없으면 익명으로 통과시키고, 잘못된 토큰은 401 로 거절한다.
func AccountIdentity(cfg *config.Config) gin.HandlerFunc {
	var (
		secret      []byte
		issuer      string
		trustHeader bool
	)
	if cfg != nil {
		secret = []byte(strings.TrimSpace(cfg.HTTPAuth.JWTSecret))
		issuer = strings.TrimSpace(cfg.HTTPAuth.JWTIssuer)
		trustHeader = cfg.HTTPAuth.TrustAccountHeader
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(parserOpts...)

	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" && len(secret) > 0 {
			accountID, err := accountFromToken(parser, secret, token)
			if err != nil {
				abortWithError(c, httperror.NewUnauthorized("Invalid token", map[string]any{"reason": err.Error()}))
				return
			}
			c.Set(accountIDKey, accountID)
			c.Next()
			return
		}

		if trustHeader {
			if accountID := strings.TrimSpace(c.GetHeader(AccountIDHeader)); accountID != "" {
				c.Set(accountIDKey, accountID)
			}
		}

		c.Next()
	}
}

func accountFromToken(parser *jwt.Parser, secret []byte, raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}); err != nil {
		return "", err
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", errMissingSubject
	}
	return subject, nil
}

// RequireAccount 는 계정 식별이 없는 요청을 401 로 거절한다.
func RequireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetAccountID(c) == "" {
			abortWithError(c, httperror.NewUnauthorized("Authentication required", map[string]any{"path": c.Request.URL.Path}))
			return
		}
		c.Next()
	}
}

// GetAccountID: 컨텍스트의 계정 ID 를 반환합니다. 익명이면 빈 문자열입니다.
func GetAccountID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(accountIDKey)
}
