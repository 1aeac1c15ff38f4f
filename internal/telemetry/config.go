// Package telemetry: OpenTelemetry 기반 분산 추적 기능을 제공합니다.
package telemetry

import "github.com/park285/llm-kakao-bots/credit-ledger-go/internal/config"

// Config: OpenTelemetry 설정입니다.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	// OTLPEndpoint: gRPC collector 주소입니다 (예: "otel-collector:4317").
	OTLPEndpoint string
	// OTLPInsecure: true면 TLS 없이 연결합니다. 내부망에서만 사용하세요.
	OTLPInsecure bool
	// SampleRate: 샘플링 비율입니다 (0.0 ~ 1.0).
	SampleRate float64
}

// ConfigFrom 은 애플리케이션 설정에서 추적 설정을 만든다.
func ConfigFrom(cfg config.TelemetryConfig) Config {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	return Config{
		Enabled:        cfg.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		OTLPInsecure:   cfg.OTLPInsecure,
		SampleRate:     cfg.SampleRate,
	}
}

// DefaultServiceName 은 서비스 이름 기본값이다.
const DefaultServiceName = "credit-ledger"
