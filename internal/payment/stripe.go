package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeProvider 는 Stripe Checkout 세션 기반 Provider 구현이다.
type StripeProvider struct {
	client *client.API
}

// NewStripeProvider 는 비밀 키로 Stripe 클라이언트를 초기화한다.
func NewStripeProvider(secretKey string) *StripeProvider {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeProvider{client: sc}
}

// GetSession 은 세션의 결제 상태와 메타데이터를 조회한다.
func (p *StripeProvider) GetSession(ctx context.Context, sessionID string) (Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	cs, err := p.client.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return Session{}, mapStripeError(err)
	}
	return sessionFromStripe(cs), nil
}

// CreateCheckoutSession 은 1회 결제용 체크아웃 세션을 만든다.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (Session, error) {
	meta := sessionMetadata{AccountID: req.AccountID, PlanID: req.PlanID, TokenAmount: req.TokenAmount}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.AccountID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.DisplayName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: meta.toMap(),
	}
	params.Context = ctx

	cs, err := p.client.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, mapStripeError(err)
	}
	return sessionFromStripe(cs), nil
}

func sessionFromStripe(cs *stripe.CheckoutSession) Session {
	return Session{
		ID:            cs.ID,
		PaymentStatus: string(cs.PaymentStatus),
		URL:           cs.URL,
		AmountTotal:   cs.AmountTotal,
		Currency:      string(cs.Currency),
		Metadata:      cs.Metadata,
	}
}

// mapStripeError 는 stripe 오류를 도메인 오류로 바꾼다.
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, stripeErr.Msg)
		}
		return fmt.Errorf("%w: status=%d code=%s: %s", ErrProvider, stripeErr.HTTPStatusCode, stripeErr.Code, stripeErr.Msg)
	}
	return fmt.Errorf("%w: %w", ErrProvider, err)
}

// disabledProvider 는 결제 키가 없을 때 사용하는 Provider 다.
type disabledProvider struct{}

func (disabledProvider) GetSession(context.Context, string) (Session, error) {
	return Session{}, ErrProviderDisabled
}

func (disabledProvider) CreateCheckoutSession(context.Context, CheckoutRequest) (Session, error) {
	return Session{}, ErrProviderDisabled
}
