// Package gateway integrates external payment providers (Paystack,
// Flutterwave, Stripe) with the escrow pipeline.
//
// Checkout flow:
//  1. Client picks an order → Checkout opens a pending transaction + held escrow
//  2. Client is redirected to the provider's hosted payment page
//  3. Provider redirects back → VerifyAndSettle confirms against the provider's
//     verification API and settles the transaction exactly once
//
// The provider's verdict is the source of truth: redirect parameters are
// never trusted.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"paylance/internal/escrow"
	"paylance/internal/idgen"
	"paylance/internal/logging"
	"paylance/internal/orders"
)

var (
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrPaymentDeclined     = errors.New("payment declined by provider")
)

// InitializeRequest asks the provider to open a hosted checkout.
type InitializeRequest struct {
	Reference   string
	Amount      int64 // kobo
	Email       string
	CallbackURL string
	Description string
}

// Checkout is the provider's hosted payment session.
type Checkout struct {
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirectUrl"`
	AccessCode  string `json:"accessCode,omitempty"`
}

// VerifyResult is the provider's verdict on a payment.
type VerifyResult struct {
	Reference     string
	ProviderTxID  string
	Paid          bool
	Amount        int64 // kobo, as the provider saw it
	FailureReason string
	Raw           []byte // verbatim provider payload, persisted with the transaction
}

// Provider is a hosted-checkout payment gateway.
type Provider interface {
	Name() string
	Initialize(ctx context.Context, req InitializeRequest) (*Checkout, error)
	// Verify asks the provider for the authoritative state of a payment.
	// A transport or provider outage returns an error wrapping
	// ErrProviderUnavailable; a declined payment is a nil error with
	// Paid=false.
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
}

// CommissionPolicy computes the platform's cut of an order amount.
type CommissionPolicy func(amount int64) int64

// BasisPointsPolicy takes rate/10000 of the amount, rounded down.
func BasisPointsPolicy(rateBps int64) CommissionPolicy {
	return func(amount int64) int64 {
		return amount * rateBps / 10000
	}
}

// Service drives checkout against a provider.
type Service struct {
	provider    Provider
	orders      orders.Source
	escrow      *escrow.Service
	commission  CommissionPolicy
	callbackURL string
	logger      *slog.Logger
}

// NewService creates a checkout service.
func NewService(provider Provider, orderSource orders.Source, escrowSvc *escrow.Service,
	commission CommissionPolicy, callbackURL string, logger *slog.Logger) *Service {
	return &Service{
		provider:    provider,
		orders:      orderSource,
		escrow:      escrowSvc,
		commission:  commission,
		callbackURL: callbackURL,
		logger:      logger,
	}
}

// CheckoutResult is what the client needs to pay.
type CheckoutResult struct {
	Reference   string          `json:"reference"`
	RedirectURL string          `json:"redirectUrl"`
	Amount      int64           `json:"amountKobo"`
	Provider    string          `json:"provider"`
	Escrow      *escrow.Payment `json:"escrow"`
}

// Checkout resolves the order, opens the escrow, and initializes the
// provider's hosted payment page.
//
// If the provider call fails the pending transaction and held escrow stay in
// place: the reference can be retried against the provider, and an abandoned
// checkout simply never funds.
func (s *Service) Checkout(ctx context.Context, kind orders.Kind, orderID, email string) (*CheckoutResult, error) {
	if !kind.Valid() {
		return nil, orders.ErrUnknownKind
	}

	order, err := s.orders.Get(ctx, kind, orderID)
	if err != nil {
		return nil, err
	}

	reference := idgen.PaymentReference(string(kind), orderID)
	amount := order.AmountDue()

	p, err := s.escrow.Open(ctx, escrow.OpenRequest{
		Reference:   reference,
		OrderKind:   string(kind),
		OrderID:     orderID,
		PayerID:     order.Payer(),
		PayeeID:     order.Payee(),
		Amount:      amount,
		Commission:  s.commission(amount),
		Description: order.Description(),
	})
	if err != nil {
		return nil, err
	}

	checkout, err := s.provider.Initialize(ctx, InitializeRequest{
		Reference:   reference,
		Amount:      amount,
		Email:       email,
		CallbackURL: s.callbackURL,
		Description: order.Description(),
	})
	if err != nil {
		logging.L(ctx).Warn("provider initialize failed, checkout left pending",
			"reference", reference, "provider", s.provider.Name(), "error", err)
		return nil, fmt.Errorf("failed to initialize payment: %w", err)
	}

	logging.L(ctx).Info("checkout initialized",
		"reference", reference,
		"provider", s.provider.Name(),
		"orderKind", kind,
		"orderId", orderID,
		"amountKobo", amount,
	)

	return &CheckoutResult{
		Reference:   reference,
		RedirectURL: checkout.RedirectURL,
		Amount:      amount,
		Provider:    s.provider.Name(),
		Escrow:      p,
	}, nil
}

// ProviderName reports which gateway this service drives.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}
