package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/paymentintent"
)

// StripeProvider drives Stripe hosted checkout sessions. The escrow
// reference travels in the payment intent metadata so Verify can find the
// payment again.
type StripeProvider struct{}

// NewStripe creates a Stripe provider. The secret key is process-global in
// the Stripe SDK.
func NewStripe(secretKey string) *StripeProvider {
	stripe.Key = secretKey
	return &StripeProvider{}
}

func (s *StripeProvider) Name() string { return "stripe" }

// Initialize opens a Stripe Checkout session for the order amount.
func (s *StripeProvider) Initialize(ctx context.Context, req InitializeRequest) (*Checkout, error) {
	name := req.Description
	if name == "" {
		name = "Order " + req.Reference
	}

	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:    stripe.String(req.CallbackURL + "?reference=" + req.Reference),
		CustomerEmail: stripe.String(req.Email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String("ngn"),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"reference": req.Reference},
		},
	}
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		if isStripeOutage(err) {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("stripe initialize failed: %w", err)
	}

	return &Checkout{
		Reference:   req.Reference,
		RedirectURL: sess.URL,
	}, nil
}

// Verify looks up the payment intent carrying our reference in its metadata.
func (s *StripeProvider) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	params := &stripe.PaymentIntentSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   fmt.Sprintf("metadata['reference']:'%s'", reference),
			Context: ctx,
		},
	}

	iter := paymentintent.Search(params)
	for iter.Next() {
		pi := iter.PaymentIntent()
		raw, _ := json.Marshal(pi)

		result := &VerifyResult{
			Reference:    reference,
			ProviderTxID: pi.ID,
			Paid:         pi.Status == stripe.PaymentIntentStatusSucceeded,
			Amount:       pi.Amount,
			Raw:          raw,
		}
		if !result.Paid {
			result.FailureReason = string(pi.Status)
		}
		return result, nil
	}
	if err := iter.Err(); err != nil {
		if isStripeOutage(err) {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("stripe verify failed: %w", err)
	}

	// No intent yet: the customer never reached the payment page
	return &VerifyResult{
		Reference:     reference,
		Paid:          false,
		FailureReason: "no payment attempt found",
	}, nil
}

// isStripeOutage distinguishes Stripe-side failures from request errors.
func isStripeOutage(err error) bool {
	if stripeErr, ok := err.(*stripe.Error); ok {
		return stripeErr.HTTPStatusCode >= 500
	}
	return true // transport-level error
}
