package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const paystackBaseURL = "https://api.paystack.co"

// PaystackProvider talks to the Paystack REST API.
type PaystackProvider struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

// NewPaystack creates a Paystack provider.
func NewPaystack(secretKey string) *PaystackProvider {
	return &PaystackProvider{
		secretKey: secretKey,
		baseURL:   paystackBaseURL,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL overrides the API endpoint (tests).
func (p *PaystackProvider) WithBaseURL(u string) *PaystackProvider {
	p.baseURL = u
	return p
}

func (p *PaystackProvider) Name() string { return "paystack" }

type paystackInitRequest struct {
	Email       string `json:"email"`
	Amount      int64  `json:"amount"` // kobo
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type paystackInitResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// Initialize opens a hosted Paystack checkout.
func (p *PaystackProvider) Initialize(ctx context.Context, req InitializeRequest) (*Checkout, error) {
	body, _ := json.Marshal(paystackInitRequest{
		Email:       req.Email,
		Amount:      req.Amount,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: paystack returned %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var parsed paystackInitResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse paystack response: %w", err)
	}
	if !parsed.Status {
		return nil, fmt.Errorf("paystack initialize failed: %s", parsed.Message)
	}

	return &Checkout{
		Reference:   parsed.Data.Reference,
		RedirectURL: parsed.Data.AuthorizationURL,
		AccessCode:  parsed.Data.AccessCode,
	}, nil
}

type paystackVerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID              int64  `json:"id"`
		Status          string `json:"status"` // success, failed, abandoned
		Reference       string `json:"reference"`
		Amount          int64  `json:"amount"` // kobo
		GatewayResponse string `json:"gateway_response"`
	} `json:"data"`
}

// Verify fetches the authoritative state of a payment from Paystack.
func (p *PaystackProvider) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.secretKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: paystack returned %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var parsed paystackVerifyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse paystack response: %w", err)
	}
	if !parsed.Status {
		return nil, fmt.Errorf("paystack verify failed: %s", parsed.Message)
	}

	result := &VerifyResult{
		Reference:    parsed.Data.Reference,
		ProviderTxID: fmt.Sprintf("%d", parsed.Data.ID),
		Paid:         parsed.Data.Status == "success",
		Amount:       parsed.Data.Amount,
		Raw:          raw,
	}
	if !result.Paid {
		result.FailureReason = parsed.Data.Status
		if parsed.Data.GatewayResponse != "" {
			result.FailureReason = parsed.Data.Status + ": " + parsed.Data.GatewayResponse
		}
	}
	return result, nil
}
