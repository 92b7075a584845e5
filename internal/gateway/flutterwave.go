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

const flutterwaveBaseURL = "https://api.flutterwave.com"

// FlutterwaveProvider talks to the Flutterwave v3 REST API.
type FlutterwaveProvider struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

// NewFlutterwave creates a Flutterwave provider.
func NewFlutterwave(secretKey string) *FlutterwaveProvider {
	return &FlutterwaveProvider{
		secretKey: secretKey,
		baseURL:   flutterwaveBaseURL,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL overrides the API endpoint (tests).
func (f *FlutterwaveProvider) WithBaseURL(u string) *FlutterwaveProvider {
	f.baseURL = u
	return f
}

func (f *FlutterwaveProvider) Name() string { return "flutterwave" }

type flutterwaveInitRequest struct {
	TxRef       string              `json:"tx_ref"`
	Amount      string              `json:"amount"` // major units
	Currency    string              `json:"currency"`
	RedirectURL string              `json:"redirect_url"`
	Customer    flutterwaveCustomer `json:"customer"`
}

type flutterwaveCustomer struct {
	Email string `json:"email"`
}

type flutterwaveInitResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Link string `json:"link"`
	} `json:"data"`
}

// Initialize opens a hosted Flutterwave payment page. Flutterwave amounts
// are naira, not kobo.
func (f *FlutterwaveProvider) Initialize(ctx context.Context, req InitializeRequest) (*Checkout, error) {
	body, _ := json.Marshal(flutterwaveInitRequest{
		TxRef:       req.Reference,
		Amount:      koboToNaira(req.Amount),
		Currency:    "NGN",
		RedirectURL: req.CallbackURL,
		Customer:    flutterwaveCustomer{Email: req.Email},
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		f.baseURL+"/v3/payments", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+f.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: flutterwave returned %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var parsed flutterwaveInitResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse flutterwave response: %w", err)
	}
	if parsed.Status != "success" {
		return nil, fmt.Errorf("flutterwave initialize failed: %s", parsed.Message)
	}

	return &Checkout{
		Reference:   req.Reference,
		RedirectURL: parsed.Data.Link,
	}, nil
}

type flutterwaveVerifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID       int64   `json:"id"`
		TxRef    string  `json:"tx_ref"`
		Status   string  `json:"status"` // successful, failed
		Amount   float64 `json:"amount"` // major units
		Currency string  `json:"currency"`
	} `json:"data"`
}

// Verify fetches the authoritative state of a payment by tx_ref.
func (f *FlutterwaveProvider) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		f.baseURL+"/v3/transactions/verify_by_reference?tx_ref="+url.QueryEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+f.secretKey)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: flutterwave returned %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var parsed flutterwaveVerifyResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse flutterwave response: %w", err)
	}
	if parsed.Status != "success" {
		return nil, fmt.Errorf("flutterwave verify failed: %s", parsed.Message)
	}

	result := &VerifyResult{
		Reference:    parsed.Data.TxRef,
		ProviderTxID: fmt.Sprintf("%d", parsed.Data.ID),
		Paid:         parsed.Data.Status == "successful",
		Amount:       int64(parsed.Data.Amount * 100),
		Raw:          raw,
	}
	if !result.Paid {
		result.FailureReason = parsed.Data.Status
	}
	return result, nil
}

// koboToNaira renders kobo as a decimal naira string.
func koboToNaira(kobo int64) string {
	return fmt.Sprintf("%d.%02d", kobo/100, kobo%100)
}
