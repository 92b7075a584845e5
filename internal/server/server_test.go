package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"paylance/internal/config"
	"paylance/internal/gateway"
	"paylance/internal/orders"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// mockProvider implements gateway.Provider and approves every payment it
// initialized.
type mockProvider struct {
	mu      sync.Mutex
	amounts map[string]int64
}

func newMockProvider() *mockProvider {
	return &mockProvider{amounts: make(map[string]int64)}
}

func (m *mockProvider) Name() string { return "mockpay" }

func (m *mockProvider) Initialize(ctx context.Context, req gateway.InitializeRequest) (*gateway.Checkout, error) {
	m.mu.Lock()
	m.amounts[req.Reference] = req.Amount
	m.mu.Unlock()
	return &gateway.Checkout{
		Reference:   req.Reference,
		RedirectURL: "https://pay.mock/" + req.Reference,
	}, nil
}

func (m *mockProvider) Verify(ctx context.Context, reference string) (*gateway.VerifyResult, error) {
	m.mu.Lock()
	amount, ok := m.amounts[reference]
	m.mu.Unlock()
	if !ok {
		return &gateway.VerifyResult{Reference: reference, Paid: false, FailureReason: "abandoned"}, nil
	}
	return &gateway.VerifyResult{
		Reference:    reference,
		ProviderTxID: "mock_" + reference,
		Paid:         true,
		Amount:       amount,
		Raw:          []byte(`{"status":"success"}`),
	}, nil
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "development",
		LogLevel:          "error",
		Provider:          "paystack",
		CommissionRateBps: 1000,
		MinWithdrawalKobo: 100000,
		AutoReleaseDays:   14,
		SweepIntervalSecs: 60,
	}
}

// newTestServer creates a server with an in-memory stack and mock provider
func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()

	source := orders.NewMemorySource()
	source.PutGig(&orders.GigOrder{
		ID:        "42",
		ClientID:  "client-1",
		SellerID:  "freelancer-1",
		Title:     "Logo design",
		PriceKobo: 10000,
	})

	s, err := New(cfg, WithProvider(newMockProvider()), WithOrderSource(source))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
		}
	}
	return w, resp
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())

	w, resp := doJSON(t, s, "GET", "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())

	w, _ := doJSON(t, s, "GET", "/health/live", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessBeforeRun(t *testing.T) {
	s := newTestServer(t, testConfig())

	// Run() hasn't started, so the server must not report ready yet
	w, _ := doJSON(t, s, "GET", "/health/ready", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

func TestInfoEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())

	w, resp := doJSON(t, s, "GET", "/", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if resp["provider"] != "mockpay" {
		t.Errorf("Expected provider 'mockpay', got %v", resp["provider"])
	}
}

// ---------------------------------------------------------------------------
// End-to-end payment flow over HTTP
// ---------------------------------------------------------------------------

func TestCheckoutVerifyCreditsWallet(t *testing.T) {
	s := newTestServer(t, testConfig())

	// Start checkout
	w, resp := doJSON(t, s, "POST", "/v1/payments/checkout",
		`{"orderKind":"gig","orderId":"42","email":"client@example.com"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("checkout: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	checkout, ok := resp["checkout"].(map[string]interface{})
	if !ok {
		t.Fatalf("checkout payload missing: %v", resp)
	}
	reference, _ := checkout["reference"].(string)
	if reference == "" {
		t.Fatal("checkout returned no reference")
	}
	if checkout["redirectUrl"] != "https://pay.mock/"+reference {
		t.Errorf("unexpected redirectUrl %v", checkout["redirectUrl"])
	}

	// Provider redirects back, platform verifies and settles
	w, resp = doJSON(t, s, "GET", "/v1/payments/verify?reference="+reference, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["status"] != "completed" {
		t.Errorf("settlement status = %v, want completed", resp["status"])
	}

	// Freelancer's wallet now holds the net amount as pending
	w, resp = doJSON(t, s, "GET", "/v1/users/freelancer-1/wallet", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("wallet: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	wallet, ok := resp["wallet"].(map[string]interface{})
	if !ok {
		t.Fatalf("wallet payload missing: %v", resp)
	}
	// 10000 minus 10% commission
	if pending, _ := wallet["pendingKobo"].(float64); pending != 9000 {
		t.Errorf("pending = %v, want 9000", wallet["pendingKobo"])
	}

	// Verifying again must not double-credit
	w, _ = doJSON(t, s, "GET", "/v1/payments/verify?reference="+reference, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("repeat verify: expected 200, got %d", w.Code)
	}
	_, resp = doJSON(t, s, "GET", "/v1/users/freelancer-1/wallet", "", nil)
	wallet = resp["wallet"].(map[string]interface{})
	if pending, _ := wallet["pendingKobo"].(float64); pending != 9000 {
		t.Errorf("pending after repeat verify = %v, want 9000", wallet["pendingKobo"])
	}
}

func TestCheckoutUnknownOrder(t *testing.T) {
	s := newTestServer(t, testConfig())

	w, resp := doJSON(t, s, "POST", "/v1/payments/checkout",
		`{"orderKind":"gig","orderId":"999","email":"client@example.com"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if resp["error"] != "order_not_found" {
		t.Errorf("error = %v, want order_not_found", resp["error"])
	}
}

// ---------------------------------------------------------------------------
// Admin auth
// ---------------------------------------------------------------------------

func TestAdminRoutesRequireSecret(t *testing.T) {
	cfg := testConfig()
	cfg.AdminSecret = "s3cret"
	s := newTestServer(t, cfg)

	// No header
	w, resp := doJSON(t, s, "GET", "/v1/admin/withdrawals/pending", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without secret, got %d", w.Code)
	}
	if resp["error"] != "unauthorized" {
		t.Errorf("error = %v, want unauthorized", resp["error"])
	}

	// Wrong header
	w, _ = doJSON(t, s, "GET", "/v1/admin/withdrawals/pending", "",
		map[string]string{"X-Admin-Secret": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with wrong secret, got %d", w.Code)
	}

	// Correct header
	w, _ = doJSON(t, s, "GET", "/v1/admin/withdrawals/pending", "",
		map[string]string{"X-Admin-Secret": "s3cret"})
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with correct secret, got %d", w.Code)
	}
}

func TestAdminRoutesOpenInDevelopment(t *testing.T) {
	// No secret configured outside production: admin routes stay usable
	s := newTestServer(t, testConfig())

	w, _ := doJSON(t, s, "GET", "/v1/admin/withdrawals/pending", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestAdminRoutesRefusedInProductionWithoutSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	s := newTestServer(t, cfg)

	w, resp := doJSON(t, s, "GET", "/v1/admin/withdrawals/pending", "", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
	if resp["error"] != "admin_disabled" {
		t.Errorf("error = %v, want admin_disabled", resp["error"])
	}
}
