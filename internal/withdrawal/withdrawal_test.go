package withdrawal

import (
	"context"
	"errors"
	"sync"
	"testing"

	"paylance/internal/wallet"
)

type recordedPayout struct {
	userID, kind, reference string
	amount                  int64
}

type fakeTxLog struct {
	mu      sync.Mutex
	records []recordedPayout
}

func (f *fakeTxLog) RecordCompleted(ctx context.Context, userID, kind string, amount int64, reference, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recordedPayout{userID, kind, reference, amount})
	return nil
}

const minWithdrawal = 100000 // ₦1,000

func newTestService() (*Service, *wallet.Service, *fakeTxLog) {
	wallets := wallet.New(wallet.NewMemoryStore(), nil)
	txlog := &fakeTxLog{}
	svc := NewService(NewMemoryStore(), wallets, txlog, minWithdrawal)
	return svc, wallets, txlog
}

func fund(t *testing.T, wallets *wallet.Service, userID string, amount int64) {
	t.Helper()
	if err := wallets.CreditAvailable(context.Background(), userID, amount, "release", "seed", ""); err != nil {
		t.Fatalf("failed to fund wallet: %v", err)
	}
}

func submitRequest(amount int64) SubmitRequest {
	return SubmitRequest{
		UserID:        "freelancer-1",
		Amount:        amount,
		BankName:      "GTBank",
		AccountNumber: "0123456789",
		AccountName:   "Ada Obi",
	}
}

func TestSubmit_DebitsUpFront(t *testing.T) {
	svc, wallets, _ := newTestService()
	ctx := context.Background()
	fund(t, wallets, "freelancer-1", 500000)

	r, err := svc.Submit(ctx, submitRequest(200000))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if r.Status != StatusPending {
		t.Errorf("status = %s, want pending", r.Status)
	}

	w, _ := wallets.Get(ctx, "freelancer-1")
	if w.Available != 300000 {
		t.Errorf("available = %d, want 300000 (debited at submit)", w.Available)
	}
	if w.TotalWithdrawn != 200000 {
		t.Errorf("totalWithdrawn = %d, want 200000", w.TotalWithdrawn)
	}
}

func TestSubmit_BelowMinimum(t *testing.T) {
	svc, wallets, _ := newTestService()
	ctx := context.Background()
	fund(t, wallets, "freelancer-1", 500000)

	_, err := svc.Submit(ctx, submitRequest(minWithdrawal-1))
	if !errors.Is(err, ErrBelowMinimum) {
		t.Errorf("expected ErrBelowMinimum, got %v", err)
	}

	// Nothing debited on rejection
	w, _ := wallets.Get(ctx, "freelancer-1")
	if w.Available != 500000 {
		t.Errorf("available = %d, want 500000", w.Available)
	}
}

func TestSubmit_InsufficientBalance(t *testing.T) {
	svc, wallets, _ := newTestService()
	ctx := context.Background()
	fund(t, wallets, "freelancer-1", 150000)

	_, err := svc.Submit(ctx, submitRequest(200000))
	if !errors.Is(err, wallet.ErrInsufficientAvailable) {
		t.Errorf("expected ErrInsufficientAvailable, got %v", err)
	}
}

func TestComplete_RecordsPayout(t *testing.T) {
	svc, wallets, txlog := newTestService()
	ctx := context.Background()
	fund(t, wallets, "freelancer-1", 500000)

	r, _ := svc.Submit(ctx, submitRequest(200000))

	completed, err := svc.Complete(ctx, r.ID, "trf_abc123")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", completed.Status)
	}
	if completed.ProviderRef != "trf_abc123" {
		t.Errorf("providerRef = %s", completed.ProviderRef)
	}
	if completed.ProcessedAt == nil {
		t.Error("processedAt not set")
	}

	if len(txlog.records) != 1 {
		t.Fatalf("ledger records = %d, want 1", len(txlog.records))
	}
	rec := txlog.records[0]
	if rec.kind != "withdrawal" || rec.amount != 200000 || rec.reference != r.ID {
		t.Errorf("unexpected ledger record: %+v", rec)
	}

	// Balance untouched: the debit happened at submit
	w, _ := wallets.Get(ctx, "freelancer-1")
	if w.Available != 300000 {
		t.Errorf("available = %d, want 300000", w.Available)
	}
}

func TestReject_ReturnsFunds(t *testing.T) {
	svc, wallets, _ := newTestService()
	ctx := context.Background()
	fund(t, wallets, "freelancer-1", 500000)

	r, _ := svc.Submit(ctx, submitRequest(200000))

	rejected, err := svc.Reject(ctx, r.ID, "account name mismatch")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Errorf("status = %s, want rejected", rejected.Status)
	}
	if rejected.RejectReason != "account name mismatch" {
		t.Errorf("rejectReason = %q", rejected.RejectReason)
	}

	w, _ := wallets.Get(ctx, "freelancer-1")
	if w.Available != 500000 {
		t.Errorf("available = %d, want 500000 (funds returned)", w.Available)
	}
}

func TestLifecycle_ApproveProcessComplete(t *testing.T) {
	svc, wallets, txlog := newTestService()
	ctx := context.Background()
	fund(t, wallets, "freelancer-1", 500000)

	r, _ := svc.Submit(ctx, submitRequest(200000))

	approved, err := svc.Approve(ctx, r.ID)
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if approved.Status != StatusApproved {
		t.Errorf("status = %s, want approved", approved.Status)
	}

	// Idempotent
	if _, err := svc.Approve(ctx, r.ID); err != nil {
		t.Errorf("repeat Approve failed: %v", err)
	}

	processing, err := svc.MarkProcessing(ctx, r.ID)
	if err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	if processing.Status != StatusProcessing {
		t.Errorf("status = %s, want processing", processing.Status)
	}

	// Approving a transfer already in flight is a conflict
	if _, err := svc.Approve(ctx, r.ID); !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("approve while processing: expected ErrAlreadyDecided, got %v", err)
	}

	completed, err := svc.Complete(ctx, r.ID, "trf_xyz")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", completed.Status)
	}
	if len(txlog.records) != 1 {
		t.Errorf("ledger records = %d, want 1", len(txlog.records))
	}

	// No further transitions once settled
	if _, err := svc.MarkProcessing(ctx, r.ID); !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("process after complete: expected ErrAlreadyDecided, got %v", err)
	}
}

func TestReject_AfterApprove_ReturnsFunds(t *testing.T) {
	svc, wallets, _ := newTestService()
	ctx := context.Background()
	fund(t, wallets, "freelancer-1", 500000)

	r, _ := svc.Submit(ctx, submitRequest(200000))
	_, _ = svc.Approve(ctx, r.ID)

	rejected, err := svc.Reject(ctx, r.ID, "transfer bounced")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Errorf("status = %s, want rejected", rejected.Status)
	}

	w, _ := wallets.Get(ctx, "freelancer-1")
	if w.Available != 500000 {
		t.Errorf("available = %d, want 500000 (funds returned)", w.Available)
	}
}

func TestDecide_Twice(t *testing.T) {
	svc, wallets, _ := newTestService()
	ctx := context.Background()
	fund(t, wallets, "freelancer-1", 500000)

	r, _ := svc.Submit(ctx, submitRequest(200000))
	_, _ = svc.Complete(ctx, r.ID, "trf_1")

	if _, err := svc.Complete(ctx, r.ID, "trf_2"); !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("repeat complete: expected ErrAlreadyDecided, got %v", err)
	}
	if _, err := svc.Reject(ctx, r.ID, "late"); !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("reject after complete: expected ErrAlreadyDecided, got %v", err)
	}

	// A rejected-then-rejected request must not double-credit either
	r2, _ := svc.Submit(ctx, submitRequest(100000))
	_, _ = svc.Reject(ctx, r2.ID, "first")
	if _, err := svc.Reject(ctx, r2.ID, "second"); !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("repeat reject: expected ErrAlreadyDecided, got %v", err)
	}

	w, _ := wallets.Get(ctx, "freelancer-1")
	if w.Available != 400000 {
		t.Errorf("available = %d, want 400000", w.Available)
	}
}

func TestListPending(t *testing.T) {
	svc, wallets, _ := newTestService()
	ctx := context.Background()
	fund(t, wallets, "freelancer-1", 1000000)

	r1, _ := svc.Submit(ctx, submitRequest(200000))
	r2, _ := svc.Submit(ctx, submitRequest(200000))
	_, _ = svc.Complete(ctx, r1.ID, "trf_1")

	pending, err := svc.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != r2.ID {
		t.Errorf("pending = %+v, want just %s", pending, r2.ID)
	}
}

// Concurrent submits cannot withdraw more than the balance holds.
func TestSubmit_ConcurrentNeverOverdraws(t *testing.T) {
	svc, wallets, _ := newTestService()
	ctx := context.Background()
	fund(t, wallets, "freelancer-1", 300000)

	const workers = 10
	var wg sync.WaitGroup
	var succeeded int64
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Submit(ctx, submitRequest(100000)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 {
		t.Errorf("succeeded = %d, want exactly 3 withdrawals of 100000 from 300000", succeeded)
	}

	w, _ := wallets.Get(ctx, "freelancer-1")
	if w.Available != 0 {
		t.Errorf("available = %d, want 0", w.Available)
	}
}
