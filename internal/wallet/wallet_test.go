package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type recordedTxn struct {
	userID, kind, reference, description string
	amount                               int64
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []recordedTxn
	err     error
}

func (f *fakeRecorder) RecordCompleted(ctx context.Context, userID, kind string, amount int64, reference, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, recordedTxn{userID, kind, reference, description, amount})
	return nil
}

func TestGet_UnknownUserReturnsZeroWallet(t *testing.T) {
	svc := New(NewMemoryStore(), nil)

	w, err := svc.Get(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if w.Available != 0 || w.Pending != 0 || w.TotalEarned != 0 || w.TotalWithdrawn != 0 {
		t.Errorf("expected zero balances, got %+v", w)
	}
}

func TestCreditAvailable_RecordsTransaction(t *testing.T) {
	rec := &fakeRecorder{}
	svc := New(NewMemoryStore(), rec)
	ctx := context.Background()

	if err := svc.CreditAvailable(ctx, "user-1", 5000, "refund", "PAY_GIG_42_abcd1234", "refund for gig 42"); err != nil {
		t.Fatalf("CreditAvailable failed: %v", err)
	}

	w, _ := svc.Get(ctx, "user-1")
	if w.Available != 5000 {
		t.Errorf("available = %d, want 5000", w.Available)
	}
	if w.TotalEarned != 5000 {
		t.Errorf("totalEarned = %d, want 5000", w.TotalEarned)
	}

	if len(rec.records) != 1 {
		t.Fatalf("expected 1 ledger record, got %d", len(rec.records))
	}
	r := rec.records[0]
	if r.kind != "refund" || r.amount != 5000 || r.reference != "PAY_GIG_42_abcd1234" {
		t.Errorf("unexpected record: %+v", r)
	}
}

func TestCreditPending_DoesNotTouchAvailable(t *testing.T) {
	svc := New(NewMemoryStore(), &fakeRecorder{})
	ctx := context.Background()

	if err := svc.CreditPending(ctx, "user-1", 9000); err != nil {
		t.Fatalf("CreditPending failed: %v", err)
	}

	w, _ := svc.Get(ctx, "user-1")
	if w.Pending != 9000 {
		t.Errorf("pending = %d, want 9000", w.Pending)
	}
	if w.Available != 0 {
		t.Errorf("available = %d, want 0", w.Available)
	}
	if w.TotalEarned != 0 {
		t.Errorf("totalEarned = %d, want 0 (pending is not earned yet)", w.TotalEarned)
	}
}

func TestReleasePending_MovesToAvailable(t *testing.T) {
	svc := New(NewMemoryStore(), nil)
	ctx := context.Background()

	if err := svc.CreditPending(ctx, "user-1", 9000); err != nil {
		t.Fatalf("CreditPending failed: %v", err)
	}
	if err := svc.ReleasePending(ctx, "user-1", 9000); err != nil {
		t.Fatalf("ReleasePending failed: %v", err)
	}

	w, _ := svc.Get(ctx, "user-1")
	if w.Pending != 0 {
		t.Errorf("pending = %d, want 0", w.Pending)
	}
	if w.Available != 9000 {
		t.Errorf("available = %d, want 9000", w.Available)
	}
	if w.TotalEarned != 9000 {
		t.Errorf("totalEarned = %d, want 9000", w.TotalEarned)
	}
}

func TestReleasePending_InsufficientPending(t *testing.T) {
	svc := New(NewMemoryStore(), nil)
	ctx := context.Background()

	_ = svc.CreditPending(ctx, "user-1", 100)

	err := svc.ReleasePending(ctx, "user-1", 200)
	if !errors.Is(err, ErrInsufficientPending) {
		t.Errorf("expected ErrInsufficientPending, got %v", err)
	}

	// Balance untouched on failure
	w, _ := svc.Get(ctx, "user-1")
	if w.Pending != 100 || w.Available != 0 {
		t.Errorf("balances changed after failed release: %+v", w)
	}
}

func TestCancelPending_RemovesWithoutCrediting(t *testing.T) {
	svc := New(NewMemoryStore(), nil)
	ctx := context.Background()

	_ = svc.CreditPending(ctx, "user-1", 9000)

	if err := svc.CancelPending(ctx, "user-1", 9000); err != nil {
		t.Fatalf("CancelPending failed: %v", err)
	}

	w, _ := svc.Get(ctx, "user-1")
	if w.Pending != 0 || w.Available != 0 || w.TotalEarned != 0 {
		t.Errorf("expected fully unwound wallet, got %+v", w)
	}
}

func TestDebitAvailable_Overdraft(t *testing.T) {
	svc := New(NewMemoryStore(), nil)
	ctx := context.Background()

	_ = svc.CreditAvailable(ctx, "user-1", 1000, "release", "ref-1", "")

	err := svc.DebitAvailable(ctx, "user-1", 1001)
	if !errors.Is(err, ErrInsufficientAvailable) {
		t.Errorf("expected ErrInsufficientAvailable, got %v", err)
	}

	w, _ := svc.Get(ctx, "user-1")
	if w.Available != 1000 {
		t.Errorf("available = %d, want 1000 (unchanged)", w.Available)
	}
	if w.TotalWithdrawn != 0 {
		t.Errorf("totalWithdrawn = %d, want 0", w.TotalWithdrawn)
	}
}

func TestDebitAvailable_UnknownWallet(t *testing.T) {
	svc := New(NewMemoryStore(), nil)

	err := svc.DebitAvailable(context.Background(), "ghost", 100)
	if !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestInvalidAmounts(t *testing.T) {
	svc := New(NewMemoryStore(), nil)
	ctx := context.Background()

	for _, amount := range []int64{0, -1, -5000} {
		if err := svc.CreditAvailable(ctx, "u", amount, "release", "r", ""); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("CreditAvailable(%d): expected ErrInvalidAmount, got %v", amount, err)
		}
		if err := svc.CreditPending(ctx, "u", amount); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("CreditPending(%d): expected ErrInvalidAmount, got %v", amount, err)
		}
		if err := svc.DebitAvailable(ctx, "u", amount); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("DebitAvailable(%d): expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestCanWithdraw(t *testing.T) {
	svc := New(NewMemoryStore(), nil)
	ctx := context.Background()

	_ = svc.CreditAvailable(ctx, "user-1", 500, "release", "ref", "")

	ok, err := svc.CanWithdraw(ctx, "user-1", 500)
	if err != nil || !ok {
		t.Errorf("CanWithdraw(500) = %v, %v; want true, nil", ok, err)
	}
	ok, err = svc.CanWithdraw(ctx, "user-1", 501)
	if err != nil || ok {
		t.Errorf("CanWithdraw(501) = %v, %v; want false, nil", ok, err)
	}
}

// Concurrent debits against one wallet must never overdraw it.
func TestDebitAvailable_ConcurrentNeverOverdraws(t *testing.T) {
	svc := New(NewMemoryStore(), nil)
	ctx := context.Background()

	_ = svc.CreditAvailable(ctx, "user-1", 1000, "release", "ref", "")

	const workers = 50
	var wg sync.WaitGroup
	var succeeded int64
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.DebitAvailable(ctx, "user-1", 100); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Errorf("succeeded = %d, want exactly 10 debits of 100 from 1000", succeeded)
	}

	w, _ := svc.Get(ctx, "user-1")
	if w.Available != 0 {
		t.Errorf("available = %d, want 0", w.Available)
	}
	if w.Available < 0 {
		t.Errorf("wallet overdrawn: %d", w.Available)
	}
}

// Concurrent credits must all land.
func TestCreditPending_ConcurrentSums(t *testing.T) {
	svc := New(NewMemoryStore(), nil)
	ctx := context.Background()

	const workers = 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.CreditPending(ctx, "user-1", 10)
		}()
	}
	wg.Wait()

	w, _ := svc.Get(ctx, "user-1")
	if w.Pending != workers*10 {
		t.Errorf("pending = %d, want %d", w.Pending, workers*10)
	}
}
