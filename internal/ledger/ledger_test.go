package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestCreatePending_DuplicateReference(t *testing.T) {
	svc := New(NewMemoryStore())
	ctx := context.Background()

	_, err := svc.CreatePending(ctx, "client-1", KindPayment, 10000, "PAY_GIG_42_aaaa1111", "Gig order: logo design")
	if err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}

	_, err = svc.CreatePending(ctx, "client-1", KindPayment, 10000, "PAY_GIG_42_aaaa1111", "retry")
	if !errors.Is(err, ErrDuplicateReference) {
		t.Errorf("expected ErrDuplicateReference, got %v", err)
	}
}

func TestComplete_Idempotent(t *testing.T) {
	svc := New(NewMemoryStore())
	ctx := context.Background()

	_, err := svc.CreatePending(ctx, "client-1", KindPayment, 10000, "ref-1", "")
	if err != nil {
		t.Fatalf("CreatePending failed: %v", err)
	}

	first, err := svc.Complete(ctx, "ref-1", "ps_12345", []byte(`{"status":"success"}`))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if first.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", first.Status)
	}
	if first.ProviderTxID != "ps_12345" {
		t.Errorf("providerTxId = %s, want ps_12345", first.ProviderTxID)
	}
	if first.CompletedAt == nil {
		t.Error("completedAt not set")
	}

	// Second completion is a no-op returning the settled transaction
	second, err := svc.Complete(ctx, "ref-1", "ps_99999", nil)
	if err != nil {
		t.Fatalf("second Complete failed: %v", err)
	}
	if second.ProviderTxID != "ps_12345" {
		t.Errorf("providerTxId changed on repeat completion: %s", second.ProviderTxID)
	}
}

func TestComplete_AfterFailure(t *testing.T) {
	svc := New(NewMemoryStore())
	ctx := context.Background()

	_, _ = svc.CreatePending(ctx, "client-1", KindPayment, 10000, "ref-1", "")
	if err := svc.Fail(ctx, "ref-1", "declined by issuer"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	_, err := svc.Complete(ctx, "ref-1", "ps_1", nil)
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("expected ErrAlreadyTerminal, got %v", err)
	}

	txn, _ := svc.Get(ctx, "ref-1")
	if txn.Status != StatusFailed {
		t.Errorf("status = %s, want failed", txn.Status)
	}
	if txn.FailureReason != "declined by issuer" {
		t.Errorf("failureReason = %q", txn.FailureReason)
	}
}

func TestFail_AfterCompletion(t *testing.T) {
	svc := New(NewMemoryStore())
	ctx := context.Background()

	_, _ = svc.CreatePending(ctx, "client-1", KindPayment, 10000, "ref-1", "")
	_, _ = svc.Complete(ctx, "ref-1", "ps_1", nil)

	err := svc.Fail(ctx, "ref-1", "late decline")
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	svc := New(NewMemoryStore())
	ctx := context.Background()

	_, _ = svc.CreatePending(ctx, "client-1", KindPayment, 10000, "ref-1", "")

	if err := svc.Cancel(ctx, "ref-1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	// Idempotent
	if err := svc.Cancel(ctx, "ref-1"); err != nil {
		t.Errorf("repeat Cancel failed: %v", err)
	}

	txn, _ := svc.Get(ctx, "ref-1")
	if txn.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", txn.Status)
	}
}

func TestGet_UnknownReference(t *testing.T) {
	svc := New(NewMemoryStore())

	_, err := svc.Get(context.Background(), "nope")
	if !errors.Is(err, ErrTxnNotFound) {
		t.Errorf("expected ErrTxnNotFound, got %v", err)
	}
}

func TestRecordCommission_NegativeAmount(t *testing.T) {
	svc := New(NewMemoryStore())
	ctx := context.Background()

	if err := svc.RecordCommission(ctx, "freelancer-1", 1000, "PAY_GIG_42_aaaa1111", "platform commission"); err != nil {
		t.Fatalf("RecordCommission failed: %v", err)
	}

	txn, err := svc.Get(ctx, "PAY_GIG_42_aaaa1111_COMMISSION")
	if err != nil {
		t.Fatalf("commission record not found: %v", err)
	}
	if txn.Amount != -1000 {
		t.Errorf("amount = %d, want -1000", txn.Amount)
	}
	if txn.Kind != KindCommission {
		t.Errorf("kind = %s, want commission", txn.Kind)
	}
	if txn.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", txn.Status)
	}
}

func TestHistory_NewestFirst(t *testing.T) {
	svc := New(NewMemoryStore())
	ctx := context.Background()

	_, _ = svc.CreatePending(ctx, "user-1", KindPayment, 100, "ref-a", "")
	_, _ = svc.CreatePending(ctx, "user-1", KindPayment, 200, "ref-b", "")
	_, _ = svc.CreatePending(ctx, "other", KindPayment, 300, "ref-c", "")

	txns, err := svc.History(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txns))
	}
	if txns[0].Reference != "ref-b" || txns[1].Reference != "ref-a" {
		t.Errorf("wrong order: %s, %s", txns[0].Reference, txns[1].Reference)
	}
}

func TestHistory_Offset(t *testing.T) {
	svc := New(NewMemoryStore())
	ctx := context.Background()

	_, _ = svc.CreatePending(ctx, "user-1", KindPayment, 100, "ref-a", "")
	_, _ = svc.CreatePending(ctx, "user-1", KindPayment, 200, "ref-b", "")
	_, _ = svc.CreatePending(ctx, "user-1", KindPayment, 300, "ref-c", "")

	txns, err := svc.History(ctx, "user-1", 1, 1)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("got %d transactions, want 1", len(txns))
	}
	if txns[0].Reference != "ref-b" {
		t.Errorf("reference = %s, want ref-b", txns[0].Reference)
	}

	// Past the end of the user's history
	txns, err = svc.History(ctx, "user-1", 10, 5)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(txns) != 0 {
		t.Errorf("got %d transactions past the end, want 0", len(txns))
	}
}

func TestMarkProcessing(t *testing.T) {
	svc := New(NewMemoryStore())
	ctx := context.Background()

	_, _ = svc.CreatePending(ctx, "client-1", KindPayment, 10000, "ref-1", "")

	if err := svc.MarkProcessing(ctx, "ref-1"); err != nil {
		t.Fatalf("MarkProcessing failed: %v", err)
	}
	txn, _ := svc.Get(ctx, "ref-1")
	if txn.Status != StatusProcessing {
		t.Errorf("status = %s, want processing", txn.Status)
	}

	// Idempotent
	if err := svc.MarkProcessing(ctx, "ref-1"); err != nil {
		t.Errorf("repeat MarkProcessing failed: %v", err)
	}

	// Processing still settles
	if _, err := svc.Complete(ctx, "ref-1", "ps_1", nil); err != nil {
		t.Fatalf("Complete after processing failed: %v", err)
	}
	if err := svc.MarkProcessing(ctx, "ref-1"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("expected ErrAlreadyTerminal after settlement, got %v", err)
	}
}

// Concurrent completions of the same reference must settle exactly once and
// keep the first provider transaction ID.
func TestComplete_Concurrent(t *testing.T) {
	svc := New(NewMemoryStore())
	ctx := context.Background()

	_, _ = svc.CreatePending(ctx, "client-1", KindPayment, 10000, "ref-1", "")

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Complete(ctx, "ref-1", "ps_first", nil)
		}()
	}
	wg.Wait()

	txn, _ := svc.Get(ctx, "ref-1")
	if txn.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", txn.Status)
	}
	if txn.ProviderTxID != "ps_first" {
		t.Errorf("providerTxId = %s", txn.ProviderTxID)
	}
}
