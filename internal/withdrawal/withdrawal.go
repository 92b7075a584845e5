// Package withdrawal processes payouts from wallet balances to bank accounts.
//
// Flow:
//  1. Freelancer submits a request → available balance debited up front
//  2. Operator approves, optionally marks the transfer in flight, then
//     completes (money left the platform) or rejects
//  3. Rejection credits the funds back with a refund record
//
// Debit-first means a submitted request can never overdraw later: the money
// is already off the balance while the request sits in review.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"paylance/internal/idgen"
	"paylance/internal/metrics"
)

var (
	ErrRequestNotFound = errors.New("withdrawal request not found")
	ErrBelowMinimum    = errors.New("amount below the minimum withdrawal")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrAlreadyDecided  = errors.New("withdrawal request already decided")
)

// Status is the lifecycle state of a withdrawal request.
type Status string

const (
	StatusPending    Status = "pending"    // awaiting operator review
	StatusApproved   Status = "approved"   // cleared for payout
	StatusProcessing Status = "processing" // transfer in flight at the payout rail
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Request is one payout request.
type Request struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Amount        int64      `json:"amountKobo"`
	BankName      string     `json:"bankName"`
	AccountNumber string     `json:"accountNumber"`
	AccountName   string     `json:"accountName"`
	Status        Status     `json:"status"`
	ProviderRef   string     `json:"providerRef,omitempty"` // transfer reference from the payout rail
	RejectReason  string     `json:"rejectReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
}

// Store persists withdrawal requests.
type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	Update(ctx context.Context, r *Request) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Request, error)
	ListPending(ctx context.Context, limit int) ([]*Request, error)
}

// WalletService abstracts the balance operations withdrawals need.
type WalletService interface {
	DebitAvailable(ctx context.Context, userID string, amount int64) error
	CreditAvailable(ctx context.Context, userID string, amount int64, kind, reference, description string) error
}

// TransactionLog records completed payouts in the ledger.
type TransactionLog interface {
	RecordCompleted(ctx context.Context, userID, kind string, amount int64, reference, description string) error
}

// SubmitRequest contains the parameters for a new withdrawal.
type SubmitRequest struct {
	UserID        string `json:"userId" binding:"required"`
	Amount        int64  `json:"amountKobo" binding:"required"`
	BankName      string `json:"bankName" binding:"required"`
	AccountNumber string `json:"accountNumber" binding:"required"`
	AccountName   string `json:"accountName" binding:"required"`
}

// Service implements withdrawal business logic.
type Service struct {
	store   Store
	wallets WalletService
	txlog   TransactionLog
	minimum int64
	locks   sync.Map // per-request ID locks
}

// NewService creates a withdrawal service.
func NewService(store Store, wallets WalletService, txlog TransactionLog, minimum int64) *Service {
	return &Service{
		store:   store,
		wallets: wallets,
		txlog:   txlog,
		minimum: minimum,
	}
}

func (s *Service) requestLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Submit debits the user's available balance and opens a pending request.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Request, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Amount < s.minimum {
		return nil, fmt.Errorf("%w: minimum is %d kobo", ErrBelowMinimum, s.minimum)
	}

	// Debit first so the request can never overdraw during review
	if err := s.wallets.DebitAvailable(ctx, req.UserID, req.Amount); err != nil {
		return nil, err
	}

	r := &Request{
		ID:            idgen.WithPrefix("wd_"),
		UserID:        req.UserID,
		Amount:        req.Amount,
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
		AccountName:   req.AccountName,
		Status:        StatusPending,
		CreatedAt:     time.Now(),
	}

	if err := s.store.Create(ctx, r); err != nil {
		// Compensate: the debit must not stick without a request record
		_ = s.wallets.CreditAvailable(ctx, req.UserID, req.Amount, "refund",
			r.ID+"_REVERSAL", "withdrawal request could not be recorded")
		return nil, fmt.Errorf("failed to create withdrawal request: %w", err)
	}

	metrics.WithdrawalsTotal.WithLabelValues(string(StatusPending)).Inc()
	return r, nil
}

// Approve clears a pending request for payout. Idempotent for requests
// already approved.
func (s *Service) Approve(ctx context.Context, id string) (*Request, error) {
	mu := s.requestLock(id)
	mu.Lock()
	defer mu.Unlock()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case StatusApproved:
		return r, nil
	case StatusPending:
	default:
		return nil, ErrAlreadyDecided
	}

	r.Status = StatusApproved
	if err := s.store.Update(ctx, r); err != nil {
		return nil, err
	}

	metrics.WithdrawalsTotal.WithLabelValues(string(StatusApproved)).Inc()
	return r, nil
}

// MarkProcessing flags the transfer as handed to the payout rail. Legal from
// pending or approved; idempotent for requests already processing.
func (s *Service) MarkProcessing(ctx context.Context, id string) (*Request, error) {
	mu := s.requestLock(id)
	mu.Lock()
	defer mu.Unlock()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case StatusProcessing:
		return r, nil
	case StatusPending, StatusApproved:
	default:
		return nil, ErrAlreadyDecided
	}

	r.Status = StatusProcessing
	if err := s.store.Update(ctx, r); err != nil {
		return nil, err
	}

	metrics.WithdrawalsTotal.WithLabelValues(string(StatusProcessing)).Inc()
	return r, nil
}

// Complete marks the payout executed and records it in the ledger.
func (s *Service) Complete(ctx context.Context, id, providerRef string) (*Request, error) {
	mu := s.requestLock(id)
	mu.Lock()
	defer mu.Unlock()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return nil, ErrAlreadyDecided
	}

	now := time.Now()
	r.Status = StatusCompleted
	r.ProviderRef = providerRef
	r.ProcessedAt = &now

	if err := s.store.Update(ctx, r); err != nil {
		return nil, err
	}

	_ = s.txlog.RecordCompleted(ctx, r.UserID, "withdrawal", r.Amount,
		r.ID, "withdrawal to "+r.BankName+" "+maskAccount(r.AccountNumber))

	metrics.WithdrawalsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	return r, nil
}

// Reject declines the request and returns the funds.
func (s *Service) Reject(ctx context.Context, id, reason string) (*Request, error) {
	mu := s.requestLock(id)
	mu.Lock()
	defer mu.Unlock()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status.Terminal() {
		return nil, ErrAlreadyDecided
	}

	if err := s.wallets.CreditAvailable(ctx, r.UserID, r.Amount, "refund",
		r.ID+"_REFUND", "withdrawal rejected: "+reason); err != nil {
		return nil, fmt.Errorf("failed to return withdrawal funds: %w", err)
	}

	now := time.Now()
	r.Status = StatusRejected
	r.RejectReason = reason
	r.ProcessedAt = &now

	if err := s.store.Update(ctx, r); err != nil {
		// Funds are back on the balance but the request still reads
		// pending; a repeat rejection would double-credit. Flag loudly.
		return nil, fmt.Errorf("CRITICAL: funds returned but request %s not updated: %w", id, err)
	}

	metrics.WithdrawalsTotal.WithLabelValues(string(StatusRejected)).Inc()
	return r, nil
}

// Get returns a request by ID.
func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	return s.store.Get(ctx, id)
}

// ListByUser returns a user's withdrawal requests, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// ListPending returns requests awaiting an operator decision.
func (s *Service) ListPending(ctx context.Context, limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListPending(ctx, limit)
}

// maskAccount hides all but the last four digits of an account number.
func maskAccount(acct string) string {
	if len(acct) <= 4 {
		return acct
	}
	return "****" + acct[len(acct)-4:]
}
