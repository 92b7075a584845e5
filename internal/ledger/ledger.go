// Package ledger is the append-style transaction log for all money movement
// on the platform.
//
// Every movement carries a unique reference that doubles as its idempotency
// key: checkout creates a pending transaction, gateway verification completes
// it, and refunds, commissions and withdrawals append their own records.
// A transaction that reaches a terminal status never changes again.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"paylance/internal/idgen"
	"paylance/internal/metrics"
)

var (
	ErrTxnNotFound        = errors.New("transaction not found")
	ErrDuplicateReference = errors.New("reference already used")
	ErrAlreadyTerminal    = errors.New("transaction already in a terminal status")
	ErrInvalidAmount      = errors.New("invalid amount")
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending    Status = "pending"    // created, awaiting gateway confirmation
	StatusProcessing Status = "processing" // verification in flight
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Kind classifies what a transaction moved money for.
type Kind string

const (
	KindPayment    Kind = "payment"    // client checkout into escrow
	KindRelease    Kind = "release"    // escrow release to payee
	KindRefund     Kind = "refund"     // escrow refund to payer
	KindWithdrawal Kind = "withdrawal" // payout off the platform
	KindCommission Kind = "commission" // platform fee (negative amount)
)

// Transaction is one ledger record.
type Transaction struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Kind          Kind            `json:"kind"`
	Amount        int64           `json:"amountKobo"` // negative for commission deductions
	Reference     string          `json:"reference"`  // unique idempotency key
	Status        Status          `json:"status"`
	ProviderTxID  string          `json:"providerTxId,omitempty"`
	ProviderRaw   json.RawMessage `json:"-"` // verbatim gateway verification payload
	Description   string          `json:"description,omitempty"`
	FailureReason string          `json:"failureReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
}

// Store persists transactions. Create must reject duplicate references.
type Store interface {
	Create(ctx context.Context, txn *Transaction) error
	GetByReference(ctx context.Context, reference string) (*Transaction, error)
	Update(ctx context.Context, txn *Transaction) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error)
}

// Service manages the transaction log.
type Service struct {
	store Store

	// Per-reference locks serialize status transitions so concurrent
	// verifications of the same payment settle exactly once.
	locks sync.Map // reference -> *sync.Mutex
}

// New creates a ledger service.
func New(store Store) *Service {
	return &Service{store: store}
}

func (s *Service) lock(reference string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(reference, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreatePending opens a new pending transaction under the given reference.
// Returns ErrDuplicateReference if the reference is already taken.
func (s *Service) CreatePending(ctx context.Context, userID string, kind Kind, amount int64, reference, description string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	txn := &Transaction{
		ID:          idgen.WithPrefix("txn_"),
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		Reference:   reference,
		Status:      StatusPending,
		Description: description,
		CreatedAt:   time.Now(),
	}
	if err := s.store.Create(ctx, txn); err != nil {
		return nil, err
	}

	metrics.TransactionsTotal.WithLabelValues(string(kind), string(StatusPending)).Inc()
	return txn, nil
}

// RecordCompleted appends an already-settled transaction. Used for wallet
// movements that need a history record but no gateway lifecycle (releases,
// refunds, completed withdrawals).
func (s *Service) RecordCompleted(ctx context.Context, userID, kind string, amount int64, reference, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	now := time.Now()
	txn := &Transaction{
		ID:          idgen.WithPrefix("txn_"),
		UserID:      userID,
		Kind:        Kind(kind),
		Amount:      amount,
		Reference:   reference,
		Status:      StatusCompleted,
		Description: description,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	if err := s.store.Create(ctx, txn); err != nil {
		return err
	}

	metrics.TransactionsTotal.WithLabelValues(kind, string(StatusCompleted)).Inc()
	return nil
}

// RecordCommission appends a completed negative-amount commission record
// against the payee, so their history shows the platform cut explicitly.
func (s *Service) RecordCommission(ctx context.Context, userID string, amount int64, reference, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	now := time.Now()
	txn := &Transaction{
		ID:          idgen.WithPrefix("txn_"),
		UserID:      userID,
		Kind:        KindCommission,
		Amount:      -amount,
		Reference:   reference + "_COMMISSION",
		Status:      StatusCompleted,
		Description: description,
		CreatedAt:   now,
		CompletedAt: &now,
	}
	if err := s.store.Create(ctx, txn); err != nil {
		return err
	}

	metrics.TransactionsTotal.WithLabelValues(string(KindCommission), string(StatusCompleted)).Inc()
	metrics.CommissionEarnedKobo.Add(float64(amount))
	return nil
}

// Get returns the transaction for a reference.
func (s *Service) Get(ctx context.Context, reference string) (*Transaction, error) {
	return s.store.GetByReference(ctx, reference)
}

// MarkProcessing flags a pending transaction as having its verification in
// flight. Idempotent for transactions already processing; terminal
// transactions return ErrAlreadyTerminal.
func (s *Service) MarkProcessing(ctx context.Context, reference string) error {
	mu := s.lock(reference)
	mu.Lock()
	defer mu.Unlock()

	txn, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return err
	}

	switch txn.Status {
	case StatusProcessing:
		return nil
	case StatusCompleted, StatusFailed, StatusCancelled:
		return ErrAlreadyTerminal
	}

	txn.Status = StatusProcessing
	if err := s.store.Update(ctx, txn); err != nil {
		return err
	}

	metrics.TransactionsTotal.WithLabelValues(string(txn.Kind), string(StatusProcessing)).Inc()
	return nil
}

// Complete marks the transaction settled and attaches the provider's
// transaction ID plus the raw verification payload. Idempotent: completing
// an already-completed transaction returns it unchanged. Completing a
// failed or cancelled transaction returns ErrAlreadyTerminal.
func (s *Service) Complete(ctx context.Context, reference, providerTxID string, raw []byte) (*Transaction, error) {
	mu := s.lock(reference)
	mu.Lock()
	defer mu.Unlock()

	txn, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	switch txn.Status {
	case StatusCompleted:
		return txn, nil
	case StatusFailed, StatusCancelled:
		return nil, ErrAlreadyTerminal
	}

	now := time.Now()
	txn.Status = StatusCompleted
	txn.ProviderTxID = providerTxID
	txn.ProviderRaw = raw
	txn.CompletedAt = &now
	if err := s.store.Update(ctx, txn); err != nil {
		return nil, err
	}

	metrics.TransactionsTotal.WithLabelValues(string(txn.Kind), string(StatusCompleted)).Inc()
	return txn, nil
}

// Fail marks the transaction declined. Idempotent for already-failed
// transactions; completing beats failing (a settled transaction stays settled).
func (s *Service) Fail(ctx context.Context, reference, reason string) error {
	mu := s.lock(reference)
	mu.Lock()
	defer mu.Unlock()

	txn, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return err
	}

	switch txn.Status {
	case StatusFailed:
		return nil
	case StatusCompleted, StatusCancelled:
		return ErrAlreadyTerminal
	}

	txn.Status = StatusFailed
	txn.FailureReason = reason
	if err := s.store.Update(ctx, txn); err != nil {
		return err
	}

	metrics.TransactionsTotal.WithLabelValues(string(txn.Kind), string(StatusFailed)).Inc()
	return nil
}

// Cancel voids a pending transaction that will never settle (abandoned
// checkout, rejected withdrawal).
func (s *Service) Cancel(ctx context.Context, reference string) error {
	mu := s.lock(reference)
	mu.Lock()
	defer mu.Unlock()

	txn, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return err
	}

	switch txn.Status {
	case StatusCancelled:
		return nil
	case StatusCompleted, StatusFailed:
		return ErrAlreadyTerminal
	}

	txn.Status = StatusCancelled
	if err := s.store.Update(ctx, txn); err != nil {
		return err
	}

	metrics.TransactionsTotal.WithLabelValues(string(txn.Kind), string(StatusCancelled)).Inc()
	return nil
}

// History returns a page of a user's transactions, newest first.
func (s *Service) History(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByUser(ctx, userID, limit, offset)
}
