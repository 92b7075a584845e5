// Package escrow provides client-protection for marketplace payments.
//
// Flow:
//  1. Client checks out → pending transaction + held escrow record created
//  2. Gateway confirms payment → payee's pending balance credited (net of commission)
//  3. Client approves the work → net amount moves pending → available, commission recorded
//  4. Client refunded → payee's pending unwound, full amount back to client
//  5. Hold window expires → auto-released to payee unless disputed or held manually
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"paylance/internal/idgen"
	"paylance/internal/metrics"
)

var (
	ErrEscrowNotFound          = errors.New("escrow not found")
	ErrInvalidStatus           = errors.New("invalid escrow status for this operation")
	ErrAlreadyResolved         = errors.New("escrow already resolved")
	ErrEscrowNotFunded         = errors.New("escrow has not been funded")
	ErrReleaseFundsUnavailable = errors.New("payee pending balance cannot cover release")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidCommission       = errors.New("commission must be non-negative and below the amount")
	ErrSamePartyPayment        = errors.New("payer and payee cannot be the same user")
	ErrNotDisputed             = errors.New("escrow is not under dispute")
)

// Status represents the state of an escrow payment.
type Status string

const (
	StatusHeld     Status = "held"     // Created at checkout, money parked until resolution
	StatusReleased Status = "released" // Funds sent to the payee (manual or auto)
	StatusRefunded Status = "refunded" // Funds returned to the payer
	StatusDisputed Status = "disputed" // Frozen pending dispute resolution
)

// DefaultHoldWindow is how long funds stay held before auto-release.
const DefaultHoldWindow = 14 * 24 * time.Hour

// Payment is one escrow record, keyed by the checkout reference.
type Payment struct {
	ID            string     `json:"id"`
	Reference     string     `json:"reference"` // checkout transaction reference
	OrderKind     string     `json:"orderKind"`
	OrderID       string     `json:"orderId"`
	PayerID       string     `json:"payerId"`
	PayeeID       string     `json:"payeeId"`
	Amount        int64      `json:"amountKobo"`     // gross checkout amount
	Commission    int64      `json:"commissionKobo"` // platform cut, taken at release
	Status        Status     `json:"status"`
	ManualRelease bool       `json:"manualRelease"` // operator hold, sweep skips it
	AutoReleaseAt time.Time  `json:"autoReleaseAt"`
	FundedAt      *time.Time `json:"fundedAt,omitempty"`
	ResolvedAt    *time.Time `json:"resolvedAt,omitempty"`
	DisputeReason string     `json:"disputeReason,omitempty"`
	Resolution    string     `json:"resolution,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// IsTerminal returns true if the escrow is in a final state.
func (p *Payment) IsTerminal() bool {
	return p.Status == StatusReleased || p.Status == StatusRefunded
}

// NetAmount is what the payee receives after commission.
func (p *Payment) NetAmount() int64 {
	return p.Amount - p.Commission
}

// Funded reports whether the gateway has confirmed the payment.
func (p *Payment) Funded() bool {
	return p.FundedAt != nil
}

// Store persists escrow payments.
type Store interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	GetByReference(ctx context.Context, reference string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Payment, error)
	// ListDue returns funded, held, non-manual escrows whose auto-release
	// time has passed.
	ListDue(ctx context.Context, before time.Time, limit int) ([]*Payment, error)
}

// WalletService abstracts wallet operations so escrow doesn't import wallet.
type WalletService interface {
	CreditPending(ctx context.Context, userID string, amount int64) error
	ReleasePending(ctx context.Context, userID string, amount int64) error
	CancelPending(ctx context.Context, userID string, amount int64) error
	CreditAvailable(ctx context.Context, userID string, amount int64, kind, reference, description string) error
}

// TransactionLog abstracts the ledger operations escrow needs.
type TransactionLog interface {
	CreatePending(ctx context.Context, userID, kind string, amount int64, reference, description string) error
	RecordCompleted(ctx context.Context, userID, kind string, amount int64, reference, description string) error
	RecordCommission(ctx context.Context, userID string, amount int64, reference, description string) error
	Cancel(ctx context.Context, reference string) error
}

// OpenRequest contains the parameters for opening an escrow at checkout.
type OpenRequest struct {
	Reference   string
	OrderKind   string
	OrderID     string
	PayerID     string
	PayeeID     string
	Amount      int64
	Commission  int64
	Description string
}

// Service implements escrow business logic.
type Service struct {
	store      Store
	wallets    WalletService
	txlog      TransactionLog
	holdWindow time.Duration
	locks      sync.Map // per-escrow ID locks to prevent race conditions
}

// NewService creates a new escrow service with the default hold window.
func NewService(store Store, wallets WalletService, txlog TransactionLog) *Service {
	return &Service{
		store:      store,
		wallets:    wallets,
		txlog:      txlog,
		holdWindow: DefaultHoldWindow,
	}
}

// WithHoldWindow overrides the auto-release hold window.
func (s *Service) WithHoldWindow(d time.Duration) *Service {
	if d > 0 {
		s.holdWindow = d
	}
	return s
}

// escrowLock returns a mutex for the given escrow ID.
// This prevents concurrent state transitions (e.g. release + auto-release racing).
func (s *Service) escrowLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Open creates the pending checkout transaction and a held escrow record.
// No balances move yet: funding happens when the gateway confirms payment.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*Payment, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Commission < 0 || req.Commission >= req.Amount {
		return nil, ErrInvalidCommission
	}
	if req.PayerID == req.PayeeID {
		return nil, ErrSamePartyPayment
	}

	if err := s.txlog.CreatePending(ctx, req.PayerID, "payment", req.Amount, req.Reference, req.Description); err != nil {
		return nil, fmt.Errorf("failed to open checkout transaction: %w", err)
	}

	now := time.Now()
	p := &Payment{
		ID:            idgen.WithPrefix("esc_"),
		Reference:     req.Reference,
		OrderKind:     req.OrderKind,
		OrderID:       req.OrderID,
		PayerID:       req.PayerID,
		PayeeID:       req.PayeeID,
		Amount:        req.Amount,
		Commission:    req.Commission,
		Status:        StatusHeld,
		AutoReleaseAt: now.Add(s.holdWindow),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Create(ctx, p); err != nil {
		// Best-effort: void the orphaned checkout transaction
		_ = s.txlog.Cancel(ctx, req.Reference)
		return nil, fmt.Errorf("failed to create escrow record: %w", err)
	}

	metrics.EscrowOpenedTotal.Inc()
	return p, nil
}

// ConfirmFunding credits the payee's pending balance once the gateway has
// confirmed the checkout payment. Exactly-once: repeat confirmations for the
// same reference are no-ops.
func (s *Service) ConfirmFunding(ctx context.Context, reference string) (*Payment, error) {
	p, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	mu := s.escrowLock(p.ID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read from store under lock to prevent stale-state races
	p, err = s.store.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	if p.Funded() {
		return p, nil
	}
	if p.IsTerminal() {
		return nil, ErrAlreadyResolved
	}

	if err := s.wallets.CreditPending(ctx, p.PayeeID, p.NetAmount()); err != nil {
		return nil, fmt.Errorf("failed to credit payee pending balance: %w", err)
	}

	now := time.Now()
	p.FundedAt = &now
	p.AutoReleaseAt = now.Add(s.holdWindow) // hold window counts from funding, not checkout
	p.UpdatedAt = now

	if err := s.store.Update(ctx, p); err != nil {
		// Retry once — money already moved, the record must reflect it
		if retryErr := s.store.Update(ctx, p); retryErr != nil {
			log.Printf("CRITICAL: escrow %s funded but record update failed: %v", p.ID, retryErr)
			return nil, fmt.Errorf("failed to update escrow after funding (requires manual resolution): %w", err)
		}
	}

	return p, nil
}

// Release sends the held funds to the payee: net amount moves from the
// payee's pending to available, commission is recorded against the payee.
func (s *Service) Release(ctx context.Context, id string) (*Payment, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if p.Status != StatusHeld {
		return nil, ErrInvalidStatus
	}

	return s.releaseLocked(ctx, p, "released")
}

// releaseLocked performs the release. Caller holds the escrow lock and has
// verified the status transition is allowed.
func (s *Service) releaseLocked(ctx context.Context, p *Payment, resolution string) (*Payment, error) {
	if !p.Funded() {
		return nil, ErrEscrowNotFunded
	}

	if err := s.wallets.ReleasePending(ctx, p.PayeeID, p.NetAmount()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReleaseFundsUnavailable, err)
	}

	now := time.Now()
	p.Status = StatusReleased
	p.Resolution = resolution
	p.ResolvedAt = &now
	p.UpdatedAt = now

	if err := s.store.Update(ctx, p); err != nil {
		// Retry once — funds already moved, we must persist the state change
		if retryErr := s.store.Update(ctx, p); retryErr != nil {
			log.Printf("CRITICAL: escrow %s funds released to %s but status update failed: %v",
				p.ID, p.PayeeID, retryErr)
			return nil, fmt.Errorf("failed to update escrow after fund release (requires manual resolution): %w", err)
		}
	}

	// History records: the payee's earning and the platform's cut
	_ = s.txlog.RecordCompleted(ctx, p.PayeeID, "release", p.NetAmount(),
		p.Reference+"_RELEASE", "escrow release for "+p.OrderKind+" "+p.OrderID)
	if p.Commission > 0 {
		_ = s.txlog.RecordCommission(ctx, p.PayeeID, p.Commission,
			p.Reference, "platform commission for "+p.OrderKind+" "+p.OrderID)
	}

	metrics.EscrowReleasedTotal.Inc()
	metrics.EscrowHoldDuration.Observe(now.Sub(*p.FundedAt).Seconds())
	return p, nil
}

// Refund returns the full amount to the payer and unwinds the payee's
// pending balance. The platform takes no commission on refunds.
func (s *Service) Refund(ctx context.Context, id, reason string) (*Payment, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if p.Status != StatusHeld {
		return nil, ErrInvalidStatus
	}

	return s.refundLocked(ctx, p, reason, "refunded")
}

func (s *Service) refundLocked(ctx context.Context, p *Payment, reason, resolution string) (*Payment, error) {
	if !p.Funded() {
		return nil, ErrEscrowNotFunded
	}

	if err := s.wallets.CancelPending(ctx, p.PayeeID, p.NetAmount()); err != nil {
		return nil, fmt.Errorf("failed to unwind payee pending balance: %w", err)
	}

	if err := s.wallets.CreditAvailable(ctx, p.PayerID, p.Amount, "refund",
		p.Reference+"_REFUND", "refund for "+p.OrderKind+" "+p.OrderID); err != nil {
		// Compensate: re-credit the payee's pending so money isn't lost
		_ = s.wallets.CreditPending(ctx, p.PayeeID, p.NetAmount())
		return nil, fmt.Errorf("failed to credit payer refund: %w", err)
	}

	now := time.Now()
	p.Status = StatusRefunded
	p.DisputeReason = reason
	p.Resolution = resolution
	p.ResolvedAt = &now
	p.UpdatedAt = now

	if err := s.store.Update(ctx, p); err != nil {
		if retryErr := s.store.Update(ctx, p); retryErr != nil {
			log.Printf("CRITICAL: escrow %s refunded to %s but status update failed: %v",
				p.ID, p.PayerID, retryErr)
			return nil, fmt.Errorf("failed to update escrow after refund (requires manual resolution): %w", err)
		}
	}

	metrics.EscrowRefundedTotal.Inc()
	metrics.EscrowHoldDuration.Observe(now.Sub(*p.FundedAt).Seconds())
	return p, nil
}

// Dispute freezes a funded, held escrow. Disputed escrows never auto-release.
func (s *Service) Dispute(ctx context.Context, id, reason string) (*Payment, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if p.Status != StatusHeld {
		return nil, ErrInvalidStatus
	}
	if !p.Funded() {
		return nil, ErrEscrowNotFunded
	}

	now := time.Now()
	p.Status = StatusDisputed
	p.DisputeReason = reason
	p.UpdatedAt = now

	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}

	metrics.EscrowDisputedTotal.Inc()
	return p, nil
}

// ResolveDispute settles a disputed escrow either way.
// resolution is "release" (pay the payee) or "refund" (return to the payer).
func (s *Service) ResolveDispute(ctx context.Context, id, resolution, note string) (*Payment, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.IsTerminal() {
		return nil, ErrAlreadyResolved
	}
	if p.Status != StatusDisputed {
		return nil, ErrNotDisputed
	}

	switch resolution {
	case "release":
		return s.releaseLocked(ctx, p, "dispute_released")
	case "refund":
		return s.refundLocked(ctx, p, note, "dispute_refunded")
	default:
		return nil, fmt.Errorf("unknown resolution %q (want release or refund)", resolution)
	}
}

// SetManualRelease toggles the operator hold that keeps the sweep away.
func (s *Service) SetManualRelease(ctx context.Context, id string, manual bool) (*Payment, error) {
	mu := s.escrowLock(id)
	mu.Lock()
	defer mu.Unlock()

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.IsTerminal() {
		return nil, ErrAlreadyResolved
	}

	p.ManualRelease = manual
	p.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// AutoRelease releases an escrow whose hold window expired.
func (s *Service) AutoRelease(ctx context.Context, p *Payment) error {
	mu := s.escrowLock(p.ID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read from store under lock to prevent stale-state races
	fresh, err := s.store.Get(ctx, p.ID)
	if err != nil {
		return err
	}
	p = fresh

	if p.IsTerminal() {
		return ErrAlreadyResolved
	}
	if p.Status != StatusHeld || p.ManualRelease {
		return ErrInvalidStatus
	}

	if _, err := s.releaseLocked(ctx, p, "auto_released"); err != nil {
		return err
	}

	metrics.EscrowAutoReleasedTotal.Inc()
	return nil
}

// Get returns an escrow by ID.
func (s *Service) Get(ctx context.Context, id string) (*Payment, error) {
	return s.store.Get(ctx, id)
}

// GetByReference returns the escrow for a checkout reference.
func (s *Service) GetByReference(ctx context.Context, reference string) (*Payment, error) {
	return s.store.GetByReference(ctx, reference)
}

// ListByUser returns escrows involving a user (as payer or payee).
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}
