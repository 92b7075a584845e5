// Package wallet tracks per-user balances on the platform.
//
// Flow:
//  1. Client pays at checkout; the payee's pending balance grows while escrow holds
//  2. Escrow release moves pending into available (minus platform commission)
//  3. Freelancer withdraws from available via the withdrawal processor
//
// All amounts are int64 kobo. Balances never go negative.
package wallet

import (
	"context"
	"errors"
	"time"
)

var (
	ErrWalletNotFound        = errors.New("wallet not found")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInsufficientAvailable = errors.New("insufficient available balance")
	ErrInsufficientPending   = errors.New("insufficient pending balance")
)

// Wallet is a user's balance snapshot.
type Wallet struct {
	UserID         string    `json:"userId"`
	Available      int64     `json:"availableKobo"`      // Spendable / withdrawable
	Pending        int64     `json:"pendingKobo"`        // Held in escrow awaiting release
	TotalEarned    int64     `json:"totalEarnedKobo"`    // Lifetime credits into available
	TotalWithdrawn int64     `json:"totalWithdrawnKobo"` // Lifetime withdrawals
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Store persists wallet balances. Implementations create wallets lazily on
// first credit; reads of unknown users return a zero-balance wallet.
type Store interface {
	Get(ctx context.Context, userID string) (*Wallet, error)
	CreditAvailable(ctx context.Context, userID string, amount int64) error
	CreditPending(ctx context.Context, userID string, amount int64) error
	ReleasePending(ctx context.Context, userID string, amount int64) error
	DebitPending(ctx context.Context, userID string, amount int64) error
	DebitAvailable(ctx context.Context, userID string, amount int64) error
}

// Recorder writes completed transactions into the ledger for wallet
// movements that should appear in the user's history.
type Recorder interface {
	RecordCompleted(ctx context.Context, userID, kind string, amount int64, reference, description string) error
}

// Service manages wallet balances.
type Service struct {
	store    Store
	recorder Recorder // nil = movements are not mirrored into the ledger
}

// New creates a wallet service.
func New(store Store, recorder Recorder) *Service {
	return &Service{store: store, recorder: recorder}
}

// Get returns a user's current balance. Unknown users get a zero wallet.
func (s *Service) Get(ctx context.Context, userID string) (*Wallet, error) {
	return s.store.Get(ctx, userID)
}

// CreditAvailable adds directly spendable funds and mirrors the movement
// into the ledger under the given kind and reference. Used for refunds and
// dispute resolutions where funds skip the pending stage.
func (s *Service) CreditAvailable(ctx context.Context, userID string, amount int64, kind, reference, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if err := s.store.CreditAvailable(ctx, userID, amount); err != nil {
		return err
	}
	if s.recorder != nil {
		return s.recorder.RecordCompleted(ctx, userID, kind, amount, reference, description)
	}
	return nil
}

// CreditPending adds funds to the pending balance. Called when a payment is
// confirmed by the gateway and escrow begins holding it for the payee.
// No ledger record here: the checkout transaction already covers the money.
func (s *Service) CreditPending(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.store.CreditPending(ctx, userID, amount)
}

// ReleasePending moves funds from pending to available and counts them as
// earned. Called when escrow releases to the payee.
func (s *Service) ReleasePending(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.store.ReleasePending(ctx, userID, amount)
}

// CancelPending removes funds from the pending balance without crediting
// available. Called when escrow refunds or dispute resolution returns the
// money to the payer instead.
func (s *Service) CancelPending(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.store.DebitPending(ctx, userID, amount)
}

// DebitAvailable removes withdrawable funds and counts them as withdrawn.
// Called when a withdrawal request is accepted.
func (s *Service) DebitAvailable(ctx context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.store.DebitAvailable(ctx, userID, amount)
}

// CanWithdraw checks whether the user has at least amount available.
func (s *Service) CanWithdraw(ctx context.Context, userID string, amount int64) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	w, err := s.store.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return w.Available >= amount, nil
}
