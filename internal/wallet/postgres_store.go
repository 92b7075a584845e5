package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the wallets table. Balances are BIGINT kobo with CHECK
// constraints so overdrafts fail at the database level.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS wallets (
			user_id         VARCHAR(64) PRIMARY KEY,
			available       BIGINT NOT NULL DEFAULT 0,
			pending         BIGINT NOT NULL DEFAULT 0,
			total_earned    BIGINT NOT NULL DEFAULT 0,
			total_withdrawn BIGINT NOT NULL DEFAULT 0,
			updated_at      TIMESTAMPTZ DEFAULT NOW(),
			CONSTRAINT chk_available_nonneg CHECK (available >= 0),
			CONSTRAINT chk_pending_nonneg   CHECK (pending >= 0)
		);
	`)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, userID string) (*Wallet, error) {
	w := &Wallet{UserID: userID}

	err := p.db.QueryRowContext(ctx, `
		SELECT available, pending, total_earned, total_withdrawn, updated_at
		FROM wallets WHERE user_id = $1
	`, userID).Scan(&w.Available, &w.Pending, &w.TotalEarned, &w.TotalWithdrawn, &w.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Wallet{UserID: userID, UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

// CreditAvailable upserts the wallet and adds to available + total_earned.
func (p *PostgresStore) CreditAvailable(ctx context.Context, userID string, amount int64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, available, total_earned, updated_at)
		VALUES ($1, $2, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			available    = wallets.available    + $2,
			total_earned = wallets.total_earned + $2,
			updated_at   = NOW()
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to credit available: %w", err)
	}
	return nil
}

// CreditPending upserts the wallet and adds to pending only.
func (p *PostgresStore) CreditPending(ctx context.Context, userID string, amount int64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, pending, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			pending    = wallets.pending + $2,
			updated_at = NOW()
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to credit pending: %w", err)
	}
	return nil
}

// ReleasePending moves funds from pending to available in one atomic update.
// The WHERE guard plus the CHECK constraint prevent releasing more than held.
func (p *PostgresStore) ReleasePending(ctx context.Context, userID string, amount int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE wallets SET
			available    = available + $2,
			pending      = pending - $2,
			total_earned = total_earned + $2,
			updated_at   = NOW()
		WHERE user_id = $1 AND pending >= $2
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to release pending: %w", err)
	}
	return p.checkAffected(ctx, result, userID, ErrInsufficientPending)
}

// DebitPending removes held funds without crediting available (refund path).
func (p *PostgresStore) DebitPending(ctx context.Context, userID string, amount int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE wallets SET
			pending    = pending - $2,
			updated_at = NOW()
		WHERE user_id = $1 AND pending >= $2
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to debit pending: %w", err)
	}
	return p.checkAffected(ctx, result, userID, ErrInsufficientPending)
}

// DebitAvailable removes withdrawable funds with an atomic balance guard.
func (p *PostgresStore) DebitAvailable(ctx context.Context, userID string, amount int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE wallets SET
			available       = available - $2,
			total_withdrawn = total_withdrawn + $2,
			updated_at      = NOW()
		WHERE user_id = $1 AND available >= $2
	`, userID, amount)
	if err != nil {
		if isCheckViolation(err) {
			return ErrInsufficientAvailable
		}
		return fmt.Errorf("failed to debit available: %w", err)
	}
	return p.checkAffected(ctx, result, userID, ErrInsufficientAvailable)
}

// checkAffected distinguishes "wallet missing" from "balance too low" when a
// guarded UPDATE matched no rows.
func (p *PostgresStore) checkAffected(ctx context.Context, result sql.Result, userID string, insufficient error) error {
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}

	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM wallets WHERE user_id = $1)
	`, userID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrWalletNotFound
	}
	return insufficient
}

// isCheckViolation reports whether err is a Postgres CHECK constraint failure.
func isCheckViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23514" || strings.Contains(pqErr.Message, "violates check constraint")
	}
	return false
}
