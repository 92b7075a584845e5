package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the transactions table. The UNIQUE constraint on reference
// is what makes idempotency keys stick under concurrency.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id              VARCHAR(36) PRIMARY KEY,
			user_id         VARCHAR(64) NOT NULL,
			kind            VARCHAR(20) NOT NULL,
			amount          BIGINT NOT NULL,
			reference       VARCHAR(255) NOT NULL UNIQUE,
			status          VARCHAR(20) NOT NULL,
			provider_tx_id  VARCHAR(255),
			provider_raw    JSONB,
			description     TEXT,
			failure_reason  TEXT,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at    TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id);
		CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
		CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at DESC);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, txn *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, kind, amount, reference, status,
			provider_tx_id, provider_raw, description, failure_reason, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, NULLIF($10, ''), $11, $12)
	`, txn.ID, txn.UserID, string(txn.Kind), txn.Amount, txn.Reference, string(txn.Status),
		txn.ProviderTxID, nullableRaw(txn.ProviderRaw), txn.Description, txn.FailureReason,
		txn.CreatedAt, txn.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	txn := &Transaction{}
	var providerTxID, description, failureReason sql.NullString
	var raw []byte

	err := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, kind, amount, reference, status,
			provider_tx_id, provider_raw, description, failure_reason, created_at, completed_at
		FROM transactions WHERE reference = $1
	`, reference).Scan(&txn.ID, &txn.UserID, &txn.Kind, &txn.Amount, &txn.Reference, &txn.Status,
		&providerTxID, &raw, &description, &failureReason, &txn.CreatedAt, &txn.CompletedAt)

	if err == sql.ErrNoRows {
		return nil, ErrTxnNotFound
	}
	if err != nil {
		return nil, err
	}

	txn.ProviderTxID = providerTxID.String
	txn.ProviderRaw = raw
	txn.Description = description.String
	txn.FailureReason = failureReason.String
	return txn, nil
}

func (p *PostgresStore) Update(ctx context.Context, txn *Transaction) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET
			status         = $2,
			provider_tx_id = NULLIF($3, ''),
			provider_raw   = COALESCE($4, provider_raw),
			failure_reason = NULLIF($5, ''),
			completed_at   = $6
		WHERE reference = $1
	`, txn.Reference, string(txn.Status), txn.ProviderTxID, nullableRaw(txn.ProviderRaw),
		txn.FailureReason, txn.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrTxnNotFound
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, kind, amount, reference, status,
			provider_tx_id, provider_raw, description, failure_reason, created_at, completed_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Transaction
	for rows.Next() {
		txn := &Transaction{}
		var providerTxID, description, failureReason sql.NullString
		var raw []byte

		if err := rows.Scan(&txn.ID, &txn.UserID, &txn.Kind, &txn.Amount, &txn.Reference, &txn.Status,
			&providerTxID, &raw, &description, &failureReason, &txn.CreatedAt, &txn.CompletedAt); err != nil {
			return nil, err
		}
		txn.ProviderTxID = providerTxID.String
		txn.ProviderRaw = raw
		txn.Description = description.String
		txn.FailureReason = failureReason.String
		result = append(result, txn)
	}
	return result, rows.Err()
}

// nullableRaw maps empty payloads to SQL NULL instead of invalid JSONB.
func nullableRaw(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// isUniqueViolation reports whether err is a Postgres unique constraint failure.
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
