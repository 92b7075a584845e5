package withdrawal

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed withdrawal store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the withdrawal_requests table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS withdrawal_requests (
			id             VARCHAR(36) PRIMARY KEY,
			user_id        VARCHAR(64) NOT NULL,
			amount         BIGINT NOT NULL,
			bank_name      VARCHAR(100) NOT NULL,
			account_number VARCHAR(32) NOT NULL,
			account_name   VARCHAR(100) NOT NULL,
			status         VARCHAR(20) NOT NULL,
			provider_ref   VARCHAR(255),
			reject_reason  TEXT,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at   TIMESTAMPTZ,
			CONSTRAINT chk_wd_amount_positive CHECK (amount > 0)
		);

		CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawal_requests(user_id);
		CREATE INDEX IF NOT EXISTS idx_withdrawals_pending ON withdrawal_requests(created_at)
			WHERE status = 'pending';
	`)
	return err
}

const withdrawalColumns = `id, user_id, amount, bank_name, account_number, account_name,
	status, provider_ref, reject_reason, created_at, processed_at`

func (p *PostgresStore) Create(ctx context.Context, r *Request) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO withdrawal_requests (id, user_id, amount, bank_name, account_number,
			account_name, status, provider_ref, reject_reason, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)
	`, r.ID, r.UserID, r.Amount, r.BankName, r.AccountNumber,
		r.AccountName, string(r.Status), r.ProviderRef, r.RejectReason, r.CreatedAt, r.ProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal request: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (p *PostgresStore) Update(ctx context.Context, r *Request) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE withdrawal_requests SET
			status        = $2,
			provider_ref  = NULLIF($3, ''),
			reject_reason = NULLIF($4, ''),
			processed_at  = $5
		WHERE id = $1
	`, r.ID, string(r.Status), r.ProviderRef, r.RejectReason, r.ProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal request: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawal_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (p *PostgresStore) ListPending(ctx context.Context, limit int) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+withdrawalColumns+` FROM withdrawal_requests
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*Request, error) {
	r := &Request{}
	var status string
	var providerRef, rejectReason sql.NullString

	err := row.Scan(&r.ID, &r.UserID, &r.Amount, &r.BankName, &r.AccountNumber, &r.AccountName,
		&status, &providerRef, &rejectReason, &r.CreatedAt, &r.ProcessedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}

	r.Status = Status(status)
	r.ProviderRef = providerRef.String
	r.RejectReason = rejectReason.String
	return r, nil
}

func scanRequests(rows *sql.Rows) ([]*Request, error) {
	var result []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
