package escrow

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the escrow_payments table
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS escrow_payments (
			id              VARCHAR(36) PRIMARY KEY,
			reference       VARCHAR(255) NOT NULL UNIQUE,
			order_kind      VARCHAR(20) NOT NULL,
			order_id        VARCHAR(64) NOT NULL,
			payer_id        VARCHAR(64) NOT NULL,
			payee_id        VARCHAR(64) NOT NULL,
			amount          BIGINT NOT NULL,
			commission      BIGINT NOT NULL DEFAULT 0,
			status          VARCHAR(20) NOT NULL,
			manual_release  BOOLEAN NOT NULL DEFAULT FALSE,
			auto_release_at TIMESTAMPTZ NOT NULL,
			funded_at       TIMESTAMPTZ,
			resolved_at     TIMESTAMPTZ,
			dispute_reason  TEXT,
			resolution      VARCHAR(40),
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT chk_amount_positive CHECK (amount > 0),
			CONSTRAINT chk_commission_range CHECK (commission >= 0 AND commission < amount)
		);

		CREATE INDEX IF NOT EXISTS idx_escrow_payer ON escrow_payments(payer_id);
		CREATE INDEX IF NOT EXISTS idx_escrow_payee ON escrow_payments(payee_id);
		CREATE INDEX IF NOT EXISTS idx_escrow_due ON escrow_payments(auto_release_at)
			WHERE status = 'held' AND manual_release = FALSE AND funded_at IS NOT NULL;
	`)
	return err
}

const escrowColumns = `id, reference, order_kind, order_id, payer_id, payee_id,
	amount, commission, status, manual_release, auto_release_at,
	funded_at, resolved_at, dispute_reason, resolution, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, e *Payment) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrow_payments (id, reference, order_kind, order_id, payer_id, payee_id,
			amount, commission, status, manual_release, auto_release_at,
			funded_at, resolved_at, dispute_reason, resolution, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), NULLIF($15, ''), $16, $17)
	`, e.ID, e.Reference, e.OrderKind, e.OrderID, e.PayerID, e.PayeeID,
		e.Amount, e.Commission, string(e.Status), e.ManualRelease, e.AutoReleaseAt,
		e.FundedAt, e.ResolvedAt, e.DisputeReason, e.Resolution, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create escrow: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow_payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (p *PostgresStore) GetByReference(ctx context.Context, reference string) (*Payment, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrow_payments WHERE reference = $1`, reference)
	return scanPayment(row)
}

func (p *PostgresStore) Update(ctx context.Context, e *Payment) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrow_payments SET
			status          = $2,
			manual_release  = $3,
			auto_release_at = $4,
			funded_at       = $5,
			resolved_at     = $6,
			dispute_reason  = NULLIF($7, ''),
			resolution      = NULLIF($8, ''),
			updated_at      = $9
		WHERE id = $1
	`, e.ID, string(e.Status), e.ManualRelease, e.AutoReleaseAt,
		e.FundedAt, e.ResolvedAt, e.DisputeReason, e.Resolution, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update escrow: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrEscrowNotFound
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Payment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+` FROM escrow_payments
		WHERE payer_id = $1 OR payee_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayments(rows)
}

func (p *PostgresStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Payment, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+escrowColumns+` FROM escrow_payments
		WHERE status = 'held'
		  AND manual_release = FALSE
		  AND funded_at IS NOT NULL
		  AND auto_release_at <= $1
		ORDER BY auto_release_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayments(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(row rowScanner) (*Payment, error) {
	e := &Payment{}
	var status string
	var disputeReason, resolution sql.NullString

	err := row.Scan(&e.ID, &e.Reference, &e.OrderKind, &e.OrderID, &e.PayerID, &e.PayeeID,
		&e.Amount, &e.Commission, &status, &e.ManualRelease, &e.AutoReleaseAt,
		&e.FundedAt, &e.ResolvedAt, &disputeReason, &resolution, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, err
	}

	e.Status = Status(status)
	e.DisputeReason = disputeReason.String
	e.Resolution = resolution.String
	return e, nil
}

func scanPayments(rows *sql.Rows) ([]*Payment, error) {
	var result []*Payment
	for rows.Next() {
		e, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
