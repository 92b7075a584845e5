package server

import (
	"context"

	"paylance/internal/escrow"
	"paylance/internal/ledger"
)

// txLogAdapter bridges the ledger service into escrow's TransactionLog.
// The ledger deals in typed kinds and returns the created transaction;
// escrow only needs the error.
type txLogAdapter struct {
	ledger *ledger.Service
}

func (a *txLogAdapter) CreatePending(ctx context.Context, userID, kind string, amount int64, reference, description string) error {
	_, err := a.ledger.CreatePending(ctx, userID, ledger.Kind(kind), amount, reference, description)
	return err
}

func (a *txLogAdapter) RecordCompleted(ctx context.Context, userID, kind string, amount int64, reference, description string) error {
	return a.ledger.RecordCompleted(ctx, userID, kind, amount, reference, description)
}

func (a *txLogAdapter) RecordCommission(ctx context.Context, userID string, amount int64, reference, description string) error {
	return a.ledger.RecordCommission(ctx, userID, amount, reference, description)
}

func (a *txLogAdapter) Cancel(ctx context.Context, reference string) error {
	return a.ledger.Cancel(ctx, reference)
}

var _ escrow.TransactionLog = (*txLogAdapter)(nil)
