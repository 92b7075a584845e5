package gateway

import (
	"context"
	"errors"
	"fmt"

	"paylance/internal/escrow"
	"paylance/internal/ledger"
	"paylance/internal/logging"
	"paylance/internal/metrics"
	"paylance/internal/orders"
)

// Reconciler settles checkout transactions against the provider's
// verification API. It is the only component that turns external payment
// events into balance changes, and it does so exactly once per reference.
type Reconciler struct {
	provider Provider
	ledger   *ledger.Service
	escrow   *escrow.Service
	orders   orders.Source
}

// NewReconciler creates a reconciler.
func NewReconciler(provider Provider, ledgerSvc *ledger.Service, escrowSvc *escrow.Service, orderSource orders.Source) *Reconciler {
	return &Reconciler{
		provider: provider,
		ledger:   ledgerSvc,
		escrow:   escrowSvc,
		orders:   orderSource,
	}
}

// Settlement reports the outcome of a verification.
type Settlement struct {
	Reference   string              `json:"reference"`
	Status      ledger.Status       `json:"status"`
	Transaction *ledger.Transaction `json:"transaction"`
	Escrow      *escrow.Payment     `json:"escrow,omitempty"`
}

// VerifyAndSettle drives a checkout transaction to its terminal state.
//
// Safe to call any number of times with the same reference: transactions
// already settled short-circuit without touching the provider, and the
// funding credit is guarded by the escrow's funded flag. Verify runs with no
// locks held; idempotency comes from the settlement path, not from blocking.
func (r *Reconciler) VerifyAndSettle(ctx context.Context, reference string) (*Settlement, error) {
	log := logging.L(ctx)

	txn, err := r.ledger.Get(ctx, reference)
	if err != nil {
		return nil, err
	}

	// Already settled: report the stored outcome. A completed transaction
	// still re-confirms funding, so a credit that failed after settlement
	// gets retried here instead of stranding the escrow unfunded.
	if txn.Status.Terminal() {
		if txn.Status == ledger.StatusCompleted {
			if _, err := r.escrow.ConfirmFunding(ctx, reference); err != nil &&
				!errors.Is(err, escrow.ErrEscrowNotFound) && !errors.Is(err, escrow.ErrAlreadyResolved) {
				return nil, fmt.Errorf("settled %s but funding confirmation failed: %w", reference, err)
			}
		}
		return r.settlementFor(ctx, txn), nil
	}

	result, err := r.provider.Verify(ctx, reference)
	if err != nil {
		// Provider outage: the transaction stays pending and the caller
		// retries later. Never guess an outcome.
		metrics.GatewayVerificationsTotal.WithLabelValues(r.provider.Name(), "unavailable").Inc()
		return nil, fmt.Errorf("verification unavailable for %s: %w", reference, err)
	}

	if !result.Paid {
		metrics.GatewayVerificationsTotal.WithLabelValues(r.provider.Name(), "declined").Inc()
		if err := r.ledger.Fail(ctx, reference, result.FailureReason); err != nil && !errors.Is(err, ledger.ErrAlreadyTerminal) {
			return nil, err
		}
		log.Info("payment declined",
			"reference", reference, "provider", r.provider.Name(), "reason", result.FailureReason)
		return r.settlementFor(ctx, mustGet(ctx, r.ledger, reference, txn)), nil
	}

	// Provider says paid, but the amounts must agree before money moves
	if result.Amount != 0 && result.Amount != txn.Amount {
		metrics.GatewayVerificationsTotal.WithLabelValues(r.provider.Name(), "mismatch").Inc()
		reason := fmt.Sprintf("amount mismatch: expected %d, provider reported %d", txn.Amount, result.Amount)
		if err := r.ledger.Fail(ctx, reference, reason); err != nil && !errors.Is(err, ledger.ErrAlreadyTerminal) {
			return nil, err
		}
		log.Warn("payment amount mismatch",
			"reference", reference, "expectedKobo", txn.Amount, "reportedKobo", result.Amount)
		return r.settlementFor(ctx, mustGet(ctx, r.ledger, reference, txn)), nil
	}

	settled, err := r.ledger.Complete(ctx, reference, result.ProviderTxID, result.Raw)
	if err != nil {
		return nil, err
	}

	p, err := r.escrow.ConfirmFunding(ctx, reference)
	if err != nil && !errors.Is(err, escrow.ErrEscrowNotFound) {
		// Transaction is settled but the escrow credit failed; the next
		// verification retries ConfirmFunding (it is exactly-once).
		return nil, fmt.Errorf("settled %s but funding confirmation failed: %w", reference, err)
	}

	// Flag the order as started. Money state is already safe, so failures
	// here only log.
	if p != nil {
		if err := r.orders.MarkInProgress(ctx, orders.Kind(p.OrderKind), p.OrderID); err != nil {
			log.Warn("failed to mark order in progress",
				"orderKind", p.OrderKind, "orderId", p.OrderID, "error", err)
		}
	}

	metrics.GatewayVerificationsTotal.WithLabelValues(r.provider.Name(), "success").Inc()
	log.Info("payment settled",
		"reference", reference,
		"provider", r.provider.Name(),
		"providerTxId", result.ProviderTxID,
		"amountKobo", settled.Amount,
	)

	return &Settlement{
		Reference:   reference,
		Status:      settled.Status,
		Transaction: settled,
		Escrow:      p,
	}, nil
}

func (r *Reconciler) settlementFor(ctx context.Context, txn *ledger.Transaction) *Settlement {
	s := &Settlement{
		Reference:   txn.Reference,
		Status:      txn.Status,
		Transaction: txn,
	}
	if p, err := r.escrow.GetByReference(ctx, txn.Reference); err == nil {
		s.Escrow = p
	}
	return s
}

// mustGet re-reads the transaction, falling back to the stale copy if the
// read fails.
func mustGet(ctx context.Context, svc *ledger.Service, reference string, fallback *ledger.Transaction) *ledger.Transaction {
	if txn, err := svc.Get(ctx, reference); err == nil {
		return txn
	}
	return fallback
}
