package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically sweeps for escrows past their hold window and
// auto-releases them to the payee.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new escrow auto-release timer.
func NewTimer(service *Service, store Store, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Timer{
		service:  service,
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the auto-release loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in escrow timer", "panic", fmt.Sprint(r))
		}
	}()
	t.Sweep(ctx)
}

// Sweep releases all escrows whose hold window has expired. Disputed and
// manually-held escrows are excluded by the store query; AutoRelease
// re-checks under lock so a dispute racing the sweep still wins.
func (t *Timer) Sweep(ctx context.Context) {
	due, err := t.store.ListDue(ctx, time.Now(), 100)
	if err != nil {
		t.logger.Warn("failed to list due escrows", "error", err)
		return
	}

	for _, p := range due {
		if err := t.service.AutoRelease(ctx, p); err != nil {
			t.logger.Warn("failed to auto-release escrow",
				"escrowId", p.ID,
				"error", err,
			)
			continue
		}
		t.logger.Info("auto-released escrow",
			"escrowId", p.ID,
			"payee", p.PayeeID,
			"amountKobo", p.NetAmount(),
		)
	}
}
