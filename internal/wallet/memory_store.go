package wallet

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory wallet store for demo/development mode.
type MemoryStore struct {
	wallets map[string]*Wallet
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wallets: make(map[string]*Wallet)}
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if w, ok := m.wallets[userID]; ok {
		cp := *w
		return &cp, nil
	}
	return &Wallet{UserID: userID, UpdatedAt: time.Now()}, nil
}

// getOrCreate must be called with the write lock held.
func (m *MemoryStore) getOrCreate(userID string) *Wallet {
	w, ok := m.wallets[userID]
	if !ok {
		w = &Wallet{UserID: userID}
		m.wallets[userID] = w
	}
	return w
}

func (m *MemoryStore) CreditAvailable(ctx context.Context, userID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.getOrCreate(userID)
	w.Available += amount
	w.TotalEarned += amount
	w.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CreditPending(ctx context.Context, userID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.getOrCreate(userID)
	w.Pending += amount
	w.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ReleasePending(ctx context.Context, userID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Pending < amount {
		return ErrInsufficientPending
	}

	w.Pending -= amount
	w.Available += amount
	w.TotalEarned += amount
	w.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) DebitPending(ctx context.Context, userID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Pending < amount {
		return ErrInsufficientPending
	}

	w.Pending -= amount
	w.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) DebitAvailable(ctx context.Context, userID string, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[userID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Available < amount {
		return ErrInsufficientAvailable
	}

	w.Available -= amount
	w.TotalWithdrawn += amount
	w.UpdatedAt = time.Now()
	return nil
}
