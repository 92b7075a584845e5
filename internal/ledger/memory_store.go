package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory transaction store for demo/development mode.
type MemoryStore struct {
	byReference map[string]*Transaction
	order       []string // references in insertion order
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byReference: make(map[string]*Transaction)}
}

func (m *MemoryStore) Create(ctx context.Context, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byReference[txn.Reference]; exists {
		return ErrDuplicateReference
	}

	cp := *txn
	m.byReference[txn.Reference] = &cp
	m.order = append(m.order, txn.Reference)
	return nil
}

func (m *MemoryStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txn, ok := m.byReference[reference]
	if !ok {
		return nil, ErrTxnNotFound
	}
	cp := *txn
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, txn *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byReference[txn.Reference]; !ok {
		return ErrTxnNotFound
	}
	cp := *txn
	m.byReference[txn.Reference] = &cp
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	skipped := 0
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		txn := m.byReference[m.order[i]]
		if txn.UserID != userID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		cp := *txn
		result = append(result, &cp)
	}
	return result, nil
}
