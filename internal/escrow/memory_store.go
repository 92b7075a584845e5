package escrow

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
type MemoryStore struct {
	payments    map[string]*Payment
	byReference map[string]string // reference -> escrow ID
	order       []string          // IDs in insertion order
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments:    make(map[string]*Payment),
		byReference: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.payments[p.ID] = &cp
	m.byReference[p.Reference] = p.ID
	m.order = append(m.order, p.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payments[id]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetByReference(ctx context.Context, reference string) (*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byReference[reference]
	if !ok {
		return nil, ErrEscrowNotFound
	}
	cp := *m.payments[id]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.payments[p.ID]; !ok {
		return ErrEscrowNotFound
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Payment
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		p := m.payments[m.order[i]]
		if p.PayerID == userID || p.PayeeID == userID {
			cp := *p
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Payment
	for _, id := range m.order {
		if len(result) >= limit {
			break
		}
		p := m.payments[id]
		if p.Status == StatusHeld && p.Funded() && !p.ManualRelease && !p.AutoReleaseAt.After(before) {
			cp := *p
			result = append(result, &cp)
		}
	}
	return result, nil
}
