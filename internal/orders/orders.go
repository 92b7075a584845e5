// Package orders exposes the marketplace orders that payments are made
// against. The payments pipeline never mutates order business state beyond
// flagging a successfully funded order as in progress; everything else
// (delivery, acceptance, messaging) lives outside this service.
package orders

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrUnknownKind   = errors.New("unknown order kind")
)

// Kind identifies the marketplace product an order was placed for.
type Kind string

const (
	KindGig     Kind = "gig"     // fixed-price gig order
	KindProject Kind = "project" // accepted project bid
)

// Valid reports whether k names a known order kind.
func (k Kind) Valid() bool {
	return k == KindGig || k == KindProject
}

// Order is the payment-facing view of a marketplace order.
type Order interface {
	// OrderID is the stable identifier used in payment references.
	OrderID() string
	// OrderKind tells which product family the order belongs to.
	OrderKind() Kind
	// AmountDue is the checkout total in kobo.
	AmountDue() int64
	// Payer is the user ID of the buying side (client).
	Payer() string
	// Payee is the user ID of the selling side (freelancer).
	Payee() string
	// Description is a short human-readable summary for ledger entries.
	Description() string
}

// Source resolves orders and receives funding notifications.
type Source interface {
	Get(ctx context.Context, kind Kind, id string) (Order, error)
	// MarkInProgress flags the order as paid-and-started. Best effort:
	// callers treat failures as non-fatal since money state is already safe.
	MarkInProgress(ctx context.Context, kind Kind, id string) error
}

// GigOrder is a fixed-price gig purchase.
type GigOrder struct {
	ID         string    `json:"id"`
	ClientID   string    `json:"clientId"`
	SellerID   string    `json:"sellerId"`
	Title      string    `json:"title"`
	PriceKobo  int64     `json:"priceKobo"`
	Status     string    `json:"status"` // pending_payment, in_progress, delivered, completed
	CreatedAt  time.Time `json:"createdAt"`
}

func (g *GigOrder) OrderID() string     { return g.ID }
func (g *GigOrder) OrderKind() Kind     { return KindGig }
func (g *GigOrder) AmountDue() int64    { return g.PriceKobo }
func (g *GigOrder) Payer() string       { return g.ClientID }
func (g *GigOrder) Payee() string       { return g.SellerID }
func (g *GigOrder) Description() string { return "Gig order: " + g.Title }

// ProjectOrder is an accepted bid on a client-posted project.
type ProjectOrder struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"clientId"`
	FreelancerID string    `json:"freelancerId"`
	Title        string    `json:"title"`
	BidKobo      int64     `json:"bidKobo"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (p *ProjectOrder) OrderID() string     { return p.ID }
func (p *ProjectOrder) OrderKind() Kind     { return KindProject }
func (p *ProjectOrder) AmountDue() int64    { return p.BidKobo }
func (p *ProjectOrder) Payer() string       { return p.ClientID }
func (p *ProjectOrder) Payee() string       { return p.FreelancerID }
func (p *ProjectOrder) Description() string { return "Project: " + p.Title }

// MemorySource is an in-memory order source for demo/development mode.
type MemorySource struct {
	gigs     map[string]*GigOrder
	projects map[string]*ProjectOrder
	mu       sync.RWMutex
}

// NewMemorySource creates an empty in-memory order source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		gigs:     make(map[string]*GigOrder),
		projects: make(map[string]*ProjectOrder),
	}
}

// PutGig registers a gig order.
func (m *MemorySource) PutGig(g *GigOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	if g.Status == "" {
		g.Status = "pending_payment"
	}
	m.gigs[g.ID] = g
}

// PutProject registers a project order.
func (m *MemorySource) PutProject(p *ProjectOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.Status == "" {
		p.Status = "pending_payment"
	}
	m.projects[p.ID] = p
}

func (m *MemorySource) Get(ctx context.Context, kind Kind, id string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch kind {
	case KindGig:
		if g, ok := m.gigs[id]; ok {
			cp := *g
			return &cp, nil
		}
		return nil, ErrOrderNotFound
	case KindProject:
		if p, ok := m.projects[id]; ok {
			cp := *p
			return &cp, nil
		}
		return nil, ErrOrderNotFound
	default:
		return nil, ErrUnknownKind
	}
}

func (m *MemorySource) MarkInProgress(ctx context.Context, kind Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch kind {
	case KindGig:
		g, ok := m.gigs[id]
		if !ok {
			return ErrOrderNotFound
		}
		g.Status = "in_progress"
	case KindProject:
		p, ok := m.projects[id]
		if !ok {
			return ErrOrderNotFound
		}
		p.Status = "in_progress"
	default:
		return ErrUnknownKind
	}
	return nil
}
