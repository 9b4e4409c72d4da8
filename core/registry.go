package core

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/cloudx-io/sealedauction/internal/syncutil"
)

// Registry holds independent auction instances. It only guards the map; each Auction
// serialises its own transitions, so operations on different auctions never contend.
type Registry struct {
	mu       syncutil.RWMutex
	auctions map[uuid.UUID]*Auction

	custody  Custody
	notifier Notifier
}

// NewRegistry returns an empty registry whose auctions share custody and notifier.
func NewRegistry(custody Custody, notifier Notifier) *Registry {
	return &Registry{
		auctions: make(map[uuid.UUID]*Auction),
		custody:  custody,
		notifier: notifier,
	}
}

// Create builds a new auction from cfg and registers it.
func (r *Registry) Create(cfg Config) (*Auction, error) {
	a, err := NewAuction(cfg, r.custody, r.notifier)
	if err != nil {
		return nil, err
	}
	if err := r.Put(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Restore rebuilds an auction from a snapshot and registers it, replacing any instance
// with the same ID.
func (r *Registry) Restore(s State) (*Auction, error) {
	a, err := RestoreAuction(s, r.custody, r.notifier)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.auctions[s.ID] = a
	r.mu.Unlock()
	return a, nil
}

// Put registers an existing instance. It fails if the ID is taken.
func (r *Registry) Put(a *Auction) error {
	id := a.ID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.auctions[id]; exists {
		return fmt.Errorf("%w: auction %s already exists", ErrInvalidConfig, id)
	}
	r.auctions[id] = a
	return nil
}

// Get looks up an auction by ID.
func (r *Registry) Get(id uuid.UUID) (*Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAuction, id)
	}
	return a, nil
}

// List returns every registered auction ID in lexical order.
func (r *Registry) List() []uuid.UUID {
	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.auctions))
	for id := range r.auctions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
