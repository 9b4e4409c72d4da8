package custody

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/google/uuid"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/internal/syncutil"
	"github.com/cloudx-io/sealedauction/validation"
)

// MemoryRail is an in-process rail. It verifies every authorization against a pinned key,
// applies each transfer ID once and keeps running balances per account. Escrow accounts
// go negative by the amount paid out of them.
type MemoryRail struct {
	mu syncutil.Mutex

	publicKey *ecdsa.PublicKey
	applied   map[uuid.UUID]core.Transfer
	order     []uuid.UUID
	balances  map[string]int64
	owners    map[uuid.UUID]string // auction id -> product owner
}

func NewMemoryRail(publicKey *ecdsa.PublicKey) *MemoryRail {
	return &MemoryRail{
		publicKey: publicKey,
		applied:   make(map[uuid.UUID]core.Transfer),
		balances:  make(map[string]int64),
		owners:    make(map[uuid.UUID]string),
	}
}

func (r *MemoryRail) Submit(ctx context.Context, auth auctionapi.COSE) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	verified, err := validation.VerifyTransferAuthorization(auth, r.publicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	t := verified.Transfer
	if t.Amount < 0 {
		return fmt.Errorf("%w: negative amount %d", ErrRejected, t.Amount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, done := r.applied[t.ID]; done {
		return nil
	}
	r.applied[t.ID] = t
	r.order = append(r.order, t.ID)

	if t.Kind == core.TransferProduct {
		r.owners[t.AuctionID] = t.To
		return nil
	}
	r.balances[t.From] -= t.Amount
	r.balances[t.To] += t.Amount
	return nil
}

// Balance returns the net amount credited to account.
func (r *MemoryRail) Balance(account string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[account]
}

// Owner returns who holds the product of an auction, once claimed.
func (r *MemoryRail) Owner(auctionID uuid.UUID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[auctionID]
	return owner, ok
}

// Applied returns every applied transfer in arrival order.
func (r *MemoryRail) Applied() []core.Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Transfer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.applied[id])
	}
	return out
}
