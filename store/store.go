// Package store persists auction snapshots so a host can restart without losing ledgers.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/internal/syncutil"
)

var (
	// ErrNotFound is returned by Load for an auction that was never saved.
	ErrNotFound = errors.New("snapshot not found")

	// ErrStaleSnapshot is returned by Save for a state older than the stored one.
	ErrStaleSnapshot = errors.New("stale snapshot")
)

// SnapshotStore keeps the latest snapshot of each auction. Save replaces the previous one
// unless the stored snapshot has a higher EventSeq, in which case it fails with
// ErrStaleSnapshot and leaves the stored one in place.
type SnapshotStore interface {
	Save(ctx context.Context, state core.State) error
	Load(ctx context.Context, id uuid.UUID) (core.State, error)
	List(ctx context.Context) ([]uuid.UUID, error)
}

// MemoryStore holds encoded snapshots in process memory.
type MemoryStore struct {
	mu        syncutil.RWMutex
	snapshots map[uuid.UUID][]byte
	seqs      map[uuid.UUID]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[uuid.UUID][]byte),
		seqs:      make(map[uuid.UUID]uint64),
	}
}

func (m *MemoryStore) Save(ctx context.Context, state core.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := core.EncodeState(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkFresh(state, m.seqs[state.ID]); err != nil {
		return err
	}
	m.snapshots[state.ID] = data
	m.seqs[state.ID] = state.EventSeq
	return nil
}

func checkFresh(state core.State, storedSeq uint64) error {
	if state.EventSeq < storedSeq {
		return fmt.Errorf("%w: auction %s at seq %d, stored seq %d", ErrStaleSnapshot, state.ID, state.EventSeq, storedSeq)
	}
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, id uuid.UUID) (core.State, error) {
	if err := ctx.Err(); err != nil {
		return core.State{}, err
	}
	m.mu.RLock()
	data, ok := m.snapshots[id]
	m.mu.RUnlock()
	if !ok {
		return core.State{}, ErrNotFound
	}
	return core.DecodeState(data)
}

func (m *MemoryStore) List(ctx context.Context) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sortIDs(ids)
	return ids, nil
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
}

// RestoreAll loads every saved auction into reg. Snapshots that fail to decode or restore
// are skipped and reported in the joined error; the rest are restored.
func RestoreAll(ctx context.Context, s SnapshotStore, reg *core.Registry) ([]uuid.UUID, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var restored []uuid.UUID
	var errs []error
	for _, id := range ids {
		state, err := s.Load(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := reg.Restore(state); err != nil {
			errs = append(errs, err)
			continue
		}
		restored = append(restored, id)
	}
	return restored, errors.Join(errs...)
}
