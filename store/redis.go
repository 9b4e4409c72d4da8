package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v9"
	"github.com/google/uuid"

	"github.com/cloudx-io/sealedauction/core"
)

const (
	defaultKeyPrefix = "sealedauction"

	// saveAttempts bounds optimistic retries when another writer touches the key mid-save.
	saveAttempts = 5
)

// RedisStore keeps one string key per auction holding the CBOR snapshot, plus a set
// indexing the saved auction IDs.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisClient connects to a single Redis node.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisStore namespaces all keys under prefix; empty uses "sealedauction".
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (r *RedisStore) snapshotKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:snapshot:%s", r.prefix, id)
}

func (r *RedisStore) indexKey() string {
	return r.prefix + ":auctions"
}

// Save writes state under WATCH, so a concurrent writer of the same auction forces a
// re-check of the stored EventSeq before the write goes through.
func (r *RedisStore) Save(ctx context.Context, state core.State) error {
	data, err := core.EncodeState(state)
	if err != nil {
		return err
	}
	key := r.snapshotKey(state.ID)

	write := func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			// An undecodable snapshot is replaced rather than allowed to block every save.
			if prev, decodeErr := core.DecodeState(stored); decodeErr == nil {
				if err := checkFresh(state, prev.EventSeq); err != nil {
					return err
				}
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, r.indexKey(), state.ID.String())
			return nil
		})
		return err
	}

	for attempt := 0; attempt < saveAttempts; attempt++ {
		err = r.rdb.Watch(ctx, write, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, ErrStaleSnapshot) {
		return err
	}
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", state.ID, err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, id uuid.UUID) (core.State, error) {
	data, err := r.rdb.Get(ctx, r.snapshotKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.State{}, ErrNotFound
	}
	if err != nil {
		return core.State{}, fmt.Errorf("load snapshot %s: %w", id, err)
	}
	return core.DecodeState(data)
}

func (r *RedisStore) List(ctx context.Context) ([]uuid.UUID, error) {
	members, err := r.rdb.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			return nil, fmt.Errorf("corrupt snapshot index entry %q: %w", m, err)
		}
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids, nil
}

// Ping checks connectivity, for health probes.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
