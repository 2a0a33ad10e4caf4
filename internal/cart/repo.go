package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/idealindiska/livs-backend/pkg/redis"
)

// snapshotStore is the redis surface used to persist carts.
type snapshotStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetIfUnchanged(ctx context.Context, key, old, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	CartKey(sessionID string) string
}

// ErrStaleCart reports that the cart changed in redis since it was loaded.
var ErrStaleCart = errors.New("cart changed concurrently")

// Repository persists cart snapshots in redis keyed by cart session.
type Repository struct {
	store snapshotStore
	ttl   time.Duration
}

// NewRepository constructs a cart repository. Snapshots expire after ttl of
// inactivity; a zero ttl keeps them forever.
func NewRepository(store snapshotStore, ttl time.Duration) (*Repository, error) {
	if store == nil {
		return nil, fmt.Errorf("redis store required")
	}
	return &Repository{store: store, ttl: ttl}, nil
}

// Load returns the snapshot for the session, or an empty one.
func (r *Repository) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Snapshot{}, fmt.Errorf("cart session required")
	}
	raw, err := r.store.Get(ctx, r.store.CartKey(sessionID))
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load cart %s: %w", sessionID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode cart %s: %w", sessionID, err)
	}
	snap.loaded = raw
	return snap, nil
}

// Save stores the snapshot and refreshes its expiry. It fails with
// ErrStaleCart when another request saved the cart after snap was loaded.
func (r *Repository) Save(ctx context.Context, sessionID string, snap Snapshot) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("cart session required")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode cart %s: %w", sessionID, err)
	}
	wrote, err := r.store.SetIfUnchanged(ctx, r.store.CartKey(sessionID), snap.loaded, string(payload), r.ttl)
	if err != nil {
		return fmt.Errorf("save cart %s: %w", sessionID, err)
	}
	if !wrote {
		return fmt.Errorf("save cart %s: %w", sessionID, ErrStaleCart)
	}
	return nil
}

// Delete drops the session cart.
func (r *Repository) Delete(ctx context.Context, sessionID string) error {
	return r.store.Del(ctx, r.store.CartKey(sessionID))
}
