package magentosync

import (
	"context"
	"time"

	"github.com/shipstream/magento-sync/config"
)

// Named slots in the external state store.
const (
	stateOrderLastSyncAt       = "order_last_sync_at"
	stateLockOrderPull         = "lock_order_pull"
	stateFulfillmentRegistered = "fulfillment_service_registered"
)

// StateEntry is one persisted state value with its last-write timestamp. The
// timestamp is what makes the import lock's staleness override possible.
type StateEntry struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateStore is the external key/value state shared by all invocations. It is
// read-then-write: no compare-and-swap is assumed of the backing store.
type StateStore interface {
	GetState(ctx context.Context, key string) (*StateEntry, error)
	SetState(ctx context.Context, key string, value string) error
	DeleteState(ctx context.Context, key string) error
}

const stateKeyPrefix = "magentosync:state:"

// redisStateStore keeps state entries as JSON values in Redis, one key per
// slot, no expiry.
type redisStateStore struct{}

// NewRedisStateStore returns the production state store backed by the global
// Redis client.
func NewRedisStateStore() StateStore {
	return redisStateStore{}
}

func (redisStateStore) GetState(ctx context.Context, key string) (*StateEntry, error) {
	var entry StateEntry
	exists, err := config.GetRedisObject(ctx, stateKeyPrefix+key, &entry)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return &entry, nil
}

func (redisStateStore) SetState(ctx context.Context, key string, value string) error {
	entry := StateEntry{Value: value, UpdatedAt: time.Now()}
	return config.SetRedisObject(ctx, stateKeyPrefix+key, &entry, 0)
}

func (redisStateStore) DeleteState(ctx context.Context, key string) error {
	return config.RemoveRedisKey(ctx, stateKeyPrefix+key)
}
