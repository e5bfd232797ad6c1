package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const balancePrefix = "balance:v1:"

// BalanceCache keeps short-lived balance views in Redis. A nil *BalanceCache
// is valid and caches nothing.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBalanceCache returns nil when client is nil.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if client == nil {
		return nil
	}
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(ownerID int64, currency string) string {
	return fmt.Sprintf("%s%d:%s", balancePrefix, ownerID, currency)
}

// Get returns the cached view and whether one was found.
func (c *BalanceCache) Get(ctx context.Context, ownerID int64, currency string) (BalanceView, bool, error) {
	if c == nil {
		return BalanceView{}, false, nil
	}
	raw, err := c.client.Get(ctx, balanceKey(ownerID, currency)).Bytes()
	if errors.Is(err, redis.Nil) {
		return BalanceView{}, false, nil
	}
	if err != nil {
		return BalanceView{}, false, fmt.Errorf("balance cache get: %w", err)
	}
	var view BalanceView
	if err := json.Unmarshal(raw, &view); err != nil {
		return BalanceView{}, false, fmt.Errorf("balance cache decode: %w", err)
	}
	return view, true, nil
}

func (c *BalanceCache) Set(ctx context.Context, ownerID int64, view BalanceView) error {
	if c == nil {
		return nil
	}
	payload, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("balance cache encode: %w", err)
	}
	if err := c.client.Set(ctx, balanceKey(ownerID, view.Currency), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("balance cache set: %w", err)
	}
	return nil
}

func (c *BalanceCache) Invalidate(ctx context.Context, ownerID int64, currency string) error {
	if c == nil {
		return nil
	}
	if err := c.client.Del(ctx, balanceKey(ownerID, currency)).Err(); err != nil {
		return fmt.Errorf("balance cache invalidate: %w", err)
	}
	return nil
}
