package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

const resolutionTTL = 5 * time.Minute

// ResolutionCache implements domain.ResolutionCache using Redis hashes with
// JSON-serialized Resolution data at key "{ns}:resolution:{marketID}".
type ResolutionCache struct {
	client *Client
	rdb    *redis.Client
}

// NewResolutionCache creates a ResolutionCache backed by the given Client.
func NewResolutionCache(c *Client) *ResolutionCache {
	return &ResolutionCache{client: c, rdb: c.Underlying()}
}

func (rc *ResolutionCache) resolutionKey(id domain.MarketID) string {
	return rc.client.key("resolution", strconv.FormatUint(uint64(id), 10))
}

// Set stores the market's latest resolution with a 5-minute TTL.
func (rc *ResolutionCache) Set(ctx context.Context, r domain.Resolution) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redis: marshal resolution %d: %w", r.MarketID, err)
	}

	key := rc.resolutionKey(r.MarketID)

	pipe := rc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, resolutionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set resolution %d: %w", r.MarketID, err)
	}
	return nil
}

// Get retrieves the cached latest resolution for a market.
// It returns domain.ErrNotFound on a miss.
func (rc *ResolutionCache) Get(ctx context.Context, marketID domain.MarketID) (domain.Resolution, error) {
	data, err := rc.rdb.HGet(ctx, rc.resolutionKey(marketID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Resolution{}, domain.ErrNotFound
		}
		return domain.Resolution{}, fmt.Errorf("redis: get resolution %d: %w", marketID, err)
	}

	var r domain.Resolution
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.Resolution{}, fmt.Errorf("redis: unmarshal resolution %d: %w", marketID, err)
	}
	return r, nil
}

// Invalidate removes the cached resolution for a market.
func (rc *ResolutionCache) Invalidate(ctx context.Context, marketID domain.MarketID) error {
	if err := rc.rdb.Del(ctx, rc.resolutionKey(marketID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate resolution %d: %w", marketID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ResolutionCache = (*ResolutionCache)(nil)
