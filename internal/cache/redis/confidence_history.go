package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

// ConfidenceHistory implements domain.ConfidenceHistory as a Redis list per
// voter, trimmed to domain.ConfidenceHistoryLimit entries, newest first.
type ConfidenceHistory struct {
	client *Client
	rdb    *redis.Client
}

// NewConfidenceHistory creates a ConfidenceHistory backed by the given Client.
func NewConfidenceHistory(c *Client) *ConfidenceHistory {
	return &ConfidenceHistory{client: c, rdb: c.Underlying()}
}

func (ch *ConfidenceHistory) confidenceKey(voter domain.PrincipalID) string {
	return ch.client.key("confidence", voter.Hex())
}

// Append pushes a confidence value onto the front of the voter's history and
// trims the list to the ring-buffer limit. Both operations run in one
// pipeline so a crash between them cannot grow the list unbounded.
func (ch *ConfidenceHistory) Append(ctx context.Context, voter domain.PrincipalID, confidence uint8) error {
	key := ch.confidenceKey(voter)

	pipe := ch.rdb.TxPipeline()
	pipe.LPush(ctx, key, int(confidence))
	pipe.LTrim(ctx, key, 0, domain.ConfidenceHistoryLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: append confidence %s: %w", voter.Hex(), err)
	}
	return nil
}

// Recent returns up to ConfidenceHistoryLimit entries, newest first. A voter
// with no history yields an empty slice, not an error.
func (ch *ConfidenceHistory) Recent(ctx context.Context, voter domain.PrincipalID) ([]uint8, error) {
	vals, err := ch.rdb.LRange(ctx, ch.confidenceKey(voter), 0, domain.ConfidenceHistoryLimit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: recent confidence %s: %w", voter.Hex(), err)
	}

	out := make([]uint8, 0, len(vals))
	for _, v := range vals {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("redis: parse confidence %s: %w", voter.Hex(), err)
		}
		out = append(out, uint8(n))
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.ConfidenceHistory = (*ConfidenceHistory)(nil)
