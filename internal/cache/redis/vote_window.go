package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

// voteWindowTTL caps how long a market's gate window outlives its last vote.
const voteWindowTTL = 24 * time.Hour

// VoteWindow implements domain.VoteWindow as a capped Redis list per market.
// It is the only place a vote's choice exists outside the sealed ciphertext,
// and it expires on its own.
type VoteWindow struct {
	client *Client
	rdb    *redis.Client
}

// NewVoteWindow creates a VoteWindow backed by the given Client.
func NewVoteWindow(c *Client) *VoteWindow {
	return &VoteWindow{client: c, rdb: c.Underlying()}
}

func (vw *VoteWindow) voteWindowKey(id domain.MarketID) string {
	return vw.client.key("votewindow", strconv.FormatUint(uint64(id), 10))
}

type windowEntry struct {
	Choice     uint8 `json:"c"`
	Confidence uint8 `json:"p"`
}

// Append pushes an accepted vote onto the market's window and trims it to
// the ring-buffer limit, keeping the newest entries at the tail.
func (vw *VoteWindow) Append(ctx context.Context, marketID domain.MarketID, v domain.RecentVote) error {
	data, err := json.Marshal(windowEntry{Choice: uint8(v.Choice), Confidence: v.Confidence})
	if err != nil {
		return fmt.Errorf("redis: marshal vote window entry: %w", err)
	}

	key := vw.voteWindowKey(marketID)

	pipe := vw.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -int64(domain.ConfidenceHistoryLimit), -1)
	pipe.Expire(ctx, key, voteWindowTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: append vote window %d: %w", marketID, err)
	}
	return nil
}

// Recent returns the market's window, oldest first.
func (vw *VoteWindow) Recent(ctx context.Context, marketID domain.MarketID) ([]domain.RecentVote, error) {
	vals, err := vw.rdb.LRange(ctx, vw.voteWindowKey(marketID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: recent vote window %d: %w", marketID, err)
	}

	out := make([]domain.RecentVote, 0, len(vals))
	for _, v := range vals {
		var e windowEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("redis: unmarshal vote window %d: %w", marketID, err)
		}
		out = append(out, domain.RecentVote{Choice: domain.VoteChoice(e.Choice), Confidence: e.Confidence})
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.VoteWindow = (*VoteWindow)(nil)
