package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jayasurya0007/prism-wallet/internal/logging"
)

// Cache TTLs. Gas prices move fast, analytics and yield less so.
const (
	analyticsTTL = 30 * time.Second
	yieldTTL     = 2 * time.Minute
	gasTTL       = 10 * time.Second
	transfersTTL = 30 * time.Second
)

// Compile-time check that CachedClient implements Client.
var _ Client = (*CachedClient)(nil)

// CachedClient is a read-through Redis cache in front of another Client.
//
// Key schema:
//
//	idx:analytics:{address}        - JSON Analytics
//	idx:yield:{chains}             - JSON []YieldOpportunity
//	idx:gas                        - JSON map of chain ID to gwei
//	idx:transfers:{address}:{n}    - JSON []Transfer
type CachedClient struct {
	inner Client
	rdb   *redis.Client
}

// NewCachedClient wraps inner with a Redis read-through cache.
func NewCachedClient(inner Client, rdb *redis.Client) *CachedClient {
	return &CachedClient{inner: inner, rdb: rdb}
}

func (c *CachedClient) GetAnalytics(ctx context.Context, address string) (*Analytics, error) {
	key := "idx:analytics:" + strings.ToLower(address)

	var cached Analytics
	if c.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	fresh, err := c.inner.GetAnalytics(ctx, address)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, fresh, analyticsTTL)
	return fresh, nil
}

func (c *CachedClient) GetYieldOpportunities(ctx context.Context, chainIDs []int64) ([]YieldOpportunity, error) {
	ids := make([]string, 0, len(chainIDs))
	for _, id := range chainIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	key := "idx:yield:" + strings.Join(ids, ",")

	var cached []YieldOpportunity
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}

	fresh, err := c.inner.GetYieldOpportunities(ctx, chainIDs)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, fresh, yieldTTL)
	return fresh, nil
}

func (c *CachedClient) GetGasPrices(ctx context.Context) (map[int64]float64, error) {
	const key = "idx:gas"

	var cached map[int64]float64
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}

	fresh, err := c.inner.GetGasPrices(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, fresh, gasTTL)
	return fresh, nil
}

func (c *CachedClient) GetTransferHistory(ctx context.Context, address string, limit int) ([]Transfer, error) {
	key := "idx:transfers:" + strings.ToLower(address) + ":" + strconv.Itoa(limit)

	var cached []Transfer
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}

	fresh, err := c.inner.GetTransferHistory(ctx, address, limit)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, fresh, transfersTTL)
	return fresh, nil
}

// lookup reports whether key was found and decoded. Cache failures are logged
// and treated as misses.
func (c *CachedClient) lookup(ctx context.Context, key string, out any) bool {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.L(ctx).Warn("indexer cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		logging.L(ctx).Warn("indexer cache corrupt entry", slog.String("key", key))
		return false
	}
	return true
}

// store writes through to the cache. Failures never fail the read path.
func (c *CachedClient) store(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		logging.L(ctx).Warn("indexer cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}
