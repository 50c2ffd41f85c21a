package marketdata

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/options-assistant/internal/domain"
)

// QuoteCache fronts the provider client with a short-TTL Redis cache so
// repeated gate checks inside one cycle don't burn provider quota.
type QuoteCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

// NewQuoteCache constructs a cache; rdb may be nil to disable caching.
func NewQuoteCache(rdb *redis.Client, ttl time.Duration) *QuoteCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &QuoteCache{rdb: rdb, ttl: ttl}
}

func cacheKey(symbol string) string { return "quote:" + symbol }

// Get returns cached quotes for the symbols and the remainder to fetch.
func (c *QuoteCache) Get(ctx context.Context, symbols []string) (map[string]domain.Quote, []string) {
	found := map[string]domain.Quote{}
	if c.rdb == nil {
		c.misses.Add(int64(len(symbols)))
		return found, symbols
	}
	var missing []string
	for _, sym := range symbols {
		raw, err := c.rdb.Get(ctx, cacheKey(sym)).Bytes()
		if err != nil {
			c.misses.Add(1)
			missing = append(missing, sym)
			continue
		}
		var q domain.Quote
		if err := json.Unmarshal(raw, &q); err != nil {
			c.misses.Add(1)
			missing = append(missing, sym)
			continue
		}
		c.hits.Add(1)
		found[sym] = q
	}
	return found, missing
}

// Put stores quotes with the cache TTL. Failures are logged and ignored;
// the cache is advisory.
func (c *QuoteCache) Put(ctx context.Context, quotes map[string]domain.Quote) {
	if c.rdb == nil {
		return
	}
	for sym, q := range quotes {
		raw, err := json.Marshal(q)
		if err != nil {
			continue
		}
		if err := c.rdb.Set(ctx, cacheKey(sym), raw, c.ttl).Err(); err != nil {
			slog.Debug("quote cache set failed", slog.String("symbol", sym), slog.Any("error", err))
		}
	}
}

// Stats returns cumulative hit/miss counts for health output.
func (c *QuoteCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
