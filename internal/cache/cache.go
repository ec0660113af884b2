// Package cache implements the cache-and-publisher stage: it writes the
// latest ticker/depth/funding snapshot per (exchange, symbol) into Redis
// hashes, appends trades to a size-bounded Redis stream, keeps a bounded
// in-memory kline ring, and republishes every normalized event as a typed
// envelope on a Redis pub/sub channel. Redis write failures are counted and
// logged, never fatal: a publish failure must not stop ingestion.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/marketpulse/pipeline/internal/types"
)

// Config controls cache sizing and the pub/sub channel name.
type Config struct {
	Channel        string
	TradeStreamLen int64
	KlineRingSize  int
}

// DefaultConfig returns the default cache sizing.
func DefaultConfig() Config {
	return Config{Channel: "market_data", TradeStreamLen: 10000, KlineRingSize: 500}
}

// Envelope is the typed message shape published on Config.Channel.
type Envelope struct {
	Type      types.EventType `json:"type"`
	Data      any             `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Cache is CacheAndPublisher: Redis-backed latest-value store plus an
// in-memory mirror for hot reads that should not round-trip to Redis.
type Cache struct {
	rdb redis.UniversalClient
	cfg Config
	log zerolog.Logger

	mu       sync.RWMutex
	tickers  map[string]types.Ticker
	depths   map[string]types.Depth
	fundings map[string]types.FundingRate
	klines   map[string][]types.Kline

	publishFailures atomic.Int64
}

// New constructs a Cache backed by rdb.
func New(rdb redis.UniversalClient, cfg Config, log zerolog.Logger) *Cache {
	return &Cache{
		rdb:      rdb,
		cfg:      cfg,
		log:      log,
		tickers:  make(map[string]types.Ticker),
		depths:   make(map[string]types.Depth),
		fundings: make(map[string]types.FundingRate),
		klines:   make(map[string][]types.Kline),
	}
}

func key(exchange string, symbol types.Symbol) string {
	return exchange + ":" + string(symbol)
}

// Handle dispatches a fused event to its Redis write path and republishes
// it on the pub/sub channel. A Redis error is logged and counted, never
// returned: a downstream outage must not back-pressure ingestion.
func (c *Cache) Handle(ctx context.Context, event types.MarketEvent) {
	switch event.Type {
	case types.EventTicker:
		c.handleTicker(ctx, *event.Ticker)
	case types.EventDepth:
		c.handleDepth(ctx, *event.Depth)
	case types.EventFundingRate:
		c.handleFunding(ctx, *event.FundingRate)
	case types.EventTrade:
		c.handleTrade(ctx, *event.Trade)
	case types.EventKline:
		c.handleKline(*event.Kline)
	}
	c.publish(ctx, event)
}

func (c *Cache) handleTicker(ctx context.Context, t types.Ticker) {
	c.mu.Lock()
	c.tickers[key(t.Exchange, t.Symbol)] = t
	c.mu.Unlock()

	c.writeHash(ctx, "ticker:"+key(t.Exchange, t.Symbol), t)
}

func (c *Cache) handleDepth(ctx context.Context, d types.Depth) {
	c.mu.Lock()
	c.depths[key(d.Exchange, d.Symbol)] = d
	c.mu.Unlock()

	c.writeHash(ctx, "depth:"+key(d.Exchange, d.Symbol), d)
}

func (c *Cache) handleFunding(ctx context.Context, f types.FundingRate) {
	c.mu.Lock()
	c.fundings[key(f.Exchange, f.Symbol)] = f
	c.mu.Unlock()

	c.writeHash(ctx, "funding:"+key(f.Exchange, f.Symbol), f)
}

func (c *Cache) handleTrade(ctx context.Context, tr types.Trade) {
	b, err := json.Marshal(tr)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal trade for stream append")
		return
	}
	stream := "trades:" + key(tr.Exchange, tr.Symbol)
	err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: c.cfg.TradeStreamLen,
		Approx: true,
		Values: map[string]any{"payload": b},
	}).Err()
	if err != nil {
		c.publishFailures.Add(1)
		c.log.Warn().Err(err).Str("stream", stream).Msg("trade stream append failed")
	}
}

func (c *Cache) handleKline(k types.Kline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k2 := key(k.Exchange, k.Symbol)
	ring := c.klines[k2]
	ring = append(ring, k)
	if len(ring) > c.cfg.KlineRingSize {
		ring = ring[len(ring)-c.cfg.KlineRingSize:]
	}
	c.klines[k2] = ring
}

func (c *Cache) writeHash(ctx context.Context, redisKey string, v any) {
	fields, err := toFieldMap(v)
	if err != nil {
		c.log.Error().Err(err).Str("key", redisKey).Msg("marshal hash fields")
		return
	}
	if err := c.rdb.HSet(ctx, redisKey, fields).Err(); err != nil {
		c.publishFailures.Add(1)
		c.log.Warn().Err(err).Str("key", redisKey).Msg("hash write failed")
	}
}

// toFieldMap flattens v to a JSON-string-per-field map suitable for HSet,
// by round-tripping through json.Marshal/Unmarshal into map[string]any.
func toFieldMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = string(v)
	}
	return out, nil
}

func (c *Cache) publish(ctx context.Context, event types.MarketEvent) {
	var data any
	switch event.Type {
	case types.EventTicker:
		data = event.Ticker
	case types.EventDepth:
		data = event.Depth
	case types.EventTrade:
		data = event.Trade
	case types.EventFundingRate:
		data = event.FundingRate
	case types.EventKline:
		data = event.Kline
	}
	env := Envelope{Type: event.Type, Data: data, Timestamp: time.Now().UnixMilli()}
	b, err := json.Marshal(env)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal publish envelope")
		return
	}
	if err := c.rdb.Publish(ctx, c.cfg.Channel, b).Err(); err != nil {
		c.publishFailures.Add(1)
		c.log.Warn().Err(err).Str("channel", c.cfg.Channel).Msg("publish failed")
	}
}

// PublishFailures returns the running count of non-fatal Redis write/publish
// errors observed so far.
func (c *Cache) PublishFailures() int64 { return c.publishFailures.Load() }

// LatestTicker returns the last-seen ticker for (exchange, symbol) from the
// in-memory mirror, without a Redis round trip.
func (c *Cache) LatestTicker(exchange string, symbol types.Symbol) (types.Ticker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tickers[key(exchange, symbol)]
	return t, ok
}

// LatestDepth returns the last-seen depth snapshot from the in-memory mirror.
func (c *Cache) LatestDepth(exchange string, symbol types.Symbol) (types.Depth, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.depths[key(exchange, symbol)]
	return d, ok
}

// LatestFunding returns the last-seen funding rate from the in-memory mirror.
func (c *Cache) LatestFunding(exchange string, symbol types.Symbol) (types.FundingRate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.fundings[key(exchange, symbol)]
	return f, ok
}

// Klines returns a copy of the bounded in-memory kline ring for
// (exchange, symbol), oldest first.
func (c *Cache) Klines(exchange string, symbol types.Symbol) []types.Kline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ring := c.klines[key(exchange, symbol)]
	out := make([]types.Kline, len(ring))
	copy(out, ring)
	return out
}
