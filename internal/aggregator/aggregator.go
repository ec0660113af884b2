// Package aggregator implements the cross-exchange aggregator: it
// maintains a per-symbol best-bid/best-ask inverse index across
// every exchange feeding it ticker updates, and on a fixed tick recomputes
// spreads and emits sorted arbitrage opportunities at or above a configured
// profit threshold. Subscriber fanout follows the channel-per-subscriber,
// non-blocking-send pattern from the order-matching-engine marketdata
// publisher reference.
package aggregator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketpulse/pipeline/internal/clock"
	"github.com/marketpulse/pipeline/internal/types"
)

// BestPrice is the cross-exchange best-bid/best-ask snapshot for a symbol.
type BestPrice struct {
	Symbol          types.Symbol
	BestBidExchange string
	BestBid         decimal.Decimal
	BestAskExchange string
	BestAsk         decimal.Decimal
	SpreadPercent   decimal.Decimal
}

// Opportunity is a detected cross-exchange arbitrage: buy on BuyExchange at
// BuyPrice, sell on SellExchange at SellPrice.
type Opportunity struct {
	Symbol         types.Symbol
	BuyExchange    string
	BuyPrice       decimal.Decimal
	SellExchange   string
	SellPrice      decimal.Decimal
	ProfitPercent  decimal.Decimal
	TimestampMilli int64
}

// Config controls the aggregator's recompute cadence and arbitrage
// detection threshold.
type Config struct {
	TickInterval    time.Duration
	ArbThresholdPct decimal.Decimal
}

// DefaultConfig returns a 1s recompute tick and a 0.3% minimum
// detected spread.
func DefaultConfig() Config {
	return Config{TickInterval: time.Second, ArbThresholdPct: decimal.NewFromFloat(0.3)}
}

// Aggregator is the CrossExchangeAggregator. One instance serves every
// symbol; exchanges register/unregister as they come online or drop out.
type Aggregator struct {
	cfg   Config
	clock clock.Clock

	mu        sync.RWMutex
	exchanges map[string]struct{}
	tickers   map[types.Symbol]map[string]types.Ticker

	subMu sync.Mutex
	subs  []chan Opportunity
}

// New constructs an Aggregator.
func New(cfg Config, clk clock.Clock) *Aggregator {
	return &Aggregator{
		cfg:       cfg,
		clock:     clk,
		exchanges: make(map[string]struct{}),
		tickers:   make(map[types.Symbol]map[string]types.Ticker),
	}
}

// AddExchange registers an exchange as a live ticker source.
func (a *Aggregator) AddExchange(exchange string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exchanges[exchange] = struct{}{}
}

// RemoveExchange drops an exchange and its cached ticker for every symbol,
// so a disconnected venue never participates in bestPrice/arbitrage math.
func (a *Aggregator) RemoveExchange(exchange string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.exchanges, exchange)
	for symbol, byExchange := range a.tickers {
		delete(byExchange, exchange)
		if len(byExchange) == 0 {
			delete(a.tickers, symbol)
		}
	}
}

// Handle ingests a ticker update into the per-symbol inverse index.
func (a *Aggregator) Handle(ticker types.Ticker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	byExchange, ok := a.tickers[ticker.Symbol]
	if !ok {
		byExchange = make(map[string]types.Ticker)
		a.tickers[ticker.Symbol] = byExchange
	}
	byExchange[ticker.Exchange] = ticker
}

// Subscribe returns a channel that receives every detected Opportunity
// at or above the configured threshold. The channel is buffered; a slow
// subscriber drops updates rather than blocking recomputation.
func (a *Aggregator) Subscribe() <-chan Opportunity {
	ch := make(chan Opportunity, 64)
	a.subMu.Lock()
	a.subs = append(a.subs, ch)
	a.subMu.Unlock()
	return ch
}

func (a *Aggregator) emit(opp Opportunity) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- opp:
		default:
		}
	}
}

// BestPrice returns the current cross-exchange best-bid/best-ask for
// symbol, or ok=false if no exchange has reported a ticker for it yet.
func (a *Aggregator) BestPrice(symbol types.Symbol) (BestPrice, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.bestPriceLocked(symbol)
}

func (a *Aggregator) bestPriceLocked(symbol types.Symbol) (BestPrice, bool) {
	byExchange, ok := a.tickers[symbol]
	if !ok || len(byExchange) == 0 {
		return BestPrice{}, false
	}

	bp := BestPrice{Symbol: symbol}
	haveBid, haveAsk := false, false
	for exchange, t := range byExchange {
		if t.Bid.IsPositive() && (!haveBid || t.Bid.GreaterThan(bp.BestBid)) {
			bp.BestBid = t.Bid
			bp.BestBidExchange = exchange
			haveBid = true
		}
		if t.Ask.IsPositive() && (!haveAsk || t.Ask.LessThan(bp.BestAsk)) {
			bp.BestAsk = t.Ask
			bp.BestAskExchange = exchange
			haveAsk = true
		}
	}
	if !haveBid || !haveAsk || bp.BestAsk.IsZero() {
		return BestPrice{}, false
	}
	bp.SpreadPercent = bp.BestBid.Sub(bp.BestAsk).Div(bp.BestAsk).Mul(decimal.NewFromInt(100))
	return bp, true
}

// Run recomputes bestPrice/arbitrage for every known symbol on every tick
// until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := a.clock.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			a.recompute()
		}
	}
}

func (a *Aggregator) recompute() {
	a.mu.RLock()
	symbols := make([]types.Symbol, 0, len(a.tickers))
	for s := range a.tickers {
		symbols = append(symbols, s)
	}
	a.mu.RUnlock()

	opportunities := make([]Opportunity, 0, len(symbols))
	now := a.clock.Now().UnixMilli()
	for _, symbol := range symbols {
		a.mu.RLock()
		bp, ok := a.bestPriceLocked(symbol)
		a.mu.RUnlock()
		if !ok {
			continue
		}
		if bp.BestBidExchange == bp.BestAskExchange {
			continue
		}
		if bp.SpreadPercent.LessThan(a.cfg.ArbThresholdPct) {
			continue
		}
		opportunities = append(opportunities, Opportunity{
			Symbol:         symbol,
			BuyExchange:    bp.BestAskExchange,
			BuyPrice:       bp.BestAsk,
			SellExchange:   bp.BestBidExchange,
			SellPrice:      bp.BestBid,
			ProfitPercent:  bp.SpreadPercent,
			TimestampMilli: now,
		})
	}

	sort.Slice(opportunities, func(i, j int) bool {
		return opportunities[i].ProfitPercent.GreaterThan(opportunities[j].ProfitPercent)
	})
	for _, opp := range opportunities {
		a.emit(opp)
	}
}
