// Package account implements the account state refresher: a two-cadence
// poller over an Exchange collaborator (margin/balance on a slow tick, mark
// prices on a fast tick for the union of open-position symbols plus an
// always-on reference symbol) feeding the risk engine's latest-snapshot
// reads. Directly adapted from a PortfolioTracker ticker-loop/RWMutex-cache
// shape.
package account

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketpulse/pipeline/internal/clock"
	"github.com/marketpulse/pipeline/internal/types"
)

// Exchange is the account-data collaborator: balance/position/ticker reads
// against one exchange's REST API. Implementations live outside this
// package: authenticating against a real exchange's REST API is out of
// scope here.
type Exchange interface {
	FetchBalance(ctx context.Context) (types.AccountSnapshot, error)
	FetchPositions(ctx context.Context) ([]types.PositionSnapshot, error)
	FetchTickers(ctx context.Context, symbols []types.Symbol) (map[types.Symbol]types.Ticker, error)
}

// Config controls the two poll cadences.
type Config struct {
	MarginRefreshInterval time.Duration
	PriceRefreshInterval  time.Duration
	ReferenceSymbol       types.Symbol
}

// DefaultConfig returns the default poll cadences.
func DefaultConfig() Config {
	return Config{
		MarginRefreshInterval: 5 * time.Second,
		PriceRefreshInterval:  time.Second,
		ReferenceSymbol:       types.NewSymbol("BTC", "USDT"),
	}
}

// Refresher is the AccountStateRefresher for one exchange.
type Refresher struct {
	exchange Exchange
	clock    clock.Clock
	cfg      Config
	log      zerolog.Logger

	mu        sync.RWMutex
	account   types.AccountSnapshot
	positions []types.PositionSnapshot
	tickers   map[types.Symbol]types.Ticker
	lastSync  time.Time
}

// New constructs a Refresher.
func New(exchange Exchange, clk clock.Clock, cfg Config, log zerolog.Logger) *Refresher {
	return &Refresher{
		exchange: exchange,
		clock:    clk,
		cfg:      cfg,
		log:      log,
		tickers:  make(map[types.Symbol]types.Ticker),
	}
}

// SyncMargin refreshes the cached balance and position list.
func (r *Refresher) SyncMargin(ctx context.Context) error {
	account, err := r.exchange.FetchBalance(ctx)
	if err != nil {
		return err
	}
	positions, err := r.exchange.FetchPositions(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.account = account
	r.positions = positions
	r.lastSync = r.clock.Now()
	r.mu.Unlock()
	return nil
}

// SyncPrices refreshes cached mark prices for every open position's symbol
// plus Config.ReferenceSymbol, so the risk engine's flash-crash detector
// always has a BTC price even when no position is open in it.
func (r *Refresher) SyncPrices(ctx context.Context) error {
	symbols := r.priceSymbols()
	tickers, err := r.exchange.FetchTickers(ctx, symbols)
	if err != nil {
		return err
	}

	r.mu.Lock()
	for symbol, t := range tickers {
		r.tickers[symbol] = t
	}
	r.mu.Unlock()
	return nil
}

func (r *Refresher) priceSymbols() []types.Symbol {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[types.Symbol]struct{}{r.cfg.ReferenceSymbol: {}}
	symbols := []types.Symbol{r.cfg.ReferenceSymbol}
	for _, p := range r.positions {
		if _, ok := seen[p.Symbol]; ok {
			continue
		}
		seen[p.Symbol] = struct{}{}
		symbols = append(symbols, p.Symbol)
	}
	return symbols
}

// Account returns the last-synced account snapshot.
func (r *Refresher) Account() types.AccountSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.account
}

// Positions returns the last-synced open positions.
func (r *Refresher) Positions() []types.PositionSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.PositionSnapshot, len(r.positions))
	copy(out, r.positions)
	return out
}

// Ticker returns the last-synced mark price ticker for symbol.
func (r *Refresher) Ticker(symbol types.Symbol) (types.Ticker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tickers[symbol]
	return t, ok
}

// LastSync returns the time of the last successful margin sync.
func (r *Refresher) LastSync() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSync
}

// Run drives both poll loops until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	if err := r.SyncMargin(ctx); err != nil {
		r.log.Warn().Err(err).Msg("account initial margin sync failed")
	}
	if err := r.SyncPrices(ctx); err != nil {
		r.log.Warn().Err(err).Msg("account initial price sync failed")
	}

	marginTicker := r.clock.NewTicker(r.cfg.MarginRefreshInterval)
	defer marginTicker.Stop()
	priceTicker := r.clock.NewTicker(r.cfg.PriceRefreshInterval)
	defer priceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-marginTicker.C():
			if err := r.SyncMargin(ctx); err != nil {
				r.log.Warn().Err(err).Msg("account margin sync failed")
			}
		case <-priceTicker.C():
			if err := r.SyncPrices(ctx); err != nil {
				r.log.Warn().Err(err).Msg("account price sync failed")
			}
		}
	}
}
