// Package executor provides a fake paper-trading implementation of the
// Executor contract declared by internal/risk, for tests and dry runs, plus
// a no-op risk.PortfolioRiskManager. Fill simulation (slippage application
// and position bookkeeping; no fee and no cash balance) is adapted
// from a paper-trading CLOB simulator, generalized from a
// single-balance/single-asset USDC model to a multi-exchange,
// decimal-denominated position book.
package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/marketpulse/pipeline/internal/position"
	"github.com/marketpulse/pipeline/internal/risk"
	"github.com/marketpulse/pipeline/internal/types"
)

// Config controls the fake executor's fill simulation.
type Config struct {
	FeeBps      decimal.Decimal
	SlippageBps decimal.Decimal
}

// DefaultConfig matches a typical taker fee/slippage for a liquid venue.
func DefaultConfig() Config {
	return Config{FeeBps: decimal.NewFromInt(10), SlippageBps: decimal.NewFromInt(5)}
}

// PriceSource supplies the mark price an order fills at when the caller
// doesn't carry one already (emergencyCloseAll, reduceAllPositions).
type PriceSource interface {
	Ticker(symbol types.Symbol) (types.Ticker, bool)
}

// FakeExecutor fills every order against PriceSource's mark price,
// simulating slippage (Config.FeeBps is not applied to fills), and tracks
// the resulting position book
// in-process. It never talks to a real exchange; it exists for tests, dry
// runs, and as the default collaborator until a live executor is wired in.
type FakeExecutor struct {
	cfg     Config
	prices  PriceSource
	tracker *position.Tracker

	mu          sync.Mutex
	closedAllAt int
	fills       []position.Fill
}

// NewFakeExecutor constructs a FakeExecutor backed by its own position
// tracker.
func NewFakeExecutor(cfg Config, prices PriceSource) *FakeExecutor {
	return &FakeExecutor{cfg: cfg, prices: prices, tracker: position.NewTracker()}
}

// ExecuteMarketOrder fills order at the current mark price, less slippage
// against the taker's side, and records the resulting fill.
func (f *FakeExecutor) ExecuteMarketOrder(_ context.Context, order risk.MarketOrder) error {
	ticker, ok := f.prices.Ticker(order.Symbol)
	if !ok {
		return fmt.Errorf("no price available for %s", order.Symbol)
	}
	price := markPrice(ticker, order.Side)
	if !price.IsPositive() {
		return fmt.Errorf("no tradeable price for %s", order.Symbol)
	}
	price = applySlippage(price, order.Side, f.cfg.SlippageBps)

	fill := position.Fill{Exchange: "paper", Symbol: order.Symbol, Side: order.Side, Price: price, Size: order.Amount}
	f.mu.Lock()
	f.fills = append(f.fills, fill)
	f.mu.Unlock()
	f.tracker.RecordFill(fill)
	return nil
}

// EmergencyCloseAll flattens every open position at its current mark
// price.
func (f *FakeExecutor) EmergencyCloseAll(ctx context.Context, _ string) error {
	f.mu.Lock()
	f.closedAllAt++
	f.mu.Unlock()
	return f.reduce(ctx, decimal.NewFromInt(1))
}

// ReduceAllPositions reduces every open position by ratio at market.
func (f *FakeExecutor) ReduceAllPositions(ctx context.Context, ratio decimal.Decimal) error {
	return f.reduce(ctx, ratio)
}

func (f *FakeExecutor) reduce(ctx context.Context, ratio decimal.Decimal) error {
	for _, pos := range f.tracker.Positions() {
		if pos.NetSize.IsZero() {
			continue
		}
		side := types.SideSell
		if pos.NetSize.IsNegative() {
			side = types.SideBuy
		}
		amount := pos.NetSize.Abs().Mul(ratio)
		if err := f.ExecuteMarketOrder(ctx, risk.MarketOrder{Symbol: pos.Symbol, Side: side, Amount: amount, ReduceOnly: true}); err != nil {
			return err
		}
	}
	return nil
}

// Positions returns the executor's own view of open positions, useful for
// asserting on fill results in tests.
func (f *FakeExecutor) Positions() []position.Position {
	return f.tracker.Positions()
}

// EmergencyCloseCount reports how many times EmergencyCloseAll ran.
func (f *FakeExecutor) EmergencyCloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closedAllAt
}

func markPrice(t types.Ticker, side types.Side) decimal.Decimal {
	if side == types.SideBuy && t.Ask.IsPositive() {
		return t.Ask
	}
	if side == types.SideSell && t.Bid.IsPositive() {
		return t.Bid
	}
	return t.Last
}

func applySlippage(price decimal.Decimal, side types.Side, slippageBps decimal.Decimal) decimal.Decimal {
	if !slippageBps.IsPositive() {
		return price
	}
	multiplier := slippageBps.Div(decimal.NewFromInt(10000))
	if side == types.SideBuy {
		return price.Mul(decimal.NewFromInt(1).Add(multiplier))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(multiplier))
}

// NoopPortfolioRiskManager satisfies risk.PortfolioRiskManager by logging
// nothing and doing nothing; useful wherever a collaborator is required but
// the caller only wants the engine's internal gating behavior.
type NoopPortfolioRiskManager struct{}

func (NoopPortfolioRiskManager) PauseTrading(string)    {}
func (NoopPortfolioRiskManager) ResumeTrading()         {}
func (NoopPortfolioRiskManager) Emit(string, any)       {}
