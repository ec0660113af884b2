// Package position implements shared position/fill bookkeeping: average
// entry price, realized PnL, and net size, keyed per (exchange, symbol)
// rather than per single asset, with every money field carried as
// decimal.Decimal instead of float64.
package position

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/marketpulse/pipeline/internal/types"
)

// Fill is a single executed trade used to update a Position.
type Fill struct {
	Exchange string
	Symbol   types.Symbol
	Side     types.Side
	Price    decimal.Decimal
	Size     decimal.Decimal
}

// Position tracks aggregated holdings for one (exchange, symbol) pair.
type Position struct {
	Exchange      string
	Symbol        types.Symbol
	NetSize       decimal.Decimal
	AvgEntryPrice decimal.Decimal
	RealizedPnL   decimal.Decimal
	TotalFills    int
}

func key(exchange string, symbol types.Symbol) string { return exchange + ":" + string(symbol) }

// Snapshot converts p into the shape the risk engine and account refresher
// read, collapsing NetSize's sign into Side/Size.
func (p Position) Snapshot(markPrice decimal.Decimal) types.PositionSnapshot {
	side := types.PositionLong
	size := p.NetSize
	if p.NetSize.IsNegative() {
		side = types.PositionShort
		size = p.NetSize.Neg()
	}
	notional, _ := size.Mul(markPrice).Float64()
	entryPrice, _ := p.AvgEntryPrice.Float64()
	mark, _ := markPrice.Float64()
	sizeF, _ := size.Float64()

	return types.PositionSnapshot{
		Exchange:   p.Exchange,
		Symbol:     p.Symbol,
		Side:       side,
		Size:       sizeF,
		EntryPrice: entryPrice,
		MarkPrice:  mark,
		Notional:   notional,
	}
}

// Tracker maintains positions across every (exchange, symbol) it observes
// fills for.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{positions: make(map[string]*Position)}
}

// RecordFill folds f into the running position for (f.Exchange, f.Symbol).
func (t *Tracker) RecordFill(f Fill) Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(f.Exchange, f.Symbol)
	pos, ok := t.positions[k]
	if !ok {
		pos = &Position{Exchange: f.Exchange, Symbol: f.Symbol}
		t.positions[k] = pos
	}
	pos.TotalFills++

	if f.Side == types.SideBuy {
		updateOnBuy(pos, f)
	} else {
		updateOnSell(pos, f)
	}
	return *pos
}

// updateOnBuy increases a long (or reduces a short), adjusting the cost
// basis for any new long portion. Caller must hold t.mu.
func updateOnBuy(pos *Position, f Fill) {
	if pos.NetSize.IsNegative() {
		closedQty := decimal.Min(f.Size, pos.NetSize.Neg())
		pnl := pos.AvgEntryPrice.Sub(f.Price).Mul(closedQty)
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.NetSize = pos.NetSize.Add(closedQty)

		if remaining := f.Size.Sub(closedQty); remaining.IsPositive() {
			pos.NetSize = remaining
			pos.AvgEntryPrice = f.Price
		}
		if pos.NetSize.IsZero() {
			pos.AvgEntryPrice = decimal.Zero
		}
		return
	}

	totalCost := pos.AvgEntryPrice.Mul(pos.NetSize).Add(f.Price.Mul(f.Size))
	pos.NetSize = pos.NetSize.Add(f.Size)
	if pos.NetSize.IsPositive() {
		pos.AvgEntryPrice = totalCost.Div(pos.NetSize)
	}
}

// updateOnSell closes or reverses a long, realizing PnL on the closed
// portion, or increases a short. Caller must hold t.mu.
func updateOnSell(pos *Position, f Fill) {
	if pos.NetSize.IsPositive() {
		closedQty := f.Size
		if closedQty.GreaterThan(pos.NetSize) {
			closedQty = pos.NetSize
		}
		pnl := f.Price.Sub(pos.AvgEntryPrice).Mul(closedQty)
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.NetSize = pos.NetSize.Sub(closedQty)

		remaining := f.Size.Sub(closedQty)
		if remaining.IsPositive() {
			pos.NetSize = remaining.Neg()
			pos.AvgEntryPrice = f.Price
		}
		if pos.NetSize.IsZero() {
			pos.AvgEntryPrice = decimal.Zero
		}
		return
	}

	absCurrent := pos.NetSize.Neg()
	totalCost := pos.AvgEntryPrice.Mul(absCurrent).Add(f.Price.Mul(f.Size))
	pos.NetSize = pos.NetSize.Sub(f.Size)
	absNew := pos.NetSize.Neg()
	if absNew.IsPositive() {
		pos.AvgEntryPrice = totalCost.Div(absNew)
	}
}

// Position returns the current position for (exchange, symbol), or
// ok=false if no fill has been recorded for it.
func (t *Tracker) Position(exchange string, symbol types.Symbol) (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[key(exchange, symbol)]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns a snapshot of every tracked position.
func (t *Tracker) Positions() []Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}
	return out
}

// TotalRealizedPnL sums realized PnL across every tracked position.
func (t *Tracker) TotalRealizedPnL() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := decimal.Zero
	for _, p := range t.positions {
		total = total.Add(p.RealizedPnL)
	}
	return total
}
