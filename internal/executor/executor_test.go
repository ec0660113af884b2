package executor

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/marketpulse/pipeline/internal/risk"
	"github.com/marketpulse/pipeline/internal/types"
)

type fakePrices struct {
	tickers map[types.Symbol]types.Ticker
}

func (f *fakePrices) Ticker(symbol types.Symbol) (types.Ticker, bool) {
	t, ok := f.tickers[symbol]
	return t, ok
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestExecuteMarketOrderFillsAtAskForBuy(t *testing.T) {
	symbol := types.NewSymbol("BTC", "USDT")
	prices := &fakePrices{tickers: map[types.Symbol]types.Ticker{symbol: {Bid: dec("100"), Ask: dec("101")}}}
	ex := NewFakeExecutor(Config{}, prices)

	err := ex.ExecuteMarketOrder(context.Background(), risk.MarketOrder{Symbol: symbol, Side: types.SideBuy, Amount: dec("1")})
	if err != nil {
		t.Fatalf("ExecuteMarketOrder: %v", err)
	}

	positions := ex.Positions()
	if len(positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(positions))
	}
	if !positions[0].NetSize.Equal(dec("1")) {
		t.Errorf("netSize = %s, want 1", positions[0].NetSize)
	}
	if !positions[0].AvgEntryPrice.Equal(dec("101")) {
		t.Errorf("avgEntryPrice = %s, want 101 (ask side)", positions[0].AvgEntryPrice)
	}
}

func TestEmergencyCloseAllFlattensEveryPosition(t *testing.T) {
	symbol := types.NewSymbol("ETH", "USDT")
	prices := &fakePrices{tickers: map[types.Symbol]types.Ticker{symbol: {Bid: dec("10"), Ask: dec("10")}}}
	ex := NewFakeExecutor(Config{}, prices)
	_ = ex.ExecuteMarketOrder(context.Background(), risk.MarketOrder{Symbol: symbol, Side: types.SideBuy, Amount: dec("5")})

	if err := ex.EmergencyCloseAll(context.Background(), "test"); err != nil {
		t.Fatalf("EmergencyCloseAll: %v", err)
	}

	for _, p := range ex.Positions() {
		if !p.NetSize.IsZero() {
			t.Errorf("position %s netSize = %s, want 0 after emergency close", p.Symbol, p.NetSize)
		}
	}
	if ex.EmergencyCloseCount() != 1 {
		t.Errorf("EmergencyCloseCount = %d, want 1", ex.EmergencyCloseCount())
	}
}

func TestReduceAllPositionsAppliesRatio(t *testing.T) {
	symbol := types.NewSymbol("ETH", "USDT")
	prices := &fakePrices{tickers: map[types.Symbol]types.Ticker{symbol: {Bid: dec("10"), Ask: dec("10")}}}
	ex := NewFakeExecutor(Config{}, prices)
	_ = ex.ExecuteMarketOrder(context.Background(), risk.MarketOrder{Symbol: symbol, Side: types.SideBuy, Amount: dec("10")})

	if err := ex.ReduceAllPositions(context.Background(), dec("0.3")); err != nil {
		t.Fatalf("ReduceAllPositions: %v", err)
	}

	positions := ex.Positions()
	if len(positions) != 1 || !positions[0].NetSize.Equal(dec("7")) {
		t.Fatalf("positions = %+v, want netSize 7 after a 30%% reduce", positions)
	}
}

func TestExecuteMarketOrderMissingPriceErrors(t *testing.T) {
	prices := &fakePrices{tickers: map[types.Symbol]types.Ticker{}}
	ex := NewFakeExecutor(Config{}, prices)

	err := ex.ExecuteMarketOrder(context.Background(), risk.MarketOrder{Symbol: types.NewSymbol("XRP", "USDT"), Side: types.SideBuy, Amount: dec("1")})
	if err == nil {
		t.Fatal("expected an error when no price is available")
	}
}
