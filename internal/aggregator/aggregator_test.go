package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketpulse/pipeline/internal/clock"
	"github.com/marketpulse/pipeline/internal/types"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestBestPriceAcrossExchanges(t *testing.T) {
	a := New(DefaultConfig(), clock.Real{})
	symbol := types.NewSymbol("BTC", "USDT")

	a.Handle(types.Ticker{Base: types.Base{Exchange: "binance", Symbol: symbol}, Bid: dec("65000"), Ask: dec("65005")})
	a.Handle(types.Ticker{Base: types.Base{Exchange: "bybit", Symbol: symbol}, Bid: dec("65010"), Ask: dec("65001")})

	bp, ok := a.BestPrice(symbol)
	if !ok {
		t.Fatal("expected a best price once two exchanges have reported")
	}
	if bp.BestBidExchange != "bybit" || !bp.BestBid.Equal(dec("65010")) {
		t.Errorf("best bid = %s on %s, want 65010 on bybit", bp.BestBid, bp.BestBidExchange)
	}
	if bp.BestAskExchange != "bybit" || !bp.BestAsk.Equal(dec("65001")) {
		t.Errorf("best ask = %s on %s, want 65001 on bybit", bp.BestAsk, bp.BestAskExchange)
	}
}

func TestRemoveExchangeDropsItsTicker(t *testing.T) {
	a := New(DefaultConfig(), clock.Real{})
	a.AddExchange("binance")
	symbol := types.NewSymbol("BTC", "USDT")
	a.Handle(types.Ticker{Base: types.Base{Exchange: "binance", Symbol: symbol}, Bid: dec("65000"), Ask: dec("65005")})

	a.RemoveExchange("binance")

	if _, ok := a.BestPrice(symbol); ok {
		t.Error("expected no best price after the only reporting exchange is removed")
	}
}

func TestArbitrageOpportunityEmitted(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	cfg := Config{TickInterval: time.Second, ArbThresholdPct: dec("0.3")}
	a := New(cfg, clk)
	symbol := types.NewSymbol("BTC", "USDT")

	opps := a.Subscribe()

	a.Handle(types.Ticker{Base: types.Base{Exchange: "binance", Symbol: symbol}, Bid: dec("65000"), Ask: dec("65010")})
	a.Handle(types.Ticker{Base: types.Base{Exchange: "bybit", Symbol: symbol}, Bid: dec("65500"), Ask: dec("65490")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	clk.Advance(time.Second)

	select {
	case opp := <-opps:
		if opp.BuyExchange != "binance" || opp.SellExchange != "bybit" {
			t.Errorf("opportunity = %+v, want buy on binance, sell on bybit", opp)
		}
		if !opp.ProfitPercent.GreaterThan(cfg.ArbThresholdPct) {
			t.Errorf("profit %% = %s, want > %s", opp.ProfitPercent, cfg.ArbThresholdPct)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an arbitrage opportunity")
	}
}

func TestOpportunityEmittedAtExactThreshold(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	cfg := Config{TickInterval: time.Second, ArbThresholdPct: dec("2")}
	a := New(cfg, clk)
	symbol := types.NewSymbol("BTC", "USDT")
	opps := a.Subscribe()

	// best bid 102 (bybit) vs best ask 100 (binance) is exactly a 2% spread,
	// matching ArbThresholdPct.
	a.Handle(types.Ticker{Base: types.Base{Exchange: "binance", Symbol: symbol}, Bid: dec("95"), Ask: dec("100")})
	a.Handle(types.Ticker{Base: types.Base{Exchange: "bybit", Symbol: symbol}, Bid: dec("102"), Ask: dec("101")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	clk.Advance(time.Second)

	select {
	case opp := <-opps:
		if !opp.ProfitPercent.Equal(dec("2")) {
			t.Errorf("profit %% = %s, want exactly 2", opp.ProfitPercent)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an arbitrage opportunity at the exact threshold")
	}
}

func TestNoOpportunityBelowThreshold(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	cfg := Config{TickInterval: time.Second, ArbThresholdPct: dec("5")}
	a := New(cfg, clk)
	symbol := types.NewSymbol("BTC", "USDT")
	opps := a.Subscribe()

	a.Handle(types.Ticker{Base: types.Base{Exchange: "binance", Symbol: symbol}, Bid: dec("65000"), Ask: dec("65010")})
	a.Handle(types.Ticker{Base: types.Base{Exchange: "bybit", Symbol: symbol}, Bid: dec("65020"), Ask: dec("65015")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	clk.Advance(time.Second)

	select {
	case opp := <-opps:
		t.Fatalf("expected no opportunity below threshold, got %+v", opp)
	case <-time.After(200 * time.Millisecond):
	}
}
