package position

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/marketpulse/pipeline/internal/types"
)

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

var symbol = types.NewSymbol("BTC", "USDT")

func fill(side types.Side, price, size string) Fill {
	return Fill{Exchange: "binance", Symbol: symbol, Side: side, Price: dec(price), Size: dec(size)}
}

func TestBuyIncreasesLongAndAveragesCost(t *testing.T) {
	tr := NewTracker()
	tr.RecordFill(fill(types.SideBuy, "100", "1"))
	pos := tr.RecordFill(fill(types.SideBuy, "200", "1"))

	if !pos.NetSize.Equal(dec("2")) {
		t.Errorf("netSize = %s, want 2", pos.NetSize)
	}
	if !pos.AvgEntryPrice.Equal(dec("150")) {
		t.Errorf("avgEntryPrice = %s, want 150", pos.AvgEntryPrice)
	}
}

func TestSellPartialCloseRealizesPnLAndKeepsRemainder(t *testing.T) {
	tr := NewTracker()
	tr.RecordFill(fill(types.SideBuy, "100", "2"))
	pos := tr.RecordFill(fill(types.SideSell, "120", "1"))

	if !pos.NetSize.Equal(dec("1")) {
		t.Errorf("netSize = %s, want 1", pos.NetSize)
	}
	if !pos.RealizedPnL.Equal(dec("20")) {
		t.Errorf("realizedPnL = %s, want 20", pos.RealizedPnL)
	}
	if !pos.AvgEntryPrice.Equal(dec("100")) {
		t.Errorf("avgEntryPrice = %s, want unchanged 100", pos.AvgEntryPrice)
	}
}

func TestSellFullCloseZeroesCostBasis(t *testing.T) {
	tr := NewTracker()
	tr.RecordFill(fill(types.SideBuy, "100", "1"))
	pos := tr.RecordFill(fill(types.SideSell, "110", "1"))

	if !pos.NetSize.IsZero() {
		t.Errorf("netSize = %s, want 0", pos.NetSize)
	}
	if !pos.RealizedPnL.Equal(dec("10")) {
		t.Errorf("realizedPnL = %s, want 10", pos.RealizedPnL)
	}
	if !pos.AvgEntryPrice.IsZero() {
		t.Errorf("avgEntryPrice = %s, want 0 after full close", pos.AvgEntryPrice)
	}
}

func TestSellPastZeroFlipsToShort(t *testing.T) {
	tr := NewTracker()
	tr.RecordFill(fill(types.SideBuy, "100", "1"))
	pos := tr.RecordFill(fill(types.SideSell, "110", "3"))

	if !pos.NetSize.Equal(dec("-2")) {
		t.Errorf("netSize = %s, want -2", pos.NetSize)
	}
	if !pos.RealizedPnL.Equal(dec("10")) {
		t.Errorf("realizedPnL = %s, want 10 (only the closed unit)", pos.RealizedPnL)
	}
	if !pos.AvgEntryPrice.Equal(dec("110")) {
		t.Errorf("avgEntryPrice = %s, want 110 (new short's entry)", pos.AvgEntryPrice)
	}
}

func TestSellIncreasesExistingShortAndAveragesCost(t *testing.T) {
	tr := NewTracker()
	tr.RecordFill(fill(types.SideSell, "100", "1"))
	pos := tr.RecordFill(fill(types.SideSell, "200", "1"))

	if !pos.NetSize.Equal(dec("-2")) {
		t.Errorf("netSize = %s, want -2", pos.NetSize)
	}
	if !pos.AvgEntryPrice.Equal(dec("150")) {
		t.Errorf("avgEntryPrice = %s, want 150", pos.AvgEntryPrice)
	}
}

func TestBuyAgainstShortRealizesPnLOnCoveredPortion(t *testing.T) {
	tr := NewTracker()
	tr.RecordFill(fill(types.SideSell, "100", "2"))
	pos := tr.RecordFill(fill(types.SideBuy, "90", "1"))

	if !pos.NetSize.Equal(dec("-1")) {
		t.Errorf("netSize = %s, want -1", pos.NetSize)
	}
	if !pos.RealizedPnL.Equal(dec("10")) {
		t.Errorf("realizedPnL = %s, want 10 (one unit covered 10 below entry)", pos.RealizedPnL)
	}
}

func TestPositionsAndTotalRealizedPnLAcrossSymbols(t *testing.T) {
	tr := NewTracker()
	tr.RecordFill(fill(types.SideBuy, "100", "1"))
	tr.RecordFill(fill(types.SideSell, "110", "1"))

	eth := Fill{Exchange: "bybit", Symbol: types.NewSymbol("ETH", "USDT"), Side: types.SideBuy, Price: dec("10"), Size: dec("1")}
	tr.RecordFill(eth)
	tr.RecordFill(Fill{Exchange: "bybit", Symbol: types.NewSymbol("ETH", "USDT"), Side: types.SideSell, Price: dec("15"), Size: dec("1")})

	if got := len(tr.Positions()); got != 2 {
		t.Fatalf("Positions() len = %d, want 2", got)
	}
	if !tr.TotalRealizedPnL().Equal(dec("15")) {
		t.Errorf("TotalRealizedPnL = %s, want 15", tr.TotalRealizedPnL())
	}
}

func TestPositionLookupMissReturnsFalse(t *testing.T) {
	tr := NewTracker()
	if _, ok := tr.Position("binance", symbol); ok {
		t.Error("expected ok=false for an unobserved (exchange, symbol)")
	}
}

func TestSnapshotCollapsesSignIntoSide(t *testing.T) {
	tr := NewTracker()
	pos := tr.RecordFill(fill(types.SideSell, "100", "2"))

	snap := pos.Snapshot(dec("105"))
	if snap.Side != types.PositionShort {
		t.Errorf("side = %s, want short", snap.Side)
	}
	if snap.Size != 2 {
		t.Errorf("size = %v, want 2", snap.Size)
	}
	if snap.Notional != 210 {
		t.Errorf("notional = %v, want 210", snap.Notional)
	}
}
