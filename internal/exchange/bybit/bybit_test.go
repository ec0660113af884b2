package bybit

import (
	"encoding/json"
	"testing"

	"github.com/marketpulse/pipeline/internal/types"
)

func TestSymbolRoundTrip(t *testing.T) {
	a := New()
	cases := []types.Symbol{
		types.NewSymbol("BTC", "USDT"),
		types.NewSymbol("ETH", "USDT"),
		types.NewSymbol("SOL", "USDC"),
	}
	for _, symbol := range cases {
		native, err := a.ToNative(symbol, types.TradingLinear)
		if err != nil {
			t.Fatalf("ToNative(%s): %v", symbol, err)
		}
		back, err := a.FromNative(native, types.TradingLinear)
		if err != nil {
			t.Fatalf("FromNative(%s): %v", native, err)
		}
		if back != symbol {
			t.Errorf("round trip mismatch: %s -> %s -> %s", symbol, native, back)
		}
	}
}

func TestBuildSubscribeTopic(t *testing.T) {
	a := New()
	frame, err := a.BuildSubscribe(types.NewSymbol("BTC", "USDT"), types.DataTrade)
	if err != nil {
		t.Fatalf("BuildSubscribe: %v", err)
	}
	var req opRequest
	if err := json.Unmarshal([]byte(frame.Text), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Op != "subscribe" || len(req.Args) != 1 || req.Args[0] != "publicTrade.BTCUSDT" {
		t.Errorf("unexpected subscribe request: %+v", req)
	}
}

func TestHeartbeatFrameIsPing(t *testing.T) {
	a := New()
	frame, ok := a.HeartbeatFrame()
	if !ok {
		t.Fatal("bybit adapter should emit an explicit ping heartbeat")
	}
	var req opRequest
	if err := json.Unmarshal([]byte(frame.Text), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Op != "ping" {
		t.Errorf("heartbeat op = %q, want ping", req.Op)
	}
}

func TestDecodeTickerWithFunding(t *testing.T) {
	a := New()
	raw := []byte(`{"topic":"tickers.BTCUSDT","type":"snapshot","ts":1700000000000,"data":{"symbol":"BTCUSDT","lastPrice":"65000.5","bid1Price":"65000","bid1Size":"1","ask1Price":"65001","ask1Size":"2","fundingRate":"0.0001","markPrice":"65000.1","indexPrice":"65000.2","nextFundingTime":"1700001000000"}}`)
	result, err := a.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if result.Event == nil || result.Event.Type != types.EventFundingRate {
		t.Fatalf("expected a funding rate event, got %+v", result)
	}
	if result.Event.FundingRate.Symbol != types.NewSymbol("BTC", "USDT") {
		t.Errorf("symbol = %s", result.Event.FundingRate.Symbol)
	}
}

func TestDecodePongIsControl(t *testing.T) {
	a := New()
	result, err := a.Decode([]byte(`{"op":"pong"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !result.IsControl {
		t.Error("pong should decode as a control frame")
	}
}
