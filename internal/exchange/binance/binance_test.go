package binance

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/marketpulse/pipeline/internal/types"
)

func TestSymbolRoundTrip(t *testing.T) {
	a := New()
	cases := []types.Symbol{
		types.NewSymbol("BTC", "USDT"),
		types.NewSymbol("ETH", "USDT"),
		types.NewSymbol("SOL", "BUSD"),
		types.NewSymbol("ETH", "BTC"),
	}
	for _, symbol := range cases {
		native, err := a.ToNative(symbol, types.TradingSpot)
		if err != nil {
			t.Fatalf("ToNative(%s): %v", symbol, err)
		}
		back, err := a.FromNative(native, types.TradingSpot)
		if err != nil {
			t.Fatalf("FromNative(%s): %v", native, err)
		}
		if back != symbol {
			t.Errorf("round trip mismatch: %s -> %s -> %s", symbol, native, back)
		}
	}
}

func TestBuildSubscribeFraming(t *testing.T) {
	a := New()
	frame, err := a.BuildSubscribe(types.NewSymbol("BTC", "USDT"), types.DataTicker)
	if err != nil {
		t.Fatalf("BuildSubscribe: %v", err)
	}
	var req subscribeRequest
	if err := json.Unmarshal([]byte(frame.Text), &req); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if req.Method != "SUBSCRIBE" {
		t.Errorf("method = %q, want SUBSCRIBE", req.Method)
	}
	if len(req.Params) != 1 || req.Params[0] != "btcusdt@ticker" {
		t.Errorf("params = %v, want [btcusdt@ticker]", req.Params)
	}
}

func TestHeartbeatFrameDisabled(t *testing.T) {
	a := New()
	if _, ok := a.HeartbeatFrame(); ok {
		t.Error("binance adapter should not emit an application heartbeat frame")
	}
}

func TestDecodeCombinedTicker(t *testing.T) {
	a := New()
	raw := []byte(`{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","E":1700000000000,"s":"BTCUSDT","c":"65000.50","b":"65000.00","B":"1.5","a":"65001.00","A":"2.0","o":"64000.00","h":"66000.00","l":"63500.00","v":"1000.0","q":"65000000.0","p":"1000.50","P":"1.56"}}`)
	result, err := a.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if result.IsControl || result.Event == nil {
		t.Fatal("expected a ticker event")
	}
	if result.Event.Type != types.EventTicker {
		t.Fatalf("event type = %v, want ticker", result.Event.Type)
	}
	if got := result.Event.Ticker.Symbol; got != types.NewSymbol("BTC", "USDT") {
		t.Errorf("symbol = %s, want BTC/USDT", got)
	}
	want, _ := decimal.NewFromString("65000.50")
	if !result.Event.Ticker.Last.Equal(want) {
		t.Errorf("last = %s, want 65000.50", result.Event.Ticker.Last)
	}
}

func TestDecodeCombinedDepthSnapshot(t *testing.T) {
	a := New()
	raw := []byte(`{"stream":"btcusdt@depth20@100ms","data":{"lastUpdateId":123,"bids":[["65000.00","1.5"]],"asks":[["65001.00","2.0"]]}}`)
	result, err := a.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if result.IsControl || result.Event == nil {
		t.Fatal("expected a depth event")
	}
	if result.Event.Type != types.EventDepth {
		t.Fatalf("event type = %v, want depth", result.Event.Type)
	}
	if got := result.Event.Depth.Symbol; got != types.NewSymbol("BTC", "USDT") {
		t.Errorf("symbol = %s, want BTC/USDT", got)
	}
	if len(result.Event.Depth.Bids) != 1 || len(result.Event.Depth.Asks) != 1 {
		t.Fatalf("bids/asks = %v/%v, want 1/1", result.Event.Depth.Bids, result.Event.Depth.Asks)
	}
}

func TestDecodeSubscribeAckIsControl(t *testing.T) {
	a := New()
	result, err := a.Decode([]byte(`{"result":null,"id":2}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !result.IsControl || result.Event != nil {
		t.Error("subscribe ack should decode as a control frame")
	}
}
