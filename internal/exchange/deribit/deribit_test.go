package deribit

import (
	"encoding/json"
	"testing"

	"github.com/marketpulse/pipeline/internal/types"
)

func TestSymbolRoundTrip(t *testing.T) {
	a := New()
	cases := []types.Symbol{
		types.NewSymbol("BTC", "USD"),
		types.NewSymbol("ETH", "USD"),
	}
	for _, symbol := range cases {
		native, err := a.ToNative(symbol, types.TradingFutures)
		if err != nil {
			t.Fatalf("ToNative(%s): %v", symbol, err)
		}
		back, err := a.FromNative(native, types.TradingFutures)
		if err != nil {
			t.Fatalf("FromNative(%s): %v", native, err)
		}
		if back != symbol {
			t.Errorf("round trip mismatch: %s -> %s -> %s", symbol, native, back)
		}
	}
}

func TestInstrumentNaming(t *testing.T) {
	a := New()
	if got := a.instrument(types.NewSymbol("BTC", "USD")); got != "BTC-PERPETUAL" {
		t.Errorf("instrument = %q, want BTC-PERPETUAL", got)
	}
}

func TestBuildSubscribeChannel(t *testing.T) {
	a := New()
	frame, err := a.BuildSubscribe(types.NewSymbol("BTC", "USD"), types.DataTicker)
	if err != nil {
		t.Fatalf("BuildSubscribe: %v", err)
	}
	var req rpcRequest
	if err := json.Unmarshal([]byte(frame.Text), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Method != "public/subscribe" || len(req.Params.Channels) != 1 || req.Params.Channels[0] != "ticker.BTC-PERPETUAL.100ms" {
		t.Errorf("unexpected subscribe request: %+v", req)
	}
}

func TestHeartbeatFrameIsPublicTest(t *testing.T) {
	a := New()
	frame, ok := a.HeartbeatFrame()
	if !ok {
		t.Fatal("deribit adapter should emit a heartbeat frame")
	}
	var req rpcRequest
	if err := json.Unmarshal([]byte(frame.Text), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Method != "public/test" {
		t.Errorf("heartbeat method = %q, want public/test", req.Method)
	}
}

func TestDecodeTickerNotification(t *testing.T) {
	a := New()
	raw := []byte(`{"method":"subscription","params":{"channel":"ticker.BTC-PERPETUAL.100ms","data":{"instrument_name":"BTC-PERPETUAL","last_price":65000.5,"best_bid_price":65000,"best_bid_amount":1,"best_ask_price":65001,"best_ask_amount":2,"current_funding":0.0001,"mark_price":65000.1,"index_price":65000.2,"timestamp":1700000000000}}}`)
	result, err := a.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if result.Event == nil || result.Event.Type != types.EventTicker {
		t.Fatalf("expected a ticker event, got %+v", result)
	}
	if result.Event.Ticker.Symbol != types.NewSymbol("BTC", "USD") {
		t.Errorf("symbol = %s", result.Event.Ticker.Symbol)
	}
	if result.Event.Ticker.FundingRate == nil {
		t.Error("expected FundingRate to be populated on the ticker")
	}
}

func TestDecodeRPCAckIsControl(t *testing.T) {
	a := New()
	result, err := a.Decode([]byte(`{"jsonrpc":"2.0","id":2,"result":["ticker.BTC-PERPETUAL.100ms"]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !result.IsControl {
		t.Error("rpc ack should decode as a control frame")
	}
}
