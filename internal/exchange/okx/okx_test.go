package okx

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
		types.NewSymbol("LTC", "USDC"),
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

func TestInstIDAppendsSwapSuffixForFutures(t *testing.T) {
	a := New()
	inst := a.instID(types.NewSymbol("BTC", "USDT"), types.TradingFutures)
	if inst != "BTC-USDT-SWAP" {
		t.Errorf("instID = %q, want BTC-USDT-SWAP", inst)
	}
}

func TestBuildSubscribeEnvelope(t *testing.T) {
	a := New()
	frame, err := a.BuildSubscribe(types.NewSymbol("BTC", "USDT"), types.DataTicker)
	if err != nil {
		t.Fatalf("BuildSubscribe: %v", err)
	}
	var req opRequest
	if err := json.Unmarshal([]byte(frame.Text), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Op != "subscribe" || len(req.Args) != 1 || req.Args[0].Channel != "tickers" || req.Args[0].InstID != "BTC-USDT" {
		t.Errorf("unexpected subscribe request: %+v", req)
	}
}

func TestHeartbeatFrameIsBarePing(t *testing.T) {
	a := New()
	frame, ok := a.HeartbeatFrame()
	if !ok || frame.Text != "ping" {
		t.Errorf("heartbeat frame = %+v, want bare text ping", frame)
	}
}

func TestDecodePongIsControl(t *testing.T) {
	a := New()
	result, err := a.Decode([]byte("pong"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !result.IsControl {
		t.Error("pong should decode as a control frame")
	}
}

func TestDecodeTicker(t *testing.T) {
	a := New()
	raw := []byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"65000.5","bidPx":"65000","bidSz":"1","askPx":"65001","askSz":"2","open24h":"64000","high24h":"66000","low24h":"63500","vol24h":"1000","volCcy24h":"65000000","ts":"1700000000000"}]}`)
	result, err := a.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if result.Event == nil || result.Event.Type != types.EventTicker {
		t.Fatalf("expected a ticker event, got %+v", result)
	}
	if result.Event.Ticker.Symbol != types.NewSymbol("BTC", "USDT") {
		t.Errorf("symbol = %s", result.Event.Ticker.Symbol)
	}
}
