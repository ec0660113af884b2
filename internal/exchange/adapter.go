// Package exchange defines the exchange adapter capability:
// per-venue symbol encoding, subscribe/unsubscribe framing, heartbeat
// idiom, and raw-frame decoding into the common MarketEvent union. Concrete
// venues live in the binance/bybit/okx/deribit subpackages; SessionManager
// only ever talks to the Adapter interface, never to a raw frame.
package exchange

import (
	"fmt"

	"github.com/marketpulse/pipeline/internal/types"
)

// Frame is an outbound wire message an adapter has already encoded. Most
// exchanges speak JSON text frames; the concrete bytes are opaque to the
// session layer.
type Frame struct {
	Text   string
	Binary bool
}

// TextFrame builds a text Frame.
func TextFrame(s string) Frame { return Frame{Text: s} }

// DecodeResult is what Adapter.Decode returns for a single raw frame.
// Exactly one of Event/IsControl is meaningful: a control frame (pong,
// subscription ack) yields IsControl=true and no event.
type DecodeResult struct {
	Event     *types.MarketEvent
	IsControl bool
}

// Adapter is the per-exchange capability set. New
// exchanges plug in by implementing this interface; SessionManager never
// inspects raw frames itself.
type Adapter interface {
	// Name is the short exchange identifier used as a cache/log key, e.g.
	// "binance".
	Name() string

	// WSURL returns the WebSocket endpoint for the given trading type.
	WSURL(tradingType types.TradingType) (string, error)

	// BuildSubscribe encodes a subscribe request for (symbol, dataType).
	BuildSubscribe(symbol types.Symbol, dataType types.DataType) (Frame, error)

	// BuildUnsubscribe encodes an unsubscribe request.
	BuildUnsubscribe(symbol types.Symbol, dataType types.DataType) (Frame, error)

	// HeartbeatFrame returns the keep-alive frame to send on the heartbeat
	// tick, or ok=false if this adapter relies on protocol-level ping
	// instead (e.g. Binance).
	HeartbeatFrame() (frame Frame, ok bool)

	// Decode parses one raw inbound frame. A decode failure is returned as
	// an error (types.ErrDecode); pong/ack frames decode to
	// DecodeResult{IsControl: true} and must never surface as an event.
	Decode(raw []byte) (DecodeResult, error)

	// ToNative converts a canonical Symbol to this exchange's wire form.
	ToNative(symbol types.Symbol, tradingType types.TradingType) (string, error)

	// FromNative converts this exchange's wire symbol back to canonical
	// form. Must satisfy I1: FromNative(ToNative(s)) == s.
	FromNative(native string, tradingType types.TradingType) (types.Symbol, error)
}

// ErrUnsupportedDataType is returned by BuildSubscribe/BuildUnsubscribe for
// a dataType the adapter does not carry.
func ErrUnsupportedDataType(exchange string, dt types.DataType) error {
	return fmt.Errorf("%s: unsupported data type %q", exchange, dt)
}

// KnownQuotes is the ordered list Binance/Bybit-style concatenated native
// symbols are reverse-matched against.
var KnownQuotes = []string{"USDT", "BUSD", "USDC", "BTC", "ETH", "BNB", "USD"}

// SplitConcatenated reverse-matches a concatenated native symbol (e.g.
// "BTCUSDT") against KnownQuotes, returning (base, quote, ok).
func SplitConcatenated(native string) (base, quote string, ok bool) {
	for _, q := range KnownQuotes {
		if len(native) > len(q) && native[len(native)-len(q):] == q {
			return native[:len(native)-len(q)], q, true
		}
	}
	return "", "", false
}
