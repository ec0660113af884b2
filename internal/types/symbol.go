// Package types holds the data model shared by every component of the
// market-data and risk pipeline: canonical symbols, the market-event tagged
// union, session/account/position snapshots, and the error taxonomy.
package types

import "strings"

// Symbol is the canonical BASE/QUOTE form used as the sole cross-component
// key, e.g. "BTC/USDT". Adapters own the bidirectional mapping to their own
// native form.
type Symbol string

// Base returns the base asset of a canonical symbol, e.g. "BTC" for
// "BTC/USDT". Returns the whole string if it does not contain a slash.
func (s Symbol) Base() string {
	base, _, ok := strings.Cut(string(s), "/")
	if !ok {
		return string(s)
	}
	return base
}

// Quote returns the quote asset of a canonical symbol, e.g. "USDT" for
// "BTC/USDT".
func (s Symbol) Quote() string {
	_, quote, ok := strings.Cut(string(s), "/")
	if !ok {
		return ""
	}
	return quote
}

// NewSymbol builds a canonical Symbol from a base and quote asset.
func NewSymbol(base, quote string) Symbol {
	return Symbol(strings.ToUpper(base) + "/" + strings.ToUpper(quote))
}

// TradingType distinguishes the venue market an adapter talks to.
type TradingType string

const (
	TradingSpot    TradingType = "spot"
	TradingFutures TradingType = "futures"
	TradingLinear  TradingType = "linear"
	TradingInverse TradingType = "inverse"
)

// DataType enumerates the market-data channels a SubscriptionKey can name.
type DataType string

const (
	DataTicker      DataType = "ticker"
	DataDepth       DataType = "depth"
	DataTrade       DataType = "trade"
	DataFundingRate DataType = "fundingRate"
	DataKline       DataType = "kline"
)

// Side is the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PositionSide is long or short, independent of Side (a trade aggressor
// side).
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// SubscriptionKey identifies a subscribed stream within one exchange
// session. Membership in a set, not a list: duplicate subscribes are
// idempotent (I-nvariant carried by SessionManager, not by this type).
type SubscriptionKey struct {
	DataType DataType
	Symbol   Symbol
}

func (k SubscriptionKey) String() string {
	return string(k.DataType) + ":" + string(k.Symbol)
}
