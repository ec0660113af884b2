package types

import "github.com/shopspring/decimal"

// PriceLevel is one (price, amount) entry in a depth snapshot.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// EventType tags the MarketEvent variant carried by an Envelope.
type EventType string

const (
	EventTicker      EventType = "ticker"
	EventDepth       EventType = "depth"
	EventTrade       EventType = "trade"
	EventFundingRate EventType = "fundingRate"
	EventKline       EventType = "kline"
)

// Base carries the fields every MarketEvent variant has in common.
type Base struct {
	Exchange          string    `json:"exchange"`
	Symbol            Symbol    `json:"symbol"`
	ExchangeTimestamp int64     `json:"exchangeTimestamp"`
	LocalTimestamp    int64     `json:"localTimestamp"`
	UnifiedTimestamp  int64     `json:"unifiedTimestamp"`
	Type              EventType `json:"type"`
}

// Ticker is a best-bid/ask + 24h-stats snapshot for a symbol.
type Ticker struct {
	Base
	Last          decimal.Decimal  `json:"last"`
	Bid           decimal.Decimal  `json:"bid"`
	BidSize       decimal.Decimal  `json:"bidSize"`
	Ask           decimal.Decimal  `json:"ask"`
	AskSize       decimal.Decimal  `json:"askSize"`
	Open          decimal.Decimal  `json:"open"`
	High          decimal.Decimal  `json:"high"`
	Low           decimal.Decimal  `json:"low"`
	Volume        decimal.Decimal  `json:"volume"`
	QuoteVolume   decimal.Decimal  `json:"quoteVolume"`
	Change        decimal.Decimal  `json:"change"`
	ChangePercent decimal.Decimal  `json:"changePercent"`
	FundingRate   *decimal.Decimal `json:"fundingRate,omitempty"`
}

// Depth is a full orderbook snapshot (not an incremental delta). Bids are
// sorted descending by price, asks ascending.
type Depth struct {
	Base
	Bids []PriceLevel `json:"bids"`
	Asks []PriceLevel `json:"asks"`
}

// Trade is a single executed trade print.
type Trade struct {
	Base
	TradeID string          `json:"tradeId"`
	Price   decimal.Decimal `json:"price"`
	Amount  decimal.Decimal `json:"amount"`
	Side    Side            `json:"side"`
}

// FundingRate is a perpetual-swap funding update.
type FundingRate struct {
	Base
	MarkPrice       decimal.Decimal `json:"markPrice"`
	IndexPrice      decimal.Decimal `json:"indexPrice"`
	Rate            decimal.Decimal `json:"fundingRate"`
	NextFundingTime int64           `json:"nextFundingTime"`
}

// Kline is one OHLCV candle.
type Kline struct {
	Base
	Interval    string          `json:"interval"`
	OpenTime    int64           `json:"openTime"`
	CloseTime   int64           `json:"closeTime"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quoteVolume"`
	Trades      int64           `json:"trades"`
	IsClosed    bool            `json:"isClosed"`
}

// MarketEvent is the tagged union adapters decode raw frames into. Exactly
// one of the typed fields is non-nil, matching Type.
type MarketEvent struct {
	Type        EventType
	Ticker      *Ticker
	Depth       *Depth
	Trade       *Trade
	FundingRate *FundingRate
	Kline       *Kline
}

// EventBase returns the common Base fields regardless of variant.
func (e MarketEvent) EventBase() Base {
	switch e.Type {
	case EventTicker:
		return e.Ticker.Base
	case EventDepth:
		return e.Depth.Base
	case EventTrade:
		return e.Trade.Base
	case EventFundingRate:
		return e.FundingRate.Base
	case EventKline:
		return e.Kline.Base
	default:
		return Base{}
	}
}

// TickerEvent wraps a Ticker as a MarketEvent.
func TickerEvent(t Ticker) MarketEvent { t.Type = EventTicker; return MarketEvent{Type: EventTicker, Ticker: &t} }

// DepthEvent wraps a Depth as a MarketEvent.
func DepthEvent(d Depth) MarketEvent { d.Type = EventDepth; return MarketEvent{Type: EventDepth, Depth: &d} }

// TradeEvent wraps a Trade as a MarketEvent.
func TradeEvent(t Trade) MarketEvent { t.Type = EventTrade; return MarketEvent{Type: EventTrade, Trade: &t} }

// FundingRateEvent wraps a FundingRate as a MarketEvent.
func FundingRateEvent(f FundingRate) MarketEvent {
	f.Type = EventFundingRate
	return MarketEvent{Type: EventFundingRate, FundingRate: &f}
}

// KlineEvent wraps a Kline as a MarketEvent.
func KlineEvent(k Kline) MarketEvent { k.Type = EventKline; return MarketEvent{Type: EventKline, Kline: &k} }
