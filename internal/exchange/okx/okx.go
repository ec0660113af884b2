// Package okx implements the OKX V5 public WebSocket ExchangeAdapter: the
// {"op":"subscribe","args":[{"channel":...,"instId":...}]} envelope, the
// plain-text "ping"/"pong" heartbeat, and OKX's dash-separated native
// symbols ("BTC-USDT"), which split trivially without the reverse-quote
// matching Binance/Bybit require.
package okx

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/marketpulse/pipeline/internal/exchange"
	"github.com/marketpulse/pipeline/internal/types"
)

func init() {
	exchange.Register("okx", func() exchange.Adapter { return New() })
}

const publicWSURL = "wss://ws.okx.com:8443/ws/v5/public"

// Adapter implements exchange.Adapter for OKX spot and swap (futures).
type Adapter struct{}

// New constructs an OKX adapter.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "okx" }

func (a *Adapter) WSURL(types.TradingType) (string, error) { return publicWSURL, nil }

func (a *Adapter) instID(symbol types.Symbol, tradingType types.TradingType) string {
	native, _ := a.ToNative(symbol, tradingType)
	if tradingType == types.TradingFutures || tradingType == types.TradingLinear || tradingType == types.TradingInverse {
		return native + "-SWAP"
	}
	return native
}

func (a *Adapter) channel(dataType types.DataType) (string, error) {
	switch dataType {
	case types.DataTicker:
		return "tickers", nil
	case types.DataDepth:
		return "books5", nil
	case types.DataTrade:
		return "trades", nil
	case types.DataFundingRate:
		return "funding-rate", nil
	case types.DataKline:
		return "candle1m", nil
	default:
		return "", exchange.ErrUnsupportedDataType("okx", dataType)
	}
}

type argObj struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type opRequest struct {
	Op   string   `json:"op"`
	Args []argObj `json:"args"`
}

func (a *Adapter) tradingTypeFor(dataType types.DataType) types.TradingType {
	if dataType == types.DataFundingRate {
		return types.TradingFutures
	}
	return types.TradingSpot
}

func (a *Adapter) BuildSubscribe(symbol types.Symbol, dataType types.DataType) (exchange.Frame, error) {
	ch, err := a.channel(dataType)
	if err != nil {
		return exchange.Frame{}, err
	}
	inst := a.instID(symbol, a.tradingTypeFor(dataType))
	b, err := json.Marshal(opRequest{Op: "subscribe", Args: []argObj{{Channel: ch, InstID: inst}}})
	if err != nil {
		return exchange.Frame{}, err
	}
	return exchange.TextFrame(string(b)), nil
}

func (a *Adapter) BuildUnsubscribe(symbol types.Symbol, dataType types.DataType) (exchange.Frame, error) {
	ch, err := a.channel(dataType)
	if err != nil {
		return exchange.Frame{}, err
	}
	inst := a.instID(symbol, a.tradingTypeFor(dataType))
	b, err := json.Marshal(opRequest{Op: "unsubscribe", Args: []argObj{{Channel: ch, InstID: inst}}})
	if err != nil {
		return exchange.Frame{}, err
	}
	return exchange.TextFrame(string(b)), nil
}

// HeartbeatFrame: OKX expects a bare text "ping" (not JSON), answered with a
// bare text "pong".
func (a *Adapter) HeartbeatFrame() (exchange.Frame, bool) {
	return exchange.TextFrame("ping"), true
}

type pushEnvelope struct {
	Arg  argObj          `json:"arg"`
	Data json.RawMessage `json:"data"`
	Event string         `json:"event"`
}

type tickerData struct {
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	BidPx     string `json:"bidPx"`
	BidSz     string `json:"bidSz"`
	AskPx     string `json:"askPx"`
	AskSz     string `json:"askSz"`
	Open24h   string `json:"open24h"`
	High24h   string `json:"high24h"`
	Low24h    string `json:"low24h"`
	Vol24h    string `json:"vol24h"`
	VolCcy24h string `json:"volCcy24h"`
	TS        string `json:"ts"`
}

type booksData struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
	TS   string     `json:"ts"`
}

type tradeData struct {
	InstID string `json:"instId"`
	TradeID string `json:"tradeId"`
	Px     string `json:"px"`
	Sz     string `json:"sz"`
	Side   string `json:"side"`
	TS     string `json:"ts"`
}

type fundingData struct {
	InstID          string `json:"instId"`
	FundingRate     string `json:"fundingRate"`
	NextFundingTime string `json:"nextFundingTime"`
	TS              string `json:"ts"`
}

type candleEntry [9]string

func parseDec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTS(s string) int64 {
	d := parseDec(s)
	return d.IntPart()
}

func (a *Adapter) Decode(raw []byte) (exchange.DecodeResult, error) {
	if string(raw) == "pong" || string(raw) == "ping" {
		return exchange.DecodeResult{IsControl: true}, nil
	}

	var env pushEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return exchange.DecodeResult{}, fmt.Errorf("okx: decode envelope: %w", err)
	}
	if env.Event != "" || env.Data == nil {
		return exchange.DecodeResult{IsControl: true}, nil
	}

	switch env.Arg.Channel {
	case "tickers":
		var items []tickerData
		if err := json.Unmarshal(env.Data, &items); err != nil || len(items) == 0 {
			return exchange.DecodeResult{}, fmt.Errorf("okx: decode ticker: %w", err)
		}
		d := items[0]
		symbol, err := a.FromNative(d.InstID, types.TradingSpot)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		event := types.TickerEvent(types.Ticker{
			Base:        types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: parseTS(d.TS)},
			Last:        parseDec(d.Last),
			Bid:         parseDec(d.BidPx),
			BidSize:     parseDec(d.BidSz),
			Ask:         parseDec(d.AskPx),
			AskSize:     parseDec(d.AskSz),
			Open:        parseDec(d.Open24h),
			High:        parseDec(d.High24h),
			Low:         parseDec(d.Low24h),
			Volume:      parseDec(d.Vol24h),
			QuoteVolume: parseDec(d.VolCcy24h),
		})
		return exchange.DecodeResult{Event: &event}, nil

	case "books5", "books":
		var items []booksData
		if err := json.Unmarshal(env.Data, &items); err != nil || len(items) == 0 {
			return exchange.DecodeResult{}, fmt.Errorf("okx: decode books: %w", err)
		}
		d := items[0]
		symbol, err := a.FromNative(strings.TrimSuffix(env.Arg.InstID, "-SWAP"), types.TradingSpot)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		event := types.DepthEvent(types.Depth{
			Base: types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: parseTS(d.TS)},
			Bids: levels(d.Bids),
			Asks: levels(d.Asks),
		})
		return exchange.DecodeResult{Event: &event}, nil

	case "trades":
		var items []tradeData
		if err := json.Unmarshal(env.Data, &items); err != nil || len(items) == 0 {
			return exchange.DecodeResult{}, fmt.Errorf("okx: decode trade: %w", err)
		}
		d := items[0]
		symbol, err := a.FromNative(d.InstID, types.TradingSpot)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		side := types.SideBuy
		if strings.EqualFold(d.Side, "sell") {
			side = types.SideSell
		}
		event := types.TradeEvent(types.Trade{
			Base:    types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: parseTS(d.TS)},
			TradeID: d.TradeID,
			Price:   parseDec(d.Px),
			Amount:  parseDec(d.Sz),
			Side:    side,
		})
		return exchange.DecodeResult{Event: &event}, nil

	case "funding-rate":
		var items []fundingData
		if err := json.Unmarshal(env.Data, &items); err != nil || len(items) == 0 {
			return exchange.DecodeResult{}, fmt.Errorf("okx: decode funding: %w", err)
		}
		d := items[0]
		symbol, err := a.FromNative(strings.TrimSuffix(d.InstID, "-SWAP"), types.TradingFutures)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		event := types.FundingRateEvent(types.FundingRate{
			Base:            types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: parseTS(d.TS)},
			Rate:            parseDec(d.FundingRate),
			NextFundingTime: parseTS(d.NextFundingTime),
		})
		return exchange.DecodeResult{Event: &event}, nil

	case "candle1m":
		var items []candleEntry
		if err := json.Unmarshal(env.Data, &items); err != nil || len(items) == 0 {
			return exchange.DecodeResult{}, fmt.Errorf("okx: decode candle: %w", err)
		}
		c := items[0]
		symbol, err := a.FromNative(strings.TrimSuffix(env.Arg.InstID, "-SWAP"), types.TradingSpot)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		openTime := parseTS(c[0])
		event := types.KlineEvent(types.Kline{
			Base:        types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: openTime},
			Interval:    "1m",
			OpenTime:    openTime,
			Open:        parseDec(c[1]),
			High:        parseDec(c[2]),
			Low:         parseDec(c[3]),
			Close:       parseDec(c[4]),
			Volume:      parseDec(c[5]),
			QuoteVolume: parseDec(c[7]),
			IsClosed:    c[8] == "1",
		})
		return exchange.DecodeResult{Event: &event}, nil
	}

	return exchange.DecodeResult{IsControl: true}, nil
}

func levels(raw [][]string) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(raw))
	for _, l := range raw {
		if len(l) < 2 {
			continue
		}
		out = append(out, types.PriceLevel{Price: parseDec(l[0]), Amount: parseDec(l[1])})
	}
	return out
}

func (a *Adapter) ToNative(symbol types.Symbol, _ types.TradingType) (string, error) {
	return strings.ToUpper(symbol.Base()) + "-" + strings.ToUpper(symbol.Quote()), nil
}

func (a *Adapter) FromNative(native string, _ types.TradingType) (types.Symbol, error) {
	native = strings.TrimSuffix(strings.ToUpper(native), "-SWAP")
	base, quote, ok := strings.Cut(native, "-")
	if !ok {
		return "", fmt.Errorf("okx: cannot split native symbol %q", native)
	}
	return types.NewSymbol(base, quote), nil
}
