// Package binance implements the Binance ExchangeAdapter: combined-stream
// subscribe framing, 24hr-ticker/trade/depth-snapshot/kline/markPrice
// decoding, and the concatenated-native-symbol convention
// ("btcusdt@ticker" stream names, reverse symbol match against
// exchange.KnownQuotes).
package binance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/marketpulse/pipeline/internal/exchange"
	"github.com/marketpulse/pipeline/internal/types"
)

func init() {
	exchange.Register("binance", func() exchange.Adapter { return New() })
}

const (
	spotWSURL    = "wss://stream.binance.com:9443/ws"
	futuresWSURL = "wss://fstream.binance.com/ws"
)

// Adapter implements exchange.Adapter for Binance spot and USDT-M futures.
type Adapter struct {
	nextID int64
}

// New constructs a Binance adapter.
func New() *Adapter { return &Adapter{nextID: 1} }

func (a *Adapter) Name() string { return "binance" }

func (a *Adapter) WSURL(tradingType types.TradingType) (string, error) {
	switch tradingType {
	case "", types.TradingSpot:
		return spotWSURL, nil
	case types.TradingFutures:
		return futuresWSURL, nil
	default:
		return "", fmt.Errorf("binance: unsupported trading type %q", tradingType)
	}
}

func (a *Adapter) streamChannel(dataType types.DataType) (string, error) {
	switch dataType {
	case types.DataTicker:
		return "ticker", nil
	case types.DataDepth:
		return "depth20@100ms", nil
	case types.DataTrade:
		return "trade", nil
	case types.DataFundingRate:
		return "markPrice", nil
	case types.DataKline:
		return "kline_1m", nil
	default:
		return "", exchange.ErrUnsupportedDataType("binance", dataType)
	}
}

func (a *Adapter) streamName(symbol types.Symbol, dataType types.DataType) (string, error) {
	native, err := a.ToNative(symbol, types.TradingSpot)
	if err != nil {
		return "", err
	}
	channel, err := a.streamChannel(dataType)
	if err != nil {
		return "", err
	}
	return strings.ToLower(native) + "@" + channel, nil
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (a *Adapter) BuildSubscribe(symbol types.Symbol, dataType types.DataType) (exchange.Frame, error) {
	stream, err := a.streamName(symbol, dataType)
	if err != nil {
		return exchange.Frame{}, err
	}
	a.nextID++
	b, err := json.Marshal(subscribeRequest{Method: "SUBSCRIBE", Params: []string{stream}, ID: a.nextID})
	if err != nil {
		return exchange.Frame{}, err
	}
	return exchange.TextFrame(string(b)), nil
}

func (a *Adapter) BuildUnsubscribe(symbol types.Symbol, dataType types.DataType) (exchange.Frame, error) {
	stream, err := a.streamName(symbol, dataType)
	if err != nil {
		return exchange.Frame{}, err
	}
	a.nextID++
	b, err := json.Marshal(subscribeRequest{Method: "UNSUBSCRIBE", Params: []string{stream}, ID: a.nextID})
	if err != nil {
		return exchange.Frame{}, err
	}
	return exchange.TextFrame(string(b)), nil
}

// HeartbeatFrame: Binance keeps sessions alive with protocol-level WebSocket
// ping/pong handled by the session transport, not an application frame.
func (a *Adapter) HeartbeatFrame() (exchange.Frame, bool) { return exchange.Frame{}, false }

type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type eventEnvelope struct {
	EventType string `json:"e"`
}

type wsTicker struct {
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	LastPrice   string `json:"c"`
	BidPrice    string `json:"b"`
	BidQty      string `json:"B"`
	AskPrice    string `json:"a"`
	AskQty      string `json:"A"`
	OpenPrice   string `json:"o"`
	HighPrice   string `json:"h"`
	LowPrice    string `json:"l"`
	Volume      string `json:"v"`
	QuoteVolume string `json:"q"`
	PriceChange string `json:"p"`
	ChangePct   string `json:"P"`
}

type wsTrade struct {
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	IsSeller  bool   `json:"m"` // true if buyer is market maker -> aggressor sold
}

type wsDepthSnapshot struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type wsMarkPrice struct {
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	IndexPrice      string `json:"i"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

type wsKline struct {
	EventTime int64 `json:"E"`
	K         struct {
		Symbol      string `json:"s"`
		Interval    string `json:"i"`
		OpenTime    int64  `json:"t"`
		CloseTime   int64  `json:"T"`
		Open        string `json:"o"`
		High        string `json:"h"`
		Low         string `json:"l"`
		Close       string `json:"c"`
		Volume      string `json:"v"`
		QuoteVolume string `json:"q"`
		Trades      int64  `json:"n"`
		IsClosed    bool   `json:"x"`
	} `json:"k"`
}

func parseDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a *Adapter) Decode(raw []byte) (exchange.DecodeResult, error) {
	body := raw
	var stream string
	if env := (combinedEnvelope{}); json.Unmarshal(raw, &env) == nil && env.Stream != "" {
		body = env.Data
		stream = env.Stream
	}

	var sub struct {
		Result json.RawMessage `json:"result"`
		ID     json.RawMessage `json:"id"`
		Bids   json.RawMessage `json:"bids"`
	}
	if err := json.Unmarshal(body, &sub); err == nil && sub.ID != nil && sub.Bids == nil {
		// Subscribe/unsubscribe ack: {"result":null,"id":1}.
		return exchange.DecodeResult{IsControl: true}, nil
	}

	var ev eventEnvelope
	_ = json.Unmarshal(body, &ev)

	switch {
	case ev.EventType == "24hrTicker":
		var t wsTicker
		if err := json.Unmarshal(body, &t); err != nil {
			return exchange.DecodeResult{}, fmt.Errorf("binance: decode ticker: %w", err)
		}
		symbol, err := a.FromNative(t.Symbol, types.TradingSpot)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		event := types.TickerEvent(types.Ticker{
			Base:          types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: t.EventTime},
			Last:          parseDec(t.LastPrice),
			Bid:           parseDec(t.BidPrice),
			BidSize:       parseDec(t.BidQty),
			Ask:           parseDec(t.AskPrice),
			AskSize:       parseDec(t.AskQty),
			Open:          parseDec(t.OpenPrice),
			High:          parseDec(t.HighPrice),
			Low:           parseDec(t.LowPrice),
			Volume:        parseDec(t.Volume),
			QuoteVolume:   parseDec(t.QuoteVolume),
			Change:        parseDec(t.PriceChange),
			ChangePercent: parseDec(t.ChangePct),
		})
		return exchange.DecodeResult{Event: &event}, nil

	case ev.EventType == "trade":
		var tr wsTrade
		if err := json.Unmarshal(body, &tr); err != nil {
			return exchange.DecodeResult{}, fmt.Errorf("binance: decode trade: %w", err)
		}
		symbol, err := a.FromNative(tr.Symbol, types.TradingSpot)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		side := types.SideBuy
		if tr.IsSeller {
			side = types.SideSell
		}
		event := types.TradeEvent(types.Trade{
			Base:    types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: tr.EventTime},
			TradeID: fmt.Sprintf("%d", tr.TradeID),
			Price:   parseDec(tr.Price),
			Amount:  parseDec(tr.Qty),
			Side:    side,
		})
		return exchange.DecodeResult{Event: &event}, nil

	case ev.EventType == "markPriceUpdate":
		var mp wsMarkPrice
		if err := json.Unmarshal(body, &mp); err != nil {
			return exchange.DecodeResult{}, fmt.Errorf("binance: decode markPrice: %w", err)
		}
		symbol, err := a.FromNative(mp.Symbol, types.TradingFutures)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		event := types.FundingRateEvent(types.FundingRate{
			Base:            types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: mp.EventTime},
			MarkPrice:       parseDec(mp.MarkPrice),
			IndexPrice:      parseDec(mp.IndexPrice),
			Rate:            parseDec(mp.FundingRate),
			NextFundingTime: mp.NextFundingTime,
		})
		return exchange.DecodeResult{Event: &event}, nil

	case ev.EventType == "kline":
		var k wsKline
		if err := json.Unmarshal(body, &k); err != nil {
			return exchange.DecodeResult{}, fmt.Errorf("binance: decode kline: %w", err)
		}
		symbol, err := a.FromNative(k.K.Symbol, types.TradingSpot)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		event := types.KlineEvent(types.Kline{
			Base:        types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: k.EventTime},
			Interval:    k.K.Interval,
			OpenTime:    k.K.OpenTime,
			CloseTime:   k.K.CloseTime,
			Open:        parseDec(k.K.Open),
			High:        parseDec(k.K.High),
			Low:         parseDec(k.K.Low),
			Close:       parseDec(k.K.Close),
			Volume:      parseDec(k.K.Volume),
			QuoteVolume: parseDec(k.K.QuoteVolume),
			Trades:      k.K.Trades,
			IsClosed:    k.K.IsClosed,
		})
		return exchange.DecodeResult{Event: &event}, nil
	}

	var depth wsDepthSnapshot
	if err := json.Unmarshal(body, &depth); err == nil && (len(depth.Bids) > 0 || len(depth.Asks) > 0) {
		symbol, err := a.symbolFromStream(stream)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		event := types.DepthEvent(types.Depth{
			Base: types.Base{Exchange: a.Name(), Symbol: symbol},
			Bids: levels(depth.Bids),
			Asks: levels(depth.Asks),
		})
		return exchange.DecodeResult{Event: &event}, nil
	}

	return exchange.DecodeResult{IsControl: true}, nil
}

// symbolFromStream recovers the symbol from a combined-stream name such as
// "btcusdt@depth20@100ms", the only place a depth snapshot carries it — the
// payload itself has no symbol field.
func (a *Adapter) symbolFromStream(stream string) (types.Symbol, error) {
	native, _, ok := strings.Cut(stream, "@")
	if !ok || native == "" {
		return "", fmt.Errorf("binance: cannot derive symbol from stream %q", stream)
	}
	return a.FromNative(native, types.TradingSpot)
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
	return strings.ToUpper(symbol.Base() + symbol.Quote()), nil
}

func (a *Adapter) FromNative(native string, _ types.TradingType) (types.Symbol, error) {
	base, quote, ok := exchange.SplitConcatenated(strings.ToUpper(native))
	if !ok {
		return "", fmt.Errorf("binance: cannot split native symbol %q", native)
	}
	return types.NewSymbol(base, quote), nil
}
