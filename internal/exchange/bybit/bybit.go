// Package bybit implements the Bybit V5 public WebSocket ExchangeAdapter:
// topic-based subscribe framing ("tickers.BTCUSDT"), an explicit JSON
// {"op":"ping"} heartbeat frame, and linear-perpetual funding rate carried
// inline on the tickers topic.
package bybit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/marketpulse/pipeline/internal/exchange"
	"github.com/marketpulse/pipeline/internal/types"
)

func init() {
	exchange.Register("bybit", func() exchange.Adapter { return New() })
}

const (
	spotWSURL   = "wss://stream.bybit.com/v5/public/spot"
	linearWSURL = "wss://stream.bybit.com/v5/public/linear"
)

// Adapter implements exchange.Adapter for Bybit spot and linear perpetuals.
type Adapter struct{}

// New constructs a Bybit adapter.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string { return "bybit" }

func (a *Adapter) WSURL(tradingType types.TradingType) (string, error) {
	switch tradingType {
	case "", types.TradingSpot:
		return spotWSURL, nil
	case types.TradingLinear, types.TradingFutures:
		return linearWSURL, nil
	default:
		return "", fmt.Errorf("bybit: unsupported trading type %q", tradingType)
	}
}

func (a *Adapter) topic(symbol types.Symbol, dataType types.DataType) (string, error) {
	native, err := a.ToNative(symbol, types.TradingLinear)
	if err != nil {
		return "", err
	}
	switch dataType {
	case types.DataTicker, types.DataFundingRate:
		return "tickers." + native, nil
	case types.DataDepth:
		return "orderbook.50." + native, nil
	case types.DataTrade:
		return "publicTrade." + native, nil
	case types.DataKline:
		return "kline.1." + native, nil
	default:
		return "", exchange.ErrUnsupportedDataType("bybit", dataType)
	}
}

type opRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

func (a *Adapter) BuildSubscribe(symbol types.Symbol, dataType types.DataType) (exchange.Frame, error) {
	topic, err := a.topic(symbol, dataType)
	if err != nil {
		return exchange.Frame{}, err
	}
	b, err := json.Marshal(opRequest{Op: "subscribe", Args: []string{topic}})
	if err != nil {
		return exchange.Frame{}, err
	}
	return exchange.TextFrame(string(b)), nil
}

func (a *Adapter) BuildUnsubscribe(symbol types.Symbol, dataType types.DataType) (exchange.Frame, error) {
	topic, err := a.topic(symbol, dataType)
	if err != nil {
		return exchange.Frame{}, err
	}
	b, err := json.Marshal(opRequest{Op: "unsubscribe", Args: []string{topic}})
	if err != nil {
		return exchange.Frame{}, err
	}
	return exchange.TextFrame(string(b)), nil
}

func (a *Adapter) HeartbeatFrame() (exchange.Frame, bool) {
	b, _ := json.Marshal(opRequest{Op: "ping"})
	return exchange.TextFrame(string(b)), true
}

type topicEnvelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	TS    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
	Op    string          `json:"op"`
}

type tickerData struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	Bid1Price   string `json:"bid1Price"`
	Bid1Size    string `json:"bid1Size"`
	Ask1Price   string `json:"ask1Price"`
	Ask1Size    string `json:"ask1Size"`
	PrevPrice24 string `json:"prevPrice24h"`
	HighPrice24 string `json:"highPrice24h"`
	LowPrice24  string `json:"lowPrice24h"`
	Volume24h   string `json:"volume24h"`
	Turnover24h string `json:"turnover24h"`
	Price24hPcnt string `json:"price24hPcnt"`
	FundingRate string `json:"fundingRate"`
	MarkPrice   string `json:"markPrice"`
	IndexPrice  string `json:"indexPrice"`
	NextFundingTime string `json:"nextFundingTime"`
}

type orderbookData struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
}

type tradeEntry struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
	Size   string `json:"v"`
	Side   string `json:"S"`
	ID     string `json:"i"`
	Time   int64  `json:"T"`
}

type klineEntry struct {
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Interval string `json:"interval"`
	Open     string `json:"open"`
	Close    string `json:"close"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Volume   string `json:"volume"`
	Turnover string `json:"turnover"`
	Confirm  bool   `json:"confirm"`
}

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

func (a *Adapter) Decode(raw []byte) (exchange.DecodeResult, error) {
	var env topicEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return exchange.DecodeResult{}, fmt.Errorf("bybit: decode envelope: %w", err)
	}
	if env.Op != "" || env.Topic == "" {
		return exchange.DecodeResult{IsControl: true}, nil
	}

	channel, native, ok := strings.Cut(env.Topic, ".")
	if !ok {
		return exchange.DecodeResult{IsControl: true}, nil
	}
	// orderbook/kline topics carry a depth/interval segment before the symbol.
	if idx := strings.LastIndex(native, "."); channel == "orderbook" || channel == "kline" {
		if idx >= 0 {
			native = native[idx+1:]
		}
	}

	switch channel {
	case "tickers":
		var d tickerData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return exchange.DecodeResult{}, fmt.Errorf("bybit: decode ticker: %w", err)
		}
		symbol, err := a.FromNative(d.Symbol, types.TradingLinear)
		if err != nil {
			symbol, err = a.FromNative(native, types.TradingLinear)
			if err != nil {
				return exchange.DecodeResult{}, err
			}
		}
		t := types.Ticker{
			Base:          types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: env.TS},
			Last:          parseDec(d.LastPrice),
			Bid:           parseDec(d.Bid1Price),
			BidSize:       parseDec(d.Bid1Size),
			Ask:           parseDec(d.Ask1Price),
			AskSize:       parseDec(d.Ask1Size),
			Open:          parseDec(d.PrevPrice24),
			High:          parseDec(d.HighPrice24),
			Low:           parseDec(d.LowPrice24),
			Volume:        parseDec(d.Volume24h),
			QuoteVolume:   parseDec(d.Turnover24h),
			ChangePercent: parseDec(d.Price24hPcnt),
		}
		if d.FundingRate != "" {
			fr := parseDec(d.FundingRate)
			t.FundingRate = &fr
		}
		event := types.TickerEvent(t)

		// Bybit inlines funding on the tickers topic for linear perpetuals;
		// emit a dedicated FundingRate event too when funding fields are present.
		if d.FundingRate != "" {
			nextFunding, _ := strconv.ParseInt(d.NextFundingTime, 10, 64)
			fundingEvent := types.FundingRateEvent(types.FundingRate{
				Base:            types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: env.TS},
				MarkPrice:       parseDec(d.MarkPrice),
				IndexPrice:      parseDec(d.IndexPrice),
				Rate:            parseDec(d.FundingRate),
				NextFundingTime: nextFunding,
			})
			return exchange.DecodeResult{Event: &fundingEvent}, nil
		}
		return exchange.DecodeResult{Event: &event}, nil

	case "orderbook":
		var d orderbookData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return exchange.DecodeResult{}, fmt.Errorf("bybit: decode orderbook: %w", err)
		}
		symbol, err := a.FromNative(d.Symbol, types.TradingLinear)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		event := types.DepthEvent(types.Depth{
			Base: types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: env.TS},
			Bids: levels(d.Bids),
			Asks: levels(d.Asks),
		})
		return exchange.DecodeResult{Event: &event}, nil

	case "publicTrade":
		var entries []tradeEntry
		if err := json.Unmarshal(env.Data, &entries); err != nil || len(entries) == 0 {
			return exchange.DecodeResult{}, fmt.Errorf("bybit: decode trade: %w", err)
		}
		e := entries[0]
		symbol, err := a.FromNative(e.Symbol, types.TradingLinear)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		side := types.SideBuy
		if strings.EqualFold(e.Side, "Sell") {
			side = types.SideSell
		}
		event := types.TradeEvent(types.Trade{
			Base:    types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: e.Time},
			TradeID: e.ID,
			Price:   parseDec(e.Price),
			Amount:  parseDec(e.Size),
			Side:    side,
		})
		return exchange.DecodeResult{Event: &event}, nil

	case "kline":
		var entries []klineEntry
		if err := json.Unmarshal(env.Data, &entries); err != nil || len(entries) == 0 {
			return exchange.DecodeResult{}, fmt.Errorf("bybit: decode kline: %w", err)
		}
		e := entries[0]
		symbol, err := a.FromNative(native, types.TradingLinear)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		event := types.KlineEvent(types.Kline{
			Base:        types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: env.TS},
			Interval:    e.Interval,
			OpenTime:    e.Start,
			CloseTime:   e.End,
			Open:        parseDec(e.Open),
			High:        parseDec(e.High),
			Low:         parseDec(e.Low),
			Close:       parseDec(e.Close),
			Volume:      parseDec(e.Volume),
			QuoteVolume: parseDec(e.Turnover),
			IsClosed:    e.Confirm,
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
	return strings.ToUpper(symbol.Base() + symbol.Quote()), nil
}

func (a *Adapter) FromNative(native string, _ types.TradingType) (types.Symbol, error) {
	base, quote, ok := exchange.SplitConcatenated(strings.ToUpper(native))
	if !ok {
		return "", fmt.Errorf("bybit: cannot split native symbol %q", native)
	}
	return types.NewSymbol(base, quote), nil
}
