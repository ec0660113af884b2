// Package deribit implements the Deribit ExchangeAdapter: JSON-RPC 2.0
// envelope ("public/subscribe" with a params.channels array, "subscription"
// notifications), a "public/test" heartbeat frame, and Deribit's
// "BASE-PERPETUAL" instrument naming for USD-settled perpetuals, per
// conventions.
package deribit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/marketpulse/pipeline/internal/exchange"
	"github.com/marketpulse/pipeline/internal/types"
)

func init() {
	exchange.Register("deribit", func() exchange.Adapter { return New() })
}

const publicWSURL = "wss://www.deribit.com/ws/api/v2"

// Adapter implements exchange.Adapter for Deribit USD-settled perpetuals.
type Adapter struct {
	nextID int64
}

// New constructs a Deribit adapter.
func New() *Adapter { return &Adapter{nextID: 1} }

func (a *Adapter) Name() string { return "deribit" }

func (a *Adapter) WSURL(types.TradingType) (string, error) { return publicWSURL, nil }

func (a *Adapter) instrument(symbol types.Symbol) string {
	return strings.ToUpper(symbol.Base()) + "-PERPETUAL"
}

func (a *Adapter) channel(symbol types.Symbol, dataType types.DataType) (string, error) {
	inst := a.instrument(symbol)
	switch dataType {
	case types.DataTicker, types.DataFundingRate:
		return "ticker." + inst + ".100ms", nil
	case types.DataDepth:
		return "book." + inst + ".100ms", nil
	case types.DataTrade:
		return "trades." + inst + ".100ms", nil
	case types.DataKline:
		return "chart.trades." + inst + ".1", nil
	default:
		return "", exchange.ErrUnsupportedDataType("deribit", dataType)
	}
}

type rpcParams struct {
	Channels []string `json:"channels"`
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

func (a *Adapter) BuildSubscribe(symbol types.Symbol, dataType types.DataType) (exchange.Frame, error) {
	ch, err := a.channel(symbol, dataType)
	if err != nil {
		return exchange.Frame{}, err
	}
	a.nextID++
	b, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: a.nextID, Method: "public/subscribe", Params: rpcParams{Channels: []string{ch}}})
	if err != nil {
		return exchange.Frame{}, err
	}
	return exchange.TextFrame(string(b)), nil
}

func (a *Adapter) BuildUnsubscribe(symbol types.Symbol, dataType types.DataType) (exchange.Frame, error) {
	ch, err := a.channel(symbol, dataType)
	if err != nil {
		return exchange.Frame{}, err
	}
	a.nextID++
	b, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: a.nextID, Method: "public/unsubscribe", Params: rpcParams{Channels: []string{ch}}})
	if err != nil {
		return exchange.Frame{}, err
	}
	return exchange.TextFrame(string(b)), nil
}

// HeartbeatFrame sends a public/test response, Deribit's required reply to
// its own server-initiated heartbeat test_request.
func (a *Adapter) HeartbeatFrame() (exchange.Frame, bool) {
	a.nextID++
	b, _ := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: a.nextID, Method: "public/test"})
	return exchange.TextFrame(string(b)), true
}

type notification struct {
	Method string          `json:"method"`
	Params notifParams     `json:"params"`
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
}

type notifParams struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type tickerData struct {
	InstrumentName  string  `json:"instrument_name"`
	LastPrice       float64 `json:"last_price"`
	BestBidPrice    float64 `json:"best_bid_price"`
	BestBidAmount   float64 `json:"best_bid_amount"`
	BestAskPrice    float64 `json:"best_ask_price"`
	BestAskAmount   float64 `json:"best_ask_amount"`
	Open24h         float64 `json:"open_interest"`
	High24h         float64 `json:"high"`
	Low24h          float64 `json:"low"`
	Volume24h       float64 `json:"stats_volume"`
	CurrentFunding  float64 `json:"current_funding"`
	Funding8h       float64 `json:"funding_8h"`
	MarkPrice       float64 `json:"mark_price"`
	IndexPrice      float64 `json:"index_price"`
	Timestamp       int64   `json:"timestamp"`
}

type bookData struct {
	Bids      [][2]float64 `json:"bids"`
	Asks      [][2]float64 `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}

type tradeEntry struct {
	InstrumentName string  `json:"instrument_name"`
	TradeID        string  `json:"trade_id"`
	Price          float64 `json:"price"`
	Amount         float64 `json:"amount"`
	Direction      string  `json:"direction"`
	Timestamp      int64   `json:"timestamp"`
}

type chartEntry struct {
	Tick   int64   `json:"tick"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

func fromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func (a *Adapter) Decode(raw []byte) (exchange.DecodeResult, error) {
	var n notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return exchange.DecodeResult{}, fmt.Errorf("deribit: decode envelope: %w", err)
	}
	if n.Method != "subscription" || n.Params.Channel == "" {
		// RPC acks, heartbeat test_request notifications, etc.
		return exchange.DecodeResult{IsControl: true}, nil
	}

	channel, rest, ok := strings.Cut(n.Params.Channel, ".")
	if !ok {
		return exchange.DecodeResult{IsControl: true}, nil
	}
	instrument, _, _ := strings.Cut(rest, ".")

	switch channel {
	case "ticker":
		var d tickerData
		if err := json.Unmarshal(n.Params.Data, &d); err != nil {
			return exchange.DecodeResult{}, fmt.Errorf("deribit: decode ticker: %w", err)
		}
		symbol, err := a.FromNative(d.InstrumentName, types.TradingFutures)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		t := types.Ticker{
			Base:        types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: d.Timestamp},
			Last:        fromFloat(d.LastPrice),
			Bid:         fromFloat(d.BestBidPrice),
			BidSize:     fromFloat(d.BestBidAmount),
			Ask:         fromFloat(d.BestAskPrice),
			AskSize:     fromFloat(d.BestAskAmount),
			High:        fromFloat(d.High24h),
			Low:         fromFloat(d.Low24h),
			Volume:      fromFloat(d.Volume24h),
		}
		fr := fromFloat(d.CurrentFunding)
		t.FundingRate = &fr
		event := types.TickerEvent(t)
		return exchange.DecodeResult{Event: &event}, nil

	case "book":
		var d bookData
		if err := json.Unmarshal(n.Params.Data, &d); err != nil {
			return exchange.DecodeResult{}, fmt.Errorf("deribit: decode book: %w", err)
		}
		symbol, err := a.FromNative(instrument, types.TradingFutures)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		event := types.DepthEvent(types.Depth{
			Base: types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: d.Timestamp},
			Bids: levelsFromPairs(d.Bids),
			Asks: levelsFromPairs(d.Asks),
		})
		return exchange.DecodeResult{Event: &event}, nil

	case "trades":
		var entries []tradeEntry
		if err := json.Unmarshal(n.Params.Data, &entries); err != nil || len(entries) == 0 {
			return exchange.DecodeResult{}, fmt.Errorf("deribit: decode trades: %w", err)
		}
		e := entries[0]
		symbol, err := a.FromNative(e.InstrumentName, types.TradingFutures)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		side := types.SideBuy
		if strings.EqualFold(e.Direction, "sell") {
			side = types.SideSell
		}
		event := types.TradeEvent(types.Trade{
			Base:    types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: e.Timestamp},
			TradeID: e.TradeID,
			Price:   fromFloat(e.Price),
			Amount:  fromFloat(e.Amount),
			Side:    side,
		})
		return exchange.DecodeResult{Event: &event}, nil

	case "chart":
		var entries []chartEntry
		if err := json.Unmarshal(n.Params.Data, &entries); err != nil || len(entries) == 0 {
			return exchange.DecodeResult{}, fmt.Errorf("deribit: decode chart: %w", err)
		}
		// chart.trades.<instrument>.<resolution>: instrument is the third segment.
		parts := strings.Split(n.Params.Channel, ".")
		inst := instrument
		if len(parts) >= 3 {
			inst = parts[2]
		}
		symbol, err := a.FromNative(inst, types.TradingFutures)
		if err != nil {
			return exchange.DecodeResult{}, err
		}
		e := entries[0]
		event := types.KlineEvent(types.Kline{
			Base:     types.Base{Exchange: a.Name(), Symbol: symbol, ExchangeTimestamp: e.Tick},
			Interval: "1m",
			OpenTime: e.Tick,
			Open:     fromFloat(e.Open),
			High:     fromFloat(e.High),
			Low:      fromFloat(e.Low),
			Close:    fromFloat(e.Close),
			Volume:   fromFloat(e.Volume),
		})
		return exchange.DecodeResult{Event: &event}, nil
	}

	return exchange.DecodeResult{IsControl: true}, nil
}

func levelsFromPairs(raw [][2]float64) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(raw))
	for _, l := range raw {
		out = append(out, types.PriceLevel{Price: fromFloat(l[0]), Amount: fromFloat(l[1])})
	}
	return out
}

func (a *Adapter) ToNative(symbol types.Symbol, _ types.TradingType) (string, error) {
	return a.instrument(symbol), nil
}

func (a *Adapter) FromNative(native string, _ types.TradingType) (types.Symbol, error) {
	native = strings.ToUpper(native)
	base, suffix, ok := strings.Cut(native, "-")
	if !ok || suffix != "PERPETUAL" {
		return "", fmt.Errorf("deribit: cannot split native symbol %q", native)
	}
	return types.NewSymbol(base, "USD"), nil
}
