// Package normalize implements the time fuser: it stamps
// every decoded MarketEvent with a UnifiedTimestamp derived from the
// exchange-reported and locally-observed receipt times, tolerating skewed
// or missing exchange timestamps without ever dropping an event for
// timestamp reasons.
package normalize

import (
	"github.com/marketpulse/pipeline/internal/clock"
	"github.com/marketpulse/pipeline/internal/types"
)

// Fuser attaches LocalTimestamp/UnifiedTimestamp to inbound events.
type Fuser struct {
	clock clock.Clock
}

// New constructs a Fuser using clk as the local time source.
func New(clk clock.Clock) *Fuser {
	return &Fuser{clock: clk}
}

// Fuse stamps event in place and returns it. UnifiedTimestamp is the
// midpoint of exchange and local time when the exchange timestamp looks
// sane; a missing or wildly skewed exchange timestamp falls back to the
// local timestamp rather than rejecting the event.
func (f *Fuser) Fuse(event types.MarketEvent) types.MarketEvent {
	localMs := f.clock.Now().UnixMilli()
	base := event.EventBase()
	base.LocalTimestamp = localMs
	base.UnifiedTimestamp = unify(base.ExchangeTimestamp, localMs)
	setBase(&event, base)
	return event
}

// maxSkewMillis bounds how far an exchange timestamp may diverge from local
// receipt time before it is judged untrustworthy and discarded in favor of
// the local clock (design note: never drop the event itself for this).
const maxSkewMillis = 60_000

func unify(exchangeMs, localMs int64) int64 {
	if exchangeMs <= 0 {
		return localMs
	}
	skew := exchangeMs - localMs
	if skew > maxSkewMillis || skew < -maxSkewMillis {
		return localMs
	}
	return (exchangeMs + localMs) / 2
}

func setBase(event *types.MarketEvent, base types.Base) {
	switch event.Type {
	case types.EventTicker:
		event.Ticker.Base = base
	case types.EventDepth:
		event.Depth.Base = base
	case types.EventTrade:
		event.Trade.Base = base
	case types.EventFundingRate:
		event.FundingRate.Base = base
	case types.EventKline:
		event.Kline.Base = base
	}
}
