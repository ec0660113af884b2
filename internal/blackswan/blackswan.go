// Package blackswan implements the high-frequency anomaly detector: a
// per-symbol price/spread/depth/volatility detector table driving a single
// portfolio-wide circuit-breaker level, with cooldown and stability-based
// auto-recovery. Generalized from a binary healthy/halted market-data
// circuit breaker (manual halt/resume, injectable clock, per-market
// state map) into a 5-level state machine with a detector table and EMA
// baselines.
package blackswan

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/marketpulse/pipeline/internal/clock"
	"github.com/marketpulse/pipeline/internal/types"
)

// Executor receives the protector's reduce/close actions.
type Executor interface {
	ReduceAllPositions(ctx context.Context, ratio decimal.Decimal) error
	EmergencyCloseAll(ctx context.Context, reason string) error
}

// PortfolioRiskManager receives pause/resume/event notifications.
type PortfolioRiskManager interface {
	PauseTrading(reason string)
	ResumeTrading()
	Emit(event string, payload any)
}

// Config holds every detector threshold and recovery parameter.
type Config struct {
	PriceHistoryLength int

	Price1mWarn, Price1mCrit decimal.Decimal
	Price5mWarn, Price5mCrit decimal.Decimal
	Price15mEmergency        decimal.Decimal

	VolatilityWindow     int
	VolatilityMultiplier decimal.Decimal

	SpreadEMAAlpha    decimal.Decimal
	DepthEMAAlpha     decimal.Decimal
	MaxSpreadPercent  decimal.Decimal
	SpreadL1Ratio     decimal.Decimal
	SpreadL3Ratio     decimal.Decimal
	DepthL1Ratio      decimal.Decimal
	DepthL3Ratio      decimal.Decimal

	EnableAutoRecovery       bool
	EnableAutoEmergencyClose bool
	CooldownDuration         time.Duration
	RecoveryTickInterval     time.Duration
	StabilityDuration        time.Duration
	StableMinSamples         int
	StabilityVolThreshold    float64

	EventHistoryCap int
}

// DefaultConfig holds the detector thresholds and recovery timings used
// when no override is configured.
func DefaultConfig() Config {
	return Config{
		PriceHistoryLength: 1000,

		Price1mWarn: decimal.NewFromFloat(0.03),
		Price1mCrit: decimal.NewFromFloat(0.05),
		Price5mWarn: decimal.NewFromFloat(0.05),
		Price5mCrit: decimal.NewFromFloat(0.08),
		Price15mEmergency: decimal.NewFromFloat(0.15),

		VolatilityWindow:     60,
		VolatilityMultiplier: decimal.NewFromFloat(3.0),

		SpreadEMAAlpha:   decimal.NewFromFloat(0.1),
		DepthEMAAlpha:    decimal.NewFromFloat(0.1),
		MaxSpreadPercent: decimal.NewFromFloat(0.5),
		SpreadL1Ratio:    decimal.NewFromFloat(3),
		SpreadL3Ratio:    decimal.NewFromFloat(5),
		DepthL1Ratio:     decimal.NewFromFloat(0.5),
		DepthL3Ratio:     decimal.NewFromFloat(0.2),

		EnableAutoRecovery:       true,
		EnableAutoEmergencyClose: true,
		CooldownDuration:         5 * time.Minute,
		RecoveryTickInterval:     10 * time.Second,
		StabilityDuration:        2 * time.Minute,
		StableMinSamples:         30,
		StabilityVolThreshold:    0.002,

		EventHistoryCap: 500,
	}
}

type pricePoint struct {
	at    time.Time
	price decimal.Decimal
}

type symbolState struct {
	history     []pricePoint
	returns     []float64
	spreadEMA   decimal.Decimal
	bidDepthEMA decimal.Decimal
	askDepthEMA decimal.Decimal
}

// priceBefore returns the most recent history sample at least window old,
// i.e. the best available anchor for "the price `window` ago". Falls back
// to the oldest sample held when history doesn't yet span window.
func priceBefore(history []pricePoint, now time.Time, window time.Duration) (decimal.Decimal, bool) {
	if len(history) == 0 {
		return decimal.Zero, false
	}
	cutoff := now.Add(-window)
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].at.After(cutoff) {
			return history[i].price, true
		}
	}
	return history[0].price, true
}

// Event is a recorded anomaly detection or recovery.
type Event struct {
	At     time.Time
	Level  types.CircuitLevel
	Type   types.AnomalyEventType
	Symbol types.Symbol
	Reason string
}

// Protector is the BlackSwanProtector.
type Protector struct {
	cfg      Config
	clock    clock.Clock
	executor Executor
	manager  PortfolioRiskManager
	log      zerolog.Logger

	mu               sync.Mutex
	symbols          map[types.Symbol]*symbolState
	state            types.CircuitBreakerState
	stabilityStart   time.Time
	events           []Event
}

// New constructs a Protector.
func New(cfg Config, clk clock.Clock, executor Executor, manager PortfolioRiskManager, log zerolog.Logger) *Protector {
	return &Protector{
		cfg:      cfg,
		clock:    clk,
		executor: executor,
		manager:  manager,
		log:      log,
		symbols:  make(map[types.Symbol]*symbolState),
		state:    types.CircuitBreakerState{AffectedSymbols: make(map[types.Symbol]struct{})},
	}
}

// UpdatePrice feeds one price observation (and optionally an order-book
// snapshot) for symbol, runs every detector, and returns the circuit level
// in effect after this update. It takes no volume input.
func (p *Protector) UpdatePrice(symbol types.Symbol, price decimal.Decimal, book *types.Depth) types.CircuitLevel {
	now := p.clock.Now()

	p.mu.Lock()
	st, ok := p.symbols[symbol]
	if !ok {
		st = &symbolState{}
		p.symbols[symbol] = st
	}

	if len(st.history) > 0 {
		prev := st.history[len(st.history)-1].price
		if prev.IsPositive() {
			ret, _ := price.Sub(prev).Div(prev).Float64()
			st.returns = append(st.returns, ret)
			if len(st.returns) > p.cfg.PriceHistoryLength {
				st.returns = st.returns[1:]
			}
		}
	}
	st.history = append(st.history, pricePoint{at: now, price: price})
	if len(st.history) > p.cfg.PriceHistoryLength {
		st.history = st.history[1:]
	}

	level, eventType, reason := p.detectPrice(st, now)
	if book != nil {
		spreadLevel, spreadType, spreadReason := p.detectSpreadAndDepth(st, book)
		if spreadLevel > level {
			level, eventType, reason = spreadLevel, spreadType, spreadReason
		}
	}
	if volLevel, volType, volReason := p.detectVolatility(st); volLevel > level {
		level, eventType, reason = volLevel, volType, volReason
	}
	p.mu.Unlock()

	if level > types.CircuitNormal {
		p.raiseLevel(level, eventType, symbol, reason)
	}
	return p.Level()
}

// detectPrice implements the 1m/5m/15m price-move rows. Caller must hold
// p.mu.
func (p *Protector) detectPrice(st *symbolState, now time.Time) (types.CircuitLevel, types.AnomalyEventType, string) {
	latest := st.history[len(st.history)-1].price

	base1m, _ := priceBefore(st.history, now, time.Minute)
	base5m, _ := priceBefore(st.history, now, 5*time.Minute)
	base15m, _ := priceBefore(st.history, now, 15*time.Minute)

	delta1m := pctChange(base1m, latest)
	delta5m := pctChange(base5m, latest)
	delta15m := pctChange(base15m, latest)

	abs15 := delta15m.Abs()
	if abs15.GreaterThanOrEqual(p.cfg.Price15mEmergency) {
		return types.CircuitEmergency, eventTypeForDelta(delta15m), "price_15m_move"
	}

	abs5 := delta5m.Abs()
	if abs5.GreaterThanOrEqual(p.cfg.Price5mCrit) {
		return types.CircuitL3, eventTypeForDelta(delta5m), "price_5m_move"
	}

	abs1 := delta1m.Abs()
	level := types.CircuitNormal
	eventType := types.AnomalyEventType("")
	reason := ""
	if abs5.GreaterThanOrEqual(p.cfg.Price5mWarn) {
		level, eventType, reason = types.CircuitL2, eventTypeForDelta(delta5m), "price_5m_move"
	}
	if abs1.GreaterThanOrEqual(p.cfg.Price1mCrit) && types.CircuitL2 > level {
		level, eventType, reason = types.CircuitL2, eventTypeForDelta(delta1m), "price_1m_move"
	}
	if abs1.GreaterThanOrEqual(p.cfg.Price1mWarn) && types.CircuitL1 > level {
		level, eventType, reason = types.CircuitL1, eventTypeForDelta(delta1m), "price_1m_move"
	}
	return level, eventType, reason
}

func pctChange(base, latest decimal.Decimal) decimal.Decimal {
	if !base.IsPositive() {
		return decimal.Zero
	}
	return latest.Sub(base).Div(base)
}

func eventTypeForDelta(delta decimal.Decimal) types.AnomalyEventType {
	if delta.IsNegative() {
		return types.EventFlashCrash
	}
	return types.EventFlashRally
}

// detectSpreadAndDepth implements the spread and depth detector rows,
// maintaining their EMA baselines. Caller must hold p.mu.
func (p *Protector) detectSpreadAndDepth(st *symbolState, book *types.Depth) (types.CircuitLevel, types.AnomalyEventType, string) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return types.CircuitNormal, "", ""
	}
	bestBid := book.Bids[0].Price
	bestAsk := book.Asks[0].Price
	if !bestBid.IsPositive() || !bestAsk.IsPositive() {
		return types.CircuitNormal, "", ""
	}
	spread := bestAsk.Sub(bestBid)
	mid := bestBid.Add(bestAsk).Div(decimal.NewFromInt(2))
	spreadPercent := decimal.Zero
	if mid.IsPositive() {
		spreadPercent = spread.Div(mid).Mul(decimal.NewFromInt(100))
	}

	if st.spreadEMA.IsZero() {
		st.spreadEMA = spread
	} else {
		st.spreadEMA = ema(st.spreadEMA, spread, p.cfg.SpreadEMAAlpha)
	}

	bidDepth := book.Bids[0].Amount
	askDepth := book.Asks[0].Amount
	if st.bidDepthEMA.IsZero() {
		st.bidDepthEMA = bidDepth
	} else {
		st.bidDepthEMA = ema(st.bidDepthEMA, bidDepth, p.cfg.DepthEMAAlpha)
	}
	if st.askDepthEMA.IsZero() {
		st.askDepthEMA = askDepth
	} else {
		st.askDepthEMA = ema(st.askDepthEMA, askDepth, p.cfg.DepthEMAAlpha)
	}

	level := types.CircuitNormal
	eventType := types.AnomalyEventType("")
	reason := ""

	if st.spreadEMA.IsPositive() {
		ratio := spread.Div(st.spreadEMA)
		if ratio.GreaterThanOrEqual(p.cfg.SpreadL3Ratio) {
			level, eventType, reason = types.CircuitL3, types.EventSpreadBlowout, "spread_blowout"
		} else if spreadPercent.GreaterThanOrEqual(p.cfg.MaxSpreadPercent) && types.CircuitL2 > level {
			level, eventType, reason = types.CircuitL2, types.EventSpreadBlowout, "spread_absolute"
		} else if ratio.GreaterThanOrEqual(p.cfg.SpreadL1Ratio) && types.CircuitL1 > level {
			level, eventType, reason = types.CircuitL1, types.EventSpreadBlowout, "spread_blowout"
		}
	}

	type depthSide struct {
		current decimal.Decimal
		ema     decimal.Decimal
	}
	for _, side := range []depthSide{{bidDepth, st.bidDepthEMA}, {askDepth, st.askDepthEMA}} {
		if !side.ema.IsPositive() {
			continue
		}
		ratio := side.current.Div(side.ema)
		if ratio.LessThanOrEqual(p.cfg.DepthL3Ratio) {
			level, eventType, reason = types.CircuitL3, types.EventLiquidityCrisis, "depth_collapse"
		} else if ratio.LessThanOrEqual(p.cfg.DepthL1Ratio) && types.CircuitL1 > level {
			level, eventType, reason = types.CircuitL1, types.EventLiquidityCrisis, "depth_collapse"
		}
	}

	return level, eventType, reason
}

func ema(prev, value, alpha decimal.Decimal) decimal.Decimal {
	return prev.Mul(decimal.NewFromInt(1).Sub(alpha)).Add(value.Mul(alpha))
}

// detectVolatility implements the volatility detector row. Caller must
// hold p.mu.
func (p *Protector) detectVolatility(st *symbolState) (types.CircuitLevel, types.AnomalyEventType, string) {
	if len(st.returns) < p.cfg.VolatilityWindow {
		return types.CircuitNormal, "", ""
	}
	recent := st.returns[len(st.returns)-p.cfg.VolatilityWindow:]
	currentStdev := stdev(recent)
	historicalStdev := stdev(st.returns)
	if historicalStdev <= 0 {
		return types.CircuitNormal, "", ""
	}
	ratio := decimal.NewFromFloat(currentStdev / historicalStdev)
	if ratio.GreaterThanOrEqual(p.cfg.VolatilityMultiplier) {
		return types.CircuitL2, types.EventVolatilitySpike, "volatility_spike"
	}
	return types.CircuitNormal, "", ""
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

// raiseLevel applies max-priority semantics: a lower level never
// downgrades the breaker, and on an actual raise, dispatches the
// level's action and resets the cooldown/stability clock.
func (p *Protector) raiseLevel(level types.CircuitLevel, eventType types.AnomalyEventType, symbol types.Symbol, reason string) {
	p.mu.Lock()
	if level <= p.state.Level {
		p.mu.Unlock()
		return
	}
	now := p.clock.Now()
	p.state.Level = level
	p.state.TriggeredAt = now
	p.state.CooldownUntil = now.Add(p.cfg.CooldownDuration)
	p.state.Reason = reason
	p.state.EventType = eventType
	p.state.AffectedSymbols[symbol] = struct{}{}
	p.stabilityStart = time.Time{}
	p.recordEvent(Event{At: now, Level: level, Type: eventType, Symbol: symbol, Reason: reason})
	p.mu.Unlock()

	p.manager.Emit("circuitLevelRaised", map[string]any{"level": level.String(), "symbol": string(symbol), "reason": reason})

	ctx := context.Background()
	switch level {
	case types.CircuitL1:
		p.reduce(ctx, decimal.NewFromFloat(0.25))
	case types.CircuitL2:
		p.reduce(ctx, decimal.NewFromFloat(0.50))
		p.manager.PauseTrading(reason)
	case types.CircuitL3, types.CircuitEmergency:
		if p.cfg.EnableAutoEmergencyClose {
			if err := p.executor.EmergencyCloseAll(ctx, reason); err != nil {
				p.log.Warn().Err(err).Msg("black-swan emergency close failed")
			}
		}
		p.manager.PauseTrading(reason)
	}
}

func (p *Protector) reduce(ctx context.Context, ratio decimal.Decimal) {
	if err := p.executor.ReduceAllPositions(ctx, ratio); err != nil {
		p.log.Warn().Err(err).Msg("black-swan partial reduce failed")
	}
}

func (p *Protector) recordEvent(e Event) {
	p.events = append(p.events, e)
	if len(p.events) > p.cfg.EventHistoryCap {
		p.events = p.events[len(p.events)-p.cfg.EventHistoryCap:]
	}
}

// Level returns the current circuit-breaker level.
func (p *Protector) Level() types.CircuitLevel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Level
}

// State returns a copy of the current circuit-breaker state.
func (p *Protector) State() types.CircuitBreakerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := p.state
	cp.AffectedSymbols = make(map[types.Symbol]struct{}, len(p.state.AffectedSymbols))
	for s := range p.state.AffectedSymbols {
		cp.AffectedSymbols[s] = struct{}{}
	}
	return cp
}

// Events returns a copy of the capped event history.
func (p *Protector) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// ManualTrigger bypasses detection and forces level directly.
func (p *Protector) ManualTrigger(level types.CircuitLevel, reason string) {
	p.raiseLevel(level, "", "", reason)
}

// ManualRecover bypasses stability evaluation and resets to normal
// immediately.
func (p *Protector) ManualRecover() {
	p.mu.Lock()
	previous := p.state.Level
	p.state.Level = types.CircuitNormal
	p.state.AffectedSymbols = make(map[types.Symbol]struct{})
	p.stabilityStart = time.Time{}
	p.mu.Unlock()

	if previous != types.CircuitNormal {
		p.manager.Emit("recovered", map[string]any{"previousLevel": previous.String()})
		p.manager.ResumeTrading()
	}
}

// Run drives the recovery ticker until ctx is cancelled.
func (p *Protector) Run(ctx context.Context) error {
	if !p.cfg.EnableAutoRecovery {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := p.clock.NewTicker(p.cfg.RecoveryTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			p.checkRecovery()
		}
	}
}

func (p *Protector) checkRecovery() {
	p.mu.Lock()
	if p.state.Level == types.CircuitNormal {
		p.mu.Unlock()
		return
	}
	now := p.clock.Now()
	if now.Before(p.state.CooldownUntil) {
		p.mu.Unlock()
		return
	}

	stable := p.stableLocked(now)
	if !stable {
		p.stabilityStart = time.Time{}
		p.mu.Unlock()
		return
	}
	if p.stabilityStart.IsZero() {
		p.stabilityStart = now
		p.mu.Unlock()
		return
	}
	if now.Sub(p.stabilityStart) < p.cfg.StabilityDuration {
		p.mu.Unlock()
		return
	}

	previous := p.state.Level
	p.state.Level = types.CircuitNormal
	p.state.AffectedSymbols = make(map[types.Symbol]struct{})
	p.stabilityStart = time.Time{}
	p.mu.Unlock()

	p.manager.Emit("recovered", map[string]any{"previousLevel": previous.String()})
	p.manager.ResumeTrading()
}

// stableLocked reports whether every affected symbol has enough recent
// samples with low enough variance to be considered stable. Caller must
// hold p.mu.
func (p *Protector) stableLocked(_ time.Time) bool {
	if len(p.state.AffectedSymbols) == 0 {
		return false
	}
	for symbol := range p.state.AffectedSymbols {
		st, ok := p.symbols[symbol]
		if !ok || len(st.history) < p.cfg.StableMinSamples {
			return false
		}
		recent := st.history[len(st.history)-p.cfg.StableMinSamples:]
		prices := make([]float64, len(recent))
		for i, pt := range recent {
			prices[i], _ = pt.price.Float64()
		}
		if stdev(prices) > p.cfg.StabilityVolThreshold*mean(prices) {
			return false
		}
	}
	return true
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
