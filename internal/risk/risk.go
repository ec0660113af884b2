// Package risk implements the periodic risk-check pipeline: a strictly
// ordered sequence of margin, drawdown, concentration and liquidation
// checks run every tick, joined into one aggregate risk level and at most
// one terminal action per tick. Generalized from a single-account
// paper-trading risk gate into a multi-check pipeline driven by live
// account/position snapshots from an external collaborator.
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/marketpulse/pipeline/internal/clock"
	"github.com/marketpulse/pipeline/internal/types"
)

// AccountSource is the read side the engine polls each tick: the latest
// margin/position/price snapshot an AccountStateRefresher maintains.
type AccountSource interface {
	Account() types.AccountSnapshot
	Positions() []types.PositionSnapshot
	Ticker(symbol types.Symbol) (types.Ticker, bool)
}

// MarketOrder is one reduce-only or flattening order the engine asks the
// Executor to place.
type MarketOrder struct {
	Symbol     types.Symbol
	Side       types.Side
	Amount     decimal.Decimal
	ReduceOnly bool
}

// Executor carries out the engine's terminal actions against live
// exchange connectivity owned elsewhere.
type Executor interface {
	EmergencyCloseAll(ctx context.Context, reason string) error
	ExecuteMarketOrder(ctx context.Context, order MarketOrder) error
}

// PortfolioRiskManager receives pause/resume/event notifications the
// engine emits alongside its actions.
type PortfolioRiskManager interface {
	PauseTrading(reason string)
	ResumeTrading()
	Emit(event string, payload any)
}

// Config holds every risk threshold, all in ratio form (0.35 means 35%)
// except where noted.
type Config struct {
	CheckInterval time.Duration

	EmergencyMarginRate decimal.Decimal
	DangerMarginRate    decimal.Decimal
	WarningMarginRate   decimal.Decimal

	MaxEquityDrawdown             decimal.Decimal
	EquityDrawdownDangerThreshold decimal.Decimal
	EquityDrawdownWarningThreshold decimal.Decimal
	EquityDrawdownAlertThreshold  decimal.Decimal
	EquityDrawdownReduceRatio     decimal.Decimal

	MaxDailyDrawdown decimal.Decimal

	BTCSymbol         types.Symbol
	BTCPriceWindow    time.Duration
	BTCCrashThreshold decimal.Decimal
	AltcoinReduceRatio decimal.Decimal
	AltcoinSymbols    map[types.Symbol]struct{} // empty means "every non-BTC position"

	MaxSinglePositionRatio decimal.Decimal

	MaintenanceMarginRate decimal.Decimal
	LiquidationBuffer     decimal.Decimal

	MaxSingleStrategyRatio    decimal.Decimal
	MaxTotalPositionRatio     decimal.Decimal
	DefaultStrategyRiskBudget decimal.Decimal

	DeRiskCooldown time.Duration
	ResetTimezone  *time.Location
}

// DefaultConfig returns the default risk thresholds.
func DefaultConfig() Config {
	return Config{
		CheckInterval: time.Second,

		EmergencyMarginRate: decimal.NewFromFloat(0.35),
		DangerMarginRate:    decimal.NewFromFloat(0.40),
		WarningMarginRate:   decimal.NewFromFloat(0.50),

		MaxEquityDrawdown:              decimal.NewFromFloat(0.20),
		EquityDrawdownDangerThreshold:  decimal.NewFromFloat(0.15),
		EquityDrawdownWarningThreshold: decimal.NewFromFloat(0.10),
		EquityDrawdownAlertThreshold:   decimal.NewFromFloat(0.05),
		EquityDrawdownReduceRatio:      decimal.NewFromFloat(0.30),

		MaxDailyDrawdown: decimal.NewFromFloat(0.08),

		BTCSymbol:          types.NewSymbol("BTC", "USDT"),
		BTCPriceWindow:     5 * time.Minute,
		BTCCrashThreshold:  decimal.NewFromFloat(-0.03),
		AltcoinReduceRatio: decimal.NewFromFloat(0.50),
		AltcoinSymbols:     map[types.Symbol]struct{}{},

		MaxSinglePositionRatio: decimal.NewFromFloat(0.15),

		MaintenanceMarginRate: decimal.NewFromFloat(0.004),
		LiquidationBuffer:     decimal.NewFromFloat(0.05),

		MaxSingleStrategyRatio:    decimal.NewFromFloat(0.25),
		MaxTotalPositionRatio:     decimal.NewFromFloat(0.80),
		DefaultStrategyRiskBudget: decimal.NewFromFloat(0.10),

		DeRiskCooldown: 30 * time.Minute,
		ResetTimezone:  time.Local,
	}
}

type pricePoint struct {
	at    time.Time
	price decimal.Decimal
}

// Engine is the RiskEngine. One instance serves the whole portfolio across
// every exchange the AccountSource aggregates.
type Engine struct {
	cfg      Config
	clock    clock.Clock
	source   AccountSource
	executor Executor
	manager  PortfolioRiskManager
	log      zerolog.Logger

	cronSched *cron.Cron

	mu                sync.RWMutex
	drawdown          types.EquityDrawdownState
	dailyStartEquity  decimal.Decimal
	weeklyStartEquity decimal.Decimal
	tradingAllowed    bool
	pauseReason       string
	riskLevel         types.RiskLevel
	lastReduceAt      map[string]time.Time
	btcHistory        []pricePoint
	pausedStrategies  map[string]struct{}
	strategyNotional  map[string]decimal.Decimal
	strategyBudget    map[string]decimal.Decimal
}

// New constructs an Engine. Callers must call Start before the first Tick
// for the cron-scheduled day/week resets to run; Tick itself never blocks
// on cron.
func New(cfg Config, clk clock.Clock, source AccountSource, executor Executor, manager PortfolioRiskManager, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:              cfg,
		clock:            clk,
		source:           source,
		executor:         executor,
		manager:          manager,
		log:              log,
		tradingAllowed:   true,
		lastReduceAt:     make(map[string]time.Time),
		pausedStrategies: make(map[string]struct{}),
		strategyNotional: make(map[string]decimal.Decimal),
		strategyBudget:   make(map[string]decimal.Decimal),
	}
}

// Start registers the day/week boundary resets (R1) on a cron schedule and
// begins the periodic tick loop. It returns once ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	loc := e.cfg.ResetTimezone
	if loc == nil {
		loc = time.Local
	}
	e.cronSched = cron.New(cron.WithLocation(loc))
	if _, err := e.cronSched.AddFunc("@midnight", e.resetDaily); err != nil {
		return err
	}
	if _, err := e.cronSched.AddFunc("0 0 * * 1", e.resetWeekly); err != nil {
		return err
	}
	e.cronSched.Start()
	defer e.cronSched.Stop()

	ticker := e.clock.NewTicker(e.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			e.Tick(ctx)
		}
	}
}

func (e *Engine) resetDaily() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dailyStartEquity = decimal.NewFromFloat(e.source.Account().Equity)
	if e.pauseReason == "daily_drawdown" {
		e.tradingAllowed = true
		e.pauseReason = ""
		e.manager.ResumeTrading()
	}
}

func (e *Engine) resetWeekly() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.weeklyStartEquity = decimal.NewFromFloat(e.source.Account().Equity)
}

// Tick runs one evaluation of the full R1..R7 pipeline. It never panics on
// a CollaboratorFailure-class error from the executor and never propagates
// one: a failed reduce order is logged, and a failed emergency close is
// emitted as an executorUnavailable alert. Neither is counted.
func (e *Engine) Tick(ctx context.Context) {
	account := e.source.Account()
	positions := e.source.Positions()
	equity := decimal.NewFromFloat(account.Equity)
	usedMargin := decimal.NewFromFloat(account.UsedMargin)

	e.mu.Lock()
	if e.dailyStartEquity.IsZero() {
		e.dailyStartEquity = equity
	}
	if e.weeklyStartEquity.IsZero() {
		e.weeklyStartEquity = equity
	}
	e.mu.Unlock()

	level := types.RiskNormal

	marginLevel, marginShort := e.checkMarginRate(ctx, equity, usedMargin)
	level = joinLevel(level, marginLevel)
	if marginShort {
		e.setLevel(level)
		return
	}

	drawdownLevel, drawdownShort := e.checkEquityDrawdown(ctx, equity, positions)
	level = joinLevel(level, drawdownLevel)
	if drawdownShort {
		e.setLevel(level)
		return
	}

	level = joinLevel(level, e.checkDailyDrawdown(equity))
	level = joinLevel(level, e.checkBTCFlashCrash(ctx, positions))
	level = joinLevel(level, e.checkConcentration(positions, equity))
	level = joinLevel(level, e.checkLiquidationProximity(positions))

	e.setLevel(level)
}

func (e *Engine) setLevel(level types.RiskLevel) {
	e.mu.Lock()
	prev := e.riskLevel
	e.riskLevel = level
	e.mu.Unlock()
	if prev != level {
		e.manager.Emit("riskLevelChanged", map[string]any{"previous": prev.String(), "current": level.String()})
	}
}

// checkMarginRate implements R2. The bool return is true when the tick
// must short-circuit after this check (EMERGENCY_CLOSE).
func (e *Engine) checkMarginRate(ctx context.Context, equity, usedMargin decimal.Decimal) (types.RiskLevel, bool) {
	if usedMargin.IsZero() {
		return types.RiskNormal, false
	}
	marginRate := equity.Div(usedMargin)

	switch {
	case marginRate.LessThan(e.cfg.EmergencyMarginRate):
		e.emergencyClose(ctx, "margin_rate_critical")
		return types.RiskEmergency, true
	case marginRate.LessThan(e.cfg.DangerMarginRate):
		e.manager.Emit("alert", map[string]any{"reason": "margin_rate_danger", "marginRate": marginRate.String()})
		return types.RiskDanger, false
	case marginRate.LessThan(e.cfg.WarningMarginRate):
		e.manager.Emit("alert", map[string]any{"reason": "margin_rate_warning", "marginRate": marginRate.String()})
		return types.RiskWarning, false
	default:
		return types.RiskNormal, false
	}
}

// checkEquityDrawdown implements R3, updating the all-time-high watermark
// before comparing. Returns short=true on EMERGENCY_CLOSE.
func (e *Engine) checkEquityDrawdown(ctx context.Context, equity decimal.Decimal, positions []types.PositionSnapshot) (types.RiskLevel, bool) {
	e.mu.Lock()
	ath := decimal.NewFromFloat(e.drawdown.AllTimeHighEquity)
	if equity.GreaterThan(ath) || ath.IsZero() {
		ath = equity
		e.drawdown.AllTimeHighEquity = equity.InexactFloat64()
		e.drawdown.AllTimeHighTime = e.clock.Now()
	}
	drawdown := decimal.Zero
	if ath.IsPositive() {
		drawdown = ath.Sub(equity).Div(ath)
	}
	e.drawdown.CurrentDrawdown = drawdown.InexactFloat64()
	e.drawdown.CurrentDrawdownAmt = ath.Sub(equity).InexactFloat64()
	if drawdown.InexactFloat64() > e.drawdown.MaxDrawdown {
		e.drawdown.MaxDrawdown = drawdown.InexactFloat64()
		e.drawdown.MaxDrawdownTime = e.clock.Now()
	}
	e.mu.Unlock()

	switch {
	case drawdown.GreaterThanOrEqual(e.cfg.MaxEquityDrawdown):
		e.bumpTrigger(func(c *types.DrawdownTriggerCounts) { c.Emergency++ })
		e.emergencyClose(ctx, "equity_drawdown_critical")
		return types.RiskEmergency, true
	case drawdown.GreaterThanOrEqual(e.cfg.EquityDrawdownDangerThreshold):
		e.bumpTrigger(func(c *types.DrawdownTriggerCounts) { c.Danger++ })
		e.reducePositions(ctx, "equity_drawdown", positions, e.cfg.EquityDrawdownReduceRatio, nil)
		return types.RiskDanger, false
	case drawdown.GreaterThanOrEqual(e.cfg.EquityDrawdownWarningThreshold):
		e.bumpTrigger(func(c *types.DrawdownTriggerCounts) { c.Warning++ })
		e.pauseTrading("equity_drawdown_warning")
		return types.RiskWarning, false
	case drawdown.GreaterThanOrEqual(e.cfg.EquityDrawdownAlertThreshold):
		e.bumpTrigger(func(c *types.DrawdownTriggerCounts) { c.Alert++ })
		e.manager.Emit("alert", map[string]any{"reason": "equity_drawdown_alert", "drawdown": drawdown.String()})
		return types.RiskElevated, false
	default:
		return types.RiskNormal, false
	}
}

func (e *Engine) bumpTrigger(f func(*types.DrawdownTriggerCounts)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f(&e.drawdown.TriggerCounts)
}

// checkDailyDrawdown implements R4.
func (e *Engine) checkDailyDrawdown(equity decimal.Decimal) types.RiskLevel {
	e.mu.RLock()
	start := e.dailyStartEquity
	e.mu.RUnlock()
	if start.IsZero() {
		return types.RiskNormal
	}
	drawdown := start.Sub(equity).Div(start)
	if drawdown.IsNegative() {
		drawdown = decimal.Zero
	}
	if drawdown.GreaterThan(e.cfg.MaxDailyDrawdown) {
		e.pauseTrading("daily_drawdown")
		return types.RiskHigh
	}
	return types.RiskNormal
}

// checkBTCFlashCrash implements R5: push the current BTC price into the
// rolling window, then compare against the oldest sample still in range.
func (e *Engine) checkBTCFlashCrash(ctx context.Context, positions []types.PositionSnapshot) types.RiskLevel {
	ticker, ok := e.source.Ticker(e.cfg.BTCSymbol)
	if !ok {
		return types.RiskNormal
	}
	price := ticker.Last
	if price.IsZero() && ticker.Bid.IsPositive() && ticker.Ask.IsPositive() {
		price = ticker.Bid.Add(ticker.Ask).Div(decimal.NewFromInt(2))
	}
	if !price.IsPositive() {
		return types.RiskNormal
	}

	now := e.clock.Now()
	e.mu.Lock()
	e.btcHistory = append(e.btcHistory, pricePoint{at: now, price: price})
	cutoff := now.Add(-e.cfg.BTCPriceWindow)
	trimmed := e.btcHistory[:0]
	for _, p := range e.btcHistory {
		if p.at.After(cutoff) || p.at.Equal(cutoff) {
			trimmed = append(trimmed, p)
		}
	}
	e.btcHistory = trimmed
	var oldest decimal.Decimal
	if len(e.btcHistory) > 0 {
		oldest = e.btcHistory[0].price
	}
	e.mu.Unlock()

	if !oldest.IsPositive() {
		return types.RiskNormal
	}
	change := price.Sub(oldest).Div(oldest)
	if change.GreaterThan(e.cfg.BTCCrashThreshold) {
		return types.RiskNormal
	}

	var affected []types.PositionSnapshot
	for _, p := range positions {
		if p.Symbol == e.cfg.BTCSymbol {
			continue
		}
		if len(e.cfg.AltcoinSymbols) > 0 {
			if _, ok := e.cfg.AltcoinSymbols[p.Symbol]; !ok {
				continue
			}
		}
		affected = append(affected, p)
	}
	e.reducePositions(ctx, "btc_flash_crash", affected, e.cfg.AltcoinReduceRatio, map[string]any{"btcChange": change.String()})
	return types.RiskDanger
}

// checkConcentration implements R6.
func (e *Engine) checkConcentration(positions []types.PositionSnapshot, equity decimal.Decimal) types.RiskLevel {
	if len(positions) == 0 {
		return types.RiskNormal
	}
	byBase := make(map[string]decimal.Decimal)
	total := decimal.Zero
	for _, p := range positions {
		notional := decimal.NewFromFloat(p.Notional).Abs()
		byBase[p.Symbol.Base()] = byBase[p.Symbol.Base()].Add(notional)
		total = total.Add(notional)
	}
	if !total.IsPositive() {
		return types.RiskNormal
	}
	level := types.RiskNormal
	for base, notional := range byBase {
		ratio := notional.Div(total)
		if ratio.GreaterThan(e.cfg.MaxSinglePositionRatio) {
			e.manager.Emit("alert", map[string]any{"reason": "concentration", "base": base, "ratio": ratio.String()})
			level = types.RiskElevated
		}
	}
	return level
}

// checkLiquidationProximity implements R7.
func (e *Engine) checkLiquidationProximity(positions []types.PositionSnapshot) types.RiskLevel {
	var near []types.PositionSnapshot
	for _, p := range positions {
		if p.Leverage <= 0 || p.EntryPrice <= 0 || p.MarkPrice <= 0 {
			continue
		}
		entry := decimal.NewFromFloat(p.EntryPrice)
		leverage := decimal.NewFromFloat(p.Leverage)
		current := decimal.NewFromFloat(p.MarkPrice)
		mmr := e.cfg.MaintenanceMarginRate

		var liq decimal.Decimal
		if p.Side == types.PositionLong {
			liq = entry.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromInt(1).Div(leverage)).Add(mmr))
		} else {
			liq = entry.Mul(decimal.NewFromInt(1).Add(decimal.NewFromInt(1).Div(leverage)).Sub(mmr))
		}
		distance := current.Sub(liq).Abs().Div(current)
		if distance.LessThan(e.cfg.LiquidationBuffer) {
			near = append(near, p)
		}
	}
	if len(near) == 0 {
		return types.RiskNormal
	}
	e.manager.Emit("alert", map[string]any{"reason": "liquidation_proximity", "positions": near})
	return types.RiskWarning
}

// reducePositions implements the REDUCE_POSITION action shared by R3 and
// R5, respecting the per-kind deRiskCooldown.
func (e *Engine) reducePositions(ctx context.Context, kind string, positions []types.PositionSnapshot, ratio decimal.Decimal, meta map[string]any) {
	e.mu.Lock()
	last, ok := e.lastReduceAt[kind]
	now := e.clock.Now()
	if ok && now.Sub(last) < e.cfg.DeRiskCooldown {
		e.mu.Unlock()
		return
	}
	e.lastReduceAt[kind] = now
	e.mu.Unlock()

	for _, p := range positions {
		side := types.SideSell
		if p.Side == types.PositionShort {
			side = types.SideBuy
		}
		amount := decimal.NewFromFloat(p.Size).Mul(ratio)
		if err := e.executor.ExecuteMarketOrder(ctx, MarketOrder{Symbol: p.Symbol, Side: side, Amount: amount, ReduceOnly: true}); err != nil {
			e.log.Warn().Err(err).Str("kind", kind).Msg("reduce-position order failed")
		}
	}
	e.manager.Emit("reducePosition", map[string]any{"kind": kind, "ratio": ratio.String(), "meta": meta})
}

func (e *Engine) emergencyClose(ctx context.Context, reason string) {
	e.mu.Lock()
	e.tradingAllowed = false
	e.pauseReason = reason
	e.mu.Unlock()

	e.manager.Emit("emergencyClose", map[string]any{"reason": reason})
	if err := e.executor.EmergencyCloseAll(ctx, reason); err != nil {
		e.manager.Emit("alert", map[string]any{"reason": "executorUnavailable", "detail": err.Error()})
	}
}

// pauseTrading is idempotent while already paused: the reason recorded is
// whichever check paused trading first, so a later, unrelated breach in the
// same or a subsequent tick never overwrites it.
func (e *Engine) pauseTrading(reason string) {
	e.mu.Lock()
	alreadyPaused := !e.tradingAllowed
	e.tradingAllowed = false
	if !alreadyPaused {
		e.pauseReason = reason
	}
	e.mu.Unlock()
	if !alreadyPaused {
		e.manager.PauseTrading(reason)
	}
}

func joinLevel(a, b types.RiskLevel) types.RiskLevel {
	if b > a {
		return b
	}
	return a
}

// OrderRequest is the input to checkOrder.
type OrderRequest struct {
	StrategyID string
	Symbol     types.Symbol
	Side       types.Side
	Amount     decimal.Decimal
	Price      decimal.Decimal
}

// OrderDecision is checkOrder's synchronous verdict.
type OrderDecision struct {
	Allowed            bool
	Reasons            []string
	Warnings           []string
	SuggestedReduction *decimal.Decimal
}

// CheckOrder is the synchronous pre-trade gate every strategy order must
// pass through before it reaches the executor.
func (e *Engine) CheckOrder(req OrderRequest) OrderDecision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	decision := OrderDecision{Allowed: true}

	if !e.tradingAllowed {
		decision.Allowed = false
		decision.Reasons = append(decision.Reasons, "trading paused: "+e.pauseReason)
	}
	if _, paused := e.pausedStrategies[req.StrategyID]; paused {
		decision.Allowed = false
		decision.Reasons = append(decision.Reasons, "strategy paused: "+req.StrategyID)
	}
	if e.riskLevel == types.RiskCritical || e.riskLevel == types.RiskEmergency {
		decision.Allowed = false
		decision.Reasons = append(decision.Reasons, "risk level "+e.riskLevel.String())
	}
	if e.drawdown.AllTimeHighEquity > 0 && e.drawdown.CurrentDrawdown >= e.cfg.EquityDrawdownWarningThreshold.InexactFloat64() {
		decision.Allowed = false
		decision.Reasons = append(decision.Reasons, "equity drawdown breach")
	}

	notional := req.Amount.Mul(req.Price)

	var equity decimal.Decimal
	var equityFetched bool
	accountEquity := func() decimal.Decimal {
		if !equityFetched {
			equity = decimal.NewFromFloat(e.source.Account().Equity)
			equityFetched = true
		}
		return equity
	}

	if e.cfg.MaxSingleStrategyRatio.IsPositive() {
		equity := accountEquity()
		if equity.IsPositive() {
			projected := e.strategyNotional[req.StrategyID].Add(notional)
			if projected.Div(equity).GreaterThan(e.cfg.MaxSingleStrategyRatio) {
				decision.Allowed = false
				decision.Reasons = append(decision.Reasons, "strategy position ratio exceeded")
			}
		}
	}

	if e.cfg.MaxTotalPositionRatio.IsPositive() {
		equity := accountEquity()
		if equity.IsPositive() {
			total := decimal.Zero
			for _, p := range e.source.Positions() {
				total = total.Add(decimal.NewFromFloat(p.Notional).Abs())
			}
			if total.Add(notional).Div(equity).GreaterThan(e.cfg.MaxTotalPositionRatio) {
				decision.Allowed = false
				decision.Reasons = append(decision.Reasons, "total position ratio exceeded")
			}
		}
	}

	if budgetRatio := e.strategyBudgetRatio(req.StrategyID); budgetRatio.IsPositive() {
		equity := accountEquity()
		if equity.IsPositive() {
			remaining := budgetRatio.Mul(equity).Sub(e.strategyNotional[req.StrategyID])
			if notional.GreaterThan(remaining) {
				decision.Allowed = false
				decision.Reasons = append(decision.Reasons, "strategy risk budget exceeded")
			}
		}
	}

	if e.riskLevel == types.RiskCritical {
		half := decimal.NewFromFloat(0.5)
		decision.SuggestedReduction = &half
	} else if e.riskLevel == types.RiskDanger || e.riskLevel == types.RiskHigh {
		decision.Warnings = append(decision.Warnings, "approaching risk threshold")
	}

	return decision
}

// RecordStrategyExposure lets the caller keep per-strategy notional
// tracking current for CheckOrder's strategy-ratio and risk-budget checks.
func (e *Engine) RecordStrategyExposure(strategyID string, notional decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategyNotional[strategyID] = notional
}

// SetStrategyRiskBudget overrides a strategy's notional risk budget, given
// as a ratio of account equity. Strategies with no override fall back to
// Config.DefaultStrategyRiskBudget.
func (e *Engine) SetStrategyRiskBudget(strategyID string, ratio decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategyBudget[strategyID] = ratio
}

// strategyBudgetRatio returns strategyID's risk-budget ratio, falling back
// to Config.DefaultStrategyRiskBudget. Callers must hold e.mu.
func (e *Engine) strategyBudgetRatio(strategyID string) decimal.Decimal {
	if ratio, ok := e.strategyBudget[strategyID]; ok {
		return ratio
	}
	return e.cfg.DefaultStrategyRiskBudget
}

// PauseStrategy/ResumeStrategy toggle a single strategy's own gate,
// independent of the portfolio-wide tradingAllowed flag.
func (e *Engine) PauseStrategy(strategyID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pausedStrategies[strategyID] = struct{}{}
}

func (e *Engine) ResumeStrategy(strategyID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pausedStrategies, strategyID)
}

// RiskLevel returns the most recent tick's aggregate level.
func (e *Engine) RiskLevel() types.RiskLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.riskLevel
}

// TradingAllowed reports whether trading is currently paused and why.
func (e *Engine) TradingAllowed() (bool, string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tradingAllowed, e.pauseReason
}

// DrawdownState returns a copy of the current ATH watermark state.
func (e *Engine) DrawdownState() types.EquityDrawdownState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.drawdown
}

// Resume clears a portfolio-wide pause manually, e.g. after operator
// intervention following an emergency close.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.tradingAllowed = true
	e.pauseReason = ""
	e.mu.Unlock()
	e.manager.ResumeTrading()
}
