// Package engine is the composition root: it wires one SessionManager per
// configured exchange to the shared Normalizer/TimeFuser, CacheAndPublisher
// and CrossExchangeAggregator, feeds the BlackSwanProtector from the same
// fused ticker stream, and runs the RiskEngine on its own check-interval
// loop, in the way the
// teacher's internal/app.App wires clobClient/wsClient/riskMgr/notifier
// into one struct with a central Run(ctx) loop.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/marketpulse/pipeline/internal/account"
	"github.com/marketpulse/pipeline/internal/aggregator"
	"github.com/marketpulse/pipeline/internal/blackswan"
	"github.com/marketpulse/pipeline/internal/cache"
	"github.com/marketpulse/pipeline/internal/clock"
	"github.com/marketpulse/pipeline/internal/config"
	"github.com/marketpulse/pipeline/internal/exchange"
	"github.com/marketpulse/pipeline/internal/normalize"
	"github.com/marketpulse/pipeline/internal/risk"
	"github.com/marketpulse/pipeline/internal/session"
	"github.com/marketpulse/pipeline/internal/types"
)

// subscribedDataTypes is every channel the engine asks each session to
// subscribe to, for every configured symbol. A venue that doesn't carry one
// (ErrUnsupportedDataType) is skipped rather than failing startup.
var subscribedDataTypes = []types.DataType{
	types.DataTicker, types.DataDepth, types.DataTrade, types.DataFundingRate,
}

// Engine is the pipeline's composition root for one process: every
// configured exchange's session, the shared fuser/cache/aggregator, and the
// optional risk/black-swan/account collaborators that need a live exchange
// REST client the engine does not construct itself (authenticating against
// a real exchange's REST API is out of scope for this repository).
type Engine struct {
	cfg   config.Config
	log   zerolog.Logger
	clock clock.Clock

	sessions map[string]*session.Session
	events   chan types.MarketEvent

	fuser      *normalize.Fuser
	cache      *cache.Cache
	aggregator *aggregator.Aggregator

	accounts  map[string]*account.Refresher
	risk      *risk.Engine
	blackswan *blackswan.Protector

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
}

// Option configures optional collaborators that require external wiring
// (an authenticated exchange REST client, live order execution) beyond what
// this package constructs on its own.
type Option func(*Engine)

// WithAccountRefresher wires a per-exchange AccountStateRefresher. Requires
// a caller-supplied account.Exchange implementation (REST auth is out of
// scope here).
func WithAccountRefresher(exchangeName string, r *account.Refresher) Option {
	return func(e *Engine) { e.accounts[exchangeName] = r }
}

// WithRiskEngine wires the RiskEngine. Requires a caller-supplied
// risk.AccountSource/risk.Executor (order execution is out of scope here).
func WithRiskEngine(r *risk.Engine) Option {
	return func(e *Engine) { e.risk = r }
}

// WithBlackSwanProtector wires the BlackSwanProtector. Requires a
// caller-supplied blackswan.Executor.
func WithBlackSwanProtector(p *blackswan.Protector) Option {
	return func(e *Engine) { e.blackswan = p }
}

// New constructs an Engine. One session is created per cfg.Ingestion.Exchange
// entry via the exchange registry; rdb backs the cache's Redis writes.
func New(cfg config.Config, rdb redis.UniversalClient, log zerolog.Logger, opts ...Option) (*Engine, error) {
	clk := clock.Real{}
	events := make(chan types.MarketEvent, 1024)

	e := &Engine{
		cfg:        cfg,
		log:        log,
		clock:      clk,
		sessions:   make(map[string]*session.Session),
		events:     events,
		fuser:      normalize.New(clk),
		cache:      cache.New(rdb, cfg.Cache, log.With().Str("component", "cache").Logger()),
		aggregator: aggregator.New(cfg.Aggregator, clk),
		accounts:   make(map[string]*account.Refresher),
	}

	for _, name := range cfg.Ingestion.Exchanges {
		adapter, err := exchange.New(name)
		if err != nil {
			return nil, fmt.Errorf("engine: exchange %q: %w", name, err)
		}
		sessionLog := log.With().Str("component", "session").Str("exchange", name).Logger()
		sess := session.New(adapter, session.GorillaDialer, clk, cfg.Ingestion.Session, events, sessionLog)
		e.sessions[name] = sess
		e.aggregator.AddExchange(name)
	}

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Subscribe registers every configured symbol against every session's
// subscribedDataTypes, before Run is called. An unsupported combination is
// logged and skipped rather than treated as fatal.
func (e *Engine) Subscribe(ctx context.Context) error {
	for name, sess := range e.sessions {
		for _, rawSymbol := range e.cfg.Ingestion.Symbols {
			symbol := types.Symbol(rawSymbol)
			for _, dt := range subscribedDataTypes {
				if err := sess.Subscribe(ctx, symbol, dt); err != nil {
					e.log.Warn().Err(err).Str("exchange", name).Str("symbol", string(symbol)).
						Str("dataType", string(dt)).Msg("subscribe skipped")
				}
			}
		}
	}
	return nil
}

// Run starts every session, the aggregator, the optional risk/black-swan/
// account collaborators, and the fused-event consumer loop. It blocks until
// ctx is cancelled or a collaborator returns a fatal error.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	reportErr := func(err error) {
		if err == nil || err == context.Canceled {
			return
		}
		select {
		case errCh <- err:
			cancel()
		default:
		}
	}

	for name, sess := range e.sessions {
		wg.Add(1)
		go func(name string, sess *session.Session) {
			defer wg.Done()
			if err := sess.Run(runCtx); err != nil {
				e.log.Error().Err(err).Str("exchange", name).Msg("session stopped")
				reportErr(err)
			}
		}(name, sess)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		reportErr(e.aggregator.Run(runCtx))
	}()

	for name, refresher := range e.accounts {
		wg.Add(1)
		go func(name string, r *account.Refresher) {
			defer wg.Done()
			reportErr(r.Run(runCtx))
		}(name, refresher)
	}

	if e.risk != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reportErr(e.risk.Start(runCtx))
		}()
	}

	if e.blackswan != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reportErr(e.blackswan.Run(runCtx))
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.consume(runCtx)
	}()

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

// consume fuses every raw event, republishes it, and feeds tickers onward
// to the aggregator and the black-swan protector until ctx is cancelled.
func (e *Engine) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-e.events:
			if !ok {
				return
			}
			fused := e.fuser.Fuse(raw)
			e.cache.Handle(ctx, fused)

			if fused.Type == types.EventTicker {
				e.aggregator.Handle(*fused.Ticker)
				if e.blackswan != nil {
					var depthPtr *types.Depth
					if depth, ok := e.cache.LatestDepth(fused.Ticker.Exchange, fused.Ticker.Symbol); ok {
						depthPtr = &depth
					}
					e.blackswan.UpdatePrice(fused.Ticker.Symbol, fused.Ticker.Last, depthPtr)
				}
			}
		}
	}
}

// Stop cancels every collaborator started by Run and returns immediately;
// Run itself returns once its goroutines have unwound. Safe to call before
// Run if nothing has started yet.
func (e *Engine) Stop() {
	e.mu.RLock()
	cancel := e.cancel
	e.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// IsRunning reports whether Run's main loop is currently active.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// ExchangeStates returns each session's current connection state, keyed by
// exchange name, for the health/readiness API.
func (e *Engine) ExchangeStates() map[string]string {
	out := make(map[string]string, len(e.sessions))
	for name, sess := range e.sessions {
		out[name] = string(sess.State().State)
	}
	return out
}

// PublishFailures returns the cache's running count of non-fatal Redis
// write/publish errors.
func (e *Engine) PublishFailures() int64 {
	return e.cache.PublishFailures()
}

// Cache exposes the underlying CacheAndPublisher for read-path callers
// (e.g. a REST API serving last-known snapshots) that need it directly.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Aggregator exposes the underlying CrossExchangeAggregator.
func (e *Engine) Aggregator() *aggregator.Aggregator { return e.aggregator }
