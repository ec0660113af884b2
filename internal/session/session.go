// Package session implements the session manager capability: one
// WebSocket lifecycle state machine per exchange, heartbeating,
// exponential-backoff-with-jitter reconnect, and idempotent subscription
// replay after a reconnect. Grounded on a PortfolioTracker ticker-loop
// shape and on the BaseConnector lifecycle fields from a Futures-Arbitrage
// reference
// connector (connected/lastMessageTime/handler wiring).
package session

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketpulse/pipeline/internal/clock"
	"github.com/marketpulse/pipeline/internal/exchange"
	"github.com/marketpulse/pipeline/internal/types"
)

// TextMessage mirrors gorilla/websocket.TextMessage, kept local so this
// file does not need to import the transport package directly.
const TextMessage = 1

// Conn is the subset of *websocket.Conn a Session needs, so tests can
// substitute a fake transport without opening a real socket.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Dialer opens a Conn to url. The production Dialer wraps
// gorilla/websocket.DefaultDialer.DialContext.
type Dialer func(ctx context.Context, url string) (Conn, error)

// BackoffConfig controls reconnect delay growth:
// delay = min(base*2^(attempt-1) + jitter, max).
type BackoffConfig struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff returns the default reconnect backoff.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 10}
}

func (b BackoffConfig) delay(attempt int, jitter func() time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base * time.Duration(1<<uint(attempt-1))
	if d > b.Max {
		d = b.Max
	}
	d += jitter()
	if d > b.Max {
		d = b.Max
	}
	return d
}

// Config configures one Session.
type Config struct {
	TradingType       types.TradingType
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	Backoff           BackoffConfig
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		TradingType:       types.TradingSpot,
		HeartbeatInterval: 20 * time.Second,
		PongTimeout:       30 * time.Second,
		Backoff:           DefaultBackoff(),
	}
}

// Session owns one exchange's WebSocket lifecycle: connect, heartbeat,
// subscription replay, and isolated reconnect-with-backoff. A failure in
// one Session never touches another exchange's Session.
type Session struct {
	adapter exchange.Adapter
	dialer  Dialer
	clock   clock.Clock
	cfg     Config
	events  chan<- types.MarketEvent
	log     zerolog.Logger

	mu            sync.Mutex
	subscriptions map[types.SubscriptionKey]struct{}
	state         types.SessionState
	conn          Conn
	lastTraffic   time.Time
}

// New constructs a Session for one exchange. events receives every decoded
// MarketEvent; the caller owns the channel's lifetime.
func New(adapter exchange.Adapter, dialer Dialer, clk clock.Clock, cfg Config, events chan<- types.MarketEvent, log zerolog.Logger) *Session {
	return &Session{
		adapter:       adapter,
		dialer:        dialer,
		clock:         clk,
		cfg:           cfg,
		events:        events,
		log:           log.With().Str("exchange", adapter.Name()).Logger(),
		subscriptions: make(map[types.SubscriptionKey]struct{}),
		state: types.SessionState{
			Exchange:      adapter.Name(),
			State:         types.StateDisconnected,
			Subscriptions: make(map[types.SubscriptionKey]struct{}),
		},
	}
}

// State returns a snapshot of the session's current state.
func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.state
	snap.Subscriptions = make(map[types.SubscriptionKey]struct{}, len(s.subscriptions))
	for k := range s.subscriptions {
		snap.Subscriptions[k] = struct{}{}
	}
	return snap
}

// Subscribe adds (symbol, dataType) to the desired subscription set.
// Idempotent: subscribing twice is a no-op on the wire. If currently
// connected, the subscribe frame is sent immediately;
// otherwise it is replayed on the next successful connect.
func (s *Session) Subscribe(ctx context.Context, symbol types.Symbol, dataType types.DataType) error {
	key := types.SubscriptionKey{DataType: dataType, Symbol: symbol}

	s.mu.Lock()
	_, already := s.subscriptions[key]
	s.subscriptions[key] = struct{}{}
	conn := s.conn
	s.mu.Unlock()

	if already || conn == nil {
		return nil
	}
	return s.sendSubscribe(conn, symbol, dataType)
}

// Unsubscribe removes (symbol, dataType) from the desired subscription set.
func (s *Session) Unsubscribe(ctx context.Context, symbol types.Symbol, dataType types.DataType) error {
	key := types.SubscriptionKey{DataType: dataType, Symbol: symbol}

	s.mu.Lock()
	_, present := s.subscriptions[key]
	delete(s.subscriptions, key)
	conn := s.conn
	s.mu.Unlock()

	if !present || conn == nil {
		return nil
	}
	frame, err := s.adapter.BuildUnsubscribe(symbol, dataType)
	if err != nil {
		return err
	}
	return conn.WriteMessage(TextMessage, []byte(frame.Text))
}

func (s *Session) sendSubscribe(conn Conn, symbol types.Symbol, dataType types.DataType) error {
	frame, err := s.adapter.BuildSubscribe(symbol, dataType)
	if err != nil {
		return err
	}
	return conn.WriteMessage(TextMessage, []byte(frame.Text))
}

// Run drives the connect/heartbeat/read/reconnect loop until ctx is
// cancelled or the backoff budget (BackoffConfig.MaxAttempts) is exhausted.
func (s *Session) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.setState(types.StateConnecting)
		err := s.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			attempt = 0
			continue
		}

		attempt++
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("session disconnected")
		s.setState(types.StateDisconnected)

		if attempt >= s.cfg.Backoff.MaxAttempts {
			return types.NewError(types.ErrMaxReconnectExceeded, s.adapter.Name(), fmt.Errorf("exceeded %d reconnect attempts: %w", attempt, err))
		}

		delay := s.cfg.Backoff.delay(attempt, func() time.Duration {
			return time.Duration(rand.Int63n(int64(time.Second)))
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(delay):
		}
	}
}

func (s *Session) setState(state types.ConnState) {
	s.mu.Lock()
	s.state.State = state
	s.state.Connected = state == types.StateOpen
	s.state.Reconnecting = state == types.StateConnecting
	s.mu.Unlock()
}

func (s *Session) connectAndServe(ctx context.Context) error {
	url, err := s.adapter.WSURL(s.cfg.TradingType)
	if err != nil {
		return types.NewError(types.ErrConfig, s.adapter.Name(), err)
	}

	conn, err := s.dialer(ctx, url)
	if err != nil {
		return types.NewError(types.ErrTransport, s.adapter.Name(), err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.lastTraffic = s.clock.Now()
	s.mu.Unlock()
	s.setState(types.StateOpen)
	s.log.Info().Msg("session connected")

	if err := s.replaySubscriptions(conn); err != nil {
		return err
	}

	heartbeatDone := make(chan struct{})
	heartbeatErr := make(chan error, 1)
	go s.heartbeatLoop(ctx, conn, heartbeatDone, heartbeatErr)
	defer close(heartbeatDone)

	readErr := s.readLoop(conn)

	select {
	case err := <-heartbeatErr:
		return err
	default:
		return readErr
	}
}

func (s *Session) replaySubscriptions(conn Conn) error {
	s.mu.Lock()
	keys := make([]types.SubscriptionKey, 0, len(s.subscriptions))
	for k := range s.subscriptions {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	for _, k := range keys {
		if err := s.sendSubscribe(conn, k.Symbol, k.DataType); err != nil {
			return types.NewError(types.ErrTransport, s.adapter.Name(), err)
		}
	}
	return nil
}

func (s *Session) heartbeatLoop(ctx context.Context, conn Conn, done <-chan struct{}, errc chan<- error) {
	frame, ok := s.adapter.HeartbeatFrame()
	if !ok {
		return
	}
	ticker := s.clock.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C():
			s.mu.Lock()
			stuck := s.clock.Now().Sub(s.lastTraffic) > s.cfg.PongTimeout
			s.mu.Unlock()
			if stuck {
				errc <- types.NewError(types.ErrTransport, s.adapter.Name(), fmt.Errorf("no traffic for %s, session stuck", s.cfg.PongTimeout))
				return
			}
			if err := conn.WriteMessage(TextMessage, []byte(frame.Text)); err != nil {
				errc <- types.NewError(types.ErrTransport, s.adapter.Name(), err)
				return
			}
		}
	}
}

func (s *Session) readLoop(conn Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return types.NewError(types.ErrTransport, s.adapter.Name(), err)
		}

		s.mu.Lock()
		s.lastTraffic = s.clock.Now()
		s.mu.Unlock()

		result, err := s.adapter.Decode(raw)
		if err != nil {
			s.log.Warn().Err(err).Msg("decode failure, frame dropped")
			continue
		}
		if result.IsControl || result.Event == nil {
			continue
		}
		if s.events != nil {
			s.events <- *result.Event
		}
	}
}
