package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Notifier sends alerts to a Telegram chat via the Bot API.
type Notifier struct {
	botToken   string
	chatID     string
	httpClient *http.Client
	enabled    bool
	baseURL    string // overridable for testing; defaults to Telegram API
}

// NewNotifier creates a Notifier. Notifications are enabled only when both
// botToken and chatID are non-empty.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		enabled:    botToken != "" && chatID != "",
	}
}

// Enabled reports whether the notifier is active.
func (n *Notifier) Enabled() bool { return n.enabled }

// Send posts a message to the configured Telegram chat.
func (n *Notifier) Send(ctx context.Context, msg string) error {
	if !n.enabled {
		return nil
	}

	endpoint := n.baseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.botToken)
	}
	vals := url.Values{
		"chat_id":    {n.chatID},
		"text":       {msg},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.URL.RawQuery = vals.Encode()

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("notify: telegram %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}

// NotifyRiskLevelChanged sends an alert when the risk engine's aggregate
// level changes.
func (n *Notifier) NotifyRiskLevelChanged(ctx context.Context, previous, current string) error {
	msg := fmt.Sprintf("<b>Risk Level Changed</b>\n%s &#8594; <b>%s</b>", previous, current)
	return n.Send(ctx, msg)
}

// NotifyPauseTrading sends an alert when trading is paused.
func (n *Notifier) NotifyPauseTrading(ctx context.Context, reason string) error {
	msg := fmt.Sprintf("<b>Trading Paused</b>\nReason: <code>%s</code>", reason)
	return n.Send(ctx, msg)
}

// NotifyResumeTrading sends an alert when trading resumes.
func (n *Notifier) NotifyResumeTrading(ctx context.Context) error {
	return n.Send(ctx, "<b>Trading Resumed</b>")
}

// NotifyReducePosition sends an alert when a risk check reduces open
// exposure.
func (n *Notifier) NotifyReducePosition(ctx context.Context, reason string, ratio float64) error {
	msg := fmt.Sprintf("<b>Reducing Positions</b>\nReason: <code>%s</code>\nRatio: %.0f%%", reason, ratio*100)
	return n.Send(ctx, msg)
}

// NotifyEmergencyClose sends an alert when every position is force-closed.
func (n *Notifier) NotifyEmergencyClose(ctx context.Context, reason string) error {
	msg := fmt.Sprintf("<b>EMERGENCY CLOSE</b>\nReason: <code>%s</code>\nAll positions flattened.", reason)
	return n.Send(ctx, msg)
}

// NotifyCircuitLevelRaised sends an alert when the black-swan protector
// raises its circuit-breaker level for a symbol.
func (n *Notifier) NotifyCircuitLevelRaised(ctx context.Context, level, symbol, reason string) error {
	msg := fmt.Sprintf(
		"<b>Circuit Breaker: %s</b>\nSymbol: <code>%s</code>\nReason: <code>%s</code>",
		level, symbol, reason,
	)
	return n.Send(ctx, msg)
}

// NotifyRecovered sends an alert when the black-swan protector recovers
// from a raised circuit level back to normal.
func (n *Notifier) NotifyRecovered(ctx context.Context, previousLevel string) error {
	msg := fmt.Sprintf("<b>Circuit Breaker Recovered</b>\nPrevious level: <code>%s</code>", previousLevel)
	return n.Send(ctx, msg)
}

// NotifyDailySummary sends a daily portfolio summary.
func (n *Notifier) NotifyDailySummary(ctx context.Context, equity, dailyDrawdown float64, tradingAllowed bool) error {
	msg := fmt.Sprintf(
		"<b>Daily Summary</b>\nEquity: %.2f\nDaily Drawdown: %.2f%%\nTrading Allowed: %t",
		equity, dailyDrawdown*100, tradingAllowed,
	)
	return n.Send(ctx, msg)
}

// AlertManager adapts a Notifier to the PauseTrading(reason)/ResumeTrading()/
// Emit(event, payload) shape both the risk engine and the black-swan
// protector depend on, so either can drive Telegram alerts without this
// package importing either of theirs. Send errors are logged, never
// returned: a failed Telegram call must not stop a risk tick or a
// circuit-breaker transition.
type AlertManager struct {
	notifier *Notifier
	log      zerolog.Logger
}

// NewAlertManager constructs an AlertManager. ctx passed to each Send call
// is context.Background(); these fire from synchronous risk/black-swan code
// paths that do not carry a request-scoped context of their own.
func NewAlertManager(notifier *Notifier, log zerolog.Logger) *AlertManager {
	return &AlertManager{notifier: notifier, log: log}
}

// PauseTrading sends a trading-paused alert.
func (m *AlertManager) PauseTrading(reason string) {
	if err := m.notifier.NotifyPauseTrading(context.Background(), reason); err != nil {
		m.log.Warn().Err(err).Msg("notify pause trading failed")
	}
}

// ResumeTrading sends a trading-resumed alert.
func (m *AlertManager) ResumeTrading() {
	if err := m.notifier.NotifyResumeTrading(context.Background()); err != nil {
		m.log.Warn().Err(err).Msg("notify resume trading failed")
	}
}

// Emit dispatches a named risk/black-swan event to the matching alert
// method. Event names it does not recognize are logged at debug and
// otherwise dropped, so a new event kind added upstream never panics here.
func (m *AlertManager) Emit(event string, payload any) {
	ctx := context.Background()
	fields, _ := payload.(map[string]any)

	var err error
	switch event {
	case "riskLevelChanged":
		err = m.notifier.NotifyRiskLevelChanged(ctx, stringField(fields, "previous"), stringField(fields, "current"))
	case "alert":
		err = m.notifier.Send(ctx, fmt.Sprintf("<b>Risk Alert</b>\nReason: <code>%s</code>", stringField(fields, "reason")))
	case "reducePosition":
		ratio, _ := strconv.ParseFloat(stringField(fields, "ratio"), 64)
		err = m.notifier.NotifyReducePosition(ctx, stringField(fields, "kind"), ratio)
	case "emergencyClose":
		err = m.notifier.NotifyEmergencyClose(ctx, stringField(fields, "reason"))
	case "circuitLevelRaised":
		err = m.notifier.NotifyCircuitLevelRaised(ctx, stringField(fields, "level"), stringField(fields, "symbol"), stringField(fields, "reason"))
	case "recovered":
		err = m.notifier.NotifyRecovered(ctx, stringField(fields, "previousLevel"))
	default:
		m.log.Debug().Str("event", event).Msg("unhandled notify event")
		return
	}
	if err != nil {
		m.log.Warn().Err(err).Str("event", event).Msg("notify emit failed")
	}
}

func stringField(fields map[string]any, key string) string {
	v, _ := fields[key].(string)
	return v
}
