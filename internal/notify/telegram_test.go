package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewNotifierDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if n.Enabled() {
		t.Fatal("expected disabled notifier with empty credentials")
	}
}

func TestNewNotifierEnabled(t *testing.T) {
	n := NewNotifier("bot123", "chat456")
	if !n.Enabled() {
		t.Fatal("expected enabled notifier with credentials")
	}
}

func TestSendDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if err := n.Send(context.Background(), "test"); err != nil {
		t.Fatalf("disabled send should succeed silently: %v", err)
	}
}

func TestSendSuccess(t *testing.T) {
	var receivedChatID, receivedText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedChatID = r.URL.Query().Get("chat_id")
		receivedText = r.URL.Query().Get("text")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]bool{"ok": true}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	n := &Notifier{
		botToken:   "test-token",
		chatID:     "test-chat",
		httpClient: server.Client(),
		enabled:    true,
		baseURL:    server.URL,
	}

	err := n.Send(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("send should succeed: %v", err)
	}
	if receivedChatID != "test-chat" {
		t.Errorf("expected chat_id=test-chat, got %s", receivedChatID)
	}
	if receivedText != "hello world" {
		t.Errorf("expected text=hello world, got %s", receivedText)
	}
}

func TestSendServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		if err := json.NewEncoder(w).Encode(map[string]string{"description": "bad request"}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	n := &Notifier{
		botToken:   "test-token",
		chatID:     "test-chat",
		httpClient: server.Client(),
		enabled:    true,
		baseURL:    server.URL,
	}

	err := n.Send(context.Background(), "test")
	if err == nil {
		t.Fatal("expected error for server error response")
	}
}

func TestNotifyRiskLevelChangedDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if err := n.NotifyRiskLevelChanged(context.Background(), "NORMAL", "WARNING"); err != nil {
		t.Fatalf("disabled notify should succeed: %v", err)
	}
}

func TestNotifyRiskLevelChangedSuccess(t *testing.T) {
	var receivedText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedText = r.URL.Query().Get("text")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]bool{"ok": true}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	n := &Notifier{
		botToken:   "test-token",
		chatID:     "test-chat",
		httpClient: server.Client(),
		enabled:    true,
		baseURL:    server.URL,
	}

	if err := n.NotifyRiskLevelChanged(context.Background(), "NORMAL", "DANGER"); err != nil {
		t.Fatalf("notify risk level changed: %v", err)
	}
	if receivedText == "" {
		t.Error("expected non-empty text")
	}
}

func TestNotifyPauseTradingDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if err := n.NotifyPauseTrading(context.Background(), "equity_drawdown_warning"); err != nil {
		t.Fatalf("disabled notify should succeed: %v", err)
	}
}

func TestNotifyEmergencyCloseDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if err := n.NotifyEmergencyClose(context.Background(), "margin_rate_critical"); err != nil {
		t.Fatalf("disabled notify should succeed: %v", err)
	}
}

func TestNotifyCircuitLevelRaisedDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if err := n.NotifyCircuitLevelRaised(context.Background(), "L3", "BTC/USDT", "price_5m_move"); err != nil {
		t.Fatalf("disabled notify should succeed: %v", err)
	}
}

func TestNotifyRecoveredDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if err := n.NotifyRecovered(context.Background(), "L3"); err != nil {
		t.Fatalf("disabled notify should succeed: %v", err)
	}
}

func TestNotifyDailySummaryDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if err := n.NotifyDailySummary(context.Background(), 10000, 0.02, true); err != nil {
		t.Fatalf("disabled notify should succeed: %v", err)
	}
}

func TestAlertManagerPauseAndResumeTrading(t *testing.T) {
	var texts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		texts = append(texts, r.URL.Query().Get("text"))
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer server.Close()

	n := &Notifier{botToken: "t", chatID: "c", httpClient: server.Client(), enabled: true, baseURL: server.URL}
	m := NewAlertManager(n, zerolog.Nop())

	m.PauseTrading("equity_drawdown_warning")
	m.ResumeTrading()

	if len(texts) != 2 {
		t.Fatalf("len(texts) = %d, want 2", len(texts))
	}
}

func TestAlertManagerEmitDispatchesKnownEvents(t *testing.T) {
	var texts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		texts = append(texts, r.URL.Query().Get("text"))
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer server.Close()

	n := &Notifier{botToken: "t", chatID: "c", httpClient: server.Client(), enabled: true, baseURL: server.URL}
	m := NewAlertManager(n, zerolog.Nop())

	m.Emit("riskLevelChanged", map[string]any{"previous": "NORMAL", "current": "DANGER"})
	m.Emit("reducePosition", map[string]any{"kind": "btc_flash_crash", "ratio": "0.5"})
	m.Emit("circuitLevelRaised", map[string]any{"level": "L3", "symbol": "BTC/USDT", "reason": "price_5m_move"})

	if len(texts) != 3 {
		t.Fatalf("len(texts) = %d, want 3", len(texts))
	}
}

func TestAlertManagerEmitIgnoresUnknownEvent(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := &Notifier{botToken: "t", chatID: "c", httpClient: server.Client(), enabled: true, baseURL: server.URL}
	m := NewAlertManager(n, zerolog.Nop())

	m.Emit("somethingUnrecognized", nil)

	if called {
		t.Error("expected no HTTP call for an unrecognized event")
	}
}

func TestAlertManagerEmitDisabledNotifierNeverErrors(t *testing.T) {
	n := NewNotifier("", "")
	m := NewAlertManager(n, zerolog.Nop())

	m.PauseTrading("reason")
	m.ResumeTrading()
	m.Emit("emergencyClose", map[string]any{"reason": "margin_rate_critical"})
}
