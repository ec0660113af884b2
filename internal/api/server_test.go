package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeAppState struct {
	running  bool
	states   map[string]string
	failures int64
}

func (f *fakeAppState) IsRunning() bool                   { return f.running }
func (f *fakeAppState) ExchangeStates() map[string]string { return f.states }
func (f *fakeAppState) PublishFailures() int64            { return f.failures }

func newTestServer(state *fakeAppState) (*Server, *httptest.Server) {
	s := NewServer(":0", state)
	ts := httptest.NewServer(s.httpServer.Handler)
	return s, ts
}

func TestHandleHealthAlwaysOK(t *testing.T) {
	_, ts := newTestServer(&fakeAppState{running: false})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleReadyNotRunning(t *testing.T) {
	_, ts := newTestServer(&fakeAppState{running: false})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestHandleReadyRunning(t *testing.T) {
	_, ts := newTestServer(&fakeAppState{running: true})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleStatusReportsExchangesAndFailures(t *testing.T) {
	state := &fakeAppState{
		running:  true,
		states:   map[string]string{"binance": "connected", "okx": "reconnecting"},
		failures: 7,
	}
	_, ts := newTestServer(state)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Running         bool              `json:"running"`
		Exchanges       map[string]string `json:"exchanges"`
		PublishFailures int64             `json:"publish_failures"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Running {
		t.Error("expected running=true")
	}
	if body.Exchanges["binance"] != "connected" {
		t.Errorf("exchanges[binance] = %q, want connected", body.Exchanges["binance"])
	}
	if body.PublishFailures != 7 {
		t.Errorf("publish_failures = %d, want 7", body.PublishFailures)
	}
}

func TestRunShutsDownOnContextCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", &fakeAppState{running: true})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error after shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}
