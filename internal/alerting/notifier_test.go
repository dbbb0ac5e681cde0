package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleNotification() Notification {
	return Notification{
		RunID:       "run-1",
		GeneratedAt: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		Total:       3,
		Failures: []Failure{
			{Ticker: "TCS.NS", Outcome: "fetched", Rows: 240, Reasons: []string{"duplicate_index"}},
			{Ticker: "INFY.NS", Outcome: "empty"},
		},
		ReportPath: "/data/html/nifty_report_20240301T093000Z.html",
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL+"/", time.Second, testLogger())
	require.NoError(t, notifier.Notify(context.Background(), sampleNotification()))

	assert.Equal(t, "/bottoken/sendMessage", path)
	assert.Equal(t, "chat", received["chat_id"])
	assert.Contains(t, received["text"], "Failed: 2 of 3 tickers")
	assert.Contains(t, received["text"], "- TCS.NS (fetched, 240 rows): duplicate_index")
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("ok=false should be an error")
	}
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestRenderMessage(t *testing.T) {
	msg := renderMessage(sampleNotification())
	lines := strings.Split(strings.TrimSpace(msg), "\n")
	assert.Equal(t, []string{
		"[Nifty ETL DQ Alert]",
		"Run: run-1",
		"At: 2024-03-01T09:30:00Z UTC",
		"Failed: 2 of 3 tickers",
		"- TCS.NS (fetched, 240 rows): duplicate_index",
		"- INFY.NS (empty, 0 rows)",
		"Report: /data/html/nifty_report_20240301T093000Z.html",
	}, lines)
}

type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) Notify(context.Context, Notification) error {
	r.calls++
	return r.err
}

func TestGateMinFailures(t *testing.T) {
	rec := &recordingNotifier{}
	gate := NewGate(rec, 3, 0)

	sent, err := gate.Notify(context.Background(), sampleNotification())
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Zero(t, rec.calls)
}

func TestGateCooldown(t *testing.T) {
	rec := &recordingNotifier{}
	gate := NewGate(rec, 1, time.Hour)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	gate.now = func() time.Time { return now }

	sent, err := gate.Notify(context.Background(), sampleNotification())
	require.NoError(t, err)
	assert.True(t, sent)

	now = now.Add(30 * time.Minute)
	sent, _ = gate.Notify(context.Background(), sampleNotification())
	assert.False(t, sent)

	now = now.Add(31 * time.Minute)
	sent, _ = gate.Notify(context.Background(), sampleNotification())
	assert.True(t, sent)
	assert.Equal(t, 2, rec.calls)
}

func TestGateFailedSendDoesNotStartCooldown(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("down")}
	gate := NewGate(rec, 1, time.Hour)

	_, err := gate.Notify(context.Background(), sampleNotification())
	require.Error(t, err)

	rec.err = nil
	sent, err := gate.Notify(context.Background(), sampleNotification())
	require.NoError(t, err)
	assert.True(t, sent)
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
