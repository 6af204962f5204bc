package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/wneessen/go-mail"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func sampleNote() Notification {
	return Notification{
		Symbol:        "EUR/USD",
		Quote:         "USD",
		Rate:          decimal.RequireFromString("1.0923"),
		PreviousHigh:  decimal.RequireFromString("1.0911"),
		EffectiveDays: 45,
		ObservedAt:    time.Date(2026, 3, 2, 14, 5, 0, 0, time.UTC),
	}
}

func TestRenderMessage(t *testing.T) {
	got := RenderMessage(sampleNote())
	want := "🚀 EUR/USD Alert: Highest rate in the last 45 days!\n" +
		"Current rate: 1.0923 USD\n" +
		"Previous high: 1.0911 USD"
	if got != want {
		t.Fatalf("message mismatch:\n got %q\nwant %q", got, want)
	}

	if subject := RenderSubject(sampleNote()); subject != "Currency Alert: New 45-Day Record" {
		t.Fatalf("unexpected subject %q", subject)
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("wrong chat_id: %#v", received)
	}
	if received["text"] != RenderMessage(sampleNote()) {
		t.Fatalf("text should be the rendered message, got %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), sampleNote())
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("ok=false should fail with description, got %v", err)
	}
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "Unauthorized"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), sampleNote())
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}

type recordingNotifier struct {
	calls int
	err   error
}

func (r *recordingNotifier) Notify(context.Context, Notification) error {
	r.calls++
	return r.err
}

func TestMultiDeliversToAllChannels(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("boom")}
	ok := &recordingNotifier{}

	multi := NewMulti(testLogger(),
		Named{Name: "telegram", Notifier: failing},
		Named{Name: "email", Notifier: ok},
		Named{Name: "redis", Notifier: nil},
	)

	if got := multi.Channels(); len(got) != 2 || got[0] != "telegram" || got[1] != "email" {
		t.Fatalf("unexpected channels %v", got)
	}

	err := multi.Notify(context.Background(), sampleNote())
	if err == nil || !strings.Contains(err.Error(), "telegram: boom") {
		t.Fatalf("expected joined telegram error, got %v", err)
	}
	if failing.calls != 1 || ok.calls != 1 {
		t.Fatalf("every channel should be attempted once: %d/%d", failing.calls, ok.calls)
	}
}

func TestMultiEmpty(t *testing.T) {
	multi := NewMulti(testLogger())
	if !multi.Empty() {
		t.Fatal("multi without channels should be empty")
	}
	if err := multi.Notify(context.Background(), sampleNote()); !errors.Is(err, ErrNoChannels) {
		t.Fatalf("expected ErrNoChannels, got %v", err)
	}
	if err := multi.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestEmailNotifierValidation(t *testing.T) {
	if _, err := NewEmailNotifier(EmailOptions{From: "a@example.com", To: []string{"b@example.com"}}, testLogger()); err == nil {
		t.Fatal("missing host should fail")
	}
	if _, err := NewEmailNotifier(EmailOptions{Host: "smtp.example.com"}, testLogger()); err == nil {
		t.Fatal("missing addresses should fail")
	}
}

func TestEmailNotifierBuildMessage(t *testing.T) {
	n, err := NewEmailNotifier(EmailOptions{
		Host: "smtp.example.com",
		From: "alerts@example.com",
		To:   []string{"ops@example.com", "fx@example.com"},
	}, testLogger())
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if n.opts.Port != 587 {
		t.Fatalf("default port should be 587, got %d", n.opts.Port)
	}

	msg, err := n.buildMessage(sampleNote())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	subject := msg.GetGenHeader(mail.HeaderSubject)
	if len(subject) != 1 || subject[0] != "Currency Alert: New 45-Day Record" {
		t.Fatalf("unexpected subject %v", subject)
	}
	rcpts, err := msg.GetRecipients()
	if err != nil || len(rcpts) != 2 {
		t.Fatalf("unexpected recipients %v (%v)", rcpts, err)
	}

	n.opts.To = []string{"not an address"}
	if _, err := n.buildMessage(sampleNote()); err == nil {
		t.Fatal("invalid recipient should fail")
	}
}

func TestEmailNotifierDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	n, err := NewEmailNotifier(EmailOptions{
		Host:    "127.0.0.1",
		Port:    port,
		From:    "alerts@example.com",
		To:      []string{"ops@example.com"},
		Timeout: time.Second,
	}, testLogger())
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if err := n.Notify(context.Background(), sampleNote()); err == nil {
		t.Fatal("closed port should fail")
	}
}

func TestNewEvent(t *testing.T) {
	event := NewEvent(sampleNote())
	if _, err := uuid.Parse(event.ID); err != nil {
		t.Fatalf("event id should be a uuid: %v", err)
	}
	if event.Type != EventTypeNewHigh || event.Rate != "1.0923" || event.PreviousHigh != "1.0911" {
		t.Fatalf("unexpected event %+v", event)
	}

	other := NewEvent(sampleNote())
	if other.ID == event.ID {
		t.Fatal("event ids must be unique")
	}

	_, payload, err := encodeEvent(sampleNote())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["symbol"] != "EUR/USD" || decoded["effective_days"] != float64(45) {
		t.Fatalf("unexpected payload %s", payload)
	}
}
