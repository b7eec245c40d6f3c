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

	xerrors "OpenAgent-Loop/internal/errors"
)

type stubNotifier struct {
	channel Channel
	err     error
	events  []Event
}

func (n *stubNotifier) Channel() Channel { return n.channel }

func (n *stubNotifier) Notify(_ context.Context, event Event) error {
	n.events = append(n.events, event)
	return n.err
}

func sampleEvent() Event {
	return Event{
		Code:       xerrors.CodeTimeout,
		Message:    "run timed out",
		Severity:   xerrors.SeverityWarning,
		TaskID:     "task-1",
		Attempts:   2,
		MaxRetries: 3,
		OccurredAt: time.Unix(1700000000, 0),
	}
}

func TestFanoutDeliversToAllChannels(t *testing.T) {
	t.Parallel()

	first := &stubNotifier{channel: ChannelLog}
	second := &stubNotifier{channel: ChannelWebhook}
	dispatcher := NewFanout(first, second, nil)

	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("expected both notifiers to receive the event")
	}
}

func TestFanoutJoinsFailures(t *testing.T) {
	t.Parallel()

	failing := &stubNotifier{channel: ChannelWebhook, err: errors.New("unreachable")}
	healthy := &stubNotifier{channel: ChannelLog}
	dispatcher := NewFanout(failing, healthy)

	err := dispatcher.Notify(context.Background(), sampleEvent())
	if err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Fatalf("expected joined failure, got %v", err)
	}
	if len(healthy.events) != 1 {
		t.Fatalf("healthy notifier must still receive the event")
	}
}

func TestWebhookNotifierPostsPayload(t *testing.T) {
	t.Parallel()

	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier := &WebhookNotifier{URL: server.URL, Client: server.Client()}
	if err := notifier.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if got.TaskID != "task-1" || got.Attempts != 2 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	notifier := &WebhookNotifier{URL: server.URL, Client: server.Client()}
	if err := notifier.Notify(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected error for 5xx response")
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	t.Parallel()

	notifier := &LogNotifier{}
	if err := notifier.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("log notifier must not fail: %v", err)
	}
}
