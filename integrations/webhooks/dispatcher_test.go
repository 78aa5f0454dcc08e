package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kusdcore/core/types"
)

type webhookTestEvent struct {
	evt *types.Event
}

func (e webhookTestEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e webhookTestEvent) Event() *types.Event { return e.evt }

func depositEvent() webhookTestEvent {
	return webhookTestEvent{evt: &types.Event{
		Type:       "stable.deposit",
		Attributes: map[string]string{"asset": "USDC", "mintedWei": "42"},
	}}
}

func TestDispatcherSignsEventPayload(t *testing.T) {
	var (
		mu       sync.Mutex
		gotBody  []byte
		gotSig   string
		gotEvent string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		gotBody = body
		gotSig = r.Header.Get("X-KUSD-Signature")
		gotEvent = r.Header.Get("X-KUSD-Event")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	secret := []byte("webhook-secret")
	dispatcher, err := NewDispatcher(server.URL, secret)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	dispatcher.nowFn = func() time.Time { return time.Unix(1_700_000_000, 0) }

	dispatcher.Emit(depositEvent())

	waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotSig != ""
	}, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if gotEvent != "stable.deposit" {
		t.Fatalf("event header = %q", gotEvent)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(gotBody)
	if want := "sha256=" + hex.EncodeToString(mac.Sum(nil)); gotSig != want {
		t.Fatalf("signature = %q, want %q", gotSig, want)
	}
	var payload EventPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Type != "stable.deposit" {
		t.Fatalf("payload type = %q", payload.Type)
	}
	if payload.Attributes["mintedWei"] != "42" {
		t.Fatalf("attributes = %v", payload.Attributes)
	}
	if payload.EmittedAt != 1_700_000_000 {
		t.Fatalf("emittedAt = %d", payload.EmittedAt)
	}
	if payload.DeliveryID == "" {
		t.Fatalf("expected delivery id")
	}
}

func TestDispatcherRetriesFailedDeliveries(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, err := NewDispatcher(server.URL, []byte("secret"),
		WithRetryPolicy(5, 10*time.Millisecond, 20*time.Millisecond))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	dispatcher.Emit(depositEvent())

	waitFor(func() bool { return attempts.Load() >= 3 }, time.Second)
	if got := attempts.Load(); got < 3 {
		t.Fatalf("expected retries, got %d attempts", got)
	}
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	dispatcher, err := NewDispatcher(server.URL, []byte("secret"),
		WithQueueDepth(1), WithRetryPolicy(1, time.Millisecond, time.Millisecond))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	evt := depositEvent()
	for i := 0; i < 16 && dispatcher.Dropped() == 0; i++ {
		dispatcher.Emit(evt)
	}
	if dispatcher.Dropped() == 0 {
		t.Fatalf("expected drops once the queue filled")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
