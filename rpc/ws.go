package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"kusdcore/core/events"
	"kusdcore/core/types"
	"kusdcore/observability"
)

const (
	wsWriteTimeout  = 10 * time.Second
	subscriberDepth = 64
)

// payloadEvent is satisfied by the typed event wrappers the engines emit;
// it exposes the underlying attribute map for serialization.
type payloadEvent interface {
	Event() *types.Event
}

type wsEventPayload struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
	EmittedAt  int64             `json:"emittedAt"`
}

type subscriber struct {
	ch chan wsEventPayload
}

// EventHub fans emitted protocol events out to websocket subscribers. It
// satisfies events.Emitter so it can be wired directly into the engines.
// Slow subscribers are dropped rather than allowed to block the emit path.
type EventHub struct {
	mu    sync.Mutex
	subs  map[*subscriber]struct{}
	nowFn func() time.Time
}

func NewEventHub() *EventHub {
	return &EventHub{
		subs:  make(map[*subscriber]struct{}),
		nowFn: time.Now,
	}
}

// Emit implements events.Emitter.
func (h *EventHub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	payload := wsEventPayload{
		Type:      evt.EventType(),
		EmittedAt: h.nowFn().Unix(),
	}
	if typed, ok := evt.(payloadEvent); ok {
		if inner := typed.Event(); inner != nil {
			payload.Attributes = inner.Attributes
		}
	}
	observability.Events().RecordEvent(payload.Type)

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- payload:
		default:
			// Subscriber not draining; cut it loose so emits stay cheap.
			close(sub.ch)
			delete(h.subs, sub)
		}
	}
}

func (h *EventHub) subscribe() *subscriber {
	sub := &subscriber{ch: make(chan wsEventPayload, subscriberDepth)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *EventHub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
}

// SubscriberCount reports the live subscriber total.
func (h *EventHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	sub := s.hub.subscribe()
	defer s.hub.unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.ch:
			if !ok {
				_ = conn.Close(websocket.StatusPolicyViolation, "subscriber lagging")
				return
			}
			if err := writeWSEvent(ctx, conn, payload); err != nil {
				return
			}
		}
	}
}

func writeWSEvent(ctx context.Context, conn *websocket.Conn, payload wsEventPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
