package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	sseBufferSize     = 64
	sseHeartbeatEvery = 30 * time.Second
)

// ---------------------------------------------------------------------------
// SSE Types
// ---------------------------------------------------------------------------

// SSEEvent is a single server-sent event.
type SSEEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ---------------------------------------------------------------------------
// SSEBroadcaster
// ---------------------------------------------------------------------------

// SSEBroadcaster fans out session and embedding-job events to every
// connected client. It satisfies session.Notifier and ai.Notifier.
type SSEBroadcaster struct {
	mu      sync.RWMutex
	clients map[string]chan SSEEvent
}

// NewSSEBroadcaster creates a ready-to-use broadcaster.
func NewSSEBroadcaster() *SSEBroadcaster {
	return &SSEBroadcaster{
		clients: make(map[string]chan SSEEvent),
	}
}

// Subscribe registers a client and returns its buffered event channel.
func (b *SSEBroadcaster) Subscribe(clientID string) chan SSEEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan SSEEvent, sseBufferSize)
	b.clients[clientID] = ch
	slog.Debug("sse client subscribed", "client_id", clientID, "clients", len(b.clients))
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *SSEBroadcaster) Unsubscribe(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[clientID]; ok {
		close(ch)
		delete(b.clients, clientID)
		slog.Debug("sse client unsubscribed", "client_id", clientID, "clients", len(b.clients))
	}
}

// Broadcast sends an event to every connected client. A full client channel
// drops the event for that client only.
func (b *SSEBroadcaster) Broadcast(event SSEEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.clients {
		select {
		case ch <- event:
		default:
			slog.Warn("sse dropping event for slow client", "event", event.Event, "client_id", id)
		}
	}
}

// BroadcastToClient sends an event to a single client.
func (b *SSEBroadcaster) BroadcastToClient(clientID string, event SSEEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if ch, ok := b.clients[clientID]; ok {
		select {
		case ch <- event:
		default:
			slog.Warn("sse dropping targeted event", "event", event.Event, "client_id", clientID)
		}
	}
}

// Notify broadcasts data under the given event name.
func (b *SSEBroadcaster) Notify(event string, data any) {
	b.Broadcast(SSEEvent{Event: event, Data: data})
}

// ClientCount returns the number of connected clients.
func (b *SSEBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ---------------------------------------------------------------------------
// HTTP handler: GET /api/events
// ---------------------------------------------------------------------------

// handleSSE streams events to one client until it disconnects. The optional
// ?session= query parameter restricts session events to that session.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SSE_NOT_SUPPORTED",
			"streaming unsupported")
		return
	}
	only := r.URL.Query().Get("session")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	clientID := uuid.New().String()
	ch := s.sse.Subscribe(clientID)
	defer s.sse.Unsubscribe(clientID)

	s.sse.BroadcastToClient(clientID, SSEEvent{
		Event: "connected",
		Data:  map[string]string{"clientId": clientID},
	})

	heartbeat := time.NewTicker(sseHeartbeatEvery)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-ch:
			if !ok {
				return
			}
			if only != "" && !matchesSession(evt, only) {
				continue
			}
			if err := writeSSEEvent(w, flusher, evt); err != nil {
				return
			}

		case t := <-heartbeat.C:
			hb := SSEEvent{
				Event: "heartbeat",
				Data:  map[string]int64{"t": t.Unix()},
			}
			if err := writeSSEEvent(w, flusher, hb); err != nil {
				return
			}
		}
	}
}

// matchesSession reports whether evt carries no session id or the given one.
func matchesSession(evt SSEEvent, sessionID string) bool {
	m, ok := evt.Data.(map[string]any)
	if !ok {
		return true
	}
	id, ok := m["sessionId"].(string)
	return !ok || id == sessionID
}

// writeSSEEvent formats and writes a single SSE frame.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, evt SSEEvent) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return err
	}
	if _, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
