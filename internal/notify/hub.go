// Package notify keeps live websocket connections grouped by user and pushes job results to them
package notify

import (
	"context"
	"sync"

	"github.com/UnendingLoop/ImageAugmentor/internal/model"
	"github.com/UnendingLoop/ImageAugmentor/internal/mwlogger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	liveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "augmentor_ws_connections",
		Help: "Live authenticated websocket connections.",
	})
	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "augmentor_ws_events_dropped_total",
		Help: "Events not delivered because a connection send buffer was full.",
	})
)

// Hub - реестр комнат: userID -> набор живых соединений
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[c.userID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.userID] = room
	}
	if _, exists := room[c]; !exists {
		room[c] = struct{}{}
		liveConnections.Inc()
	}
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[c.userID]
	if !ok {
		return
	}
	if _, exists := room[c]; !exists {
		return
	}
	delete(room, c)
	liveConnections.Dec()
	if len(room) == 0 {
		delete(h.rooms, c.userID)
	}
}

// Count - number of live connections of the user
func (h *Hub) Count(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[userID])
}

// Notify broadcasts a result event to every live connection of the owner.
// Offline owners get nothing: there is no backlog.
func (h *Hub) Notify(ctx context.Context, msg model.ResultMessage) error {
	event := model.Event{Event: model.EventResult, Data: model.ResultPayload{URL: msg.URL}}

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.rooms[msg.OwnerUserID]))
	for c := range h.rooms[msg.OwnerUserID] {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	logger := mwlogger.LoggerFromContext(ctx)
	delivered := 0
	for _, c := range clients {
		if c.enqueue(event) {
			delivered++
			continue
		}
		eventsDropped.Inc()
		logger.Warn().Str("user_id", msg.OwnerUserID).Msg("Send buffer is full, event dropped")
	}

	logger.Info().
		Str("user_id", msg.OwnerUserID).
		Str("session_id", msg.SessionID).
		Int("delivered", delivered).
		Msg("Result notification broadcast")
	return nil
}
