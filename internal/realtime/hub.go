// Package realtime streams risk alerts and model lifecycle events to
// WebSocket subscribers.
//
// Clients send a Subscription JSON message at any time to narrow the feed:
// by event type, by watched wallet or token address, or by minimum score.
// Each accepted subscription is acknowledged with a "subscribed" frame.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/defiintel/internal/metrics"
	"github.com/mbd888/defiintel/internal/validation"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

const (
	// MaxClients is the default cap on concurrent WebSocket connections.
	MaxClients = 10000

	sendBuffer   = 256
	readLimit    = 64 << 10
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	maxSubjects  = 100
)

// EventType for real-time events
type EventType string

const (
	EventRiskAlert    EventType = "risk_alert"
	EventModelTrained EventType = "model_trained"

	// Control frames sent to a single client.
	EventSubscribed EventType = "subscribed"
	EventError      EventType = "error"
)

// Event is a real-time event sent to subscribers
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// RiskAlert is the payload of a risk_alert event.
type RiskAlert struct {
	AssessmentID string   `json:"assessmentId"`
	Subject      string   `json:"subject"`
	Source       string   `json:"source"`
	Score        int      `json:"score"`
	Category     string   `json:"category"`
	Indicators   []string `json:"indicators,omitempty"`
}

// ModelTrained is the payload of a model_trained event.
type ModelTrained struct {
	State    string   `json:"state"`
	Mode     string   `json:"mode"`
	Samples  int      `json:"samples"`
	Accuracy *float64 `json:"accuracy,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// Subscription narrows what a client receives. The zero value receives
// everything.
type Subscription struct {
	AllEvents  bool        `json:"allEvents"`
	EventTypes []EventType `json:"eventTypes"`
	Subjects   []string    `json:"subjects"` // Watch specific wallets or tokens
	MinScore   int         `json:"minScore"` // Only alerts at or above this
}

// normalize lowercases EVM subjects so filters match stored assessments.
func (s Subscription) normalize() (Subscription, string) {
	if len(s.Subjects) > maxSubjects {
		return s, "too many subjects"
	}
	if s.MinScore < 0 || s.MinScore > 100 {
		return s, "minScore must be between 0 and 100"
	}
	for _, t := range s.EventTypes {
		if t != EventRiskAlert && t != EventModelTrained {
			return s, "unknown event type: " + string(t)
		}
	}
	subjects := make([]string, 0, len(s.Subjects))
	for _, subj := range s.Subjects {
		subjects = append(subjects, validation.NormalizeAddress(subj))
	}
	s.Subjects = subjects
	return s, ""
}

// matches reports whether event passes the subscription filters.
func (s Subscription) matches(event *Event) bool {
	if s.AllEvents {
		return true
	}
	if len(s.EventTypes) > 0 && !slices.Contains(s.EventTypes, event.Type) {
		return false
	}

	// Subject and score filters only constrain risk alerts
	alert, ok := event.Data.(*RiskAlert)
	if !ok {
		return true
	}
	if len(s.Subjects) > 0 && !slices.ContainsFunc(s.Subjects, func(subj string) bool {
		return strings.EqualFold(subj, alert.Subject)
	}) {
		return false
	}
	return alert.Score >= s.MinScore
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

// Stats is a snapshot of hub counters.
type Stats struct {
	ConnectedClients int   `json:"connectedClients"`
	TotalEvents      int64 `json:"totalEvents"`
	TotalClients     int64 `json:"totalClients"`
	PeakClients      int64 `json:"peakClients"`
	DroppedEvents    int64 `json:"droppedEvents"`
	EvictedClients   int64 `json:"evictedClients"`
}

// Hub manages all WebSocket connections
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int
	origins    []string
	upgrader   websocket.Upgrader

	totalEvents    atomic.Int64
	totalClients   atomic.Int64
	peakClients    atomic.Int64
	droppedEvents  atomic.Int64
	evictedClients atomic.Int64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithAllowedOrigins sets which browser origins may connect. "*" allows
// any origin. Same-host origins and non-browser clients are always allowed.
func WithAllowedOrigins(origins []string) HubOption {
	return func(h *Hub) { h.origins = origins }
}

// WithMaxClients caps concurrent connections.
func WithMaxClients(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.maxClients = n
		}
	}
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan *Event, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser client
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.totalClients.Add(1)
			if int64(n) > h.peakClients.Load() {
				h.peakClients.Store(int64(n))
			}
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("stream client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("stream client disconnected", "total", n)

		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

// fanOut delivers one event. Clients whose buffers are full are evicted
// rather than allowed to stall the hub.
func (h *Hub) fanOut(event *Event) {
	h.totalEvents.Add(1)
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("stream event not encodable", "type", event.Type, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !client.subscription().matches(event) {
			continue
		}
		select {
		case client.send <- msg:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			close(client.send)
			delete(h.clients, client)
			h.evictedClients.Add(1)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Warn("evicted slow stream clients", "count", len(slow))
}

// Broadcast queues an event for all matching clients. Events are dropped
// when the queue is full.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.droppedEvents.Add(1)
		h.logger.Warn("broadcast channel full, dropping event", "type", event.Type)
	}
}

// BroadcastRiskAlert sends a risk_alert event
func (h *Hub) BroadcastRiskAlert(alert *RiskAlert) {
	h.Broadcast(&Event{Type: EventRiskAlert, Timestamp: time.Now().UTC(), Data: alert})
}

// BroadcastModelTrained sends a model_trained event
func (h *Hub) BroadcastModelTrained(info *ModelTrained) {
	h.Broadcast(&Event{Type: EventModelTrained, Timestamp: time.Now().UTC(), Data: info})
}

// Stats returns hub statistics
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()

	return Stats{
		ConnectedClients: n,
		TotalEvents:      h.totalEvents.Load(),
		TotalClients:     h.totalClients.Load(),
		PeakClients:      h.peakClients.Load(),
		DroppedEvents:    h.droppedEvents.Load(),
		EvictedClients:   h.evictedClients.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// reply queues a control frame for this client only. It reports false if
// the client is too slow to take it.
func (c *Client) reply(t EventType, data any) bool {
	msg, err := json.Marshal(&Event{Type: t, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		return false
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// readPump applies subscription updates until the connection closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err != nil {
			c.reply(EventError, map[string]string{"message": "subscription must be a JSON object"})
			continue
		}
		sub, problem := sub.normalize()
		if problem != "" {
			c.reply(EventError, map[string]string{"message": problem})
			continue
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
		c.reply(EventSubscribed, sub)
	}
}

// writePump writes messages to WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
