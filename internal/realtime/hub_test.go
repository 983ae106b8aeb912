package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watched = "0x52908400098527886e0f7030069857d2e4169ee7"

func testHub(opts ...HubOption) *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func runHub(t *testing.T, h *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
}

func alertEvent(subject string, score int) *Event {
	return &Event{
		Type:      EventRiskAlert,
		Timestamp: time.Now(),
		Data:      &RiskAlert{Subject: subject, Source: "wallet", Score: score, Category: "HIGH"},
	}
}

// ---------------------------------------------------------------------------
// Subscription filters
// ---------------------------------------------------------------------------

func TestSubscription_Matches(t *testing.T) {
	trained := &Event{Type: EventModelTrained, Data: &ModelTrained{}}

	tests := []struct {
		name  string
		sub   Subscription
		event *Event
		want  bool
	}{
		{"all events ignores filters", Subscription{AllEvents: true, MinScore: 99}, alertEvent("0xa", 10), true},
		{"empty receives everything", Subscription{}, alertEvent("0xa", 0), true},
		{"event type kept", Subscription{EventTypes: []EventType{EventModelTrained}}, trained, true},
		{"event type filtered", Subscription{EventTypes: []EventType{EventModelTrained}}, alertEvent("0xa", 80), false},
		{"watched subject", Subscription{Subjects: []string{watched}}, alertEvent(watched, 50), true},
		{"subject case folded", Subscription{Subjects: []string{watched}}, alertEvent(strings.ToUpper(watched), 50), true},
		{"other subject", Subscription{Subjects: []string{watched}}, alertEvent("0xother", 50), false},
		{"subject filter skips non-alerts", Subscription{Subjects: []string{watched}}, trained, true},
		{"score at threshold", Subscription{MinScore: 70}, alertEvent("0xa", 70), true},
		{"score below threshold", Subscription{MinScore: 70}, alertEvent("0xa", 69), false},
		{"untyped data passes", Subscription{Subjects: []string{"0xa"}, MinScore: 50}, &Event{Type: EventRiskAlert, Data: "raw"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.matches(tt.event))
		})
	}
}

func TestSubscription_Normalize(t *testing.T) {
	sub, problem := Subscription{Subjects: []string{"0x52908400098527886E0F7030069857D2E4169EE7"}}.normalize()
	assert.Empty(t, problem)
	assert.Equal(t, []string{watched}, sub.Subjects)

	_, problem = Subscription{MinScore: 101}.normalize()
	assert.Contains(t, problem, "minScore")

	_, problem = Subscription{EventTypes: []EventType{"price_alert"}}.normalize()
	assert.Contains(t, problem, "unknown event type")

	_, problem = Subscription{Subjects: make([]string, maxSubjects+1)}.normalize()
	assert.Equal(t, "too many subjects", problem)
}

// ---------------------------------------------------------------------------
// Hub lifecycle
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	assert.Equal(t, Stats{}, testHub().Stats())
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	runHub(t, h)

	client := &Client{hub: h, send: make(chan []byte, sendBuffer), sub: Subscription{AllEvents: true}}
	h.register <- client
	require.Eventually(t, func() bool { return h.Stats().ConnectedClients == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats().PeakClients)

	h.unregister <- client
	require.Eventually(t, func() bool { return h.Stats().ConnectedClients == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), h.Stats().PeakClients)
	assert.Equal(t, int64(1), h.Stats().TotalClients)
}

func TestHub_BroadcastRiskAlert(t *testing.T) {
	h := testHub()
	runHub(t, h)

	client := &Client{hub: h, send: make(chan []byte, sendBuffer), sub: Subscription{MinScore: 40}}
	h.register <- client

	h.BroadcastRiskAlert(&RiskAlert{Subject: "0xlow", Score: 10})
	h.BroadcastRiskAlert(&RiskAlert{AssessmentID: "ra_1", Subject: "0xhigh", Score: 85, Category: "HIGH"})

	select {
	case msg := <-client.send:
		var got struct {
			Type EventType `json:"type"`
			Data RiskAlert `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg, &got))
		assert.Equal(t, EventRiskAlert, got.Type)
		assert.Equal(t, "0xhigh", got.Data.Subject)
		assert.Equal(t, 85, got.Data.Score)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
	assert.Eventually(t, func() bool { return h.Stats().TotalEvents == 2 }, time.Second, 10*time.Millisecond)
}

func TestHub_EvictsSlowClient(t *testing.T) {
	h := testHub()
	runHub(t, h)

	slow := &Client{hub: h, send: make(chan []byte, 1), sub: Subscription{AllEvents: true}}
	h.register <- slow

	h.BroadcastRiskAlert(&RiskAlert{Subject: "0xa", Score: 90})
	h.BroadcastRiskAlert(&RiskAlert{Subject: "0xb", Score: 90})

	require.Eventually(t, func() bool { return h.Stats().EvictedClients == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.Stats().ConnectedClients)
}

func TestHub_DropsWhenQueueFull(t *testing.T) {
	h := testHub() // not running, so nothing drains the queue
	for range sendBuffer + 3 {
		h.BroadcastRiskAlert(&RiskAlert{Subject: "0xa"})
	}
	assert.Equal(t, int64(3), h.Stats().DroppedEvents)
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

// ---------------------------------------------------------------------------
// WebSocket
// ---------------------------------------------------------------------------

func dial(t *testing.T, h *Hub, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
}

func TestHub_WebSocketSubscription(t *testing.T) {
	h := testHub()
	runHub(t, h)

	conn, _, err := dial(t, h, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, conn.WriteJSON(Subscription{EventTypes: []EventType{EventModelTrained}}))
	var ack Event
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, EventSubscribed, ack.Type)

	h.BroadcastRiskAlert(&RiskAlert{Subject: "0xa", Score: 90})
	h.BroadcastModelTrained(&ModelTrained{State: "TRAINED_UNSUPERVISED", Mode: "unsupervised", Samples: 200})

	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventModelTrained, got.Type)
}

func TestHub_WebSocketRejectsBadSubscription(t *testing.T) {
	h := testHub()
	runHub(t, h)

	conn, _, err := dial(t, h, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"minScore": 500}`)))
	var got struct {
		Type EventType         `json:"type"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, EventError, got.Type)
	assert.Contains(t, got.Data["message"], "minScore")
}

func TestHub_CheckOrigin(t *testing.T) {
	h := testHub(WithAllowedOrigins([]string{"https://app.example.com"}))
	runHub(t, h)

	_, resp, err := dial(t, h, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dial(t, h, http.Header{"Origin": {"https://app.example.com"}})
	require.NoError(t, err)
	_ = conn.Close()
}

func TestHub_MaxClients(t *testing.T) {
	h := testHub(WithMaxClients(1))
	runHub(t, h)

	conn, _, err := dial(t, h, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return h.Stats().ConnectedClients == 1 }, time.Second, 10*time.Millisecond)

	_, resp, err := dial(t, h, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
