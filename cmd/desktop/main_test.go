// Package main tests for desktop server routing and the WebSocket hub.
package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/wishwell/backend/internal/app"
	"github.com/kimhsiao/wishwell/backend/internal/config"
	"github.com/kimhsiao/wishwell/backend/internal/logging"
	"github.com/kimhsiao/wishwell/backend/internal/models"
	"github.com/kimhsiao/wishwell/backend/internal/sync/connectivity"
	"github.com/kimhsiao/wishwell/backend/internal/telemetry"
)

type stubCreator struct{}

func (stubCreator) CreateRecord(_ context.Context, key string, _ models.WishPayload) (models.RecordRef, error) {
	return models.RecordRef{ID: "rec-" + key}, nil
}

func newTestServer(t *testing.T, online bool, metrics bool) (*httptest.Server, *app.App, *WSHub) {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Session.UserID = "u1"
	cfg.Engagement.Timezone = "UTC"
	cfg.Telemetry.Enabled = metrics

	logger := logging.New(io.Discard, logging.LevelError)
	hub := NewWSHub(logger)
	a, err := app.Open(cfg,
		app.WithLogOutput(io.Discard),
		app.WithCreator(stubCreator{}),
		app.WithProber(connectivity.Static(online)),
		app.WithTelemetrySink(hub),
	)
	require.NoError(t, err)

	srv := httptest.NewServer(newRouter(a, hub))
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		a.Close()
	})
	return srv, a, hub
}

func TestRoutes(t *testing.T) {
	srv, _, _ := newTestServer(t, true, false)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/api/health", "", http.StatusOK},
		{http.MethodPost, "/api/health", "", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/wishes", `{"type":"wish","text":"kite"}`, http.StatusCreated},
		{http.MethodGet, "/api/queue/status", "", http.StatusOK},
		{http.MethodPost, "/api/queue/flush", "", http.StatusOK},
		{http.MethodDelete, "/api/queue", "", http.StatusNoContent},
		{http.MethodPost, "/api/engagement/gifting", "", http.StatusOK},
		{http.MethodPost, "/api/engagement/dancing", "", http.StatusBadRequest},
		{http.MethodGet, "/api/engagement/stats", "", http.StatusOK},
		{http.MethodGet, "/api/engagement/gifting/next", "", http.StatusOK},
		{http.MethodGet, "/api/preferences/post-types", "", http.StatusOK},
		{http.MethodPost, "/api/connectivity", `{"online":true}`, http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	srv, _, _ := newTestServer(t, false, true)

	resp, err := http.Post(srv.URL+"/api/wishes", "application/json", strings.NewReader(`{"type":"wish"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "wishwell_")
}

func TestWebSocket_receivesTelemetry(t *testing.T) {
	srv, _, hub := newTestServer(t, false, false)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action": "subscribe",
		"events": []string{telemetry.EventWishQueued},
	}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack map[string]interface{}
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribe_ack", ack["action"])

	resp, err := http.Post(srv.URL+"/api/wishes", "application/json", strings.NewReader(`{"type":"gift"}`))
	require.NoError(t, err)
	resp.Body.Close()

	var env WSEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	// only the subscribed event arrives, not offline_queue.enqueue
	assert.Equal(t, telemetry.EventWishQueued, env.Type)
	assert.Equal(t, "gift", env.Data["type"])
}

func TestWSHub_trackNeverBlocks(t *testing.T) {
	hub := NewWSHub(logging.New(io.Discard, logging.LevelError))
	hub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Track(context.Background(), "x", map[string]interface{}{"i": i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Track blocked on a stopped hub")
	}
}

func TestLocalOrigin(t *testing.T) {
	tests := []struct {
		host   string
		origin string
		want   bool
	}{
		{"localhost:8090", "", true},
		{"127.0.0.1:1234", "http://localhost:3000", true},
		{"localhost", "http://127.0.0.1", true},
		{"[::1]:8090", "https://[::1]:5173", true},
		{"example.com", "", false},
		{"localhost:8090", "https://evil.example", false},
		{"localhost:8090", "http://localhost.evil.example", false},
		{"localhost:8090", "null", false},
		{"localhost:8090", "file://localhost/index.html", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Host = tt.host
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, localOrigin(r), "%s from %q", tt.host, tt.origin)
	}
}

func TestWebSocket_rejectsForeignOrigin(t *testing.T) {
	srv, _, hub := newTestServer(t, false, false)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHealthBody(t *testing.T) {
	rec := httptest.NewRecorder()
	health(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}
