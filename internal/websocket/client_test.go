package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/screener-back/internal/metrics"
	"github.com/screener-back/internal/session"
	"github.com/screener-back/pkg/config"
	"github.com/screener-back/pkg/models"
)

type fakeUserResolver struct {
	users map[string]*models.User
}

func (f *fakeUserResolver) GetUserByToken(ctx context.Context, token string) (*models.User, error) {
	return f.users[token], nil
}

func handlerConfig() *config.WebSocketConfig {
	return &config.WebSocketConfig{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		MaxMessageSize:    512000,
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      5 * time.Second,
		MaxClients:        10,
		DeltaInterval:     time.Hour,
		HeartbeatInterval: time.Hour,
		SnapshotChunkSize: 500,
	}
}

func newTestServer(t *testing.T, table *metrics.Table, users UserResolver) (*httptest.Server, *session.Registry) {
	t.Helper()

	registry := testRegistry()
	cfg := handlerConfig()
	hub := NewHub(cfg, table, registry, testLogger())
	handler := NewHandler(hub, registry, users, cfg, testLogger())

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, registry
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
}

func TestConnectSendsAck(t *testing.T) {
	server, registry := newTestServer(t, metrics.NewTable(), nil)
	conn := dial(t, server, "")

	var ack models.AckMessage
	readMessage(t, conn, &ack)

	if ack.Type != models.MsgAck {
		t.Errorf("Expected ack, got %s", ack.Type)
	}
	if ack.IsAuthenticated {
		t.Error("Expected anonymous connect to be unauthenticated")
	}
	if ack.Plan != models.PlanFree || ack.Group != "crypto_free" {
		t.Errorf("Expected free plan defaults, got %s/%s", ack.Plan, ack.Group)
	}
	if _, ok := registry.Get(ack.SessionID); !ok {
		t.Error("Expected the session to be registered")
	}
}

func TestConnectWithValidToken(t *testing.T) {
	users := &fakeUserResolver{users: map[string]*models.User{
		"good-token": {ID: 42, Email: "a@b.c", Plan: models.PlanEnterprise},
	}}
	server, _ := newTestServer(t, metrics.NewTable(), users)
	conn := dial(t, server, "?token=good-token")

	var ack models.AckMessage
	readMessage(t, conn, &ack)

	if !ack.IsAuthenticated {
		t.Error("Expected authenticated session")
	}
	if ack.Plan != models.PlanEnterprise || ack.Group != "crypto_enterprise" {
		t.Errorf("Expected enterprise plan, got %s/%s", ack.Plan, ack.Group)
	}
}

func TestAuthenticatedConnectGetsInitialSnapshot(t *testing.T) {
	table := metrics.NewTable()
	table.Upsert(tableRow("BTCUSDT", "USDT", 50000, 1e9))
	table.Upsert(tableRow("ETHUSDT", "USDT", 3000, 5e8))

	users := &fakeUserResolver{users: map[string]*models.User{
		"good-token": {ID: 42, Email: "a@b.c", Plan: models.PlanBasic},
	}}
	server, _ := newTestServer(t, table, users)
	conn := dial(t, server, "?token=good-token")

	var ack models.AckMessage
	readMessage(t, conn, &ack)
	if !ack.IsAuthenticated {
		t.Fatal("Expected authenticated session")
	}

	// The snapshot arrives unprompted after the ack.
	var snap models.SnapshotMessage
	readMessage(t, conn, &snap)

	if snap.Type != models.MsgSnapshot {
		t.Fatalf("Expected an unprompted snapshot, got %s", snap.Type)
	}
	if snap.Chunk != 1 || snap.TotalChunks != 1 || snap.TotalCount != 2 {
		t.Errorf("Unexpected snapshot framing %+v", snap)
	}
}

func TestAnonymousConnectGetsNoInitialSnapshot(t *testing.T) {
	table := metrics.NewTable()
	table.Upsert(tableRow("BTCUSDT", "USDT", 50000, 1e9))

	server, _ := newTestServer(t, table, nil)
	conn := dial(t, server, "")

	var ack models.AckMessage
	readMessage(t, conn, &ack)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected no unprompted frame for an anonymous session")
	}
}

func TestConnectWithBadTokenDowngradesToFree(t *testing.T) {
	users := &fakeUserResolver{users: map[string]*models.User{}}
	server, _ := newTestServer(t, metrics.NewTable(), users)
	conn := dial(t, server, "?token=bad-token")

	var errMsg models.ErrorMessage
	readMessage(t, conn, &errMsg)
	if errMsg.Type != models.MsgError || errMsg.Code != "auth_failed" {
		t.Fatalf("Expected auth_failed error first, got %+v", errMsg)
	}

	// The connection stays open and gets a free-plan ack.
	var ack models.AckMessage
	readMessage(t, conn, &ack)
	if ack.Type != models.MsgAck || ack.IsAuthenticated || ack.Plan != models.PlanFree {
		t.Errorf("Expected free-plan ack after auth failure, got %+v", ack)
	}
}

func TestMalformedMessageKeepsConnection(t *testing.T) {
	server, _ := newTestServer(t, metrics.NewTable(), nil)
	conn := dial(t, server, "")

	var ack models.AckMessage
	readMessage(t, conn, &ack)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var errMsg models.ErrorMessage
	readMessage(t, conn, &errMsg)
	if errMsg.Code != "malformed_message" {
		t.Errorf("Expected malformed_message, got %s", errMsg.Code)
	}

	// The connection still serves requests.
	if err := conn.WriteJSON(&models.ClientMessage{Type: models.MsgPing}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var pong map[string]string
	readMessage(t, conn, &pong)
	if pong["type"] != models.MsgPong {
		t.Errorf("Expected pong after recovery, got %v", pong)
	}
}

func TestUnknownMessageTypeReportsError(t *testing.T) {
	server, _ := newTestServer(t, metrics.NewTable(), nil)
	conn := dial(t, server, "")

	var ack models.AckMessage
	readMessage(t, conn, &ack)

	if err := conn.WriteJSON(&models.ClientMessage{Type: "warp_drive"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var errMsg models.ErrorMessage
	readMessage(t, conn, &errMsg)
	if errMsg.Code != "malformed_message" {
		t.Errorf("Expected malformed_message for unknown type, got %s", errMsg.Code)
	}
}

func TestRequestSnapshotOverWire(t *testing.T) {
	table := metrics.NewTable()
	table.Upsert(tableRow("BTCUSDT", "USDT", 50000, 1e9))

	server, _ := newTestServer(t, table, nil)
	conn := dial(t, server, "")

	var ack models.AckMessage
	readMessage(t, conn, &ack)

	if err := conn.WriteJSON(&models.ClientMessage{Type: models.MsgRequestSnapshot}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var snap models.SnapshotMessage
	readMessage(t, conn, &snap)

	if snap.Type != models.MsgSnapshot || snap.TotalCount != 1 {
		t.Errorf("Expected a one-row snapshot, got %+v", snap)
	}

	// A free session gets summary rows only.
	rows := snap.Data.([]interface{})
	row := rows[0].(map[string]interface{})
	if _, ok := row["horizons"]; ok {
		t.Error("Expected no horizons in a free snapshot")
	}
	if row["symbol"] != "BTCUSDT" {
		t.Errorf("Expected BTCUSDT, got %v", row["symbol"])
	}
}

func TestSetCurrencyRequiresQuote(t *testing.T) {
	server, _ := newTestServer(t, metrics.NewTable(), nil)
	conn := dial(t, server, "")

	var ack models.AckMessage
	readMessage(t, conn, &ack)

	if err := conn.WriteJSON(&models.ClientMessage{Type: models.MsgSetCurrency}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	var errMsg models.ErrorMessage
	readMessage(t, conn, &errMsg)
	if errMsg.Code != "malformed_message" {
		t.Errorf("Expected malformed_message, got %s", errMsg.Code)
	}
}

func TestMaxClientsRejected(t *testing.T) {
	registry := testRegistry()
	cfg := handlerConfig()
	cfg.MaxClients = 0
	hub := NewHub(cfg, metrics.NewTable(), registry, testLogger())
	handler := NewHandler(hub, registry, nil, cfg, testLogger())

	server := httptest.NewServer(handler)
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 at capacity, got %d", resp.StatusCode)
	}
}
