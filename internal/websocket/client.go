package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/screener-back/internal/session"
	"github.com/screener-back/pkg/config"
	"github.com/screener-back/pkg/models"
)

// UserResolver turns an auth token into a user, nil for unknown tokens
type UserResolver interface {
	GetUserByToken(ctx context.Context, token string) (*models.User, error)
}

// Handler upgrades HTTP requests into screener sessions
type Handler struct {
	hub      *Hub
	registry *session.Registry
	users    UserResolver
	cfg      *config.WebSocketConfig
	logger   *logrus.Entry
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket upgrade handler. users may be nil, in
// which case every session is unauthenticated.
func NewHandler(hub *Hub, registry *session.Registry, users UserResolver, cfg *config.WebSocketConfig, logger *logrus.Logger) *Handler {
	return &Handler{
		hub:      hub,
		registry: registry,
		users:    users,
		cfg:      cfg,
		logger:   logger.WithField("component", "ws-handler"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    cfg.ReadBufferSize,
			WriteBufferSize:   cfg.WriteBufferSize,
			EnableCompression: cfg.EnableCompression,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ServeHTTP handles the websocket upgrade
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.registry.Len() >= h.cfg.MaxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	var (
		userID        int64
		authenticated bool
		plan          = models.PlanFree
		authFailed    bool
	)

	if token := r.URL.Query().Get("token"); token != "" && h.users != nil {
		user, err := h.users.GetUserByToken(r.Context(), token)
		switch {
		case err != nil:
			h.logger.WithError(err).Warn("Token lookup failed")
			authFailed = true
		case user == nil:
			authFailed = true
		default:
			userID = user.ID
			authenticated = true
			plan = user.Plan
		}
	}

	sess := h.registry.Register(userID, authenticated, plan, sendBufferSize)

	c := &client{
		conn:     conn,
		sess:     sess,
		hub:      h.hub,
		registry: h.registry,
		cfg:      h.cfg,
		logger:   h.logger.WithField("session_id", sess.ID),
	}

	// Auth failure downgrades to free, it does not close the connection.
	if authFailed {
		c.sendJSON(&models.ErrorMessage{
			Type:    models.MsgError,
			Code:    "auth_failed",
			Message: "invalid or expired token",
		})
	}

	c.sendJSON(&models.AckMessage{
		Type:            models.MsgAck,
		SessionID:       sess.ID,
		IsAuthenticated: sess.Authenticated,
		Plan:            sess.Plan,
		Group:           sess.Group,
	})

	// Authenticated sessions get a full snapshot right after the ack;
	// anonymous ones request one explicitly.
	if sess.Authenticated {
		go h.hub.SendSnapshot(sess, &models.ClientMessage{Type: models.MsgRequestSnapshot})
	}

	go c.writePump()
	go c.readPump()
}

type client struct {
	conn     *websocket.Conn
	sess     *session.Session
	hub      *Hub
	registry *session.Registry
	cfg      *config.WebSocketConfig
	logger   *logrus.Entry
}

func (c *client) readPump() {
	defer func() {
		c.sess.Close()
		c.registry.Unregister(c.sess.ID)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.sess.Touch()
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				c.logger.WithError(err).Debug("Unexpected close")
			}
			return
		}

		c.sess.Touch()
		c.handleMessage(data)
	}
}

func (c *client) handleMessage(data []byte) {
	var msg models.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		c.sendJSON(&models.ErrorMessage{
			Type:    models.MsgError,
			Code:    "malformed_message",
			Message: "could not parse message",
		})
		return
	}

	switch msg.Type {
	case models.MsgRequestSnapshot:
		go c.hub.SendSnapshot(c.sess, &msg)

	case models.MsgSetCurrency:
		if msg.QuoteCurrency == "" {
			c.sendJSON(&models.ErrorMessage{
				Type:    models.MsgError,
				Code:    "malformed_message",
				Message: "set_currency requires quote_currency",
			})
			return
		}
		c.sess.SetCurrency(msg.QuoteCurrency)

	case models.MsgPing:
		c.sendJSON(map[string]string{"type": models.MsgPong})

	default:
		c.sendJSON(&models.ErrorMessage{
			Type:    models.MsgError,
			Code:    "malformed_message",
			Message: "unknown message type",
		})
	}
}

func (c *client) writePump() {
	pingTick := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		pingTick.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.sess.Send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-c.sess.Done:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-pingTick.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendJSON queues a control message directly on the session
func (c *client) sendJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}

	select {
	case c.sess.Send <- payload:
	default:
		c.logger.Warn("Send queue full on control message")
	}
}
