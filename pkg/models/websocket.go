package models

// Wire message types
const (
	MsgAck             = "ws_ack"
	MsgSnapshot        = "snapshot"
	MsgDelta           = "delta"
	MsgHeartbeat       = "heartbeat"
	MsgError           = "error"
	MsgAlert           = "alert"
	MsgRequestSnapshot = "request_snapshot"
	MsgSetCurrency     = "set_currency"
	MsgPing            = "ping"
	MsgPong            = "pong"
)

// ClientMessage is the envelope for inbound control messages
type ClientMessage struct {
	Type          string `json:"type"`
	SortBy        string `json:"sort_by,omitempty"`
	SortOrder     string `json:"sort_order,omitempty"`
	PageSize      int    `json:"page_size,omitempty"`
	QuoteCurrency string `json:"quote_currency,omitempty"`
	Token         string `json:"token,omitempty"`
}

// AckMessage is sent once after a successful connect
type AckMessage struct {
	Type            string `json:"type"`
	SessionID       string `json:"session_id"`
	IsAuthenticated bool   `json:"is_authenticated"`
	Plan            Plan   `json:"plan"`
	Group           string `json:"group"`
}

// SnapshotMessage is one chunk of a full table snapshot
type SnapshotMessage struct {
	Type          string      `json:"type"`
	Chunk         int         `json:"chunk"`
	TotalChunks   int         `json:"total_chunks"`
	TotalCount    int         `json:"total_count"`
	QuoteCurrency string      `json:"quote_currency"`
	Data          interface{} `json:"data"`
}

// DeltaMessage carries rows changed since the session's last push
type DeltaMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// HeartbeatMessage is the periodic liveness signal
type HeartbeatMessage struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

// ErrorMessage reports a wire-level problem without closing the connection
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// AlertMessage pushes a fired alert to its owner's sessions
type AlertMessage struct {
	Type  string      `json:"type"`
	Event *AlertEvent `json:"event"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Latency int64  `json:"latency_ms,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthStatus represents system health information
type HealthStatus struct {
	Status      string                   `json:"status"`
	Timestamp   string                   `json:"timestamp"`
	Services    map[string]ServiceHealth `json:"services"`
	Connections int                      `json:"connections"`
	Version     string                   `json:"version"`
}

// MetricsResponse is the paged HTTP snapshot response
type MetricsResponse struct {
	Rows          interface{} `json:"rows"`
	Count         int         `json:"count"`
	TotalCount    int         `json:"total_count"`
	Page          int         `json:"page"`
	PageSize      int         `json:"page_size"`
	QuoteCurrency string      `json:"quote_currency"`
}
