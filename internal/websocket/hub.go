package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/screener-back/internal/metrics"
	"github.com/screener-back/internal/session"
	"github.com/screener-back/pkg/config"
	"github.com/screener-back/pkg/models"
)

const (
	sendBufferSize  = 256
	staleSweepEvery = time.Minute
	maxIdle         = 5 * time.Minute
)

// Hub pushes table updates, heartbeats and alerts to connected sessions
type Hub struct {
	cfg      *config.WebSocketConfig
	table    *metrics.Table
	registry *session.Registry
	logger   *logrus.Entry

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewHub creates a broadcast hub
func NewHub(cfg *config.WebSocketConfig, table *metrics.Table, registry *session.Registry, logger *logrus.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		table:    table,
		registry: registry,
		logger:   logger.WithField("component", "ws-hub"),
		done:     make(chan struct{}),
	}
}

// Start launches the broadcast loop
func (h *Hub) Start(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return fmt.Errorf("hub already running")
	}

	h.wg.Add(1)
	go h.run(ctx)

	h.logger.WithFields(logrus.Fields{
		"delta_interval":     h.cfg.DeltaInterval,
		"heartbeat_interval": h.cfg.HeartbeatInterval,
	}).Info("WebSocket hub started")

	return nil
}

// Stop halts the broadcast loop and closes all sessions
func (h *Hub) Stop() {
	if !h.running.CompareAndSwap(true, false) {
		return
	}
	close(h.done)
	h.wg.Wait()

	for _, sess := range h.registry.List() {
		sess.Close()
		h.registry.Unregister(sess.ID)
	}

	h.logger.Info("WebSocket hub stopped")
}

func (h *Hub) run(ctx context.Context) {
	defer h.wg.Done()

	deltaTick := time.NewTicker(h.cfg.DeltaInterval)
	defer deltaTick.Stop()
	heartbeatTick := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeatTick.Stop()
	sweepTick := time.NewTicker(staleSweepEvery)
	defer sweepTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-deltaTick.C:
			h.pushDeltas()
		case <-heartbeatTick.C:
			h.sendHeartbeats()
		case <-sweepTick.C:
			h.dropStale()
		}
	}
}

// pushDeltas sends changed rows to every push-enabled session. Free
// sessions are pull-only and skipped.
func (h *Hub) pushDeltas() {
	for _, sess := range h.registry.List() {
		if !sess.Plan.PushEnabled() {
			continue
		}
		h.pushDelta(sess)
	}
}

func (h *Hub) pushDelta(sess *session.Session) {
	// Currency and baseline are read together so a concurrent currency
	// switch cannot mix rows from two currencies.
	currency, baseline := sess.BaselineCopy()

	changed := h.table.ChangedSince(currency, baseline)
	if len(changed) == 0 {
		return
	}

	payload, err := json.Marshal(&models.DeltaMessage{
		Type: models.MsgDelta,
		Data: shapeRows(changed, sess.Plan),
	})
	if err != nil {
		h.logger.WithError(err).Warn("Failed to marshal delta")
		return
	}

	if !h.send(sess, payload) {
		return
	}

	// A currency switch between compute and send discards the advance;
	// the next tick rebuilds from the cleared baseline.
	sess.AdvanceBaseline(currency, changed)
}

// SendSnapshot replies to a snapshot request with chunked rows. The quote
// currency is read from the session at send time.
func (h *Hub) SendSnapshot(sess *session.Session, req *models.ClientMessage) {
	if req.QuoteCurrency != "" {
		sess.SetCurrency(req.QuoteCurrency)
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = h.cfg.SnapshotChunkSize
	}
	if pageSize > 1000 {
		pageSize = 1000
	}

	currency := sess.Currency()
	rows := h.table.Snapshot(currency, req.SortBy, req.SortOrder)

	totalChunks := (len(rows) + pageSize - 1) / pageSize
	if totalChunks == 0 {
		totalChunks = 1
	}

	// Chunks are numbered 1..total_chunks on the wire.
	for chunk := 0; chunk < totalChunks; chunk++ {
		start := chunk * pageSize
		end := start + pageSize
		if end > len(rows) {
			end = len(rows)
		}

		payload, err := json.Marshal(&models.SnapshotMessage{
			Type:          models.MsgSnapshot,
			Chunk:         chunk + 1,
			TotalChunks:   totalChunks,
			TotalCount:    len(rows),
			QuoteCurrency: currency,
			Data:          shapeRows(rows[start:end], sess.Plan),
		})
		if err != nil {
			h.logger.WithError(err).Warn("Failed to marshal snapshot chunk")
			return
		}

		if !h.send(sess, payload) {
			return
		}
	}

	// Deltas resume from the snapshot state.
	if sess.Plan.PushEnabled() {
		sess.AdvanceBaseline(currency, rows)
	}
}

// PushAlert delivers a fired alert to its owner's sessions
func (h *Hub) PushAlert(event *models.AlertEvent) {
	payload, err := json.Marshal(&models.AlertMessage{
		Type:  models.MsgAlert,
		Event: event,
	})
	if err != nil {
		h.logger.WithError(err).Warn("Failed to marshal alert")
		return
	}

	for _, sess := range h.registry.ListForUser(event.UserID) {
		h.send(sess, payload)
	}
}

func (h *Hub) sendHeartbeats() {
	payload, err := json.Marshal(&models.HeartbeatMessage{
		Type: models.MsgHeartbeat,
		TS:   time.Now().Unix(),
	})
	if err != nil {
		return
	}

	for _, sess := range h.registry.List() {
		h.send(sess, payload)
	}
}

func (h *Hub) dropStale() {
	for _, sess := range h.registry.Stale(maxIdle) {
		h.logger.WithField("session_id", sess.ID).Info("Dropping stale session")
		h.closeSession(sess)
	}
}

// send queues a payload without blocking. A full queue means the consumer
// cannot keep up, and the session is closed.
func (h *Hub) send(sess *session.Session, payload []byte) bool {
	select {
	case <-sess.Done:
		return false
	default:
	}

	select {
	case sess.Send <- payload:
		return true
	default:
		h.logger.WithField("session_id", sess.ID).Warn("Send queue full, closing session")
		h.closeSession(sess)
		return false
	}
}

func (h *Hub) closeSession(sess *session.Session) {
	sess.Close()
	h.registry.Unregister(sess.ID)
}

// shapeRows applies plan-based field filtering
func shapeRows(rows []*models.SymbolMetrics, plan models.Plan) interface{} {
	switch plan {
	case models.PlanEnterprise:
		return rows
	case models.PlanBasic:
		shaped := make([]*models.SymbolMetrics, len(rows))
		for i, row := range rows {
			shaped[i] = row.WithoutTradeStats()
		}
		return shaped
	default:
		shaped := make([]*models.SymbolSummary, len(rows))
		for i, row := range rows {
			shaped[i] = row.Summary()
		}
		return shaped
	}
}
