package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/screener-back/internal/metrics"
	"github.com/screener-back/pkg/config"
	"github.com/screener-back/pkg/models"
)

// Subjects
const (
	SubjectAlertEvents  = "alerts.events"
	SubjectMetricsCycle = "metrics.cycle"
)

// NATSClient handles NATS messaging operations
type NATSClient struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Entry
	cfg    *config.NATSConfig

	subs   map[string]*nats.Subscription
	subsMu sync.Mutex
}

// NewNATSClient creates a new NATS client
func NewNATSClient(cfg *config.NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	nc := &NATSClient{
		conn:   conn,
		js:     js,
		logger: logger.WithField("component", "nats"),
		cfg:    cfg,
		subs:   make(map[string]*nats.Subscription),
	}

	if err := nc.initializeStreams(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize streams: %w", err)
	}

	return nc, nil
}

// Close closes the NATS connection
func (nc *NATSClient) Close() error {
	nc.subsMu.Lock()
	for _, sub := range nc.subs {
		sub.Unsubscribe()
	}
	nc.subs = make(map[string]*nats.Subscription)
	nc.subsMu.Unlock()

	nc.conn.Close()
	return nil
}

// IsConnected checks if NATS is connected
func (nc *NATSClient) IsConnected() bool {
	return nc.conn.IsConnected()
}

// Health reports connection state as an error
func (nc *NATSClient) Health(ctx context.Context) error {
	if !nc.conn.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (nc *NATSClient) initializeStreams() error {
	// Alert events survive restarts so downstream notifiers can catch up.
	_, err := nc.js.AddStream(&nats.StreamConfig{
		Name:     "ALERTS",
		Subjects: []string{"alerts.>"},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
		MaxMsgs:  100000,
		Replicas: 1,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("failed to create ALERTS stream: %w", err)
	}

	// Cycle notifications are ephemeral.
	_, err = nc.js.AddStream(&nats.StreamConfig{
		Name:     "METRICS",
		Subjects: []string{"metrics.>"},
		Storage:  nats.MemoryStorage,
		MaxAge:   time.Hour,
		MaxMsgs:  10000,
		Replicas: 1,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("failed to create METRICS stream: %w", err)
	}

	return nil
}

// PublishAlert publishes a fired alert to the ALERTS stream
func (nc *NATSClient) PublishAlert(ctx context.Context, event *models.AlertEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	if _, err := nc.js.PublishAsync(SubjectAlertEvents, data); err != nil {
		return fmt.Errorf("failed to publish alert event: %w", err)
	}

	return nil
}

// PublishCycle publishes a metrics cycle summary
func (nc *NATSClient) PublishCycle(ctx context.Context, summary *metrics.CycleSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal cycle summary: %w", err)
	}

	if _, err := nc.js.PublishAsync(SubjectMetricsCycle, data); err != nil {
		return fmt.Errorf("failed to publish cycle summary: %w", err)
	}

	return nil
}

// SubscribeAlerts delivers fired alerts to a handler, e.g. a notifier
// process.
func (nc *NATSClient) SubscribeAlerts(handler func(event *models.AlertEvent)) error {
	sub, err := nc.js.Subscribe(SubjectAlertEvents, func(msg *nats.Msg) {
		var event models.AlertEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			nc.logger.WithError(err).Warn("Failed to decode alert event")
			msg.Ack()
			return
		}
		handler(&event)
		msg.Ack()
	}, nats.DeliverNew())
	if err != nil {
		return fmt.Errorf("failed to subscribe to alerts: %w", err)
	}

	nc.subsMu.Lock()
	nc.subs[SubjectAlertEvents] = sub
	nc.subsMu.Unlock()

	return nil
}
