package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/screener-back/internal/metrics"
	"github.com/screener-back/pkg/config"
	"github.com/screener-back/pkg/models"
)

// ErrInvalidRule marks rules that cannot be evaluated. Invalid rules are
// skipped, never fatal.
var ErrInvalidRule = errors.New("invalid alert rule")

// RuleStore loads persisted rules and records fires
type RuleStore interface {
	GetActiveRules(ctx context.Context) ([]*models.AlertRule, error)
	RecordTrigger(ctx context.Context, ruleID int64, at time.Time) error
}

// EventPublisher delivers fired alerts downstream
type EventPublisher interface {
	PublishAlert(ctx context.Context, event *models.AlertEvent) error
}

// EventHandler receives fired alerts in-process, e.g. for websocket push
type EventHandler func(event *models.AlertEvent)

// Evaluator runs alert rules against the metric table
type Evaluator struct {
	cfg       *config.AlertsConfig
	table     *metrics.Table
	store     RuleStore
	publisher EventPublisher
	logger    *logrus.Entry

	triggers *triggerState

	handlerMu sync.RWMutex
	handlers  []EventHandler

	ruleMu      sync.Mutex
	cachedRules []*models.AlertRule
	rulesAt     time.Time

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewEvaluator creates an evaluator. publisher may be nil.
func NewEvaluator(cfg *config.AlertsConfig, table *metrics.Table, store RuleStore, publisher EventPublisher, logger *logrus.Logger) *Evaluator {
	return &Evaluator{
		cfg:       cfg,
		table:     table,
		store:     store,
		publisher: publisher,
		logger:    logger.WithField("component", "alert-evaluator"),
		triggers:  newTriggerState(),
		done:      make(chan struct{}),
	}
}

// OnEvent registers an in-process handler for fired alerts
func (e *Evaluator) OnEvent(h EventHandler) {
	e.handlerMu.Lock()
	e.handlers = append(e.handlers, h)
	e.handlerMu.Unlock()
}

// Start launches the evaluation loop
func (e *Evaluator) Start(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("evaluator already running")
	}

	e.wg.Add(1)
	go e.run(ctx)

	e.logger.WithField("interval", e.cfg.Interval).Info("Alert evaluator started")
	return nil
}

// Stop halts the evaluation loop
func (e *Evaluator) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	close(e.done)
	e.wg.Wait()
	e.logger.Info("Alert evaluator stopped")
}

func (e *Evaluator) run(ctx context.Context) {
	defer e.wg.Done()

	tick := time.NewTicker(e.cfg.Interval)
	defer tick.Stop()
	pruneTick := time.NewTicker(time.Hour)
	defer pruneTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-tick.C:
			if err := e.EvaluatePass(ctx); err != nil {
				e.logger.WithError(err).Warn("Alert pass failed")
			}
		case <-pruneTick.C:
			e.triggers.prune(time.Now())
		}
	}
}

// EvaluatePass runs every active rule against the current table once
func (e *Evaluator) EvaluatePass(ctx context.Context) error {
	rules, err := e.activeRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	now := time.Now().UTC()
	var fired int

	for _, rule := range rules {
		if err := validateRule(rule); err != nil {
			e.logger.WithError(err).WithField("rule_id", rule.ID).Warn("Skipping rule")
			continue
		}

		if rule.AnySymbol() {
			if e.evaluateAnySymbol(ctx, rule, now) {
				fired++
			}
			continue
		}

		row, ok := e.table.Get(rule.Symbol)
		if !ok {
			continue
		}
		if e.evaluateRow(ctx, rule, row, now) {
			fired++
		}
	}

	if fired > 0 {
		e.logger.WithFields(logrus.Fields{
			"rules": len(rules),
			"fired": fired,
		}).Info("Alert pass complete")
	}

	return nil
}

// evaluateAnySymbol scans the top rows by quote volume and fires on the
// first match only.
func (e *Evaluator) evaluateAnySymbol(ctx context.Context, rule *models.AlertRule, now time.Time) bool {
	for _, row := range e.table.TopByQuoteVolume(e.cfg.TopSymbols) {
		if e.evaluateRow(ctx, rule, row, now) {
			return true
		}
	}
	return false
}

func (e *Evaluator) evaluateRow(ctx context.Context, rule *models.AlertRule, row *models.SymbolMetrics, now time.Time) bool {
	value, ok := ruleValue(rule, row)
	if !ok {
		return false
	}

	if !matches(rule, value) {
		return false
	}

	window := time.Duration(rule.Window.Minutes()) * time.Minute
	if !e.triggers.shouldFire(rule.ID, row.Symbol, window, now) {
		return false
	}

	event := &models.AlertEvent{
		RuleID:    rule.ID,
		UserID:    rule.UserID,
		Type:      rule.Type,
		Symbol:    row.Symbol,
		Window:    rule.Window,
		Threshold: effectiveThreshold(rule),
		Value:     value,
		Channel:   rule.Channel,
		FiredAt:   now,
	}

	e.dispatch(ctx, event)
	return true
}

func (e *Evaluator) dispatch(ctx context.Context, event *models.AlertEvent) {
	if e.publisher != nil {
		if err := e.publisher.PublishAlert(ctx, event); err != nil {
			e.logger.WithError(err).WithField("rule_id", event.RuleID).Warn("Alert publish failed")
		}
	}

	if e.store != nil {
		if err := e.store.RecordTrigger(ctx, event.RuleID, event.FiredAt); err != nil {
			e.logger.WithError(err).WithField("rule_id", event.RuleID).Warn("Trigger record failed")
		}
	}

	e.handlerMu.RLock()
	handlers := e.handlers
	e.handlerMu.RUnlock()
	for _, h := range handlers {
		h(event)
	}

	e.logger.WithFields(logrus.Fields{
		"rule_id": event.RuleID,
		"type":    event.Type,
		"symbol":  event.Symbol,
		"value":   event.Value,
	}).Info("Alert fired")
}

// activeRules serves rules from a short in-process cache
func (e *Evaluator) activeRules(ctx context.Context) ([]*models.AlertRule, error) {
	e.ruleMu.Lock()
	defer e.ruleMu.Unlock()

	if e.cachedRules != nil && time.Since(e.rulesAt) < e.cfg.RuleCacheTTL {
		return e.cachedRules, nil
	}

	rules, err := e.store.GetActiveRules(ctx)
	if err != nil {
		// Serve stale rules over failing the pass.
		if e.cachedRules != nil {
			e.logger.WithError(err).Warn("Rule reload failed, using cached rules")
			return e.cachedRules, nil
		}
		return nil, err
	}

	e.cachedRules = rules
	e.rulesAt = time.Now()
	return rules, nil
}

// ruleValue extracts the metric a rule compares against
func ruleValue(rule *models.AlertRule, row *models.SymbolMetrics) (float64, bool) {
	minutes := rule.Window.Minutes()

	switch rule.Type {
	case models.AlertPump, models.AlertDump, models.AlertPriceMovement:
		if minutes == 1440 {
			return row.ChangePct24h, true
		}
		h, ok := row.Horizons[minutes]
		if !ok {
			return 0, false
		}
		return h.ChangePct, true

	case models.AlertVolumeChange:
		if minutes == 1440 {
			return 100.0, true
		}
		h, ok := row.Horizons[minutes]
		if !ok {
			return 0, false
		}
		return h.VolumePct, true

	case models.AlertRSIOverbought, models.AlertRSIOversold:
		tf := rsiTimeframe(minutes)
		v, ok := row.RSI[tf]
		return v, ok
	}

	return 0, false
}

// rsiTimeframe maps a rule window onto the nearest computed RSI timeframe
func rsiTimeframe(minutes int) int {
	switch minutes {
	case 1, 3, 5, 15:
		return minutes
	default:
		return 15
	}
}

func matches(rule *models.AlertRule, value float64) bool {
	threshold := effectiveThreshold(rule)

	switch rule.Type {
	case models.AlertPump:
		return value >= threshold
	case models.AlertDump:
		return value <= -threshold
	case models.AlertPriceMovement:
		return value >= threshold || value <= -threshold
	case models.AlertVolumeChange:
		return value >= threshold
	case models.AlertRSIOverbought:
		return value >= threshold
	case models.AlertRSIOversold:
		return value <= threshold
	}
	return false
}

func effectiveThreshold(rule *models.AlertRule) float64 {
	if rule.Threshold != 0 {
		return rule.Threshold
	}
	if def, ok := rule.Type.DefaultThreshold(); ok {
		return def
	}
	return rule.Threshold
}

func validateRule(rule *models.AlertRule) error {
	if !rule.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRule, rule.Type)
	}
	if rule.Window.Minutes() == 0 {
		return fmt.Errorf("%w: unknown window %q", ErrInvalidRule, rule.Window)
	}
	if rule.Threshold < 0 {
		return fmt.Errorf("%w: negative threshold", ErrInvalidRule)
	}
	if rule.Threshold == 0 {
		if _, ok := rule.Type.DefaultThreshold(); !ok {
			return fmt.Errorf("%w: zero threshold", ErrInvalidRule)
		}
	}
	return nil
}
