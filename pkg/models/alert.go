package models

import (
	"time"
)

// AlertType identifies the comparator an alert rule uses
type AlertType string

const (
	AlertPump          AlertType = "pump"
	AlertDump          AlertType = "dump"
	AlertPriceMovement AlertType = "price_movement"
	AlertVolumeChange  AlertType = "volume_change"
	AlertRSIOverbought AlertType = "rsi_overbought"
	AlertRSIOversold   AlertType = "rsi_oversold"
)

// DefaultThreshold returns the threshold used when a rule leaves it unset
func (t AlertType) DefaultThreshold() (float64, bool) {
	switch t {
	case AlertRSIOverbought:
		return 70, true
	case AlertRSIOversold:
		return 30, true
	default:
		return 0, false
	}
}

// Valid reports whether the alert type is known
func (t AlertType) Valid() bool {
	switch t {
	case AlertPump, AlertDump, AlertPriceMovement, AlertVolumeChange,
		AlertRSIOverbought, AlertRSIOversold:
		return true
	}
	return false
}

// AlertWindow is the lookback window an alert rule evaluates against
type AlertWindow string

const (
	Window1m  AlertWindow = "1m"
	Window5m  AlertWindow = "5m"
	Window15m AlertWindow = "15m"
	Window1h  AlertWindow = "1h"
	Window24h AlertWindow = "24h"
)

// Minutes returns the window length in minutes, or 0 for unknown windows
func (w AlertWindow) Minutes() int {
	switch w {
	case Window1m:
		return 1
	case Window5m:
		return 5
	case Window15m:
		return 15
	case Window1h:
		return 60
	case Window24h:
		return 1440
	}
	return 0
}

// NotifyChannel is where a fired alert should be delivered downstream
type NotifyChannel string

const (
	NotifyEmail    NotifyChannel = "email"
	NotifyTelegram NotifyChannel = "telegram"
	NotifyBoth     NotifyChannel = "both"
)

// AlertRule is a persisted alert definition
type AlertRule struct {
	ID            int64         `json:"id" db:"id"`
	UserID        int64         `json:"user_id" db:"user_id"`
	Type          AlertType     `json:"alert_type" db:"alert_type"`
	Symbol        string        `json:"symbol,omitempty" db:"symbol"` // empty matches any symbol
	Threshold     float64       `json:"threshold" db:"threshold"`
	Window        AlertWindow   `json:"window" db:"time_window"`
	Channel       NotifyChannel `json:"channel" db:"channel"`
	Active        bool          `json:"active" db:"is_active"`
	TriggerCount  int64         `json:"trigger_count" db:"trigger_count"`
	LastTriggered *time.Time    `json:"last_triggered,omitempty" db:"last_triggered"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// AnySymbol reports whether the rule scans the whole table
func (r *AlertRule) AnySymbol() bool {
	return r.Symbol == ""
}

// AlertEvent is a fired alert
type AlertEvent struct {
	RuleID    int64         `json:"rule_id"`
	UserID    int64         `json:"user_id"`
	Type      AlertType     `json:"alert_type"`
	Symbol    string        `json:"symbol"`
	Window    AlertWindow   `json:"window"`
	Threshold float64       `json:"threshold"`
	Value     float64       `json:"value"` // observed metric that crossed the threshold
	Channel   NotifyChannel `json:"channel"`
	FiredAt   time.Time     `json:"fired_at"`
}
