package models

import (
	"testing"
)

func TestAlertWindowMinutes(t *testing.T) {
	tests := []struct {
		window   AlertWindow
		expected int
	}{
		{Window1m, 1},
		{Window5m, 5},
		{Window15m, 15},
		{Window1h, 60},
		{Window24h, 1440},
		{AlertWindow("2h"), 0},
	}

	for _, tt := range tests {
		if got := tt.window.Minutes(); got != tt.expected {
			t.Errorf("Minutes(%q): expected %d, got %d", tt.window, tt.expected, got)
		}
	}
}

func TestAlertTypeValid(t *testing.T) {
	valid := []AlertType{
		AlertPump, AlertDump, AlertPriceMovement,
		AlertVolumeChange, AlertRSIOverbought, AlertRSIOversold,
	}
	for _, typ := range valid {
		if !typ.Valid() {
			t.Errorf("Expected %q to be valid", typ)
		}
	}
	if AlertType("moon").Valid() {
		t.Error("Expected unknown type to be invalid")
	}
}

func TestAlertTypeDefaultThreshold(t *testing.T) {
	if def, ok := AlertRSIOverbought.DefaultThreshold(); !ok || def != 70 {
		t.Errorf("Expected overbought default 70, got %f (%v)", def, ok)
	}
	if def, ok := AlertRSIOversold.DefaultThreshold(); !ok || def != 30 {
		t.Errorf("Expected oversold default 30, got %f (%v)", def, ok)
	}
	if _, ok := AlertPump.DefaultThreshold(); ok {
		t.Error("Expected no default for pump rules")
	}
}

func TestAnySymbol(t *testing.T) {
	if !(&AlertRule{Symbol: ""}).AnySymbol() {
		t.Error("Expected empty symbol to scan any symbol")
	}
	if (&AlertRule{Symbol: "BTCUSDT"}).AnySymbol() {
		t.Error("Expected pinned symbol to not scan")
	}
}
