package models

import (
	"testing"
)

func TestPlanGroup(t *testing.T) {
	tests := []struct {
		plan     Plan
		expected string
	}{
		{PlanFree, "crypto_free"},
		{PlanBasic, "crypto_premium"},
		{PlanEnterprise, "crypto_enterprise"},
		{Plan("unknown"), "crypto_free"},
	}

	for _, tt := range tests {
		if got := tt.plan.Group(); got != tt.expected {
			t.Errorf("Group(%q): expected %q, got %q", tt.plan, tt.expected, got)
		}
	}
}

func TestPlanPushEnabled(t *testing.T) {
	if PlanFree.PushEnabled() {
		t.Error("Expected free plan to be pull-only")
	}
	if !PlanBasic.PushEnabled() || !PlanEnterprise.PushEnabled() {
		t.Error("Expected paid plans to receive pushes")
	}
}

func TestParsePlan(t *testing.T) {
	tests := []struct {
		input    string
		expected Plan
	}{
		{"basic", PlanBasic},
		{"enterprise", PlanEnterprise},
		{"free", PlanFree},
		{"", PlanFree},
		{"premium", PlanFree},
	}

	for _, tt := range tests {
		if got := ParsePlan(tt.input); got != tt.expected {
			t.Errorf("ParsePlan(%q): expected %q, got %q", tt.input, tt.expected, got)
		}
	}
}
