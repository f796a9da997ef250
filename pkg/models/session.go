package models

// Plan is a subscription tier
type Plan string

const (
	PlanFree       Plan = "free"
	PlanBasic      Plan = "basic"
	PlanEnterprise Plan = "enterprise"
)

// Group returns the broadcast group name for the plan
func (p Plan) Group() string {
	switch p {
	case PlanBasic:
		return "crypto_premium"
	case PlanEnterprise:
		return "crypto_enterprise"
	default:
		return "crypto_free"
	}
}

// PushEnabled reports whether the plan receives pushed deltas.
// Free sessions pull snapshots on request only.
func (p Plan) PushEnabled() bool {
	return p == PlanBasic || p == PlanEnterprise
}

// ParsePlan normalizes a stored plan string, defaulting to free
func ParsePlan(s string) Plan {
	switch Plan(s) {
	case PlanBasic:
		return PlanBasic
	case PlanEnterprise:
		return PlanEnterprise
	}
	return PlanFree
}

// User is an authenticated account
type User struct {
	ID    int64  `json:"id" db:"id"`
	Email string `json:"email" db:"email"`
	Plan  Plan   `json:"plan" db:"subscription_plan"`
}
