package model

// CanaryPolicySnapshot is the read-only view of the canary rollout.
type CanaryPolicySnapshot struct {
	EngineName      string   `json:"engine_name"` // stable engine
	CanaryEngine    string   `json:"canary_engine"`
	Enabled         bool     `json:"enabled"`
	DailyUsageCount int64    `json:"daily_usage_count"`
	DailyCap        int64    `json:"daily_cap"`
	RemainingToday  int64    `json:"remaining_today"`
	Verticals       []string `json:"verticals,omitempty"`
	Day             string   `json:"day"`
}
