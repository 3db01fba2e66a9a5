package model

type StatsWindow string

const (
	StatsWindow24h StatsWindow = "24h"
	StatsWindow7d  StatsWindow = "7d"
	StatsWindowAll StatsWindow = "all"
)

type ExecutionStats struct {
	Window             StatsWindow       `json:"window"`
	Total              int               `json:"total"`
	ByStatus           map[string]int    `json:"by_status"`
	AvgDurationMs      *float64          `json:"avg_duration_ms"`
	EngineDistribution map[string]int    `json:"engine_distribution"`
	Canary             CanaryStats       `json:"canary"`
	RenderPerformance  RenderPerformance `json:"render_performance"`
}

type CanaryStats struct {
	TotalCanary   int            `json:"total_canary"`
	TotalFallback int            `json:"total_fallback"`
	SuccessRate   *int           `json:"success_rate"`
	FallbackRate  *int           `json:"fallback_rate"`
	TopErrorCodes map[string]int `json:"top_error_codes"`
}

type RenderPerformance struct {
	P50RenderDurationMs *int64                       `json:"p50_render_duration_ms"`
	P95RenderDurationMs *int64                       `json:"p95_render_duration_ms"`
	ByEngine            map[string]EnginePerformance `json:"by_engine"`
}

type EnginePerformance struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	P50   *int64  `json:"p50,omitempty"`
	P95   *int64  `json:"p95,omitempty"`
}
