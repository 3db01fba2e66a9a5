// Package stats computes aggregate metrics over execution log rows.
package stats

import (
	"math"
	"sort"

	"videojobs/internal/domain/model"
)

const (
	unknownEngine    = "unknown"
	unknownErrorCode = "UNKNOWN"
)

// Aggregate reduces rows to histograms, rates and nearest-rank percentiles.
// It is a pure function of its input.
func Aggregate(window model.StatsWindow, rows []model.StatsRow) model.ExecutionStats {
	out := model.ExecutionStats{
		Window:             window,
		Total:              len(rows),
		ByStatus:           map[string]int{},
		EngineDistribution: map[string]int{},
		Canary:             model.CanaryStats{TopErrorCodes: map[string]int{}},
		RenderPerformance:  model.RenderPerformance{ByEngine: map[string]model.EnginePerformance{}},
	}

	var durationSum, durationCount int64
	var renderAll []int64
	renderByEngine := map[string][]int64{}

	for _, row := range rows {
		out.ByStatus[string(row.Status)]++

		engine := unknownEngine
		if row.EngineName != nil && *row.EngineName != "" {
			engine = *row.EngineName
		}
		out.EngineDistribution[engine]++

		if row.DurationMs != nil {
			durationSum += *row.DurationMs
			durationCount++
		}

		if row.IsCanary {
			out.Canary.TotalCanary++
			if row.CanaryFallback {
				out.Canary.TotalFallback++
				code := unknownErrorCode
				if row.CanaryErrorCode != nil && *row.CanaryErrorCode != "" {
					code = *row.CanaryErrorCode
				}
				out.Canary.TopErrorCodes[code]++
			}
		}

		if row.RenderDurationMs != nil {
			renderAll = append(renderAll, *row.RenderDurationMs)
			renderByEngine[engine] = append(renderByEngine[engine], *row.RenderDurationMs)
		}
	}

	if durationCount > 0 {
		avg := float64(durationSum) / float64(durationCount)
		out.AvgDurationMs = &avg
	}

	if c := out.Canary.TotalCanary; c > 0 {
		f := out.Canary.TotalFallback
		success := roundPercent(c-f, c)
		fallback := roundPercent(f, c)
		out.Canary.SuccessRate = &success
		out.Canary.FallbackRate = &fallback
	}

	sortInt64s(renderAll)
	out.RenderPerformance.P50RenderDurationMs = Percentile(renderAll, 0.5)
	out.RenderPerformance.P95RenderDurationMs = Percentile(renderAll, 0.95)

	for engine, values := range renderByEngine {
		sortInt64s(values)
		var sum int64
		for _, v := range values {
			sum += v
		}
		out.RenderPerformance.ByEngine[engine] = model.EnginePerformance{
			Count: len(values),
			Avg:   float64(sum) / float64(len(values)),
			P50:   Percentile(values, 0.5),
			P95:   Percentile(values, 0.95),
		}
	}

	return out
}

// Percentile returns sorted[floor(n*p)] without interpolation, or nil for empty input.
// sorted must be ascending.
func Percentile(sorted []int64, p float64) *int64 {
	n := len(sorted)
	if n == 0 {
		return nil
	}
	idx := int(math.Floor(float64(n) * p))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	v := sorted[idx]
	return &v
}

func roundPercent(part, whole int) int {
	return int(math.Round(float64(part) / float64(whole) * 100))
}

func sortInt64s(values []int64) {
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
}
