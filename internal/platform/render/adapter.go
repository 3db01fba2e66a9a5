package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"videojobs/internal/domain/model"
	"videojobs/internal/platform/logger"

	"github.com/redis/go-redis/v9"
)

const usageKeyTTL = 48 * time.Hour

const (
	canaryReserved = "1"
	canaryDeclined = "0"
)

// Adapter routes renders between the stable and canary engines and keeps the
// daily canary usage counter in Redis.
type Adapter struct {
	policy      Policy
	stable      Engine
	canary      Engine
	rdb         *redis.Client
	usagePrefix string
	now         func() time.Time
}

func NewAdapter(policy Policy, stable, canary Engine, rdb *redis.Client, usagePrefix string) *Adapter {
	return &Adapter{
		policy:      policy,
		stable:      stable,
		canary:      canary,
		rdb:         rdb,
		usagePrefix: usagePrefix,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (a *Adapter) day() string {
	return a.now().Format("2006-01-02")
}

func (a *Adapter) usageKey() string {
	return a.usagePrefix + a.day()
}

func (a *Adapter) decisionKey(executionID string) string {
	return a.usagePrefix + "job:" + executionID
}

// CanaryPolicySnapshot is the read-only view exposed to the orchestrator.
func (a *Adapter) CanaryPolicySnapshot(ctx context.Context) (model.CanaryPolicySnapshot, error) {
	used, err := a.rdb.Get(ctx, a.usageKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return model.CanaryPolicySnapshot{}, fmt.Errorf("read canary usage: %w", err)
	}
	remaining := a.policy.DailyCap - used
	if remaining < 0 || !a.policy.Enabled {
		remaining = 0
	}
	return model.CanaryPolicySnapshot{
		EngineName:      a.policy.StableEngine,
		CanaryEngine:    a.policy.CanaryEngine,
		Enabled:         a.policy.Enabled,
		DailyUsageCount: used,
		DailyCap:        a.policy.DailyCap,
		RemainingToday:  remaining,
		Verticals:       a.policy.Verticals,
		Day:             a.day(),
	}, nil
}

// reserveCanary takes one unit of today's canary budget if the job qualifies.
// The decision is stored per execution and reused on redelivery.
func (a *Adapter) reserveCanary(ctx context.Context, job model.RenderJobPayload) bool {
	if !a.policy.Enabled || a.canary == nil || !a.policy.allowsVertical(job.Vertical) {
		return false
	}
	log := logger.Execution(job.ExecutionID, job.SubjectID)
	decisionKey := a.decisionKey(job.ExecutionID)
	fresh, err := a.rdb.SetNX(ctx, decisionKey, canaryDeclined, usageKeyTTL).Result()
	if err != nil {
		log.WithError(err).Warn("Canary reservation failed, using stable engine")
		return false
	}
	if !fresh {
		decision, err := a.rdb.Get(ctx, decisionKey).Result()
		if err != nil {
			log.WithError(err).Warn("Canary decision unreadable, using stable engine")
			return false
		}
		return decision == canaryReserved
	}

	key := a.usageKey()
	used, err := a.rdb.Incr(ctx, key).Result()
	if err != nil {
		log.WithError(err).Warn("Canary usage increment failed, using stable engine")
		return false
	}
	if err := a.rdb.Expire(ctx, key, usageKeyTTL).Err(); err != nil {
		log.WithError(err).Warn("Failed to set canary usage expiry")
	}
	if used > a.policy.DailyCap {
		if err := a.rdb.Decr(ctx, key).Err(); err != nil {
			log.WithError(err).Error("Failed to release canary unit over cap")
		}
		return false
	}
	if err := a.rdb.Set(ctx, decisionKey, canaryReserved, usageKeyTTL).Err(); err != nil {
		log.WithError(err).Warn("Failed to record canary reservation")
	}
	return true
}

// Render runs the job and returns its report. When the canary engine fails the
// stable engine is used and the fallback is recorded in the report. The returned
// error, if any, is a *Error and the report still carries engine and error fields.
func (a *Adapter) Render(ctx context.Context, job model.RenderJobPayload) (model.RenderReport, error) {
	var report model.RenderReport
	started := a.now()

	if a.reserveCanary(ctx, job) {
		report.IsCanary = true
		out, err := a.runEngine(ctx, a.canary, job, &report)
		if err == nil {
			a.fillOutput(&report, a.canary, out, started)
			return report, nil
		}
		code, msg := classify(err)
		report.CanaryFallback = true
		report.CanaryErrorCode = &code
		report.CanaryErrorMessage = &msg
		logger.Execution(job.ExecutionID, job.SubjectID).WithField("canary_error", code).Warn("Canary render failed, falling back to stable engine")
	}

	out, err := a.runEngine(ctx, a.stable, job, &report)
	if err != nil {
		code, msg := classify(err)
		name := a.stable.Name()
		elapsed := a.now().Sub(started).Milliseconds()
		report.EngineName = &name
		report.DurationMs = &elapsed
		report.ErrorCode = &code
		report.ErrorMessage = &msg
		var rerr *Error
		if !errors.As(err, &rerr) {
			rerr = &Error{Code: code, Message: msg, Retryable: true}
		}
		return report, rerr
	}
	a.fillOutput(&report, a.stable, out, started)
	return report, nil
}

func (a *Adapter) runEngine(ctx context.Context, engine Engine, job model.RenderJobPayload, report *model.RenderReport) (Output, error) {
	start := a.now()
	out, err := engine.Render(ctx, job)
	elapsed := a.now().Sub(start).Milliseconds()
	report.RenderDurationMs = &elapsed
	return out, err
}

func (a *Adapter) fillOutput(report *model.RenderReport, engine Engine, out Output, started time.Time) {
	name := engine.Name()
	total := a.now().Sub(started).Milliseconds()
	report.EngineName = &name
	report.DurationMs = &total
	if out.Resolution != "" {
		res := out.Resolution
		report.EngineResolution = &res
	}
	if out.URL != "" {
		url := out.URL
		report.OutputURL = &url
	}
	report.QualityScore = out.QualityScore
	report.QualityFlags = out.QualityFlags
}

func classify(err error) (string, string) {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Code, rerr.Message
	}
	return "RENDER_ERROR", err.Error()
}
