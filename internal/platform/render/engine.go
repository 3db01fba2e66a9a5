package render

import (
	"context"
	"fmt"
	"time"

	"videojobs/internal/domain/model"
)

// Error is a classified render failure.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Output is what an engine reports for a finished render.
type Output struct {
	URL          string
	Resolution   string
	QualityScore *float64
	QualityFlags []string
}

type Engine interface {
	Name() string
	Render(ctx context.Context, job model.RenderJobPayload) (Output, error)
}

// LocalEngine records a render against a base URL without producing media.
// Fail, when set, decides per job whether the engine fails and how.
type LocalEngine struct {
	EngineName string
	Resolution string
	BaseURL    string
	Delay      time.Duration
	Fail       func(job model.RenderJobPayload) *Error
}

func (e *LocalEngine) Name() string { return e.EngineName }

func (e *LocalEngine) Render(ctx context.Context, job model.RenderJobPayload) (Output, error) {
	if e.Delay > 0 {
		select {
		case <-ctx.Done():
			return Output{}, &Error{Code: "RENDER_CANCELLED", Message: ctx.Err().Error(), Retryable: true}
		case <-time.After(e.Delay):
		}
	}
	if e.Fail != nil {
		if rerr := e.Fail(job); rerr != nil {
			return Output{}, rerr
		}
	}
	score := 1.0
	return Output{
		URL:          fmt.Sprintf("%s/%s/%s.mp4", e.BaseURL, job.SubjectID, job.ExecutionID),
		Resolution:   e.Resolution,
		QualityScore: &score,
	}, nil
}
