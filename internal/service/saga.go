package service

import (
	"context"
	"fmt"
	"log/slog"

	"noticeboard/internal/middleware"
	"noticeboard/internal/models"
	"noticeboard/internal/observability"
)

// CompensationRecorder persists the outcome of compensating actions.
type CompensationRecorder interface {
	Record(ctx context.Context, record *models.CompensationRecord) error
}

// SagaStep is one forward action with an optional compensating action.
type SagaStep struct {
	Name       string
	Run        func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// SagaError reports which step of a saga failed.
type SagaError struct {
	Saga string
	Step string
	Err  error
}

func (e *SagaError) Error() string {
	return fmt.Sprintf("saga %s: step %s: %v", e.Saga, e.Step, e.Err)
}

func (e *SagaError) Unwrap() error {
	return e.Err
}

// Saga runs steps in order. When a step fails, the compensations of the
// steps that already succeeded run in reverse order and each outcome is
// recorded. Compensation failures are recorded, never returned.
type Saga struct {
	Name      string
	ProfileID string
	Recorder  CompensationRecorder
	Steps     []SagaStep
}

// Execute runs the saga and returns a *SagaError for the failing step.
func (s *Saga) Execute(ctx context.Context) error {
	for i, step := range s.Steps {
		if err := step.Run(ctx); err != nil {
			s.compensate(ctx, s.Steps[:i], step.Name, err)
			return &SagaError{Saga: s.Name, Step: step.Name, Err: err}
		}
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, done []SagaStep, failedStep string, cause error) {
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}

		rec := &models.CompensationRecord{
			Saga:      s.Name,
			Step:      step.Name,
			ProfileID: s.ProfileID,
			Reason:    fmt.Sprintf("%s failed: %v", failedStep, cause),
			Outcome:   models.CompensationSucceeded,
		}
		if err := step.Compensate(ctx); err != nil {
			rec.Outcome = models.CompensationFailed
			rec.Error = err.Error()
			middleware.Logger.ErrorContext(ctx, "saga compensation failed",
				slog.String("saga", s.Name),
				slog.String("step", step.Name),
				slog.String("error", err.Error()),
			)
		}
		observability.Compensations.WithLabelValues(s.Name, rec.Outcome).Inc()

		if s.Recorder == nil {
			continue
		}
		if err := s.Recorder.Record(ctx, rec); err != nil {
			middleware.Logger.ErrorContext(ctx, "failed to record saga compensation",
				slog.String("saga", s.Name),
				slog.String("step", step.Name),
				slog.String("outcome", rec.Outcome),
				slog.String("error", err.Error()),
			)
		}
	}
}
