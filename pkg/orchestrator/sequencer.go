package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/devlab-sh/devlab/pkg/health"
	"github.com/devlab-sh/devlab/pkg/telemetry"
)

// runStages executes the sequence in order, fail-fast. The first failure is
// returned classified and stamped with the failing stage; completed stages
// are not rolled back.
func (o *Orchestrator) runStages(ctx context.Context, deps *Deps, stages []Stage) error {
	for _, stage := range stages {
		logger := o.logger.WithStage(stage.Name)

		if stage.Enabled != nil && !stage.Enabled(deps.Selection) {
			logger.Debug("Stage skipped")
			o.metrics.RecordStage(stage.Name, "skipped", 0)
			continue
		}

		stageCtx, span := o.tracer.StartStageSpan(ctx, stage.Name)
		logger.Info("Stage started")
		start := time.Now()

		err := stage.Run(stageCtx, deps)
		elapsed := time.Since(start)

		if err != nil {
			o.metrics.RecordStage(stage.Name, "failed", elapsed)
			telemetry.RecordError(span, err)
			span.End()

			classified := classify(err).WithStage(stage.Name)
			o.metrics.RecordError(string(classified.Class))
			logger.WithError(classified).Errorf("Stage failed after %s", elapsed.Round(time.Millisecond))
			return classified
		}

		o.metrics.RecordStage(stage.Name, "succeeded", elapsed)
		telemetry.RecordSuccess(span)
		span.End()
		logger.Infof("Stage succeeded in %s", elapsed.Round(time.Millisecond))
	}
	return nil
}

// classify wraps a stage failure as a RunError, preserving an existing
// classification and recognizing health gate timeouts.
func classify(err error) *RunError {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr
	}
	var timeoutErr *health.TimeoutError
	if errors.As(err, &timeoutErr) {
		return NewHealthTimeoutError("readiness gate timed out", err)
	}
	return NewStageError("stage failed", err)
}
