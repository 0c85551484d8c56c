package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/dbaas/internal/core"
)

// RunOperationWorkflow dispatches the units of a planned operation and then
// tracks them until every unit is terminal. The workflow id is derived from
// the operation so one operation never has two runs.
func RunOperationWorkflow(ctx workflow.Context, params core.RunOperationParams) error {
	logger := workflow.GetLogger(ctx)

	// Adapter start calls are not idempotent, so dispatch runs once. Units
	// whose start failed are already recorded as FAILED.
	dispatchCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
	if err := workflow.ExecuteActivity(dispatchCtx, "DispatchOperation", params).Get(ctx, nil); err != nil {
		logger.Error("dispatch failed", "kind", params.Kind, "name", params.Name, "error", err)
		return err
	}

	trackCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			MaximumInterval:    time.Minute,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    10,
		},
	})
	return workflow.ExecuteActivity(trackCtx, "TrackOperation", params).Get(ctx, nil)
}

// ReconcileOperationsWorkflow starts a run for every operation left
// unfinished, for example by a worker restart. It runs on a cron schedule.
func ReconcileOperationsWorkflow(ctx workflow.Context) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    1 * time.Second,
			MaximumInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var launched int
	if err := workflow.ExecuteActivity(ctx, "ResumeUnfinishedOperations").Get(ctx, &launched); err != nil {
		return err
	}
	workflow.GetLogger(ctx).Info("reconciled operations", "launched", launched)
	return nil
}
