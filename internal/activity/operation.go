package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/dbaas/internal/core"
	"github.com/edvin/dbaas/internal/model"
	"github.com/edvin/dbaas/internal/store"
)

// DefaultHeartbeatInterval is how often TrackOperation reports liveness.
const DefaultHeartbeatInterval = 10 * time.Second

// OperationRunner executes the phases of a persisted operation.
// *core.Engine satisfies this interface.
type OperationRunner interface {
	Dispatch(ctx context.Context, kind model.OperationKind, name string) error
	Track(ctx context.Context, kind model.OperationKind, name string) error
	Unfinished(ctx context.Context, kind model.OperationKind) ([]string, error)
}

// Operations contains the activities that drive backup and restore
// operations on the worker.
type Operations struct {
	runner    OperationRunner
	launcher  core.Launcher
	heartbeat time.Duration
	logger    zerolog.Logger
}

// NewOperations creates the operation activities. The launcher is used by
// ResumeUnfinishedOperations to start one run per unfinished operation.
func NewOperations(runner OperationRunner, launcher core.Launcher, heartbeat time.Duration, logger zerolog.Logger) *Operations {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &Operations{
		runner:    runner,
		launcher:  launcher,
		heartbeat: heartbeat,
		logger:    logger.With().Str("component", "operation-activities").Logger(),
	}
}

// DispatchOperation starts every undispatched unit of the operation.
func (a *Operations) DispatchOperation(ctx context.Context, params core.RunOperationParams) error {
	if err := a.runner.Dispatch(ctx, params.Kind, params.Name); err != nil {
		return classify(err)
	}
	return nil
}

// TrackOperation polls the operation until every dispatched unit settles,
// heartbeating while it waits.
func (a *Operations) TrackOperation(ctx context.Context, params core.RunOperationParams) error {
	done := make(chan error, 1)
	go func() {
		done <- a.runner.Track(ctx, params.Kind, params.Name)
	}()

	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				return classify(err)
			}
			return nil
		case <-ticker.C:
			activity.RecordHeartbeat(ctx, params.Name)
		}
	}
}

// ResumeUnfinishedOperations launches a run for every operation that still
// has a non-terminal unit and returns how many were launched.
func (a *Operations) ResumeUnfinishedOperations(ctx context.Context) (int, error) {
	launched := 0
	for _, kind := range []model.OperationKind{model.KindBackup, model.KindRestore} {
		names, err := a.runner.Unfinished(ctx, kind)
		if err != nil {
			return launched, fmt.Errorf("list unfinished %s operations: %w", kind, err)
		}
		for _, name := range names {
			if err := a.launcher.Launch(ctx, kind, name); err != nil {
				return launched, fmt.Errorf("resume %s %s: %w", kind, name, err)
			}
			launched++
		}
	}
	if launched > 0 {
		a.logger.Info().Int("operations", launched).Msg("resumed unfinished operations")
	}
	return launched, nil
}

// classify marks errors for a deleted operation as non-retryable.
func classify(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return temporal.NewNonRetryableApplicationError(err.Error(), "OPERATION_NOT_FOUND", err)
	}
	return err
}
