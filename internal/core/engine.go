package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/dbaas/internal/model"
)

// Engine runs the dispatch and tracking phases of an operation.
type Engine struct {
	repo       Repository
	dispatcher *Dispatcher
	tracker    *Tracker
}

func NewEngine(repo Repository, dispatcher *Dispatcher, tracker *Tracker) *Engine {
	return &Engine{repo: repo, dispatcher: dispatcher, tracker: tracker}
}

// Dispatch starts all undispatched units of the operation.
func (e *Engine) Dispatch(ctx context.Context, kind model.OperationKind, name string) error {
	return e.dispatcher.Dispatch(ctx, kind, name)
}

// Track polls the operation until it settles.
func (e *Engine) Track(ctx context.Context, kind model.OperationKind, name string) error {
	return e.tracker.Track(ctx, kind, name)
}

// Run dispatches and then tracks the operation.
func (e *Engine) Run(ctx context.Context, kind model.OperationKind, name string) error {
	if err := e.Dispatch(ctx, kind, name); err != nil {
		return err
	}
	return e.Track(ctx, kind, name)
}

// Unfinished returns the names of operations of kind with a non-terminal
// unit.
func (e *Engine) Unfinished(ctx context.Context, kind model.OperationKind) ([]string, error) {
	return e.repo.ListUnfinished(ctx, kind)
}

// Launcher hands a persisted plan to whatever executes it. Launch returns once
// execution has been scheduled.
type Launcher interface {
	Launch(ctx context.Context, kind model.OperationKind, name string) error
}

// LocalLauncher runs operations on goroutines of the current process.
type LocalLauncher struct {
	engine *Engine
	base   context.Context
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewLocalLauncher creates a launcher whose runs live as long as base.
func NewLocalLauncher(base context.Context, engine *Engine, logger zerolog.Logger) *LocalLauncher {
	return &LocalLauncher{engine: engine, base: base, logger: logger.With().Str("component", "launcher").Logger()}
}

func (l *LocalLauncher) Launch(_ context.Context, kind model.OperationKind, name string) error {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.engine.Run(l.base, kind, name); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error().Err(err).Str("kind", string(kind)).Str("operation", name).Msg("operation run failed")
		}
	}()
	return nil
}

// Resume launches every unfinished operation of both kinds.
func (l *LocalLauncher) Resume(ctx context.Context) error {
	for _, kind := range []model.OperationKind{model.KindBackup, model.KindRestore} {
		names, err := l.engine.Unfinished(ctx, kind)
		if err != nil {
			return fmt.Errorf("list unfinished %s operations: %w", kind, err)
		}
		for _, name := range names {
			if err := l.Launch(ctx, kind, name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Wait blocks until every launched run has returned.
func (l *LocalLauncher) Wait() {
	l.wg.Wait()
}

// RunOperationWorkflowName is the registered name of the operation workflow.
const RunOperationWorkflowName = "RunOperationWorkflow"

// RunOperationParams identifies the operation a workflow run executes.
type RunOperationParams struct {
	Kind model.OperationKind `json:"kind"`
	Name string              `json:"name"`
}

// RunWorkflowID is the workflow id of an operation's run. One id per
// operation keeps concurrent launches from starting a second execution.
func RunWorkflowID(kind model.OperationKind, name string) string {
	return fmt.Sprintf("%s-%s", kind, name)
}

// TemporalLauncher starts a RunOperationWorkflow per operation.
type TemporalLauncher struct {
	tc        temporalclient.Client
	taskQueue string
}

func NewTemporalLauncher(tc temporalclient.Client, taskQueue string) *TemporalLauncher {
	return &TemporalLauncher{tc: tc, taskQueue: taskQueue}
}

func (l *TemporalLauncher) Launch(ctx context.Context, kind model.OperationKind, name string) error {
	_, err := l.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        RunWorkflowID(kind, name),
		TaskQueue: l.taskQueue,
	}, RunOperationWorkflowName, RunOperationParams{Kind: kind, Name: name})
	if err != nil {
		return fmt.Errorf("start %s: %w", RunOperationWorkflowName, err)
	}
	return nil
}
