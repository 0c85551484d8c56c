package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/dbaas/internal/adapter"
	"github.com/edvin/dbaas/internal/metrics"
	"github.com/edvin/dbaas/internal/model"
)

// errUnitSettled aborts a unit update whose precondition no longer holds.
var errUnitSettled = errors.New("unit already settled")

// Dispatcher starts the adapter job of every undispatched unit of an
// operation, a bounded number at a time.
type Dispatcher struct {
	repo        Repository
	adapters    adapter.Registry
	logger      zerolog.Logger
	concurrency int
	now         func() time.Time
}

func NewDispatcher(repo Repository, adapters adapter.Registry, logger zerolog.Logger, concurrency int) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{
		repo:        repo,
		adapters:    adapters,
		logger:      logger.With().Str("component", "dispatcher").Logger(),
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch starts every NOT_STARTED unit without a job. A unit whose start
// call fails is marked FAILED; other units are unaffected. The returned error
// only reports persistence failures.
func (d *Dispatcher) Dispatch(ctx context.Context, kind model.OperationKind, name string) error {
	op, err := d.repo.GetOperation(ctx, kind, name)
	if err != nil {
		return fmt.Errorf("load %s %s: %w", kind, name, err)
	}

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, u := range op.Units {
		if u.Status != model.StatusNotStarted || u.JobName != "" {
			continue
		}
		g.Go(func() error {
			return d.start(ctx, op, u)
		})
	}
	return g.Wait()
}

func (d *Dispatcher) start(ctx context.Context, op *model.Operation, unit model.AdapterUnit) error {
	log := d.logger.With().
		Str("kind", string(op.Kind)).
		Str("operation", op.Name).
		Str("adapter", unit.AdapterID).
		Logger()

	client, err := d.adapters.Client(ctx, unit.AdapterID)
	var job string
	if err == nil {
		job, err = startJob(ctx, client, op, unit)
		metrics.ObserveAdapterCall(unit.AdapterID, metrics.CallStart, err)
	}

	now := d.now()
	updateErr := d.repo.UpdateUnit(ctx, op.Kind, op.Name, unit.ID, func(o *model.Operation, u *model.AdapterUnit) error {
		if u.Status != model.StatusNotStarted || u.JobName != "" {
			return errUnitSettled
		}
		if err != nil {
			u.Status = model.StatusFailed
			u.ErrorMessage = fmt.Sprintf("start %s on adapter %s: %v", o.Kind, u.AdapterID, err)
			u.CompletionTime = &now
		} else {
			u.JobName = job
			u.Status = model.StatusPending
			u.CreationTime = &now
		}
		refresh(o, now)
		return nil
	})
	if errors.Is(updateErr, errUnitSettled) {
		return nil
	}
	if updateErr != nil {
		log.Error().Err(updateErr).Str("job", job).Msg("failed to record dispatched unit")
		return fmt.Errorf("record dispatch of unit %s: %w", unit.ID, updateErr)
	}

	if err != nil {
		metrics.UnitsSettled.WithLabelValues(string(op.Kind), string(model.StatusFailed)).Inc()
		log.Warn().Err(err).Msg("adapter rejected job")
		return nil
	}
	log.Info().Str("job", job).Msg("adapter job started")
	return nil
}

func startJob(ctx context.Context, client adapter.Client, op *model.Operation, unit model.AdapterUnit) (string, error) {
	if op.Kind == model.KindRestore {
		mappings := make([]adapter.RestoreMapping, 0, len(unit.Items))
		for _, it := range unit.Items {
			mappings = append(mappings, adapter.RestoreMapping{PreviousName: it.PreviousName, Name: it.Name})
		}
		return client.StartRestore(ctx, adapter.RestoreRequest{
			BackupJobName: unit.BackupJobName,
			StorageName:   op.StorageName,
			BlobPath:      op.BlobPath,
			Databases:     mappings,
			DryRun:        op.DryRun,
		})
	}
	return client.StartBackup(ctx, adapter.BackupRequest{
		StorageName: op.StorageName,
		BlobPath:    op.BlobPath,
		Databases:   unit.DatabaseNames(),
	})
}
