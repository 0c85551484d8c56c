package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/dbaas/internal/adapter"
	"github.com/edvin/dbaas/internal/metrics"
	"github.com/edvin/dbaas/internal/model"
)

// Tracker defaults.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultMaxFailures  = 3
)

// Tracker polls the adapter jobs of an operation until every unit settles.
// Each unit is polled by its own goroutine; every observation is persisted
// together with the recomputed operation summary.
type Tracker struct {
	repo        Repository
	adapters    adapter.Registry
	logger      zerolog.Logger
	interval    time.Duration
	maxFailures int
	now         func() time.Time

	mu     sync.Mutex
	active map[string]chan struct{}
}

func NewTracker(repo Repository, adapters adapter.Registry, logger zerolog.Logger, interval time.Duration, maxFailures int) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	return &Tracker{
		repo:        repo,
		adapters:    adapters,
		logger:      logger.With().Str("component", "tracker").Logger(),
		interval:    interval,
		maxFailures: maxFailures,
		now:         func() time.Time { return time.Now().UTC() },
		active:      make(map[string]chan struct{}),
	}
}

// Track blocks until every dispatched unit of the operation is terminal or
// ctx is done. A concurrent Track of the same operation waits for the
// running one instead of polling twice.
func (t *Tracker) Track(ctx context.Context, kind model.OperationKind, name string) error {
	key := string(kind) + "/" + name
	done, owner := t.acquire(key)
	if !owner {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer t.release(key, done)

	op, err := t.repo.GetOperation(ctx, kind, name)
	if err != nil {
		return fmt.Errorf("load %s %s: %w", kind, name, err)
	}

	var g errgroup.Group
	for _, u := range op.Units {
		if u.Status.Terminal() || u.JobName == "" {
			continue
		}
		g.Go(func() error {
			return t.trackUnit(ctx, kind, name, u)
		})
	}
	return g.Wait()
}

func (t *Tracker) acquire(key string) (chan struct{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if done, ok := t.active[key]; ok {
		return done, false
	}
	done := make(chan struct{})
	t.active[key] = done
	return done, true
}

func (t *Tracker) release(key string, done chan struct{}) {
	t.mu.Lock()
	delete(t.active, key)
	t.mu.Unlock()
	close(done)
}

func (t *Tracker) trackUnit(ctx context.Context, kind model.OperationKind, name string, unit model.AdapterUnit) error {
	log := t.logger.With().
		Str("kind", string(kind)).
		Str("operation", name).
		Str("adapter", unit.AdapterID).
		Str("job", unit.JobName).
		Logger()

	metrics.TrackedUnits.Inc()
	defer metrics.TrackedUnits.Dec()

	failures := 0
	for {
		st, err := t.poll(ctx, kind, unit)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			log.Warn().Err(err).Int("failures", failures).Msg("poll failed")
			if failures >= t.maxFailures {
				msg := fmt.Sprintf("poll adapter %s job %s: %v", unit.AdapterID, unit.JobName, err)
				err := t.settle(ctx, kind, name, unit.ID, func(u *model.AdapterUnit, now time.Time) {
					u.Status = model.StatusFailed
					u.ErrorMessage = msg
					u.CompletionTime = &now
				})
				if errors.Is(err, errUnitSettled) {
					return nil
				}
				return err
			}
		} else {
			failures = 0
			terminal, err := t.record(ctx, kind, name, unit.ID, st)
			if errors.Is(err, errUnitSettled) {
				return nil
			}
			if err != nil {
				log.Error().Err(err).Msg("failed to record poll result")
				return err
			}
			if terminal {
				log.Info().Msg("unit settled")
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.interval):
		}
	}
}

func (t *Tracker) poll(ctx context.Context, kind model.OperationKind, unit model.AdapterUnit) (*adapter.JobStatus, error) {
	client, err := t.adapters.Client(ctx, unit.AdapterID)
	if err != nil {
		return nil, err
	}
	var st *adapter.JobStatus
	if kind == model.KindRestore {
		st, err = client.PollRestore(ctx, unit.JobName)
	} else {
		st, err = client.PollBackup(ctx, unit.JobName)
	}
	metrics.ObserveAdapterCall(unit.AdapterID, metrics.CallPoll, err)
	if err == nil && st == nil {
		err = errors.New("empty job status")
	}
	return st, err
}

// record persists one poll observation and reports whether the unit is now
// terminal.
func (t *Tracker) record(ctx context.Context, kind model.OperationKind, name, unitID string, st *adapter.JobStatus) (bool, error) {
	var terminal bool
	err := t.settle(ctx, kind, name, unitID, func(u *model.AdapterUnit, now time.Time) {
		applyJobStatus(u, st, now)
		terminal = u.Status.Terminal()
	})
	return terminal, err
}

// settle applies change to a non-terminal unit and refreshes the operation
// summary in the same update.
func (t *Tracker) settle(ctx context.Context, kind model.OperationKind, name, unitID string, change func(u *model.AdapterUnit, now time.Time)) error {
	now := t.now()
	err := t.repo.UpdateUnit(ctx, kind, name, unitID, func(op *model.Operation, u *model.AdapterUnit) error {
		if u.Status.Terminal() {
			return errUnitSettled
		}
		change(u, now)
		refresh(op, now)
		if u.Status.Terminal() {
			metrics.UnitsSettled.WithLabelValues(string(kind), string(u.Status)).Inc()
		}
		return nil
	})
	if err != nil && !errors.Is(err, errUnitSettled) {
		return fmt.Errorf("update unit %s of %s %s: %w", unitID, kind, name, err)
	}
	return err
}

// applyJobStatus copies an adapter report onto the unit and its items. A
// dispatched unit never moves back to NOT_STARTED, and unrecognized statuses
// are kept as IN_PROGRESS.
func applyJobStatus(u *model.AdapterUnit, st *adapter.JobStatus, now time.Time) {
	dbs := make([]model.DatabaseStatus, len(st.Databases))
	for i, d := range st.Databases {
		d.Status = runningStatus(d.Status)
		dbs[i] = d
	}
	u.Databases = dbs

	status := st.Status
	if status == "" && len(dbs) > 0 {
		status = unitStatusFromDatabases(dbs)
	}
	switch {
	case status == "":
	case status == model.StatusNotStarted:
		u.Status = model.StatusPending
	default:
		u.Status = runningStatus(status)
	}

	if st.CreationTime != nil {
		u.CreationTime = st.CreationTime
	}
	if u.Status.Terminal() {
		u.CompletionTime = st.CompletionTime
		if u.CompletionTime == nil {
			u.CompletionTime = &now
		}
	}

	u.ErrorMessage = st.ErrorMessage
	if u.Status == model.StatusFailed && u.ErrorMessage == "" {
		var msgs []string
		for _, d := range dbs {
			if d.ErrorMessage != "" {
				msgs = append(msgs, d.DatabaseName+": "+d.ErrorMessage)
			}
		}
		u.ErrorMessage = strings.Join(msgs, "; ")
	}

	for i := range u.Items {
		it := &u.Items[i]
		for _, d := range dbs {
			if d.DatabaseName != it.Name && (it.PreviousName == "" || d.DatabaseName != it.PreviousName) {
				continue
			}
			it.Status = d.Status
			it.Size = d.Size
			it.Duration = d.Duration
			it.Path = d.Path
			it.ErrorMessage = d.ErrorMessage
			it.CreationTime = d.CreationTime
			break
		}
	}
}

func runningStatus(s model.Status) model.Status {
	if s.Valid() {
		return s
	}
	return model.StatusInProgress
}
