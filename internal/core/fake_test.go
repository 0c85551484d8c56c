package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/dbaas/internal/adapter"
	"github.com/edvin/dbaas/internal/model"
	"github.com/edvin/dbaas/internal/store"
)

// ---------- Fake database registry ----------

type fakeDatabaseRegistry struct {
	mu      sync.Mutex
	byNS    map[string][]model.RegisteredDatabase
	lookups []string
	err     error
}

func newFakeDatabaseRegistry(dbs ...model.RegisteredDatabase) *fakeDatabaseRegistry {
	r := &fakeDatabaseRegistry{byNS: make(map[string][]model.RegisteredDatabase)}
	for _, d := range dbs {
		r.byNS[d.Namespace] = append(r.byNS[d.Namespace], d)
	}
	return r
}

func (r *fakeDatabaseRegistry) FindDatabases(_ context.Context, namespace string) ([]model.RegisteredDatabase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups = append(r.lookups, namespace)
	if r.err != nil {
		return nil, r.err
	}
	out := make([]model.RegisteredDatabase, len(r.byNS[namespace]))
	copy(out, r.byNS[namespace])
	return out, nil
}

func registered(name, namespace, adapterID, typ string) model.RegisteredDatabase {
	return model.RegisteredDatabase{
		ID:          namespace + "/" + name,
		Name:        name,
		Namespace:   namespace,
		Type:        typ,
		AdapterID:   adapterID,
		Classifiers: []model.Classifier{{model.ClassifierNamespace: namespace, model.ClassifierMicroserviceName: name + "-svc"}},
		Settings:    map[string]any{"encoding": "utf8"},
	}
}

// ---------- Fake adapter ----------

// pollStep is one scripted answer to a poll call. When gate is set the call
// blocks until it is closed; entered is closed when the call begins.
type pollStep struct {
	status  *adapter.JobStatus
	err     error
	gate    chan struct{}
	entered chan struct{}
}

type fakeAdapter struct {
	typ string

	mu          sync.Mutex
	startErr    error
	jobName     string
	steps       []pollStep
	pollCalls   int
	startCalls  int
	deleteErr   error
	deleted     []string
	backupReqs  []adapter.BackupRequest
	restoreReqs []adapter.RestoreRequest
}

func newFakeAdapter(typ, jobName string, steps ...pollStep) *fakeAdapter {
	return &fakeAdapter{typ: typ, jobName: jobName, steps: steps}
}

func (f *fakeAdapter) Type() string { return f.typ }

func (f *fakeAdapter) StartBackup(_ context.Context, req adapter.BackupRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	f.backupReqs = append(f.backupReqs, req)
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.jobName, nil
}

func (f *fakeAdapter) StartRestore(_ context.Context, req adapter.RestoreRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	f.restoreReqs = append(f.restoreReqs, req)
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.jobName, nil
}

func (f *fakeAdapter) PollBackup(ctx context.Context, _ string) (*adapter.JobStatus, error) {
	return f.poll(ctx)
}

func (f *fakeAdapter) PollRestore(ctx context.Context, _ string) (*adapter.JobStatus, error) {
	return f.poll(ctx)
}

func (f *fakeAdapter) poll(ctx context.Context) (*adapter.JobStatus, error) {
	f.mu.Lock()
	i := f.pollCalls
	f.pollCalls++
	var step pollStep
	switch {
	case i < len(f.steps):
		step = f.steps[i]
	case len(f.steps) > 0:
		step = f.steps[len(f.steps)-1]
		step.gate, step.entered = nil, nil
	default:
		step = pollStep{err: errors.New("no scripted answer")}
	}
	f.mu.Unlock()

	if step.entered != nil {
		close(step.entered)
	}
	if step.gate != nil {
		select {
		case <-step.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return step.status, step.err
}

func (f *fakeAdapter) DeleteBackup(_ context.Context, jobName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, jobName)
	return nil
}

func (f *fakeAdapter) polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCalls
}

func (f *fakeAdapter) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls
}

// ---------- Fake adapter registry ----------

type fakeAdapterRegistry struct {
	clients map[string]*fakeAdapter
	caps    map[string]adapter.Capabilities
}

func newFakeAdapterRegistry() *fakeAdapterRegistry {
	return &fakeAdapterRegistry{
		clients: make(map[string]*fakeAdapter),
		caps:    make(map[string]adapter.Capabilities),
	}
}

func (r *fakeAdapterRegistry) add(id string, a *fakeAdapter) *fakeAdapterRegistry {
	r.clients[id] = a
	r.caps[id] = adapter.Capabilities{Backup: true, Restore: true}
	return r
}

func (r *fakeAdapterRegistry) Client(_ context.Context, id string) (adapter.Client, error) {
	c, ok := r.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", adapter.ErrUnknownAdapter, id)
	}
	return c, nil
}

func (r *fakeAdapterRegistry) Capabilities(_ context.Context, id string) (adapter.Capabilities, error) {
	c, ok := r.caps[id]
	if !ok {
		return adapter.Capabilities{}, fmt.Errorf("%w: %s", adapter.ErrUnknownAdapter, id)
	}
	return c, nil
}

// ---------- Launchers ----------

// recordingLauncher records launches without running anything.
type recordingLauncher struct {
	mu       sync.Mutex
	launched []string
	err      error
}

func (l *recordingLauncher) Launch(_ context.Context, kind model.OperationKind, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launched = append(l.launched, string(kind)+"/"+name)
	return l.err
}

// ---------- Helpers ----------

func jobStatus(status model.Status, dbs ...model.DatabaseStatus) *adapter.JobStatus {
	return &adapter.JobStatus{Status: status, Databases: dbs}
}

func dbStatus(name string, status model.Status, size int64) model.DatabaseStatus {
	return model.DatabaseStatus{DatabaseName: name, Status: status, Size: size}
}

type testEnv struct {
	repo     *store.Memory
	dbs      *fakeDatabaseRegistry
	adapters *fakeAdapterRegistry
	engine   *Engine
	launcher *recordingLauncher
	backups  *BackupService
	restores *RestoreService
}

func newTestEnv(dbs *fakeDatabaseRegistry, adapters *fakeAdapterRegistry) *testEnv {
	repo := store.NewMemory()
	logger := zerolog.Nop()
	launcher := &recordingLauncher{}
	return &testEnv{
		repo:     repo,
		dbs:      dbs,
		adapters: adapters,
		engine: NewEngine(repo,
			NewDispatcher(repo, adapters, logger, 4),
			NewTracker(repo, adapters, logger, time.Millisecond, DefaultMaxFailures)),
		launcher: launcher,
		backups:  NewBackupService(repo, dbs, adapters, launcher, nil, logger),
		restores: NewRestoreService(repo, adapters, launcher, logger),
	}
}

func includeNamespaces(ns ...string) model.FilterCriteria {
	return model.FilterCriteria{Include: []model.Filter{{Namespace: ns}}}
}
