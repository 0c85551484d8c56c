package core

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/edvin/dbaas/internal/adapter"
	"github.com/edvin/dbaas/internal/model"
	"github.com/edvin/dbaas/internal/platform"
	"github.com/edvin/dbaas/internal/store"
)

// Planner builds and persists operation plans. A plan groups databases into
// one unit per (adapter, type) pair, in first-seen order.
type Planner struct {
	repo     Repository
	adapters adapter.Registry
	now      func() time.Time
	newID    func() string
}

func NewPlanner(repo Repository, adapters adapter.Registry) *Planner {
	return &Planner{
		repo:     repo,
		adapters: adapters,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    platform.NewID,
	}
}

// ensureNameFree fails with DuplicateOperation when an operation of the same
// kind already uses name.
func (p *Planner) ensureNameFree(ctx context.Context, kind model.OperationKind, name string) error {
	exists, err := p.repo.OperationExists(ctx, kind, name)
	if err != nil {
		return err
	}
	if exists {
		return duplicateError(kind, name)
	}
	return nil
}

// PlanBackup persists a NOT_STARTED backup plan covering scope.
func (p *Planner) PlanBackup(ctx context.Context, req BackupRequest, scope *Scope) (*model.Operation, error) {
	if err := p.ensureNameFree(ctx, model.KindBackup, req.Name); err != nil {
		return nil, err
	}
	if len(scope.Databases) == 0 {
		return nil, newError(KindExecutionFailure, CodeNoMatchingDatabases,
			"no databases match the filter criteria of backup %q", req.Name)
	}

	now := p.now()
	op := &model.Operation{
		Kind:                     model.KindBackup,
		Name:                     req.Name,
		StorageName:              req.StorageName,
		BlobPath:                 req.BlobPath,
		ExternalDatabaseStrategy: req.ExternalDatabaseStrategy,
		IgnoreNotBackupable:      req.IgnoreNotBackupable,
		Filters:                  req.Filters,
		CreatedAt:                now,
		ExternalDatabases:        scope.External,
	}

	g := newUnitGrouper(op, p.newID)
	for _, d := range scope.Databases {
		u := g.unit(d.AdapterID, d.Type)
		u.Items = append(u.Items, model.DatabaseItem{
			ID:              p.newID(),
			UnitID:          u.ID,
			Name:            d.Name,
			Classifiers:     cloneClassifiers(d.Classifiers),
			Settings:        maps.Clone(d.Settings),
			Resources:       slices.Clone(d.Resources),
			Users:           slices.Clone(d.Users),
			Configurational: d.Configurational,
			Status:          model.StatusNotStarted,
		})
	}

	return p.persist(ctx, op, now)
}

// PlanRestore persists a NOT_STARTED restore plan built from the items of a
// completed backup. Each restore unit targets the adapter that produced the
// source unit and refers to its backup job.
func (p *Planner) PlanRestore(ctx context.Context, req RestoreRequest, source *model.Operation) (*model.Operation, error) {
	if err := p.ensureNameFree(ctx, model.KindRestore, req.Name); err != nil {
		return nil, err
	}

	now := p.now()
	op := &model.Operation{
		Kind:                     model.KindRestore,
		Name:                     req.Name,
		BackupName:               source.Name,
		StorageName:              firstNonEmpty(req.StorageName, source.StorageName),
		BlobPath:                 firstNonEmpty(req.BlobPath, source.BlobPath),
		ExternalDatabaseStrategy: req.ExternalDatabaseStrategy,
		Filters:                  req.Filters,
		Mapping:                  req.Mapping,
		DryRun:                   req.DryRun,
		CreatedAt:                now,
	}

	for _, ext := range source.ExternalDatabases {
		if !matchClassifiers(req.Filters, ext.Classifiers, ext.Type, model.DatabaseKindTransactional) {
			continue
		}
		switch req.ExternalDatabaseStrategy {
		case model.ExternalSkip:
			continue
		case model.ExternalInclude:
			op.ExternalDatabases = append(op.ExternalDatabases, model.ExternalDatabase{
				Name:        ext.Name,
				Type:        ext.Type,
				Classifiers: remapClassifiers(ext.Classifiers, req.Mapping),
			})
		default:
			return nil, newError(KindUnsupported, CodeExternalDatabases,
				"backup %q contains externally managed database %s", source.Name, ext.Name)
		}
	}

	g := newUnitGrouper(op, p.newID)
	for _, su := range source.Units {
		for _, it := range su.Items {
			kind := model.DatabaseKindTransactional
			if it.Configurational {
				kind = model.DatabaseKindConfigurational
			}
			if !matchClassifiers(req.Filters, it.Classifiers, su.Type, kind) {
				continue
			}

			u := g.unit(su.AdapterID, su.Type)
			u.BackupJobName = su.JobName
			u.Items = append(u.Items, model.DatabaseItem{
				ID:              p.newID(),
				UnitID:          u.ID,
				Name:            it.Name,
				PreviousName:    it.Name,
				Classifiers:     remapClassifiers(it.Classifiers, req.Mapping),
				Settings:        maps.Clone(it.Settings),
				Resources:       slices.Clone(it.Resources),
				Users:           slices.Clone(it.Users),
				Configurational: it.Configurational,
				Status:          model.StatusNotStarted,
			})
		}
	}

	if len(op.Units) == 0 {
		return nil, newError(KindExecutionFailure, CodeNoMatchingDatabases,
			"no databases of backup %q match the filter criteria of restore %q", source.Name, req.Name)
	}
	if err := p.ensureRestorable(ctx, op); err != nil {
		return nil, err
	}
	return p.persist(ctx, op, now)
}

// ensureRestorable fails with UnsupportedDatabases when any unit targets an
// adapter that does not declare restore support. Unknown adapters count as
// unsupported.
func (p *Planner) ensureRestorable(ctx context.Context, op *model.Operation) error {
	var unsupported []string
	for _, u := range op.Units {
		caps, err := p.adapters.Capabilities(ctx, u.AdapterID)
		if err != nil && !errors.Is(err, adapter.ErrUnknownAdapter) {
			return fmt.Errorf("capabilities of adapter %s: %w", u.AdapterID, err)
		}
		if err == nil && caps.Restore {
			continue
		}
		unsupported = append(unsupported, u.DatabaseNames()...)
	}
	if len(unsupported) > 0 {
		return newError(KindUnsupported, CodeUnsupportedDatabases,
			"databases cannot be restored: %s", strings.Join(unsupported, ", "))
	}
	return nil
}

func (p *Planner) persist(ctx context.Context, op *model.Operation, now time.Time) (*model.Operation, error) {
	refresh(op, now)
	if err := p.repo.CreateOperation(ctx, op); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, duplicateError(op.Kind, op.Name)
		}
		return nil, fmt.Errorf("persist %s plan: %w", op.Kind, err)
	}
	return op, nil
}

func duplicateError(kind model.OperationKind, name string) *Error {
	return newError(KindConflict, CodeDuplicateOperation, "%s %q already exists", kind, name)
}

type unitKey struct {
	adapterID string
	typ       string
}

// unitGrouper appends units to an operation on first use of an
// (adapter, type) pair.
type unitGrouper struct {
	op    *model.Operation
	newID func() string
	index map[unitKey]int
}

func newUnitGrouper(op *model.Operation, newID func() string) *unitGrouper {
	return &unitGrouper{op: op, newID: newID, index: make(map[unitKey]int)}
}

func (g *unitGrouper) unit(adapterID, typ string) *model.AdapterUnit {
	key := unitKey{adapterID, typ}
	i, ok := g.index[key]
	if !ok {
		g.op.Units = append(g.op.Units, model.AdapterUnit{
			ID:            g.newID(),
			OperationName: g.op.Name,
			AdapterID:     adapterID,
			Type:          typ,
			Status:        model.StatusNotStarted,
		})
		i = len(g.op.Units) - 1
		g.index[key] = i
	}
	return &g.op.Units[i]
}

// matchClassifiers applies criteria to a database known only through its
// classifiers. A database matches when any of its classifiers does.
func matchClassifiers(fc model.FilterCriteria, classifiers []model.Classifier, dbType, kind string) bool {
	var microservices []string
	for _, c := range classifiers {
		if m := c.String(model.ClassifierMicroserviceName); m != "" && !slices.Contains(microservices, m) {
			microservices = append(microservices, m)
		}
	}
	if len(classifiers) == 0 {
		return fc.Match("", microservices, dbType, kind)
	}
	for _, c := range classifiers {
		if fc.Match(c.String(model.ClassifierNamespace), microservices, dbType, kind) {
			return true
		}
	}
	return false
}

// remapClassifiers copies classifiers, renaming namespace and tenant values
// found in the mapping.
func remapClassifiers(in []model.Classifier, m *model.Mapping) []model.Classifier {
	out := cloneClassifiers(in)
	if m == nil {
		return out
	}
	for _, c := range out {
		if to, ok := m.Namespaces[c.String(model.ClassifierNamespace)]; ok {
			c[model.ClassifierNamespace] = to
		}
		if to, ok := m.Tenants[c.String(model.ClassifierTenantID)]; ok {
			c[model.ClassifierTenantID] = to
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
