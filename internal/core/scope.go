package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/edvin/dbaas/internal/adapter"
	"github.com/edvin/dbaas/internal/model"
)

// Scope is the resolved set of databases a backup covers.
type Scope struct {
	Databases []model.RegisteredDatabase
	External  []model.ExternalDatabase
}

// ScopeResolver turns backup filter criteria into a concrete database set by
// querying the registry once per included namespace.
type ScopeResolver struct {
	registry DatabaseRegistry
	adapters adapter.Registry
}

func NewScopeResolver(registry DatabaseRegistry, adapters adapter.Registry) *ScopeResolver {
	return &ScopeResolver{registry: registry, adapters: adapters}
}

// Resolve applies req.Filters and the external-database strategy. Databases
// whose adapter cannot back up, or that are marked as not backupable, fail
// the request unless req.IgnoreNotBackupable is set.
func (r *ScopeResolver) Resolve(ctx context.Context, req BackupRequest) (*Scope, error) {
	namespaces := req.Filters.Namespaces()
	if len(namespaces) == 0 {
		return nil, validationError("filter criteria must include at least one namespace")
	}

	scope := &Scope{}
	seen := make(map[string]bool)
	var external, unsupported []string

	for _, ns := range namespaces {
		dbs, err := r.registry.FindDatabases(ctx, ns)
		if err != nil {
			return nil, fmt.Errorf("find databases in namespace %s: %w", ns, err)
		}

		for _, d := range dbs {
			key := d.ID
			if key == "" {
				key = d.Namespace + "/" + d.Name
			}
			if seen[key] {
				continue
			}
			seen[key] = true

			if !req.Filters.Match(d.Namespace, d.MicroserviceNames(), d.Type, d.Kind()) {
				continue
			}

			if d.ExternallyManaged {
				switch req.ExternalDatabaseStrategy {
				case model.ExternalSkip:
				case model.ExternalInclude:
					scope.External = append(scope.External, externalFrom(d))
				default:
					external = append(external, d.Name)
				}
				continue
			}

			ok, err := r.backupable(ctx, d)
			if err != nil {
				return nil, err
			}
			if !ok {
				unsupported = append(unsupported, d.Name)
				continue
			}
			scope.Databases = append(scope.Databases, d)
		}
	}

	if len(external) > 0 {
		return nil, newError(KindUnsupported, CodeExternalDatabases,
			"externally managed databases in scope: %s", strings.Join(external, ", "))
	}
	if len(unsupported) > 0 && !req.IgnoreNotBackupable {
		return nil, newError(KindUnsupported, CodeUnsupportedDatabases,
			"databases cannot be backed up: %s", strings.Join(unsupported, ", "))
	}
	return scope, nil
}

func (r *ScopeResolver) backupable(ctx context.Context, d model.RegisteredDatabase) (bool, error) {
	if d.BackupDisabled {
		return false, nil
	}
	caps, err := r.adapters.Capabilities(ctx, d.AdapterID)
	if errors.Is(err, adapter.ErrUnknownAdapter) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("capabilities of adapter %s: %w", d.AdapterID, err)
	}
	return caps.Backup, nil
}

func externalFrom(d model.RegisteredDatabase) model.ExternalDatabase {
	return model.ExternalDatabase{
		Name:        d.Name,
		Type:        d.Type,
		Classifiers: cloneClassifiers(d.Classifiers),
	}
}

func cloneClassifiers(in []model.Classifier) []model.Classifier {
	if in == nil {
		return nil
	}
	out := make([]model.Classifier, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}
