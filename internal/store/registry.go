package store

import (
	"context"
	"fmt"

	"github.com/edvin/dbaas/internal/model"
)

// PostgresRegistry reads logical databases from the registry's databases
// table.
type PostgresRegistry struct {
	db DB
}

// NewPostgresRegistry creates a database registry lookup.
func NewPostgresRegistry(db DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// FindDatabases returns every database registered in namespace.
func (r *PostgresRegistry) FindDatabases(ctx context.Context, namespace string) ([]model.RegisteredDatabase, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, namespace, type, adapter_id, classifiers, settings, resources, users,
		 configurational, externally_managed, backup_disabled
		 FROM databases WHERE namespace = $1 ORDER BY name`, namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("list databases in namespace %s: %w", namespace, err)
	}
	defer rows.Close()

	var dbs []model.RegisteredDatabase
	for rows.Next() {
		var d model.RegisteredDatabase
		if err := rows.Scan(&d.ID, &d.Name, &d.Namespace, &d.Type, &d.AdapterID, &d.Classifiers, &d.Settings,
			&d.Resources, &d.Users, &d.Configurational, &d.ExternallyManaged, &d.BackupDisabled); err != nil {
			return nil, fmt.Errorf("scan database: %w", err)
		}
		dbs = append(dbs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate databases: %w", err)
	}
	return dbs, nil
}
