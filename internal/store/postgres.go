package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/dbaas/internal/model"
)

// DB is the subset of *pgxpool.Pool used by the PostgreSQL store.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the plan repository backed by the core database.
type Postgres struct {
	db DB
}

// NewPostgres creates a PostgreSQL plan repository.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

const uniqueViolation = "23505"

func (s *Postgres) CreateOperation(ctx context.Context, op *model.Operation) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO operations (kind, name, backup_name, storage_name, blob_path, external_database_strategy,
			 ignore_not_backupable, filter_criteria, mapping, dry_run, status, total, completed, size, error_message,
			 external_databases, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			op.Kind, op.Name, op.BackupName, op.StorageName, op.BlobPath, op.ExternalDatabaseStrategy,
			op.IgnoreNotBackupable, op.Filters, op.Mapping, op.DryRun, op.Status, op.Total, op.Completed,
			op.Size, op.ErrorMessage, op.ExternalDatabases, op.CreatedAt, op.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert operation: %w", err)
		}

		for ui, u := range op.Units {
			_, err := tx.Exec(ctx,
				`INSERT INTO adapter_units (id, operation_kind, operation_name, position, adapter_id, type, job_name,
				 backup_job_name, status, error_message, creation_time, completion_time, databases)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				u.ID, op.Kind, op.Name, ui, u.AdapterID, u.Type, u.JobName, u.BackupJobName, u.Status,
				u.ErrorMessage, u.CreationTime, u.CompletionTime, u.Databases,
			)
			if err != nil {
				return fmt.Errorf("insert adapter unit %s: %w", u.ID, err)
			}

			for ii, it := range u.Items {
				_, err := tx.Exec(ctx,
					`INSERT INTO database_items (id, unit_id, position, name, previous_name, classifiers, settings,
					 resources, users, configurational, status, size, duration, path, error_message, creation_time)
					 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
					it.ID, u.ID, ii, it.Name, it.PreviousName, it.Classifiers, it.Settings, it.Resources,
					it.Users, it.Configurational, it.Status, it.Size, it.Duration, it.Path, it.ErrorMessage,
					it.CreationTime,
				)
				if err != nil {
					return fmt.Errorf("insert database item %s: %w", it.ID, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("create %s %s: %w", op.Kind, op.Name, ErrAlreadyExists)
		}
		return fmt.Errorf("create %s %s: %w", op.Kind, op.Name, err)
	}
	return nil
}

func (s *Postgres) OperationExists(ctx context.Context, kind model.OperationKind, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM operations WHERE kind = $1 AND name = $2)`, kind, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check %s %s exists: %w", kind, name, err)
	}
	return exists, nil
}

func (s *Postgres) GetOperation(ctx context.Context, kind model.OperationKind, name string) (*model.Operation, error) {
	return loadOperation(ctx, s.db, kind, name, false)
}

func (s *Postgres) UpdateUnit(ctx context.Context, kind model.OperationKind, name, unitID string, mutate func(*model.Operation, *model.AdapterUnit) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		op, err := loadOperation(ctx, tx, kind, name, true)
		if err != nil {
			return err
		}
		unit := op.Unit(unitID)
		if unit == nil {
			return fmt.Errorf("update unit %s of %s %s: %w", unitID, kind, name, ErrNotFound)
		}
		if err := mutate(op, unit); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE adapter_units SET job_name = $1, status = $2, error_message = $3, creation_time = $4,
			 completion_time = $5, databases = $6 WHERE id = $7`,
			unit.JobName, unit.Status, unit.ErrorMessage, unit.CreationTime, unit.CompletionTime,
			unit.Databases, unit.ID,
		)
		if err != nil {
			return fmt.Errorf("update adapter unit %s: %w", unit.ID, err)
		}

		for _, it := range unit.Items {
			_, err := tx.Exec(ctx,
				`UPDATE database_items SET status = $1, size = $2, duration = $3, path = $4, error_message = $5,
				 creation_time = $6 WHERE id = $7`,
				it.Status, it.Size, it.Duration, it.Path, it.ErrorMessage, it.CreationTime, it.ID,
			)
			if err != nil {
				return fmt.Errorf("update database item %s: %w", it.ID, err)
			}
		}

		_, err = tx.Exec(ctx,
			`UPDATE operations SET status = $1, total = $2, completed = $3, size = $4, error_message = $5,
			 updated_at = $6 WHERE kind = $7 AND name = $8`,
			op.Status, op.Total, op.Completed, op.Size, op.ErrorMessage, op.UpdatedAt, kind, name,
		)
		if err != nil {
			return fmt.Errorf("update %s %s rollup: %w", kind, name, err)
		}
		return nil
	})
}

func (s *Postgres) DeleteOperation(ctx context.Context, kind model.OperationKind, name string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM operations WHERE kind = $1 AND name = $2`, kind, name)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s %s: %w", kind, name, ErrNotFound)
	}
	return nil
}

func (s *Postgres) ListUnfinished(ctx context.Context, kind model.OperationKind) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT operation_name FROM adapter_units
		 WHERE operation_kind = $1 AND status NOT IN ($2, $3) ORDER BY operation_name`,
		kind, model.StatusFailed, model.StatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("list unfinished %s operations: %w", kind, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan operation name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unfinished operations: %w", err)
	}
	return names, nil
}

func loadOperation(ctx context.Context, q querier, kind model.OperationKind, name string, forUpdate bool) (*model.Operation, error) {
	query := `SELECT kind, name, backup_name, storage_name, blob_path, external_database_strategy, ignore_not_backupable,
		 COALESCE(filter_criteria, '{}'::jsonb), mapping, dry_run, status, total, completed, size, error_message,
		 external_databases, created_at, updated_at
		 FROM operations WHERE kind = $1 AND name = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var op model.Operation
	err := q.QueryRow(ctx, query, kind, name).Scan(
		&op.Kind, &op.Name, &op.BackupName, &op.StorageName, &op.BlobPath, &op.ExternalDatabaseStrategy,
		&op.IgnoreNotBackupable, &op.Filters, &op.Mapping, &op.DryRun, &op.Status, &op.Total, &op.Completed,
		&op.Size, &op.ErrorMessage, &op.ExternalDatabases, &op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get %s %s: %w", kind, name, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s %s: %w", kind, name, err)
	}

	units, err := loadUnits(ctx, q, kind, name)
	if err != nil {
		return nil, err
	}
	op.Units = units
	return &op, nil
}

func loadUnits(ctx context.Context, q querier, kind model.OperationKind, name string) ([]model.AdapterUnit, error) {
	rows, err := q.Query(ctx,
		`SELECT id, operation_name, adapter_id, type, job_name, backup_job_name, status, error_message,
		 creation_time, completion_time, databases
		 FROM adapter_units WHERE operation_kind = $1 AND operation_name = $2 ORDER BY position`,
		kind, name,
	)
	if err != nil {
		return nil, fmt.Errorf("list units of %s %s: %w", kind, name, err)
	}
	defer rows.Close()

	var units []model.AdapterUnit
	for rows.Next() {
		var u model.AdapterUnit
		if err := rows.Scan(&u.ID, &u.OperationName, &u.AdapterID, &u.Type, &u.JobName, &u.BackupJobName,
			&u.Status, &u.ErrorMessage, &u.CreationTime, &u.CompletionTime, &u.Databases); err != nil {
			return nil, fmt.Errorf("scan adapter unit: %w", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate adapter units: %w", err)
	}

	for i := range units {
		items, err := loadItems(ctx, q, units[i].ID)
		if err != nil {
			return nil, err
		}
		units[i].Items = items
	}
	return units, nil
}

func loadItems(ctx context.Context, q querier, unitID string) ([]model.DatabaseItem, error) {
	rows, err := q.Query(ctx,
		`SELECT id, unit_id, name, previous_name, classifiers, settings, resources, users, configurational,
		 status, size, duration, path, error_message, creation_time
		 FROM database_items WHERE unit_id = $1 ORDER BY position`,
		unitID,
	)
	if err != nil {
		return nil, fmt.Errorf("list items of unit %s: %w", unitID, err)
	}
	defer rows.Close()

	var items []model.DatabaseItem
	for rows.Next() {
		var it model.DatabaseItem
		if err := rows.Scan(&it.ID, &it.UnitID, &it.Name, &it.PreviousName, &it.Classifiers, &it.Settings,
			&it.Resources, &it.Users, &it.Configurational, &it.Status, &it.Size, &it.Duration, &it.Path,
			&it.ErrorMessage, &it.CreationTime); err != nil {
			return nil, fmt.Errorf("scan database item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate database items: %w", err)
	}
	return items, nil
}
