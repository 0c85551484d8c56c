package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edvin/dbaas/internal/adapter"
	"github.com/edvin/dbaas/internal/model"
	"github.com/edvin/dbaas/internal/platform"
	"github.com/edvin/dbaas/internal/store"
)

// RestoreRequest asks for the databases of a completed backup to be restored.
// StorageName and BlobPath default to the backup's. An empty Name is replaced
// by a generated one.
type RestoreRequest struct {
	Name                     string
	BackupName               string
	StorageName              string
	BlobPath                 string
	Filters                  model.FilterCriteria
	Mapping                  *model.Mapping
	ExternalDatabaseStrategy model.ExternalDatabaseStrategy
	DryRun                   bool
}

type RestoreService struct {
	repo     Repository
	planner  *Planner
	launcher Launcher
	logger   zerolog.Logger
}

func NewRestoreService(repo Repository, adapters adapter.Registry, launcher Launcher, logger zerolog.Logger) *RestoreService {
	return &RestoreService{
		repo:     repo,
		planner:  NewPlanner(repo, adapters),
		launcher: launcher,
		logger:   logger.With().Str("component", "restore-service").Logger(),
	}
}

func (s *RestoreService) StartRestore(ctx context.Context, req RestoreRequest) (string, error) {
	if req.Name == "" {
		req.Name = platform.NewName("restore-")
	}
	if err := validateName(model.KindRestore, req.Name); err != nil {
		return "", err
	}
	if req.BackupName == "" {
		return "", validationError("backup name is required")
	}
	strategy, err := validateStrategy(req.ExternalDatabaseStrategy)
	if err != nil {
		return "", err
	}
	req.ExternalDatabaseStrategy = strategy

	source, err := getOperation(ctx, s.repo, model.KindBackup, req.BackupName)
	if err != nil {
		return "", err
	}
	if st := Aggregate(source).Status; st != model.StatusCompleted {
		return "", newError(KindValidation, CodeBackupNotCompleted,
			"backup %q is %s; only completed backups can be restored", source.Name, st)
	}

	op, err := s.planner.PlanRestore(ctx, req, source)
	if err != nil {
		return "", err
	}

	log := s.logger.With().Str("operation", op.Name).Str("backup", source.Name).Logger()
	log.Info().Int("units", len(op.Units)).Int("databases", op.Total).Bool("dry_run", op.DryRun).Msg("restore planned")

	if err := s.launcher.Launch(ctx, model.KindRestore, op.Name); err != nil {
		log.Error().Err(err).Msg("failed to launch restore, it will be resumed by reconciliation")
	}
	return op.Name, nil
}

func (s *RestoreService) GetCurrentStatus(ctx context.Context, name string) (*model.Summary, error) {
	return currentStatus(ctx, s.repo, model.KindRestore, name)
}

func (s *RestoreService) GetFullStatus(ctx context.Context, name string) (*model.Operation, error) {
	return fullStatus(ctx, s.repo, model.KindRestore, name)
}

// DeleteRestore removes the restore record. Adapters keep no restore
// artifacts, so no adapter is called.
func (s *RestoreService) DeleteRestore(ctx context.Context, name string) error {
	if err := s.repo.DeleteOperation(ctx, model.KindRestore, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError(string(model.KindRestore), name)
		}
		return fmt.Errorf("delete restore %s: %w", name, err)
	}
	s.logger.Info().Str("operation", name).Msg("restore deleted")
	return nil
}
