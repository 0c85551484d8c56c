package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/dbaas/internal/adapter"
	"github.com/edvin/dbaas/internal/archive"
	"github.com/edvin/dbaas/internal/metrics"
	"github.com/edvin/dbaas/internal/model"
	"github.com/edvin/dbaas/internal/platform"
	"github.com/edvin/dbaas/internal/store"
)

// BackupRequest asks for a backup of every database matching Filters.
// An empty Name is replaced by a generated one.
type BackupRequest struct {
	Name                     string
	StorageName              string
	BlobPath                 string
	Filters                  model.FilterCriteria
	ExternalDatabaseStrategy model.ExternalDatabaseStrategy
	IgnoreNotBackupable      bool
}

// MetadataArchive stores exported status documents out of band.
type MetadataArchive interface {
	Put(ctx context.Context, key string, body []byte, digest string) error
	Get(ctx context.Context, key string) ([]byte, string, error)
}

type BackupService struct {
	repo     Repository
	resolver *ScopeResolver
	planner  *Planner
	launcher Launcher
	adapters adapter.Registry
	archive  MetadataArchive
	logger   zerolog.Logger
}

func NewBackupService(repo Repository, registry DatabaseRegistry, adapters adapter.Registry, launcher Launcher, metadataArchive MetadataArchive, logger zerolog.Logger) *BackupService {
	return &BackupService{
		repo:     repo,
		resolver: NewScopeResolver(registry, adapters),
		planner:  NewPlanner(repo, adapters),
		launcher: launcher,
		adapters: adapters,
		archive:  metadataArchive,
		logger:   logger.With().Str("component", "backup-service").Logger(),
	}
}

// StartBackup plans the backup, persists the plan and hands it to the
// launcher. Planning errors are returned and nothing is persisted; anything
// that goes wrong after that is only visible through status queries.
func (s *BackupService) StartBackup(ctx context.Context, req BackupRequest) (string, error) {
	if req.Name == "" {
		req.Name = platform.NewName("backup-")
	}
	if err := validateName(model.KindBackup, req.Name); err != nil {
		return "", err
	}
	strategy, err := validateStrategy(req.ExternalDatabaseStrategy)
	if err != nil {
		return "", err
	}
	req.ExternalDatabaseStrategy = strategy

	if err := s.planner.ensureNameFree(ctx, model.KindBackup, req.Name); err != nil {
		return "", err
	}
	scope, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		return "", err
	}
	op, err := s.planner.PlanBackup(ctx, req, scope)
	if err != nil {
		return "", err
	}

	log := s.logger.With().Str("operation", op.Name).Logger()
	log.Info().Int("units", len(op.Units)).Int("databases", op.Total).Msg("backup planned")

	if err := s.launcher.Launch(ctx, model.KindBackup, op.Name); err != nil {
		log.Error().Err(err).Msg("failed to launch backup, it will be resumed by reconciliation")
	}
	return op.Name, nil
}

func (s *BackupService) GetCurrentStatus(ctx context.Context, name string) (*model.Summary, error) {
	return currentStatus(ctx, s.repo, model.KindBackup, name)
}

func (s *BackupService) GetFullStatus(ctx context.Context, name string) (*model.Operation, error) {
	return fullStatus(ctx, s.repo, model.KindBackup, name)
}

// ExportMetadata returns the full status document and its digest header
// value.
func (s *BackupService) ExportMetadata(ctx context.Context, name string) (*model.Operation, string, error) {
	doc, err := s.GetFullStatus(ctx, name)
	if err != nil {
		return nil, "", err
	}
	digest, err := Digest(doc)
	if err != nil {
		return nil, "", err
	}
	return doc, digest, nil
}

// ImportMetadata registers a backup produced elsewhere from its status
// document. The document is verified against digest before anything is
// persisted.
func (s *BackupService) ImportMetadata(ctx context.Context, doc *model.Operation, digest string) error {
	if doc == nil {
		return validationError("status document is required")
	}
	if err := VerifyDigest(doc, digest); err != nil {
		return err
	}
	if doc.Kind != "" && doc.Kind != model.KindBackup {
		return validationError("status document describes a %s, not a backup", doc.Kind)
	}
	if err := validateName(model.KindBackup, doc.Name); err != nil {
		return err
	}

	op, err := cloneOperation(doc)
	if err != nil {
		return err
	}
	applySummary(op, Aggregate(op))
	if !op.Status.Terminal() {
		return validationError("backup %q is %s; only finished backups can be imported", op.Name, op.Status)
	}
	rebuildImported(op, platform.NewID)

	if err := s.repo.CreateOperation(ctx, op); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return duplicateError(model.KindBackup, op.Name)
		}
		return fmt.Errorf("persist imported backup: %w", err)
	}
	s.logger.Info().Str("operation", op.Name).Str("status", string(op.Status)).Msg("backup metadata imported")
	return nil
}

// ArchiveMetadata uploads the exported document to the metadata archive and
// returns its object key.
func (s *BackupService) ArchiveMetadata(ctx context.Context, name string) (string, error) {
	if s.archive == nil {
		return "", newError(KindUnsupported, CodeArchiveNotConfigured, "metadata archive is not configured")
	}
	doc, digest, err := s.ExportMetadata(ctx, name)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode status document: %w", err)
	}

	key := ArchiveKey(doc.BlobPath, doc.Name)
	if err := s.archive.Put(ctx, key, body, digest); err != nil {
		return "", fmt.Errorf("archive metadata of backup %s: %w", name, err)
	}
	return key, nil
}

// ImportArchivedMetadata imports a document previously written by
// ArchiveMetadata and returns the imported backup's name.
func (s *BackupService) ImportArchivedMetadata(ctx context.Context, key string) (string, error) {
	if s.archive == nil {
		return "", newError(KindUnsupported, CodeArchiveNotConfigured, "metadata archive is not configured")
	}
	body, digest, err := s.archive.Get(ctx, key)
	if errors.Is(err, archive.ErrNotFound) {
		return "", newError(KindNotFound, CodeArchivedMetadataMissing, "no archived metadata at %q", key)
	}
	if err != nil {
		return "", fmt.Errorf("read archived metadata %s: %w", key, err)
	}
	var doc model.Operation
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", validationError("archived metadata %s is not a status document: %v", key, err)
	}
	if err := s.ImportMetadata(ctx, &doc, digest); err != nil {
		return "", err
	}
	return doc.Name, nil
}

// ArchiveKey is the object key of a backup's archived status document.
func ArchiveKey(blobPath, name string) string {
	return path.Join(strings.Trim(blobPath, "/"), name, "metadata.json")
}

// DeleteBackup asks every adapter that ran a job to delete it. The record is
// removed only when all of them succeed.
func (s *BackupService) DeleteBackup(ctx context.Context, name string) error {
	op, err := getOperation(ctx, s.repo, model.KindBackup, name)
	if err != nil {
		return err
	}

	var (
		mu       sync.Mutex
		failures = make(map[string]string)
		g        errgroup.Group
	)
	for _, u := range op.Units {
		if u.JobName == "" {
			continue
		}
		g.Go(func() error {
			err := s.deleteJob(ctx, u)
			if err == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if prev, ok := failures[u.AdapterID]; ok {
				failures[u.AdapterID] = prev + "; " + err.Error()
			} else {
				failures[u.AdapterID] = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		s.logger.Warn().Str("operation", name).Int("failed_adapters", len(failures)).Msg("backup deletion rejected by adapters")
		return deleteFailureError(failures)
	}

	if err := s.repo.DeleteOperation(ctx, model.KindBackup, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFoundError(string(model.KindBackup), name)
		}
		return fmt.Errorf("delete backup %s: %w", name, err)
	}
	s.logger.Info().Str("operation", name).Msg("backup deleted")
	return nil
}

func (s *BackupService) deleteJob(ctx context.Context, u model.AdapterUnit) error {
	client, err := s.adapters.Client(ctx, u.AdapterID)
	if err != nil {
		return err
	}
	err = client.DeleteBackup(ctx, u.JobName)
	metrics.ObserveAdapterCall(u.AdapterID, metrics.CallDelete, err)
	return err
}
