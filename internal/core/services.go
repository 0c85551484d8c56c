package core

import (
	"github.com/rs/zerolog"

	"github.com/edvin/dbaas/internal/adapter"
)

// Deps are the collaborators shared by the operation services.
type Deps struct {
	Repo     Repository
	Registry DatabaseRegistry
	Adapters adapter.Registry
	Launcher Launcher
	Archive  MetadataArchive
	Logger   zerolog.Logger
}

type Services struct {
	Backup  *BackupService
	Restore *RestoreService
}

func NewServices(d Deps) *Services {
	return &Services{
		Backup:  NewBackupService(d.Repo, d.Registry, d.Adapters, d.Launcher, d.Archive, d.Logger),
		Restore: NewRestoreService(d.Repo, d.Adapters, d.Launcher, d.Logger),
	}
}
