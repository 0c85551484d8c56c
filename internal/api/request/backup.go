package request

import (
	"github.com/edvin/dbaas/internal/core"
	"github.com/edvin/dbaas/internal/model"
)

type CreateBackup struct {
	Name                     string               `json:"name" validate:"omitempty,opname"`
	StorageName              string               `json:"storage_name"`
	BlobPath                 string               `json:"blob_path"`
	FilterCriteria           model.FilterCriteria `json:"filter_criteria"`
	ExternalDatabaseStrategy string               `json:"external_database_strategy" validate:"omitempty,oneof=FAIL SKIP INCLUDE"`
	IgnoreNotBackupable      bool                 `json:"ignore_not_backupable"`
}

func (r CreateBackup) ToCore() core.BackupRequest {
	return core.BackupRequest{
		Name:                     r.Name,
		StorageName:              r.StorageName,
		BlobPath:                 r.BlobPath,
		Filters:                  r.FilterCriteria,
		ExternalDatabaseStrategy: model.ExternalDatabaseStrategy(r.ExternalDatabaseStrategy),
		IgnoreNotBackupable:      r.IgnoreNotBackupable,
	}
}

// ImportArchivedMetadata names an object previously written by the archive
// endpoint.
type ImportArchivedMetadata struct {
	Key string `json:"key" validate:"required"`
}
