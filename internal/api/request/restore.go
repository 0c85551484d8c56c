package request

import (
	"github.com/edvin/dbaas/internal/core"
	"github.com/edvin/dbaas/internal/model"
)

type CreateRestore struct {
	Name                     string               `json:"name" validate:"omitempty,opname"`
	BackupName               string               `json:"backup_name" validate:"required"`
	StorageName              string               `json:"storage_name"`
	BlobPath                 string               `json:"blob_path"`
	FilterCriteria           model.FilterCriteria `json:"filter_criteria"`
	Mapping                  *model.Mapping       `json:"mapping"`
	ExternalDatabaseStrategy string               `json:"external_database_strategy" validate:"omitempty,oneof=FAIL SKIP INCLUDE"`
	DryRun                   bool                 `json:"dry_run"`
}

func (r CreateRestore) ToCore() core.RestoreRequest {
	return core.RestoreRequest{
		Name:                     r.Name,
		BackupName:               r.BackupName,
		StorageName:              r.StorageName,
		BlobPath:                 r.BlobPath,
		Filters:                  r.FilterCriteria,
		Mapping:                  r.Mapping,
		ExternalDatabaseStrategy: model.ExternalDatabaseStrategy(r.ExternalDatabaseStrategy),
		DryRun:                   r.DryRun,
	}
}
