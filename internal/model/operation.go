package model

import "time"

// OperationKind distinguishes the two workflow shapes. Operation names are
// unique per kind.
type OperationKind string

const (
	KindBackup  OperationKind = "backup"
	KindRestore OperationKind = "restore"
)

// ExternalDatabaseStrategy controls what happens to externally managed
// databases found in an operation's scope.
type ExternalDatabaseStrategy string

const (
	ExternalFail    ExternalDatabaseStrategy = "FAIL"
	ExternalSkip    ExternalDatabaseStrategy = "SKIP"
	ExternalInclude ExternalDatabaseStrategy = "INCLUDE"
)

// Operation is one backup or restore request together with its plan.
// Status, Total, Completed, Size and ErrorMessage are derived from the units
// and are only written by the aggregation step.
type Operation struct {
	Kind                     OperationKind            `json:"kind"`
	Name                     string                   `json:"name"`
	BackupName               string                   `json:"backup_name,omitempty"`
	StorageName              string                   `json:"storage_name"`
	BlobPath                 string                   `json:"blob_path"`
	ExternalDatabaseStrategy ExternalDatabaseStrategy `json:"external_database_strategy"`
	IgnoreNotBackupable      bool                     `json:"ignore_not_backupable,omitempty"`
	Filters                  FilterCriteria           `json:"filter_criteria"`
	Mapping                  *Mapping                 `json:"mapping,omitempty"`
	DryRun                   bool                     `json:"dry_run,omitempty"`
	Status                   Status                   `json:"status"`
	Total                    int                      `json:"total"`
	Completed                int                      `json:"completed"`
	Size                     int64                    `json:"size"`
	ErrorMessage             string                   `json:"error_message,omitempty"`
	CreatedAt                time.Time                `json:"created_at"`
	UpdatedAt                time.Time                `json:"updated_at"`
	Units                    []AdapterUnit            `json:"units"`
	ExternalDatabases        []ExternalDatabase       `json:"external_databases,omitempty"`
}

// Unit returns the unit with the given id, or nil.
func (o *Operation) Unit(id string) *AdapterUnit {
	for i := range o.Units {
		if o.Units[i].ID == id {
			return &o.Units[i]
		}
	}
	return nil
}

// Summary is the short status view of an operation.
type Summary struct {
	Status       Status `json:"status"`
	Total        int    `json:"total"`
	Completed    int    `json:"completed"`
	Size         int64  `json:"size"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Summary returns the derived fields as currently stored on the operation.
func (o *Operation) Summary() Summary {
	return Summary{
		Status:       o.Status,
		Total:        o.Total,
		Completed:    o.Completed,
		Size:         o.Size,
		ErrorMessage: o.ErrorMessage,
	}
}

// AdapterUnit is the part of an operation assigned to one adapter. JobName is
// empty until the unit has been dispatched.
type AdapterUnit struct {
	ID             string           `json:"id"`
	OperationName  string           `json:"operation_name"`
	AdapterID      string           `json:"adapter_id"`
	Type           string           `json:"type"`
	JobName        string           `json:"job_name,omitempty"`
	BackupJobName  string           `json:"backup_job_name,omitempty"`
	Status         Status           `json:"status"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	CreationTime   *time.Time       `json:"creation_time,omitempty"`
	CompletionTime *time.Time       `json:"completion_time,omitempty"`
	Databases      []DatabaseStatus `json:"databases,omitempty"`
	Items          []DatabaseItem   `json:"items"`
}

// DatabaseNames returns the item names in plan order.
func (u *AdapterUnit) DatabaseNames() []string {
	names := make([]string, 0, len(u.Items))
	for _, it := range u.Items {
		names = append(names, it.Name)
	}
	return names
}

// DatabaseItem is one logical database's participation in an operation.
// Classifiers, Settings, Resources and Users are snapshots taken at plan time.
type DatabaseItem struct {
	ID              string             `json:"id"`
	UnitID          string             `json:"unit_id"`
	Name            string             `json:"name"`
	PreviousName    string             `json:"previous_name,omitempty"`
	Classifiers     []Classifier       `json:"classifiers"`
	Settings        map[string]any     `json:"settings,omitempty"`
	Resources       []DatabaseResource `json:"resources,omitempty"`
	Users           []DatabaseUser     `json:"users,omitempty"`
	Configurational bool               `json:"configurational,omitempty"`
	Status          Status             `json:"status"`
	Size            int64              `json:"size"`
	Duration        int64              `json:"duration"`
	Path            string             `json:"path,omitempty"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	CreationTime    *time.Time         `json:"creation_time,omitempty"`
}

// DatabaseStatus is one per-database record as reported by an adapter.
// Duration is in milliseconds.
type DatabaseStatus struct {
	DatabaseName string     `json:"database_name"`
	Status       Status     `json:"status"`
	Size         int64      `json:"size"`
	Duration     int64      `json:"duration"`
	Path         string     `json:"path,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreationTime *time.Time `json:"creation_time,omitempty"`
}

// ExternalDatabase records a database that was in scope but is not managed by
// the operation.
type ExternalDatabase struct {
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Classifiers []Classifier `json:"classifiers"`
}

// Mapping renames namespaces and tenants in classifiers when restoring.
type Mapping struct {
	Namespaces map[string]string `json:"namespaces,omitempty"`
	Tenants    map[string]string `json:"tenants,omitempty"`
}
