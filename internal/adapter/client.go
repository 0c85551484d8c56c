// Package adapter defines the contract with physical database adapters and
// provides the HTTP client and registry used to reach them.
package adapter

import (
	"context"
	"time"

	"github.com/edvin/dbaas/internal/model"
)

// Backend type tags.
const (
	TypePostgreSQL = "postgresql"
	TypeMongoDB    = "mongodb"
	TypeCassandra  = "cassandra"
	TypeClickHouse = "clickhouse"
	TypeOpenSearch = "opensearch"
	TypeRedis      = "redis"
)

// Client starts and reports backup/restore jobs on one adapter instance.
type Client interface {
	Type() string
	StartBackup(ctx context.Context, req BackupRequest) (string, error)
	PollBackup(ctx context.Context, jobName string) (*JobStatus, error)
	StartRestore(ctx context.Context, req RestoreRequest) (string, error)
	PollRestore(ctx context.Context, jobName string) (*JobStatus, error)
	DeleteBackup(ctx context.Context, jobName string) error
}

// BackupRequest asks an adapter to back up the named databases.
type BackupRequest struct {
	StorageName string
	BlobPath    string
	Databases   []string
}

// RestoreRequest asks an adapter to restore databases from one of its
// previous backup jobs.
type RestoreRequest struct {
	BackupJobName string
	StorageName   string
	BlobPath      string
	Databases     []RestoreMapping
	DryRun        bool
}

// RestoreMapping pairs a database name inside the backup with the name to
// restore it as.
type RestoreMapping struct {
	PreviousName string
	Name         string
}

// JobStatus is an adapter's report on one job. Status may be empty when the
// adapter only reports per-database detail.
type JobStatus struct {
	Status         model.Status
	ErrorMessage   string
	CreationTime   *time.Time
	CompletionTime *time.Time
	Databases      []model.DatabaseStatus
}

// Capabilities are the operations an adapter declares support for.
type Capabilities struct {
	Backup  bool `yaml:"backup" json:"backup"`
	Restore bool `yaml:"restore" json:"restore"`
}

// Registry resolves adapter identifiers to clients.
type Registry interface {
	Client(ctx context.Context, adapterID string) (Client, error)
	Capabilities(ctx context.Context, adapterID string) (Capabilities, error)
}
