package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/dbaas/internal/archive"
	"github.com/edvin/dbaas/internal/model"
	"github.com/edvin/dbaas/internal/store"
)

// finishedBackupEnv runs a two-adapter backup to completion.
func finishedBackupEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(
		newFakeDatabaseRegistry(
			registered("orders", "shop", "pg-1", "postgresql"),
			registered("carts", "shop", "mongo-1", "mongodb"),
		),
		newFakeAdapterRegistry().
			add("pg-1", newFakeAdapter("postgresql", "job-pg",
				pollStep{status: jobStatus(model.StatusCompleted, dbStatus("orders", model.StatusCompleted, 10))})).
			add("mongo-1", newFakeAdapter("mongodb", "job-mongo",
				pollStep{status: jobStatus(model.StatusCompleted, dbStatus("carts", model.StatusCompleted, 20))})),
	)
	ctx := context.Background()
	_, err := env.backups.StartBackup(ctx, BackupRequest{Name: "nightly", StorageName: "s3", BlobPath: "/backups", Filters: includeNamespaces("shop")})
	require.NoError(t, err)
	require.NoError(t, env.engine.Run(ctx, model.KindBackup, "nightly"))
	return env
}

// ---------- Status ----------

func TestBackupService_StatusNotFound(t *testing.T) {
	env := newTestEnv(newFakeDatabaseRegistry(), newFakeAdapterRegistry())
	ctx := context.Background()

	_, err := env.backups.GetCurrentStatus(ctx, "missing")
	assert.ErrorIs(t, err, ErrOperationNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = env.backups.GetFullStatus(ctx, "missing")
	assert.ErrorIs(t, err, ErrOperationNotFound)
}

func TestBackupService_FullStatus(t *testing.T) {
	env := finishedBackupEnv(t)

	op, err := env.backups.GetFullStatus(context.Background(), "nightly")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, op.Status)
	assert.Equal(t, int64(30), op.Size)
	assert.Equal(t, 2, op.Total)
	assert.Equal(t, 2, op.Completed)
	require.Len(t, op.Units, 2)
	assert.Equal(t, "job-pg", op.Units[0].JobName)
	assert.NotNil(t, op.Units[0].CompletionTime)
	assert.Equal(t, int64(10), op.Units[0].Items[0].Size)
}

func TestBackupService_InvalidStrategy(t *testing.T) {
	env := newTestEnv(newFakeDatabaseRegistry(), newFakeAdapterRegistry())

	_, err := env.backups.StartBackup(context.Background(), BackupRequest{
		Name: "nightly", Filters: includeNamespaces("shop"), ExternalDatabaseStrategy: "MAYBE",
	})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestBackupService_InvalidName(t *testing.T) {
	env := newTestEnv(newFakeDatabaseRegistry(), newFakeAdapterRegistry())

	_, err := env.backups.StartBackup(context.Background(), BackupRequest{Name: "a/b", Filters: includeNamespaces("shop")})
	assert.Equal(t, KindValidation, KindOf(err))
}

// ---------- Metadata ----------

func TestBackupService_MetadataRoundTrip(t *testing.T) {
	env := finishedBackupEnv(t)
	ctx := context.Background()

	doc, digest, err := env.backups.ExportMetadata(ctx, "nightly")
	require.NoError(t, err)

	// Transport the document as JSON, the way the HTTP binding does.
	body, err := json.Marshal(doc)
	require.NoError(t, err)
	var received model.Operation
	require.NoError(t, json.Unmarshal(body, &received))

	other := newTestEnv(newFakeDatabaseRegistry(), newFakeAdapterRegistry())
	require.NoError(t, other.backups.ImportMetadata(ctx, &received, digest))

	imported, err := other.backups.GetFullStatus(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, doc, imported)

	again, err := Digest(imported)
	require.NoError(t, err)
	assert.Equal(t, digest, again)
}

func TestBackupService_ImportDigestMismatchCreatesNothing(t *testing.T) {
	env := finishedBackupEnv(t)
	ctx := context.Background()

	doc, _, err := env.backups.ExportMetadata(ctx, "nightly")
	require.NoError(t, err)

	other := newTestEnv(newFakeDatabaseRegistry(), newFakeAdapterRegistry())
	err = other.backups.ImportMetadata(ctx, doc, "SHA-256=garbage")
	assert.ErrorIs(t, err, ErrDigestMismatch)

	exists, err := other.repo.OperationExists(ctx, model.KindBackup, "nightly")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBackupService_ImportTamperedDocument(t *testing.T) {
	env := finishedBackupEnv(t)
	ctx := context.Background()

	doc, digest, err := env.backups.ExportMetadata(ctx, "nightly")
	require.NoError(t, err)
	doc.Units[0].Items[0].Size = 999

	other := newTestEnv(newFakeDatabaseRegistry(), newFakeAdapterRegistry())
	assert.ErrorIs(t, other.backups.ImportMetadata(ctx, doc, digest), ErrDigestMismatch)
}

func TestBackupService_ImportExistingNameIsConflict(t *testing.T) {
	env := finishedBackupEnv(t)
	ctx := context.Background()

	doc, digest, err := env.backups.ExportMetadata(ctx, "nightly")
	require.NoError(t, err)

	err = env.backups.ImportMetadata(ctx, doc, digest)
	assert.ErrorIs(t, err, ErrDuplicateOperation)
}

func TestBackupService_ImportUnfinishedRejected(t *testing.T) {
	env := newTestEnv(
		newFakeDatabaseRegistry(registered("orders", "shop", "pg-1", "postgresql")),
		newFakeAdapterRegistry().add("pg-1", newFakeAdapter("postgresql", "job-1")),
	)
	ctx := context.Background()
	_, err := env.backups.StartBackup(ctx, BackupRequest{Name: "nightly", Filters: includeNamespaces("shop")})
	require.NoError(t, err)

	doc, digest, err := env.backups.ExportMetadata(ctx, "nightly")
	require.NoError(t, err)
	doc.Name = "copy"
	digest, err = Digest(doc)
	require.NoError(t, err)

	err = env.backups.ImportMetadata(ctx, doc, digest)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Contains(t, err.Error(), "only finished backups")
}

func TestBackupService_ImportRestoreDocumentRejected(t *testing.T) {
	env := newTestEnv(newFakeDatabaseRegistry(), newFakeAdapterRegistry())
	doc := &model.Operation{Kind: model.KindRestore, Name: "r1"}
	digest, err := Digest(doc)
	require.NoError(t, err)

	err = env.backups.ImportMetadata(context.Background(), doc, digest)
	assert.Equal(t, KindValidation, KindOf(err))
}

// ---------- Archive ----------

type memoryArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	digests map[string]string
}

func newMemoryArchive() *memoryArchive {
	return &memoryArchive{objects: make(map[string][]byte), digests: make(map[string]string)}
}

func (a *memoryArchive) Put(_ context.Context, key string, body []byte, digest string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[key] = body
	a.digests[key] = digest
	return nil
}

func (a *memoryArchive) Get(_ context.Context, key string) ([]byte, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	body, ok := a.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("get %s: %w", key, archive.ErrNotFound)
	}
	return body, a.digests[key], nil
}

func TestBackupService_ArchiveRoundTrip(t *testing.T) {
	env := finishedBackupEnv(t)
	metadataArchive := newMemoryArchive()
	ctx := context.Background()
	env.backups.archive = metadataArchive

	key, err := env.backups.ArchiveMetadata(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, "backups/nightly/metadata.json", key)

	repo := store.NewMemory()
	other := NewBackupService(repo, newFakeDatabaseRegistry(), newFakeAdapterRegistry(), &recordingLauncher{}, metadataArchive, zerolog.Nop())
	name, err := other.ImportArchivedMetadata(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "nightly", name)

	s, err := other.GetCurrentStatus(ctx, "nightly")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, s.Status)
	assert.Equal(t, int64(30), s.Size)
}

func TestBackupService_ImportArchivedMetadataMissingKey(t *testing.T) {
	env := finishedBackupEnv(t)
	env.backups.archive = newMemoryArchive()

	_, err := env.backups.ImportArchivedMetadata(context.Background(), "backups/gone/metadata.json")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, CodeArchivedMetadataMissing, e.Code)
}

func TestBackupService_ArchiveNotConfigured(t *testing.T) {
	env := finishedBackupEnv(t)

	_, err := env.backups.ArchiveMetadata(context.Background(), "nightly")
	assert.Equal(t, KindUnsupported, KindOf(err))

	_, err = env.backups.ImportArchivedMetadata(context.Background(), "x")
	assert.Equal(t, KindUnsupported, KindOf(err))
}

func TestArchiveKey(t *testing.T) {
	assert.Equal(t, "nightly/metadata.json", ArchiveKey("", "nightly"))
	assert.Equal(t, "a/b/nightly/metadata.json", ArchiveKey("/a/b/", "nightly"))
}

// ---------- Delete ----------

func TestBackupService_Delete(t *testing.T) {
	env := finishedBackupEnv(t)
	ctx := context.Background()

	require.NoError(t, env.backups.DeleteBackup(ctx, "nightly"))
	assert.Equal(t, []string{"job-pg"}, env.adapters.clients["pg-1"].deleted)
	assert.Equal(t, []string{"job-mongo"}, env.adapters.clients["mongo-1"].deleted)

	_, err := env.backups.GetCurrentStatus(ctx, "nightly")
	assert.ErrorIs(t, err, ErrOperationNotFound)
}

func TestBackupService_DeleteAggregatesAdapterFailures(t *testing.T) {
	env := finishedBackupEnv(t)
	ctx := context.Background()
	env.adapters.clients["mongo-1"].deleteErr = errors.New("permission denied")

	err := env.backups.DeleteBackup(ctx, "nightly")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAggregatedDeleteFailure)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, map[string]string{"mongo-1": "permission denied"}, e.Failures)
	assert.Equal(t, "adapter mongo-1: permission denied", e.Detail)

	assert.Equal(t, []string{"job-pg"}, env.adapters.clients["pg-1"].deleted)
	_, err = env.backups.GetCurrentStatus(ctx, "nightly")
	assert.NoError(t, err, "record must be kept when an adapter rejects deletion")
}

func TestBackupService_DeleteNotFound(t *testing.T) {
	env := newTestEnv(newFakeDatabaseRegistry(), newFakeAdapterRegistry())

	err := env.backups.DeleteBackup(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOperationNotFound)
}
