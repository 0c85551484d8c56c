package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/edvin/dbaas/internal/adapter"
	"github.com/edvin/dbaas/internal/archive"
	"github.com/edvin/dbaas/internal/core"
	"github.com/edvin/dbaas/internal/model"
	"github.com/edvin/dbaas/internal/store"
)

// newRequest creates a new HTTP request with an optional JSON body.
func newRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

// newRequestRaw creates a new HTTP request with a raw string body.
func newRequestRaw(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// withChiURLParam adds a chi URL parameter to the request context.
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// decodeErrorResponse parses the JSON error response body into a map.
func decodeErrorResponse(rec *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}

type fakeDatabases map[string][]model.RegisteredDatabase

func (f fakeDatabases) FindDatabases(_ context.Context, namespace string) ([]model.RegisteredDatabase, error) {
	return f[namespace], nil
}

type fakeClient struct {
	typ       string
	deleteErr error
}

func (c *fakeClient) Type() string { return c.typ }

func (c *fakeClient) StartBackup(context.Context, adapter.BackupRequest) (string, error) {
	return "job-" + c.typ, nil
}

func (c *fakeClient) PollBackup(context.Context, string) (*adapter.JobStatus, error) {
	return &adapter.JobStatus{Status: model.StatusCompleted}, nil
}

func (c *fakeClient) StartRestore(context.Context, adapter.RestoreRequest) (string, error) {
	return "restore-" + c.typ, nil
}

func (c *fakeClient) PollRestore(context.Context, string) (*adapter.JobStatus, error) {
	return &adapter.JobStatus{Status: model.StatusCompleted}, nil
}

func (c *fakeClient) DeleteBackup(context.Context, string) error { return c.deleteErr }

type fakeAdapters map[string]*fakeClient

func (f fakeAdapters) Client(_ context.Context, id string) (adapter.Client, error) {
	c, ok := f[id]
	if !ok {
		return nil, adapter.ErrUnknownAdapter
	}
	return c, nil
}

func (f fakeAdapters) Capabilities(_ context.Context, id string) (adapter.Capabilities, error) {
	if _, ok := f[id]; !ok {
		return adapter.Capabilities{}, adapter.ErrUnknownAdapter
	}
	return adapter.Capabilities{Backup: true, Restore: true}, nil
}

// noopLauncher leaves launched operations in their planned state.
type noopLauncher struct{}

func (noopLauncher) Launch(context.Context, model.OperationKind, string) error { return nil }

type memoryArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	digests map[string]string
}

func newMemoryArchive() *memoryArchive {
	return &memoryArchive{objects: map[string][]byte{}, digests: map[string]string{}}
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

type testHandlers struct {
	backup   *Backup
	restore  *Restore
	adapters fakeAdapters
}

func newTestHandlers(metadataArchive core.MetadataArchive) *testHandlers {
	adapters := fakeAdapters{
		"pg-1": {typ: "postgresql"},
	}
	dbs := fakeDatabases{
		"shop": {{
			ID:          "db-1",
			Name:        "orders",
			Namespace:   "shop",
			Type:        "postgresql",
			AdapterID:   "pg-1",
			Classifiers: []model.Classifier{{model.ClassifierNamespace: "shop"}},
		}},
	}
	services := core.NewServices(core.Deps{
		Repo:     store.NewMemory(),
		Registry: dbs,
		Adapters: adapters,
		Launcher: noopLauncher{},
		Archive:  metadataArchive,
		Logger:   zerolog.Nop(),
	})
	return &testHandlers{
		backup:   NewBackup(services.Backup),
		restore:  NewRestore(services.Restore),
		adapters: adapters,
	}
}

// completedDoc is the status document of a finished backup on pg-1.
func completedDoc(name string) *model.Operation {
	return &model.Operation{
		Kind:                     model.KindBackup,
		Name:                     name,
		StorageName:              "s3",
		BlobPath:                 "/backups",
		ExternalDatabaseStrategy: model.ExternalFail,
		Filters:                  model.FilterCriteria{Include: []model.Filter{{Namespace: []string{"shop"}}}},
		Status:                   model.StatusCompleted,
		Total:                    1,
		Completed:                1,
		Units: []model.AdapterUnit{{
			ID:            "u1",
			OperationName: name,
			AdapterID:     "pg-1",
			Type:          "postgresql",
			JobName:       "job-pg",
			Status:        model.StatusCompleted,
			Items: []model.DatabaseItem{{
				ID:          "i1",
				UnitID:      "u1",
				Name:        "orders",
				Classifiers: []model.Classifier{{model.ClassifierNamespace: "shop"}},
				Status:      model.StatusCompleted,
				Size:        10,
			}},
		}},
	}
}

// importDoc registers doc through the import handler.
func (th *testHandlers) importDoc(t *testing.T, doc *model.Operation) {
	t.Helper()
	digest, err := core.Digest(doc)
	require.NoError(t, err)

	r := newRequest(http.MethodPost, "/backups/metadata", doc)
	r.Header.Set(DigestHeader, digest)
	rec := httptest.NewRecorder()
	th.backup.ImportMetadata(rec, r)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}
