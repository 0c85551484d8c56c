package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edvin/dbaas/internal/model"
)

// HTTPClient talks to an adapter over its v2 backup REST API.
type HTTPClient struct {
	typ        string
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewHTTPClient creates a client for an adapter of the given backend type.
func NewHTTPClient(typ, baseURL, username, password string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		typ:      typ,
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type backupV2Request struct {
	StorageName string   `json:"storageName"`
	BlobPath    string   `json:"blobPath"`
	Databases   []string `json:"databases"`
}

type restoreDBMap struct {
	PreviousDatabaseName string `json:"previousDatabaseName"`
	DatabaseName         string `json:"databaseName"`
}

type restoreV2Request struct {
	StorageName string         `json:"storageName"`
	BlobPath    string         `json:"blobPath"`
	Databases   []restoreDBMap `json:"databases"`
	DryRun      bool           `json:"dryRun"`
}

type databaseV2Status struct {
	DatabaseName string `json:"databaseName"`
	Status       string `json:"status"`
	Size         int64  `json:"size"`
	Duration     int64  `json:"duration"`
	Path         string `json:"path"`
	ErrorMessage string `json:"errorMessage"`
	CreationTime string `json:"creationTime"`
}

type jobV2Response struct {
	Status         string             `json:"status"`
	BackupID       string             `json:"backupId"`
	RestoreID      string             `json:"restoreId"`
	ErrorMessage   string             `json:"errorMessage"`
	CreationTime   string             `json:"creationTime"`
	CompletionTime string             `json:"completionTime"`
	StorageName    string             `json:"storageName"`
	BlobPath       string             `json:"blobPath"`
	Databases      []databaseV2Status `json:"databases"`
}

func (c *HTTPClient) Type() string { return c.typ }

func (c *HTTPClient) path(format string, args ...any) string {
	return fmt.Sprintf("/api/v2/dbaas/adapter/%s/backups", c.typ) + fmt.Sprintf(format, args...)
}

// StartBackup starts a backup job and returns the adapter's job id.
func (c *HTTPClient) StartBackup(ctx context.Context, req BackupRequest) (string, error) {
	var resp jobV2Response
	if err := c.doJSON(ctx, http.MethodPost, c.path("/backup"), backupV2Request{
		StorageName: req.StorageName,
		BlobPath:    req.BlobPath,
		Databases:   req.Databases,
	}, &resp); err != nil {
		return "", err
	}
	if resp.BackupID == "" {
		return "", fmt.Errorf("adapter %s returned empty backup id", c.typ)
	}
	return resp.BackupID, nil
}

// PollBackup returns the current state of a backup job.
func (c *HTTPClient) PollBackup(ctx context.Context, jobName string) (*JobStatus, error) {
	var resp jobV2Response
	if err := c.doJSON(ctx, http.MethodGet, c.path("/backup/%s", url.PathEscape(jobName)), nil, &resp); err != nil {
		return nil, err
	}
	return resp.toJobStatus(), nil
}

// StartRestore starts a restore job from a previous backup job.
func (c *HTTPClient) StartRestore(ctx context.Context, req RestoreRequest) (string, error) {
	body := restoreV2Request{
		StorageName: req.StorageName,
		BlobPath:    req.BlobPath,
		DryRun:      req.DryRun,
	}
	for _, m := range req.Databases {
		body.Databases = append(body.Databases, restoreDBMap{
			PreviousDatabaseName: m.PreviousName,
			DatabaseName:         m.Name,
		})
	}

	var resp jobV2Response
	if err := c.doJSON(ctx, http.MethodPost, c.path("/backup/%s/restore", url.PathEscape(req.BackupJobName)), body, &resp); err != nil {
		return "", err
	}
	if resp.RestoreID == "" {
		return "", fmt.Errorf("adapter %s returned empty restore id", c.typ)
	}
	return resp.RestoreID, nil
}

// PollRestore returns the current state of a restore job.
func (c *HTTPClient) PollRestore(ctx context.Context, jobName string) (*JobStatus, error) {
	var resp jobV2Response
	if err := c.doJSON(ctx, http.MethodGet, c.path("/restore/%s", url.PathEscape(jobName)), nil, &resp); err != nil {
		return nil, err
	}
	return resp.toJobStatus(), nil
}

// DeleteBackup removes a backup job and its artifacts on the adapter.
func (c *HTTPClient) DeleteBackup(ctx context.Context, jobName string) error {
	return c.doJSON(ctx, http.MethodDelete, c.path("/backup/%s", url.PathEscape(jobName)), nil, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("adapter request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("adapter %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (r *jobV2Response) toJobStatus() *JobStatus {
	js := &JobStatus{
		Status:         NormalizeStatus(r.Status),
		ErrorMessage:   r.ErrorMessage,
		CreationTime:   parseTime(r.CreationTime),
		CompletionTime: parseTime(r.CompletionTime),
	}
	for _, d := range r.Databases {
		js.Databases = append(js.Databases, model.DatabaseStatus{
			DatabaseName: d.DatabaseName,
			Status:       NormalizeStatus(d.Status),
			Size:         d.Size,
			Duration:     d.Duration,
			Path:         d.Path,
			ErrorMessage: d.ErrorMessage,
			CreationTime: parseTime(d.CreationTime),
		})
	}
	return js
}

// NormalizeStatus maps the adapter status vocabulary onto model statuses.
// An empty input maps to "".
func NormalizeStatus(s string) model.Status {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")) {
	case "":
		return ""
	case "NOT_STARTED":
		return model.StatusNotStarted
	case "PENDING", "QUEUED", "PLANNED":
		return model.StatusPending
	case "IN_PROGRESS", "PROCESSING", "RUNNING":
		return model.StatusInProgress
	case "COMPLETED", "SUCCESSFUL", "SUCCESS":
		return model.StatusCompleted
	case "FAILED", "FAIL", "ERROR":
		return model.StatusFailed
	default:
		return model.Status(s)
	}
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
