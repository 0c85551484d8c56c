package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/edvin/dbaas/internal/model"
	"github.com/edvin/dbaas/internal/store"
)

const maxOperationNameLength = 253

func validateName(kind model.OperationKind, name string) error {
	switch {
	case name == "":
		return validationError("%s name is required", kind)
	case len(name) > maxOperationNameLength:
		return validationError("%s name exceeds %d characters", kind, maxOperationNameLength)
	case strings.ContainsAny(name, "/\\ "):
		return validationError("%s name %q contains a path separator or space", kind, name)
	}
	return nil
}

func validateStrategy(s model.ExternalDatabaseStrategy) (model.ExternalDatabaseStrategy, error) {
	switch s {
	case "":
		return model.ExternalFail, nil
	case model.ExternalFail, model.ExternalSkip, model.ExternalInclude:
		return s, nil
	}
	return "", validationError("unknown external database strategy %q", s)
}

func getOperation(ctx context.Context, repo Repository, kind model.OperationKind, name string) (*model.Operation, error) {
	op, err := repo.GetOperation(ctx, kind, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFoundError(string(kind), name)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, name, err)
	}
	return op, nil
}

// currentStatus re-derives the summary from the latest persisted units.
func currentStatus(ctx context.Context, repo Repository, kind model.OperationKind, name string) (*model.Summary, error) {
	op, err := getOperation(ctx, repo, kind, name)
	if err != nil {
		return nil, err
	}
	s := Aggregate(op)
	return &s, nil
}

// fullStatus returns the whole status document with derived fields
// re-derived from its units.
func fullStatus(ctx context.Context, repo Repository, kind model.OperationKind, name string) (*model.Operation, error) {
	op, err := getOperation(ctx, repo, kind, name)
	if err != nil {
		return nil, err
	}
	applySummary(op, Aggregate(op))
	return op, nil
}

func applySummary(op *model.Operation, s model.Summary) {
	op.Status = s.Status
	op.Total = s.Total
	op.Completed = s.Completed
	op.Size = s.Size
	op.ErrorMessage = s.ErrorMessage
}

func cloneOperation(op *model.Operation) (*model.Operation, error) {
	b, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("copy status document: %w", err)
	}
	var out model.Operation
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("copy status document: %w", err)
	}
	return &out, nil
}
