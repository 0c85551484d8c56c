package core

import (
	"context"

	"github.com/edvin/dbaas/internal/model"
)

// UnitMutation changes one unit of an operation. It receives the whole
// operation so it can recompute derived fields; returning an error aborts the
// update.
type UnitMutation = func(op *model.Operation, unit *model.AdapterUnit) error

// Repository is the durable store of operation plans.
//
// UpdateUnit must apply the mutation and persist the unit, its items and the
// operation's derived fields in one transaction, serialized against other
// updates of the same operation.
type Repository interface {
	CreateOperation(ctx context.Context, op *model.Operation) error
	OperationExists(ctx context.Context, kind model.OperationKind, name string) (bool, error)
	GetOperation(ctx context.Context, kind model.OperationKind, name string) (*model.Operation, error)
	UpdateUnit(ctx context.Context, kind model.OperationKind, name, unitID string, mutate UnitMutation) error
	DeleteOperation(ctx context.Context, kind model.OperationKind, name string) error
	ListUnfinished(ctx context.Context, kind model.OperationKind) ([]string, error)
}

// DatabaseRegistry looks up the logical databases registered in a namespace.
type DatabaseRegistry interface {
	FindDatabases(ctx context.Context, namespace string) ([]model.RegisteredDatabase, error)
}
