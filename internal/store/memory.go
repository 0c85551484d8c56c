package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/edvin/dbaas/internal/model"
)

type opKey struct {
	kind model.OperationKind
	name string
}

// Memory is an in-process repository. Every read returns a private copy, so
// callers never observe a half-applied update.
type Memory struct {
	mu  sync.Mutex
	ops map[opKey]*model.Operation
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{ops: make(map[opKey]*model.Operation)}
}

func (m *Memory) CreateOperation(_ context.Context, op *model.Operation) error {
	cp, err := clone(op)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := opKey{op.Kind, op.Name}
	if _, exists := m.ops[key]; exists {
		return fmt.Errorf("create %s %s: %w", op.Kind, op.Name, ErrAlreadyExists)
	}
	m.ops[key] = cp
	return nil
}

func (m *Memory) OperationExists(_ context.Context, kind model.OperationKind, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.ops[opKey{kind, name}]
	return ok, nil
}

func (m *Memory) GetOperation(_ context.Context, kind model.OperationKind, name string) (*model.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.ops[opKey{kind, name}]
	if !ok {
		return nil, fmt.Errorf("get %s %s: %w", kind, name, ErrNotFound)
	}
	return clone(op)
}

func (m *Memory) UpdateUnit(_ context.Context, kind model.OperationKind, name, unitID string, mutate func(*model.Operation, *model.AdapterUnit) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.ops[opKey{kind, name}]
	if !ok {
		return fmt.Errorf("update %s %s: %w", kind, name, ErrNotFound)
	}
	op, err := clone(stored)
	if err != nil {
		return err
	}
	unit := op.Unit(unitID)
	if unit == nil {
		return fmt.Errorf("update unit %s of %s %s: %w", unitID, kind, name, ErrNotFound)
	}
	if err := mutate(op, unit); err != nil {
		return err
	}
	m.ops[opKey{kind, name}] = op
	return nil
}

func (m *Memory) DeleteOperation(_ context.Context, kind model.OperationKind, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := opKey{kind, name}
	if _, ok := m.ops[key]; !ok {
		return fmt.Errorf("delete %s %s: %w", kind, name, ErrNotFound)
	}
	delete(m.ops, key)
	return nil
}

func (m *Memory) ListUnfinished(_ context.Context, kind model.OperationKind) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for key, op := range m.ops {
		if key.kind != kind {
			continue
		}
		for _, u := range op.Units {
			if !u.Status.Terminal() {
				names = append(names, key.name)
				break
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

func clone(op *model.Operation) (*model.Operation, error) {
	b, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("copy operation: %w", err)
	}
	var out model.Operation
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("copy operation: %w", err)
	}
	return &out, nil
}
