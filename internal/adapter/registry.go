package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrUnknownAdapter is returned for adapter ids missing from the registry.
var ErrUnknownAdapter = errors.New("unknown adapter")

// Entry describes one adapter instance in the registry file.
type Entry struct {
	ID           string        `yaml:"id" validate:"required"`
	Type         string        `yaml:"type" validate:"required"`
	URL          string        `yaml:"url" validate:"required,url"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	Timeout      time.Duration `yaml:"timeout"`
	Capabilities Capabilities  `yaml:"capabilities"`
}

type registryFile struct {
	Adapters []Entry `yaml:"adapters" validate:"dive"`
}

var validate = validator.New()

// StaticRegistry is a Registry backed by a fixed list of adapter entries.
type StaticRegistry struct {
	mu      sync.Mutex
	entries map[string]Entry
	clients map[string]Client
}

// NewStaticRegistry builds a registry from entries. Entries are validated
// and ids must be unique.
func NewStaticRegistry(entries []Entry) (*StaticRegistry, error) {
	r := &StaticRegistry{
		entries: make(map[string]Entry, len(entries)),
		clients: make(map[string]Client, len(entries)),
	}
	for _, e := range entries {
		if err := validate.Struct(e); err != nil {
			return nil, fmt.Errorf("invalid adapter entry %q: %w", e.ID, err)
		}
		if _, dup := r.entries[e.ID]; dup {
			return nil, fmt.Errorf("duplicate adapter id %q", e.ID)
		}
		r.entries[e.ID] = e
	}
	return r, nil
}

// LoadRegistryFile reads a YAML registry file.
func LoadRegistryFile(path string) (*StaticRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read adapter registry: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse adapter registry: %w", err)
	}
	return NewStaticRegistry(f.Adapters)
}

// Client returns the HTTP client for adapterID, creating it on first use.
func (r *StaticRegistry) Client(_ context.Context, adapterID string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[adapterID]; ok {
		return c, nil
	}
	e, ok := r.entries[adapterID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAdapter, adapterID)
	}
	c := NewHTTPClient(e.Type, e.URL, e.Username, e.Password, e.Timeout)
	r.clients[adapterID] = c
	return c, nil
}

// Capabilities returns the declared capabilities of adapterID.
func (r *StaticRegistry) Capabilities(_ context.Context, adapterID string) (Capabilities, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[adapterID]
	if !ok {
		return Capabilities{}, fmt.Errorf("%w: %s", ErrUnknownAdapter, adapterID)
	}
	return e.Capabilities, nil
}
