package model

import "slices"

// Classifier keys with special meaning.
const (
	ClassifierNamespace        = "namespace"
	ClassifierMicroserviceName = "microserviceName"
	ClassifierTenantID         = "tenantId"
)

// Database kinds used by filter criteria.
const (
	DatabaseKindConfigurational = "configurational"
	DatabaseKindTransactional   = "transactional"
)

// Classifier identifies a logical database within the registry. Map keys are
// encoded in sorted order, which keeps serialized snapshots stable.
type Classifier map[string]any

// String returns the string value stored under key, or "".
func (c Classifier) String(key string) string {
	v, _ := c[key].(string)
	return v
}

// Clone returns a shallow copy of the classifier.
func (c Classifier) Clone() Classifier {
	out := make(Classifier, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// DatabaseResource is a physical resource owned by a logical database.
type DatabaseResource struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// DatabaseUser is a connection role of a logical database.
type DatabaseUser struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// RegisteredDatabase is a logical database as known by the database registry
// at lookup time.
type RegisteredDatabase struct {
	ID                string             `json:"id"`
	Name              string             `json:"name"`
	Namespace         string             `json:"namespace"`
	Type              string             `json:"type"`
	AdapterID         string             `json:"adapter_id"`
	Classifiers       []Classifier       `json:"classifiers"`
	Settings          map[string]any     `json:"settings,omitempty"`
	Resources         []DatabaseResource `json:"resources,omitempty"`
	Users             []DatabaseUser     `json:"users,omitempty"`
	Configurational   bool               `json:"configurational,omitempty"`
	ExternallyManaged bool               `json:"externally_managed,omitempty"`
	BackupDisabled    bool               `json:"backup_disabled,omitempty"`
}

// Kind returns the database kind used in filter criteria.
func (d *RegisteredDatabase) Kind() string {
	if d.Configurational {
		return DatabaseKindConfigurational
	}
	return DatabaseKindTransactional
}

// MicroserviceNames returns the distinct microservice names found in the
// database's classifiers.
func (d *RegisteredDatabase) MicroserviceNames() []string {
	var names []string
	for _, c := range d.Classifiers {
		if n := c.String(ClassifierMicroserviceName); n != "" && !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	return names
}

// Filter selects databases. Every non-empty field must match; values within
// a field are alternatives.
type Filter struct {
	Namespace        []string `json:"namespace,omitempty"`
	MicroserviceName []string `json:"microservice_name,omitempty"`
	DatabaseType     []string `json:"database_type,omitempty"`
	DatabaseKind     []string `json:"database_kind,omitempty"`
}

// FilterCriteria selects the databases an operation covers: a database is in
// scope when it matches any Include filter and no Exclude filter.
type FilterCriteria struct {
	Include []Filter `json:"include,omitempty"`
	Exclude []Filter `json:"exclude,omitempty"`
}

// Namespaces returns the distinct namespaces named by the include filters.
func (fc FilterCriteria) Namespaces() []string {
	var out []string
	for _, f := range fc.Include {
		for _, ns := range f.Namespace {
			if !slices.Contains(out, ns) {
				out = append(out, ns)
			}
		}
	}
	return out
}

// Match reports whether a database with the given attributes is selected.
// Empty criteria select everything.
func (fc FilterCriteria) Match(namespace string, microservices []string, dbType, kind string) bool {
	if len(fc.Include) > 0 {
		included := false
		for _, f := range fc.Include {
			if f.match(namespace, microservices, dbType, kind) {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}
	for _, f := range fc.Exclude {
		if f.match(namespace, microservices, dbType, kind) {
			return false
		}
	}
	return true
}

func (f Filter) match(namespace string, microservices []string, dbType, kind string) bool {
	if len(f.Namespace) > 0 && !slices.Contains(f.Namespace, namespace) {
		return false
	}
	if len(f.MicroserviceName) > 0 {
		found := false
		for _, m := range microservices {
			if slices.Contains(f.MicroserviceName, m) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.DatabaseType) > 0 && !slices.Contains(f.DatabaseType, dbType) {
		return false
	}
	if len(f.DatabaseKind) > 0 && !slices.Contains(f.DatabaseKind, kind) {
		return false
	}
	return true
}
