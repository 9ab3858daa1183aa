package store

import (
	"sort"

	"github.com/loykin/dbkick/internal/constants"
	"github.com/loykin/dbkick/internal/store/connector"
	"github.com/loykin/dbkick/internal/store/mysql"
	"github.com/loykin/dbkick/internal/store/postgresql"
	"github.com/loykin/dbkick/internal/store/sqlite"
	"github.com/loykin/dbkick/internal/store/sqlserver"
)

// ErrUnknownProvider is returned by Lookup for unrecognised provider keys.
var ErrUnknownProvider = connector.ErrUnknownProvider

// Registry maps providers onto dialects. Select never returns nil: providers
// without a registered dialect get the fallback (T-SQL).
type Registry struct {
	dialects map[connector.Provider]connector.Dialect
	fallback connector.Dialect
}

// NewRegistry returns a registry holding every built-in dialect.
func NewRegistry() *Registry {
	r := &Registry{
		dialects: map[connector.Provider]connector.Dialect{},
		fallback: sqlserver.NewDialect(),
	}
	r.Register(sqlserver.NewDialect())
	r.Register(postgresql.NewDialect())
	r.Register(mysql.NewDialect())
	r.Register(sqlite.NewDialect())
	return r
}

// Register adds or replaces the dialect for d.Provider().
func (r *Registry) Register(d connector.Dialect) {
	if d == nil {
		return
	}
	r.dialects[d.Provider()] = d
}

// Select returns the dialect for p, or the fallback.
func (r *Registry) Select(p connector.Provider) connector.Dialect {
	if d, ok := r.dialects[p]; ok {
		return d
	}
	return r.fallback
}

// Lookup parses key and selects its dialect. On an unknown key the fallback
// dialect is returned together with an error wrapping ErrUnknownProvider.
func (r *Registry) Lookup(key string) (connector.Dialect, error) {
	p, err := connector.ParseProvider(key)
	return r.Select(p), err
}

// Providers lists registered providers in enum order.
func (r *Registry) Providers() []connector.Provider {
	out := make([]connector.Provider, 0, len(r.dialects))
	for p := range r.dialects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var builtin = NewRegistry()

// Select returns the built-in dialect for p.
func Select(p connector.Provider) connector.Dialect {
	return builtin.Select(p)
}

// Lookup resolves a provider key against the built-in registry.
func Lookup(key string) (connector.Dialect, error) {
	return builtin.Lookup(key)
}

// TrackingNames fills blanks in n with the default tracking names.
func TrackingNames(n connector.TrackingNames) connector.TrackingNames {
	if n.Schema == "" {
		n.Schema = constants.DefaultTrackingSchema
	}
	if n.VersionTable == "" {
		n.VersionTable = constants.DefaultVersionTable
	}
	if n.ScriptsRunTable == "" {
		n.ScriptsRunTable = constants.DefaultScriptsRunTable
	}
	return n
}
