// Package scm defines the source-control backend contract and a registry
// that maps a configured scm type to the backend implementing it.
package scm

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"depotci/internal/config"
	"depotci/internal/errs"
	"depotci/internal/executor"
	"depotci/internal/metrics"
)

// Change is one entry of a backend's history.
type Change struct {
	ID          string
	User        string
	Description string
	Time        time.Time
}

// Mark captures where a workspace stood before an operation, so the
// changes brought in afterwards can be listed.
type Mark struct {
	Revision string
	Time     time.Time
}

// Backend is implemented by every source-control integration.
type Backend interface {
	// Checkout brings the workspace to revision; empty means latest.
	Checkout(ctx context.Context, revision string) error
	// Upload submits the files matching paths that actually changed.
	Upload(ctx context.Context, paths []string, message string) error
	// Cleanup releases the session. Failures are logged, never returned.
	Cleanup(ctx context.Context)
	// Changelog lists changes the workspace received after since.
	Changelog(ctx context.Context, since Mark) ([]Change, error)
	// CurrentRevision reports the revision the workspace is at.
	CurrentRevision(ctx context.Context) (string, error)
}

// ConnectionKey is the scm section key naming a connection section of the
// main configuration.
const ConnectionKey = "connection_config_name"

// Env carries the shared collaborators handed to backend factories.
type Env struct {
	Config  *config.Config
	Log     *logrus.Entry
	Runner  executor.Runner
	Fs      afero.Fs
	Metrics *metrics.Recorder

	// Connections holds every connection named by the pipeline's scm
	// sections, already resolved. Factories read connections from here and
	// never resolve them again.
	Connections map[string]config.ConnectionConfig
}

// Factory builds a backend from an already resolved scm section.
type Factory func(ctx context.Context, env Env, section map[string]interface{}) (Backend, error)

// Registry maps scm types to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for kind.
func (r *Registry) Register(kind string, factory Factory) error {
	if kind == "" || factory == nil {
		return fmt.Errorf("scm type and factory are required")
	}
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("scm type %q already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// Types lists registered types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		types = append(types, kind)
	}
	sort.Strings(types)
	return types
}

// New builds the backend named by section["type"]. The type key is
// consumed and not passed on to the factory.
func (r *Registry) New(ctx context.Context, env Env, section map[string]interface{}) (Backend, error) {
	kind, _ := section["type"].(string)
	factory, ok := r.factories[kind]
	if !ok {
		return nil, errs.Configf("invalid scm type %q, valid options are: %v", kind, r.Types())
	}

	rest := make(map[string]interface{}, len(section))
	for k, v := range section {
		if k != "type" {
			rest[k] = v
		}
	}
	return factory(ctx, env, rest)
}
