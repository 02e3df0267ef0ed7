// Package core turns a pipeline definition into handlers and runs them in
// order.
package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"depotci/internal/config"
	"depotci/internal/errs"
	"depotci/internal/scm"
	"depotci/internal/storage"
)

// options is a decoded action payload.
type options interface {
	scmName() string
	validate(action string) error
}

func (s *CheckoutSpec) scmName() string { return s.SCMName }
func (s *CommandSpec) scmName() string  { return "" }
func (s *UploadSpec) scmName() string   { return s.SCMName }

func (s *CheckoutSpec) validate(action string) error {
	if s.SCMName == "" {
		return errs.Configf("action %q: scm_name is required for scm actions", action)
	}
	return nil
}

func (s *CommandSpec) validate(action string) error {
	if len(s.Commands) == 0 {
		return errs.Configf("action %q: commands must list at least one command", action)
	}
	return nil
}

func (s *UploadSpec) validate(action string) error {
	if s.SCMName == "" {
		return errs.Configf("action %q: scm_name is required for scm actions", action)
	}
	return nil
}

type constructor func(d *Dispatcher, ctx context.Context, env scm.Env, name string, opts options, section map[string]interface{}) (Handler, error)

// kinds is the closed set of action kinds.
var kinds = map[Kind]struct {
	newOptions func() options
	build      constructor
}{
	KindCheckout: {func() options { return &CheckoutSpec{} }, (*Dispatcher).buildCheckout},
	KindCommand:  {func() options { return &CommandSpec{} }, (*Dispatcher).buildCommand},
	KindUpload:   {func() options { return &UploadSpec{} }, (*Dispatcher).buildUpload},
}

// Action is a constructed, ready to run action.
type Action struct {
	Name    string
	Kind    Kind
	Handler Handler
}

// Pipeline is the constructed form of a Definition.
type Pipeline struct {
	ID      string
	Actions []*Action
}

// Dispatcher builds handlers for action specs and runs them.
type Dispatcher struct {
	registry *scm.Registry
	env      scm.Env
	storage  *storage.LogStorage
	observer Observer
	log      *logrus.Entry
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithObserver sets the observer notified around every action.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		d.observer = o
	}
}

// WithLogStorage saves command output to s.
func WithLogStorage(s *storage.LogStorage) Option {
	return func(d *Dispatcher) {
		d.storage = s
	}
}

// NewDispatcher returns a dispatcher creating scm backends from registry.
// env.Runner also runs command actions.
func NewDispatcher(registry *scm.Registry, env scm.Env, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		env:      env,
		observer: Observers{},
		log:      env.Log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type planned struct {
	spec ActionSpec
	opts options
}

// Build validates def and constructs one handler per action. Every static
// problem is reported before any secret is resolved, and every secret is
// resolved before the first handler is constructed. Each scm section and
// each connection it names is resolved once, however many actions use it.
// Nothing is executed.
func (d *Dispatcher) Build(ctx context.Context, def *Definition) (*Pipeline, error) {
	plan := make([]planned, 0, len(def.Actions))
	for _, spec := range def.Actions {
		kind, ok := kinds[spec.Kind]
		if !ok {
			return nil, errs.Configf("invalid or unknown action type %q for action %q", spec.Kind, spec.Name)
		}
		opts := kind.newOptions()
		if err := config.Decode(spec.Payload, opts); err != nil {
			return nil, errs.Wrap(errs.CodeConfiguration, err, "action %q", spec.Name)
		}
		if err := opts.validate(spec.Name); err != nil {
			return nil, err
		}
		if name := opts.scmName(); name != "" {
			if _, ok := def.SCMs[name]; !ok {
				return nil, errs.Configf("action %q: unknown scm config %q", spec.Name, name)
			}
		}
		plan = append(plan, planned{spec: spec, opts: opts})
	}

	var order []string
	resolved := make(map[string]map[string]interface{})
	for _, p := range plan {
		name := p.opts.scmName()
		if name == "" {
			continue
		}
		if _, done := resolved[name]; done {
			continue
		}
		section, err := d.env.Config.Resolve(ctx, def.SCMs[name])
		if err != nil {
			return nil, fmt.Errorf("scm %q: %w", name, err)
		}
		resolved[name] = section
		order = append(order, name)
	}

	env := d.env
	env.Connections = make(map[string]config.ConnectionConfig)
	for _, name := range order {
		ref, _ := resolved[name][scm.ConnectionKey].(string)
		if ref == "" {
			continue
		}
		if _, done := env.Connections[ref]; done {
			continue
		}
		conn, err := d.env.Config.Connection(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("scm %q: %w", name, err)
		}
		env.Connections[ref] = conn
	}

	pipeline := &Pipeline{ID: uuid.New().String()}
	for _, p := range plan {
		handler, err := kinds[p.spec.Kind].build(d, ctx, env, p.spec.Name, p.opts, resolved[p.opts.scmName()])
		if err != nil {
			return nil, &ActionError{Action: p.spec.Name, Kind: p.spec.Kind, Err: err}
		}
		pipeline.Actions = append(pipeline.Actions, &Action{Name: p.spec.Name, Kind: p.spec.Kind, Handler: handler})
	}
	return pipeline, nil
}

func (d *Dispatcher) actionLog(name string, kind Kind) *logrus.Entry {
	return d.log.WithFields(logrus.Fields{"action": name, "kind": kind})
}

// backend builds a fresh backend. Backends are never shared, even between
// actions naming the same scm.
func (d *Dispatcher) backend(ctx context.Context, env scm.Env, log *logrus.Entry, section map[string]interface{}) (scm.Backend, error) {
	env.Log = log
	return d.registry.New(ctx, env, section)
}

func (d *Dispatcher) buildCheckout(ctx context.Context, env scm.Env, name string, opts options, section map[string]interface{}) (Handler, error) {
	spec := opts.(*CheckoutSpec)
	log := d.actionLog(name, KindCheckout)
	backend, err := d.backend(ctx, env, log, section)
	if err != nil {
		return nil, err
	}
	return &checkoutHandler{backend: backend, revision: spec.Revision, log: log}, nil
}

func (d *Dispatcher) buildUpload(ctx context.Context, env scm.Env, name string, opts options, section map[string]interface{}) (Handler, error) {
	spec := opts.(*UploadSpec)
	backend, err := d.backend(ctx, env, d.actionLog(name, KindUpload), section)
	if err != nil {
		return nil, err
	}
	return &uploadHandler{backend: backend, paths: spec.Paths, message: spec.Message}, nil
}

func (d *Dispatcher) buildCommand(_ context.Context, _ scm.Env, name string, opts options, _ map[string]interface{}) (Handler, error) {
	spec := opts.(*CommandSpec)
	return &commandHandler{
		action:   name,
		commands: spec.Commands,
		runner:   d.env.Runner,
		storage:  d.storage,
		log:      d.actionLog(name, KindCommand),
	}, nil
}
