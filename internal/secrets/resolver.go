// Package secrets resolves vault:// references found in configuration
// sections into plain values.
//
// Resolution is eager and one-shot: a section handed to any other component
// has already been resolved, and the resolver keeps nothing but the store
// client between calls.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"depotci/internal/errs"
)

// Resolver replaces secret references in configuration sections. It is
// safe for concurrent use; the store is built at most once.
type Resolver struct {
	newStore StoreFactory
	log      *logrus.Entry

	mu    sync.Mutex
	store Store
}

// NewResolver returns a Resolver that builds its store with newStore the
// first time a reference has to be looked up.
func NewResolver(newStore StoreFactory, log *logrus.Entry) *Resolver {
	return &Resolver{newStore: newStore, log: log}
}

// ResolveSection returns a copy of section in which every string value
// written as a secret reference is replaced by the referenced value. Nested
// maps are walked as well. All references are parsed before the store is
// contacted, so a malformed reference fails without any network call.
func (r *Resolver) ResolveSection(ctx context.Context, section map[string]interface{}) (map[string]interface{}, error) {
	if err := validateRefs(section); err != nil {
		return nil, err
	}
	return r.resolveMap(ctx, section)
}

func validateRefs(section map[string]interface{}) error {
	for _, value := range section {
		switch v := value.(type) {
		case string:
			if IsRef(v) {
				if _, err := ParseRef(v); err != nil {
					return err
				}
			}
		case map[string]interface{}:
			if err := validateRefs(v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Resolver) resolveMap(ctx context.Context, section map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(section))
	for key, value := range section {
		switch v := value.(type) {
		case string:
			if !IsRef(v) {
				out[key] = v
				continue
			}
			ref, _ := ParseRef(v)
			resolved, err := r.lookup(ctx, ref)
			if err != nil {
				return nil, fmt.Errorf("resolve %q: %w", key, err)
			}
			out[key] = resolved
		case map[string]interface{}:
			nested, err := r.resolveMap(ctx, v)
			if err != nil {
				return nil, err
			}
			out[key] = nested
		default:
			out[key] = v
		}
	}
	return out, nil
}

func (r *Resolver) lookup(ctx context.Context, ref Ref) (interface{}, error) {
	store, err := r.getStore()
	if err != nil {
		return nil, err
	}

	data, err := store.ReadSecret(ctx, ref.Mount, ref.Path)
	if errors.Is(err, ErrSecretNotFound) {
		return nil, errs.Wrap(errs.CodeResolution, err, "secret %s/%s", ref.Mount, ref.Path)
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeResolution, err, "error retrieving secret %s/%s", ref.Mount, ref.Path)
	}

	value, ok := data[ref.Key]
	if !ok || value == nil || value == "" {
		return nil, errs.New(errs.CodeResolution, "secret %s/%s has no key %q", ref.Mount, ref.Path, ref.Key)
	}

	r.log.WithFields(logrus.Fields{"mount": ref.Mount, "path": ref.Path, "key": ref.Key}).Debug("Resolved secret reference")
	return value, nil
}

func (r *Resolver) getStore() (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		return r.store, nil
	}
	if r.newStore == nil {
		return nil, errs.Configf("no secret store configured")
	}
	store, err := r.newStore()
	if err != nil {
		return nil, err
	}
	r.store = store
	return store, nil
}
