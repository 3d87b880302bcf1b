// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package provider

import (
	"strings"
	"sync"

	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

// Registry maps backend names to registered backends and resolves
// "provider/model" references.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds a backend under its name. Registering the same name twice
// is an error; backends are wired once at startup.
func (r *Registry) Register(b Backend) error {
	if b == nil || b.Name() == "" {
		return aegiserr.New(aegiserr.CodeProviderRequestInvalid, "backend must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[b.Name()]; exists {
		return aegiserr.Errorf(aegiserr.CodeProviderRequestInvalid, "backend %q already registered", b.Name())
	}
	r.backends[b.Name()] = b
	return nil
}

// Resolve splits a "provider/model" reference and returns the matching
// backend with the bare model name. A reference without a slash is invalid;
// the configured default model always carries its provider prefix.
func (r *Registry) Resolve(modelRef string) (Backend, string, error) {
	name, model, ok := strings.Cut(modelRef, "/")
	if !ok || name == "" || model == "" {
		return nil, "", aegiserr.Errorf(aegiserr.CodeProviderInvalidModelRef,
			"model reference %q must have the form provider/model", modelRef)
	}

	r.mu.RLock()
	backend, exists := r.backends[name]
	r.mu.RUnlock()

	if !exists {
		return nil, "", aegiserr.New(aegiserr.CodeProviderNotFound,
			"no backend registered for provider "+name, aegiserr.FieldProvider(name))
	}
	return backend, model, nil
}

// Close closes every registered backend, joining any errors.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, b := range r.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return aegiserr.Join(errs...)
	}
	return nil
}
