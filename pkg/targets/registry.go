/*
Copyright 2022-2024 EscherCloud.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package targets indexes the Targets of a loaded infrastructure model by
// key and hands out the per-target core reservations the iteration engine
// uses as its concurrency bound (§4.B).
package targets

import (
	"sync"

	"github.com/eschercloudai/disnix-go/pkg/model"
)

// Registry indexes targets by their resolved key and guards
// Target.AvailableCores with its own lock, since that field is the one
// piece of mutable state shared across concurrently dispatched operations
// (§3 Ownership & lifecycle).
type Registry struct {
	mu      sync.Mutex
	targets map[string]*model.Target

	// defaultProperty is the caller-supplied fallback property name used
	// when a target does not set its own targetProperty (§9).
	defaultProperty string
}

// New builds a Registry from a slice of loaded targets. The slice is
// retained by pointer, so AvailableCores mutations made through
// TryAcquire/Release are visible to anyone holding the same Target.
func New(ts []model.Target, defaultProperty string) (*Registry, error) {
	r := &Registry{
		targets:         make(map[string]*model.Target, len(ts)),
		defaultProperty: defaultProperty,
	}

	for i := range ts {
		key, ok := ts[i].Key(defaultProperty)
		if !ok {
			return nil, &UnresolvableKeyError{Target: ts[i].Name}
		}

		if _, dup := r.targets[key]; dup {
			return nil, &DuplicateKeyError{Key: key}
		}

		r.targets[key] = &ts[i]
	}

	return r, nil
}

// Find looks up a target by its resolved key.
func (r *Registry) Find(targetKey string) (*model.Target, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[targetKey]

	return t, ok
}

// FindInterface looks up the client-interface identifier for a target key.
func (r *Registry) FindInterface(targetKey string) (string, bool) {
	t, ok := r.Find(targetKey)
	if !ok {
		return "", false
	}

	return t.ClientInterface, true
}

// TryAcquire reserves one core on the named target, succeeding iff
// AvailableCores > 0, in which case the counter is decremented (§4.B).
func (r *Registry) TryAcquire(targetKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.targets[targetKey]
	if !ok || t.AvailableCores <= 0 {
		return false
	}

	t.AvailableCores--

	return true
}

// Release returns one core to the named target. It is a no-op for unknown
// targets so that Release can always be paired with a successful
// TryAcquire without the caller re-checking existence.
func (r *Registry) Release(targetKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.targets[targetKey]; ok {
		t.AvailableCores++
	}
}

// ResetReservations restores every target's AvailableCores to NumOfCores.
// Per §9's open question, reservations do not survive across stages: each
// stage of the activation coordinator starts with a fresh per-target
// budget rather than one that carries debt from a previous stage.
func (r *Registry) ResetReservations() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.targets {
		t.AvailableCores = t.NumOfCores
	}
}
