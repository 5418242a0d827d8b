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

// Package plan is the distribution planner of §4.E: it transforms a
// manifest (and, for upgrades, the previous one) into the ordered work
// lists the activation coordinator drives through the iteration engine —
// the closure-transfer list, the lock/unlock lists, the activation diff in
// dependency order, and the snapshot-transfer list.
package plan

import (
	"cmp"

	"golang.org/x/exp/slices"

	"github.com/eschercloudai/disnix-go/pkg/model"
)

// ClosureItem is one "copy closure to target" work item.
type ClosureItem struct {
	Target    string
	StorePath string
}

func (c ClosureItem) TargetKey() string { return c.Target }

// LockItem is one "lock/unlock profile on target" work item.
type LockItem struct {
	Target  string
	Profile string
}

func (l LockItem) TargetKey() string { return l.Target }

// ActivationItem is one "activate/deactivate service" work item, carrying
// everything the agent call needs plus the originating service for
// dependency-order bookkeeping.
type ActivationItem struct {
	Service *model.ManifestService
}

func (a ActivationItem) TargetKey() string { return a.Service.Target }

// SnapshotItem is one component migration, produced by SnapshotList below and
// consumed by pkg/migrate.
type SnapshotItem struct {
	Container string
	Component string
	From      string
	To        string
}

func (s SnapshotItem) TargetKey() string { return s.From }

// Diff is the triple of §3 "Activation diff": services present only in
// the old manifest, only in the new one, or in both.
type Diff struct {
	ToDeactivate []*model.ManifestService
	ToActivate   []*model.ManifestService
	Unchanged    []*model.ManifestService
}

type serviceKey struct {
	target    string
	container string
	name      string
	service   string
}

func keyOf(s *model.ManifestService) serviceKey {
	return serviceKey{target: s.Target, container: s.Container, name: s.Name, service: s.Service}
}

// ComputeDiff compares oldManifest (possibly nil, meaning "nothing
// deployed yet") against newManifest. With noUpgrade set, every old
// service is deactivated and every new service activated regardless of
// whether it is otherwise unchanged (§4.E.4).
func ComputeDiff(oldManifest, newManifest *model.Manifest, noUpgrade bool) Diff {
	var oldServices []*model.ManifestService
	if oldManifest != nil {
		oldServices = oldManifest.Services
	}

	if noUpgrade {
		return Diff{ToDeactivate: oldServices, ToActivate: newManifest.Services}
	}

	oldByKey := make(map[serviceKey]*model.ManifestService, len(oldServices))
	for _, s := range oldServices {
		oldByKey[keyOf(s)] = s
	}

	newByKey := make(map[serviceKey]*model.ManifestService, len(newManifest.Services))
	for _, s := range newManifest.Services {
		newByKey[keyOf(s)] = s
	}

	var diff Diff

	for _, s := range oldServices {
		if _, ok := newByKey[keyOf(s)]; !ok {
			diff.ToDeactivate = append(diff.ToDeactivate, s)
		}
	}

	for _, s := range newManifest.Services {
		if _, ok := oldByKey[keyOf(s)]; ok {
			diff.Unchanged = append(diff.Unchanged, s)
		} else {
			diff.ToActivate = append(diff.ToActivate, s)
		}
	}

	return diff
}

// compareServices breaks ties by (target, container, name) for determinism
// (§4.E.5).
func compareServices(a, b *model.ManifestService) int {
	if c := cmp.Compare(a.Target, b.Target); c != 0 {
		return c
	}

	if c := cmp.Compare(a.Container, b.Container); c != 0 {
		return c
	}

	return cmp.Compare(a.Name, b.Name)
}

// ActivationWaves arranges toActivate into reverse-topological waves over
// dependsOn: a service enters a wave only once every dependency it has
// within the full set has already appeared in an earlier wave (§4.E.5,
// §5). Dependencies outside the given set (already active, unchanged) are
// treated as immediately satisfied.
func ActivationWaves(toActivate []*model.ManifestService) [][]*model.ManifestService {
	return waves(toActivate, func(s *model.ManifestService) []*model.ManifestService { return s.DependsOn })
}

// DeactivationWaves arranges toDeactivate into forward-dependency waves: a
// service is deactivated only once every service that depends on it (within
// the given set) has already been deactivated.
func DeactivationWaves(toDeactivate []*model.ManifestService) [][]*model.ManifestService {
	dependents := make(map[*model.ManifestService][]*model.ManifestService)

	set := make(map[*model.ManifestService]bool, len(toDeactivate))
	for _, s := range toDeactivate {
		set[s] = true
	}

	for _, s := range toDeactivate {
		for _, dep := range s.DependsOn {
			if set[dep] {
				dependents[dep] = append(dependents[dep], s)
			}
		}
	}

	return waves(toDeactivate, func(s *model.ManifestService) []*model.ManifestService { return dependents[s] })
}

// waves performs a generic Kahn-style layered topological sort: deps(s)
// gives the predecessors that must already be scheduled before s may
// enter a wave. Services whose deps lie entirely outside the input set
// are satisfied trivially. Ties within a wave are broken by compareServices.
func waves(items []*model.ManifestService, deps func(*model.ManifestService) []*model.ManifestService) [][]*model.ManifestService {
	set := make(map[*model.ManifestService]bool, len(items))
	for _, s := range items {
		set[s] = true
	}

	scheduled := make(map[*model.ManifestService]bool, len(items))

	var result [][]*model.ManifestService

	remaining := append([]*model.ManifestService(nil), items...)

	for len(remaining) > 0 {
		var ready []*model.ManifestService

		var next []*model.ManifestService

		for _, s := range remaining {
			ok := true

			for _, d := range deps(s) {
				if set[d] && !scheduled[d] {
					ok = false

					break
				}
			}

			if ok {
				ready = append(ready, s)
			} else {
				next = append(next, s)
			}
		}

		if len(ready) == 0 {
			// A cycle within the set: break it deterministically by
			// lexical order rather than looping forever. This should
			// not occur for a well-formed manifest.
			slices.SortFunc(remaining, compareServices)
			ready = remaining[:1]
			next = remaining[1:]
		}

		slices.SortFunc(ready, compareServices)

		for _, s := range ready {
			scheduled[s] = true
		}

		result = append(result, ready)
		remaining = next
	}

	return result
}

// ClosureList produces, for every (target, storePath) profile in
// newManifest not known to already be resident, a closure-transfer item.
// resident reports whether a store path is already present on a target;
// callers that cannot cheaply determine residency may pass a function
// that always returns false, copying every closure unconditionally.
func ClosureList(newManifest *model.Manifest, resident func(target, storePath string) bool) []ClosureItem {
	items := make([]ClosureItem, 0, len(newManifest.Profiles))

	for _, p := range newManifest.Profiles {
		if resident != nil && resident(p.Target, p.StorePath) {
			continue
		}

		items = append(items, ClosureItem{Target: p.Target, StorePath: p.StorePath})
	}

	return items
}

// LockList produces one lock item per distinct target appearing in
// newManifest's profile set.
func LockList(newManifest *model.Manifest) []LockItem {
	seen := make(map[string]bool)

	items := make([]LockItem, 0, len(newManifest.Profiles))

	for _, p := range newManifest.Profiles {
		if seen[p.Target] {
			continue
		}

		seen[p.Target] = true

		items = append(items, LockItem{Target: p.Target, Profile: p.Profile})
	}

	return items
}

// SnapshotList produces, for every service in unchanged ∪ toActivate whose
// (container, name) appeared in oldManifest on a different target, the
// migration mapping moving that component's state across (§4.E.6).
func SnapshotList(oldManifest *model.Manifest, unchanged, toActivate []*model.ManifestService) []SnapshotItem {
	if oldManifest == nil {
		return nil
	}

	type containerName struct {
		container string
		name      string
	}

	oldLocation := make(map[containerName]string, len(oldManifest.Services))

	for _, s := range oldManifest.Services {
		oldLocation[containerName{container: s.Container, name: s.Name}] = s.Target
	}

	var items []SnapshotItem

	consider := func(s *model.ManifestService) {
		from, ok := oldLocation[containerName{container: s.Container, name: s.Name}]
		if !ok || from == s.Target {
			return
		}

		items = append(items, SnapshotItem{Container: s.Container, Component: s.Name, From: from, To: s.Target})
	}

	for _, s := range unchanged {
		consider(s)
	}

	for _, s := range toActivate {
		consider(s)
	}

	return items
}
