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

// Package migrate is the snapshot/restore coordinator of §4.G: a
// specialization of the activation coordinator that moves per-component
// state between machines during an upgrade, issuing (per stage, so that
// per-target concurrency still applies) snapshot -> copy-from -> copy-to
// -> restore.
package migrate

import (
	"context"

	"github.com/eschercloudai/disnix-go/pkg/agent"
	"github.com/eschercloudai/disnix-go/pkg/iteration"
	"github.com/eschercloudai/disnix-go/pkg/log"
	"github.com/eschercloudai/disnix-go/pkg/plan"
	"github.com/eschercloudai/disnix-go/pkg/targets"
)

// Options controls the optional widening/narrowing of a migration run.
type Options struct {
	// All widens snapshot copying from latest-only to every generation.
	All bool

	// TransferOnly stops after copy and omits the restore stage.
	TransferOnly bool

	// Components optionally narrows the snapshot list to these
	// (container, component) pairs; empty means "every mapping" and is
	// the original, unfiltered behaviour (§4 supplement, grounded on
	// restore/main.c's component filter).
	Components []ComponentFilter
}

// ComponentFilter names one (container, component) pair to restrict a
// migration run to.
type ComponentFilter struct {
	Container string
	Component string
}

func (o Options) includes(item plan.SnapshotItem) bool {
	if len(o.Components) == 0 {
		return true
	}

	for _, f := range o.Components {
		if f.Container == item.Container && f.Component == item.Component {
			return true
		}
	}

	return false
}

// InterfaceFactory resolves the agent Interface bound to a target key,
// typically backed by a pkg/targets.Registry lookup.
type InterfaceFactory func(targetKey string) (*agent.Interface, error)

// Run executes the migration pipeline over items, each one stage of the
// iteration engine so per-target concurrency bounds still apply (§4.G).
// It returns false as soon as a stage fails; later stages are skipped.
func Run(ctx context.Context, items []plan.SnapshotItem, registry *targets.Registry, globalCap int64, ifaceFor InterfaceFactory, opts Options) bool {
	logger := log.FromContext(ctx)

	var filtered []plan.SnapshotItem

	for _, item := range items {
		if opts.includes(item) {
			filtered = append(filtered, item)
		}
	}

	if len(filtered) == 0 {
		return true
	}

	logger.Info("snapshotting source components", "count", len(filtered))

	if !runStage(ctx, fromItems(filtered), registry, globalCap, ifaceFor, func(i *agent.Interface, item plan.SnapshotItem) *agent.Operation {
		return i.Snapshot(item.Container, "", nil, item.Component)
	}) {
		return false
	}

	logger.Info("copying snapshots from source targets")

	if !runStage(ctx, fromItems(filtered), registry, globalCap, ifaceFor, func(i *agent.Interface, item plan.SnapshotItem) *agent.Operation {
		return i.CopySnapshotsFrom(item.Container, item.Component, opts.All)
	}) {
		return false
	}

	logger.Info("copying snapshots to destination targets")

	if !runStage(ctx, toItems(filtered), registry, globalCap, ifaceFor, func(i *agent.Interface, item plan.SnapshotItem) *agent.Operation {
		return i.CopySnapshotsTo(item.Container, item.Component, opts.All)
	}) {
		return false
	}

	if opts.TransferOnly {
		return true
	}

	logger.Info("restoring components on destination targets")

	return runStage(ctx, toItems(filtered), registry, globalCap, ifaceFor, func(i *agent.Interface, item plan.SnapshotItem) *agent.Operation {
		return i.Restore(item.Container, "", nil, item.Component)
	})
}

// stageItem pairs a SnapshotItem with the explicit reservation key a given
// stage should consume: the source target for the snapshot and
// copy-from stages, the destination target for copy-to and restore.
type stageItem struct {
	plan.SnapshotItem
	key string
}

func (s stageItem) TargetKey() string { return s.key }

func fromItems(items []plan.SnapshotItem) []stageItem {
	out := make([]stageItem, len(items))
	for i, item := range items {
		out[i] = stageItem{SnapshotItem: item, key: item.From}
	}

	return out
}

func toItems(items []plan.SnapshotItem) []stageItem {
	out := make([]stageItem, len(items))
	for i, item := range items {
		out[i] = stageItem{SnapshotItem: item, key: item.To}
	}

	return out
}

func runStage(
	ctx context.Context,
	items []stageItem,
	registry *targets.Registry,
	globalCap int64,
	ifaceFor InterfaceFactory,
	build func(*agent.Interface, plan.SnapshotItem) *agent.Operation,
) bool {
	return iteration.Run(ctx, items, registry, globalCap,
		func(_ context.Context, item stageItem) (iteration.Operation, error) {
			iface, err := ifaceFor(item.TargetKey())
			if err != nil {
				return nil, err
			}

			return build(iface, item.SnapshotItem), nil
		},
		func(stageItem, []string, error) {},
	)
}
