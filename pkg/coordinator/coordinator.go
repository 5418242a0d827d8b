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

// Package coordinator drives the activation state machine of §4.F: it
// chains the distribution planner's work lists through the iteration
// engine one stage at a time, and on failure, rolls the fleet back to a
// known-good state by driving the same targets through the inverse
// operations.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/eschercloudai/disnix-go/pkg/agent"
	"github.com/eschercloudai/disnix-go/pkg/iteration"
	"github.com/eschercloudai/disnix-go/pkg/log"
	"github.com/eschercloudai/disnix-go/pkg/metrics"
	"github.com/eschercloudai/disnix-go/pkg/migrate"
	"github.com/eschercloudai/disnix-go/pkg/model"
	"github.com/eschercloudai/disnix-go/pkg/plan"
	"github.com/eschercloudai/disnix-go/pkg/targets"
)

// tracerName identifies this package's spans to whatever TracerProvider
// pkg/tracing.Init registered.
const tracerName = "github.com/eschercloudai/disnix-go/pkg/coordinator"

// timeStage runs fn inside its own span, named after stage, recording both
// the span and a Prometheus histogram observation of its wall-clock
// duration regardless of outcome, and returns whatever error fn returned.
func timeStage(ctx context.Context, stage Stage, fn func(ctx context.Context) error) error {
	timer := prometheus.NewTimer(metrics.StageDuration.WithLabelValues(string(stage)))
	defer timer.ObserveDuration()

	ctx, span := otel.Tracer(tracerName).Start(ctx, string(stage))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

// InterfaceFactory resolves the agent Interface bound to a target key. The
// same factory is threaded through every stage, including the migrate
// sub-pipeline, so that every call in a single Deploy sees a consistent
// view of which client-interface executable fronts each target.
type InterfaceFactory func(targetKey string) (*agent.Interface, error)

// Options configures a Coordinator.
type Options struct {
	// GlobalCap bounds concurrent operations across the whole fleet for
	// the lock/deactivate/activate/set-profiles/unlock stages (§4.D).
	GlobalCap int64

	// MaxConcurrentTransfers bounds concurrency for the transfer stages,
	// closure distribution and the snapshot/restore sub-pipeline, which
	// are typically I/O- rather than CPU-bound and so tuned separately (§6).
	MaxConcurrentTransfers int64

	// NoUpgrade forces every old service to deactivate and every new
	// service to activate, bypassing the unchanged-service optimisation
	// (§4.E.4).
	NoUpgrade bool

	// CoordinatorProfilePath is where the deployed manifest is persisted
	// on successful commit (§4.F COMMIT, §6).
	CoordinatorProfilePath string

	// Migrate carries the snapshot/restore options (All, TransferOnly,
	// Components) through to the TRANSFER_SNAPSHOTS stage.
	Migrate migrate.Options
}

// Coordinator owns one deployment transaction's worth of state: the target
// registry it dispatches operations against and the interface factory used
// to reach each target's agent.
type Coordinator struct {
	registry *targets.Registry
	ifaceFor InterfaceFactory
	opts     Options
}

// New builds a Coordinator over registry, resolving agents via ifaceFor.
func New(registry *targets.Registry, ifaceFor InterfaceFactory, opts Options) *Coordinator {
	return &Coordinator{registry: registry, ifaceFor: ifaceFor, opts: opts}
}

// Deploy runs the full DISTRIBUTE -> LOCK -> TRANSFER_SNAPSHOTS ->
// DEACTIVATE -> ACTIVATE -> SET_PROFILES -> UNLOCK -> COMMIT transaction
// (§4.F) transforming the fleet from oldManifest (nil if nothing has been
// deployed yet) to newManifest. On failure, the stages up to and including
// DEACTIVATE/ACTIVATE are rolled back per the table in §4.F's "Failure
// handling"; SET_PROFILES, UNLOCK and COMMIT failures are reported but
// leave their side effects in place, since by that point the fleet is
// already running the new manifest.
func (c *Coordinator) Deploy(ctx context.Context, oldManifest, newManifest *model.Manifest) error {
	logger := log.FromContext(ctx)

	c.registry.ResetReservations()

	if err := timeStage(ctx, StageDistribute, func(ctx context.Context) error { return c.distribute(ctx, newManifest) }); err != nil {
		return &StageError{Stage: StageDistribute, Err: err}
	}

	lockItems := plan.LockList(newManifest)

	var locked []plan.LockItem

	if err := timeStage(ctx, StageLock, func(ctx context.Context) error {
		var err error

		locked, err = c.lock(ctx, lockItems)

		return err
	}); err != nil {
		c.unlock(ctx, locked)

		return &StageError{Stage: StageLock, Err: err}
	}

	diff := plan.ComputeDiff(oldManifest, newManifest, c.opts.NoUpgrade)

	c.registry.ResetReservations()

	snapshots := plan.SnapshotList(oldManifest, diff.Unchanged, diff.ToActivate)

	transferErr := timeStage(ctx, StageTransferSnapshots, func(ctx context.Context) error {
		if !migrate.Run(ctx, snapshots, c.registry, c.opts.MaxConcurrentTransfers, migrate.InterfaceFactory(c.ifaceFor), c.opts.Migrate) {
			return ErrStageFailed
		}

		return nil
	})
	if transferErr != nil {
		c.unlock(ctx, locked)

		return &StageError{Stage: StageTransferSnapshots, Err: transferErr}
	}

	c.registry.ResetReservations()

	var deactivated []*model.ManifestService

	deactivateErr := timeStage(ctx, StageDeactivate, func(ctx context.Context) error {
		var err error

		deactivated, err = c.deactivate(ctx, diff.ToDeactivate)

		return err
	})
	if deactivateErr != nil {
		logger.Error(deactivateErr, "deactivation failed, rolling back")

		c.reactivate(ctx, reversed(deactivated))
		c.unlock(ctx, locked)

		return &StageError{Stage: StageDeactivate, Err: deactivateErr}
	}

	c.registry.ResetReservations()

	var activated []*model.ManifestService

	activateErr := timeStage(ctx, StageActivate, func(ctx context.Context) error {
		var err error

		activated, err = c.activate(ctx, diff.ToActivate)

		return err
	})
	if activateErr != nil {
		logger.Error(activateErr, "activation failed, rolling back")

		c.deactivateBestEffort(ctx, reversed(activated))
		c.reactivate(ctx, reversed(deactivated))
		c.unlock(ctx, locked)

		return &StageError{Stage: StageActivate, Err: activateErr}
	}

	if err := timeStage(ctx, StageSetProfiles, func(ctx context.Context) error { return c.setProfiles(ctx, lockItems, newManifest) }); err != nil {
		return &StageError{Stage: StageSetProfiles, Err: err}
	}

	if err := timeStage(ctx, StageUnlock, func(ctx context.Context) error { return c.unlockChecked(ctx, locked) }); err != nil {
		return &StageError{Stage: StageUnlock, Err: err}
	}

	if err := timeStage(ctx, StageCommit, func(_ context.Context) error { return c.commit(newManifest) }); err != nil {
		return &StageError{Stage: StageCommit, Err: err}
	}

	return nil
}

func (c *Coordinator) iface(targetKey string) (*agent.Interface, error) {
	return c.ifaceFor(targetKey)
}

func (c *Coordinator) distribute(ctx context.Context, newManifest *model.Manifest) error {
	items := plan.ClosureList(newManifest, nil)
	if len(items) == 0 {
		return nil
	}

	var firstErr error

	ok := iteration.Run(ctx, items, c.registry, c.opts.MaxConcurrentTransfers,
		func(_ context.Context, item plan.ClosureItem) (iteration.Operation, error) {
			iface, err := c.iface(item.Target)
			if err != nil {
				return nil, err
			}

			return iface.CopyClosureTo([]string{item.StorePath}), nil
		},
		func(_ plan.ClosureItem, _ []string, err error) {
			if err != nil && firstErr == nil {
				firstErr = err
			}
		},
	)

	if !ok {
		if firstErr == nil {
			firstErr = ErrStageFailed
		}

		return firstErr
	}

	return nil
}

// lock acquires every target's coordination lock, returning the items
// successfully locked so far even when it ultimately fails, so the caller
// can unlock exactly those (§4.F LOCK).
func (c *Coordinator) lock(ctx context.Context, items []plan.LockItem) ([]plan.LockItem, error) {
	if len(items) == 0 {
		return nil, nil
	}

	var (
		locked   []plan.LockItem
		firstErr error
	)

	ok := iteration.Run(ctx, items, c.registry, c.opts.GlobalCap,
		func(_ context.Context, item plan.LockItem) (iteration.Operation, error) {
			iface, err := c.iface(item.Target)
			if err != nil {
				return nil, err
			}

			return iface.Lock(item.Profile), nil
		},
		func(item plan.LockItem, _ []string, err error) {
			if err != nil {
				if errors.Is(err, agent.ErrAgentFailure) {
					err = fmt.Errorf("%w: %w", &LockConflictError{Target: item.Target}, err)
				}

				if firstErr == nil {
					firstErr = err
				}

				return
			}

			locked = append(locked, item)
		},
	)

	if !ok {
		if firstErr == nil {
			firstErr = ErrStageFailed
		}

		return locked, firstErr
	}

	return locked, nil
}

// unlock releases locks best-effort: rollback must not itself abort
// partway and leave targets locked forever, so failures are logged rather
// than propagated (§4.F "Failure handling", ErrPartialRollback case).
func (c *Coordinator) unlock(ctx context.Context, items []plan.LockItem) {
	logger := log.FromContext(ctx)

	for _, item := range items {
		iface, err := c.iface(item.Target)
		if err != nil {
			logger.Error(err, "cannot resolve interface to unlock", "target", item.Target)

			continue
		}

		if _, err := iface.Unlock(item.Profile).Run(ctx); err != nil {
			logger.Error(err, "unlock failed during rollback", "target", item.Target)
		}
	}
}

// unlockChecked is the non-rollback UNLOCK stage: a real failure here is
// reported, but per §4.F's table the fleet is left running the new
// manifest rather than rolled back, since activation already committed.
func (c *Coordinator) unlockChecked(ctx context.Context, items []plan.LockItem) error {
	if len(items) == 0 {
		return nil
	}

	var firstErr error

	ok := iteration.Run(ctx, items, c.registry, c.opts.GlobalCap,
		func(_ context.Context, item plan.LockItem) (iteration.Operation, error) {
			iface, err := c.iface(item.Target)
			if err != nil {
				return nil, err
			}

			return iface.Unlock(item.Profile), nil
		},
		func(_ plan.LockItem, _ []string, err error) {
			if err != nil && firstErr == nil {
				firstErr = err
			}
		},
	)

	if !ok {
		if firstErr == nil {
			firstErr = ErrStageFailed
		}

		return firstErr
	}

	return nil
}

// deactivate walks toDeactivate in forward dependency-safe waves (§4.E.5),
// returning the services that were deactivated before a failure, in the
// order they were deactivated, so rollback can reactivate them in reverse.
func (c *Coordinator) deactivate(ctx context.Context, toDeactivate []*model.ManifestService) ([]*model.ManifestService, error) {
	var done []*model.ManifestService

	for _, wave := range plan.DeactivationWaves(toDeactivate) {
		items := toActivationItems(wave)

		var firstErr error

		ok := iteration.Run(ctx, items, c.registry, c.opts.GlobalCap,
			func(_ context.Context, item plan.ActivationItem) (iteration.Operation, error) {
				return c.deactivateOp(item.Service)
			},
			func(item plan.ActivationItem, _ []string, err error) {
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}

					return
				}

				done = append(done, item.Service)
			},
		)

		if !ok {
			if firstErr == nil {
				firstErr = ErrStageFailed
			}

			return done, firstErr
		}
	}

	return done, nil
}

// activate walks toActivate in reverse dependency-safe waves (§4.E.5),
// returning the services activated before a failure, in activation order.
func (c *Coordinator) activate(ctx context.Context, toActivate []*model.ManifestService) ([]*model.ManifestService, error) {
	var done []*model.ManifestService

	for _, wave := range plan.ActivationWaves(toActivate) {
		items := toActivationItems(wave)

		var firstErr error

		ok := iteration.Run(ctx, items, c.registry, c.opts.GlobalCap,
			func(_ context.Context, item plan.ActivationItem) (iteration.Operation, error) {
				return c.activateOp(item.Service)
			},
			func(item plan.ActivationItem, _ []string, err error) {
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}

					return
				}

				done = append(done, item.Service)
			},
		)

		if !ok {
			if firstErr == nil {
				firstErr = ErrStageFailed
			}

			return done, firstErr
		}
	}

	return done, nil
}

// reactivate re-activates services best-effort during rollback, logging
// rather than propagating failures (same rationale as unlock).
func (c *Coordinator) reactivate(ctx context.Context, services []*model.ManifestService) {
	logger := log.FromContext(ctx)

	for _, s := range services {
		op, err := c.activateOp(s)
		if err != nil {
			logger.Error(err, "cannot resolve interface to reactivate", "service", s.Name, "target", s.Target)

			continue
		}

		if _, err := op.Run(ctx); err != nil {
			logger.Error(err, "reactivation failed during rollback", "service", s.Name, "target", s.Target)
		}
	}
}

// deactivateBestEffort undoes an in-progress ACTIVATE during rollback.
func (c *Coordinator) deactivateBestEffort(ctx context.Context, services []*model.ManifestService) {
	logger := log.FromContext(ctx)

	for _, s := range services {
		op, err := c.deactivateOp(s)
		if err != nil {
			logger.Error(err, "cannot resolve interface to deactivate", "service", s.Name, "target", s.Target)

			continue
		}

		if _, err := op.Run(ctx); err != nil {
			logger.Error(err, "deactivation failed during rollback", "service", s.Name, "target", s.Target)
		}
	}
}

func (c *Coordinator) activateOp(s *model.ManifestService) (*agent.Operation, error) {
	iface, err := c.iface(s.Target)
	if err != nil {
		return nil, err
	}

	return iface.Activate(s.Container, s.Type, toKeyValues(s.Arguments), s.Service), nil
}

func (c *Coordinator) deactivateOp(s *model.ManifestService) (*agent.Operation, error) {
	iface, err := c.iface(s.Target)
	if err != nil {
		return nil, err
	}

	return iface.Deactivate(s.Container, s.Type, toKeyValues(s.Arguments), s.Service), nil
}

// setProfiles points each target's profile at the new manifest's store
// path for that target (§4.F SET_PROFILES).
func (c *Coordinator) setProfiles(ctx context.Context, items []plan.LockItem, newManifest *model.Manifest) error {
	storePath := make(map[string]string, len(newManifest.Profiles))
	for _, p := range newManifest.Profiles {
		storePath[p.Target] = p.StorePath
	}

	var firstErr error

	ok := iteration.Run(ctx, items, c.registry, c.opts.GlobalCap,
		func(_ context.Context, item plan.LockItem) (iteration.Operation, error) {
			iface, err := c.iface(item.Target)
			if err != nil {
				return nil, err
			}

			return iface.Set(item.Profile, storePath[item.Target]), nil
		},
		func(_ plan.LockItem, _ []string, err error) {
			if err != nil && firstErr == nil {
				firstErr = err
			}
		},
	)

	if !ok {
		if firstErr == nil {
			firstErr = ErrStageFailed
		}

		return firstErr
	}

	return nil
}

// commit persists newManifest as the coordinator profile, the durable
// record of what is now deployed, consulted as oldManifest on the next
// Deploy (§4.F COMMIT, §6).
func (c *Coordinator) commit(newManifest *model.Manifest) error {
	if c.opts.CoordinatorProfilePath == "" {
		return nil
	}

	f, err := os.Create(c.opts.CoordinatorProfilePath)
	if err != nil {
		return fmt.Errorf("opening coordinator profile: %w", err)
	}

	defer f.Close()

	if err := model.SaveManifest(f, newManifest); err != nil {
		return fmt.Errorf("writing coordinator profile: %w", err)
	}

	return nil
}

func toActivationItems(services []*model.ManifestService) []plan.ActivationItem {
	items := make([]plan.ActivationItem, len(services))
	for i, s := range services {
		items[i] = plan.ActivationItem{Service: s}
	}

	return items
}

func toKeyValues(args []model.Argument) []agent.KeyValue {
	if len(args) == 0 {
		return nil
	}

	kvs := make([]agent.KeyValue, len(args))
	for i, a := range args {
		kvs[i] = agent.KeyValue{Key: a.Key, Value: a.Value}
	}

	return kvs
}

func reversed(services []*model.ManifestService) []*model.ManifestService {
	out := make([]*model.ManifestService, len(services))

	for i, s := range services {
		out[len(services)-1-i] = s
	}

	return out
}
