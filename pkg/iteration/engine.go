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

// Package iteration is the bounded concurrent iteration engine of §4.D:
// given a sequence of items and a function item -> Operation, it runs up
// to a global cap concurrently, bounded per-target by the reservations in
// pkg/targets, and collects per-item success/failure.
//
// The source's single coordinator thread multiplexing child completion
// via an OS wait primitive is re-expressed the idiomatic Go way, the same
// way pkg/provisioners/concurrent.Provisioner fans a slice of child
// provisioners out over golang.org/x/sync/errgroup: one goroutine per
// dispatched item, a golang.org/x/sync/semaphore.Weighted for the global
// cap, and pkg/targets.Registry.TryAcquire/Release for the per-target
// bound.
package iteration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/eschercloudai/disnix-go/pkg/agent"
	"github.com/eschercloudai/disnix-go/pkg/log"
	"github.com/eschercloudai/disnix-go/pkg/metrics"
	"github.com/eschercloudai/disnix-go/pkg/model"
	"github.com/eschercloudai/disnix-go/pkg/targets"
)

// Item is one unit of work submitted to the engine. TargetKey identifies
// which target's core reservation this item consumes.
type Item interface {
	TargetKey() string
}

// Operation abstracts the two process flavours of §4.C behind the single
// shape the engine needs: something that runs to completion and yields
// either an error or a string result (nil for detached operations).
type Operation interface {
	Run(ctx context.Context) ([]string, error)
}

// MapFunc builds the Operation for one item.
type MapFunc[T Item] func(ctx context.Context, item T) (Operation, error)

// CompleteFunc is invoked once per item, after its Operation has run (or
// after MapFunc itself failed to produce one). result is nil for detached
// operations or any operation that failed.
type CompleteFunc[T Item] func(item T, result []string, err error)

// pollInterval is how often a blocked dispatch loop re-checks whether a
// per-target reservation has freed up. Completions also proactively wake
// the loop, so this is only a safety net bound, not the steady-state
// latency.
const pollInterval = 10 * time.Millisecond

// Run walks items in order, dispatching each as soon as both the global
// cap and the item's target reservation allow, and blocks until every
// item has either completed or been skipped after an earlier abort. It
// returns false iff an item's target is unknown, an item's Operation failed
// to build or run, or ctx was cancelled before every item was dispatched;
// otherwise the result is the conjunction of every completion's success
// (§4.D.2).
//
// Ordering guarantees: dispatch order equals item order; completion order
// is arbitrary (§4.D "Ordering guarantees").
func Run[T Item](
	ctx context.Context,
	items []T,
	registry *targets.Registry,
	globalCap int64,
	mapFn MapFunc[T],
	onComplete CompleteFunc[T],
) bool {
	logger := log.FromContext(ctx)

	sem := semaphore.NewWeighted(globalCap)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success = true
	)

	done := make(chan struct{}, len(items)+1)

	markFailed := func() {
		mu.Lock()
		success = false
		mu.Unlock()
	}

	for _, item := range items {
		item := item

		mu.Lock()
		stillOK := success
		mu.Unlock()

		if !stillOK {
			// An earlier item in this stage already failed: no new
			// items are dispatched, but in-flight ones are left to
			// complete (§7 propagation policy).
			continue
		}

		if ctx.Err() != nil {
			markFailed()

			break
		}

		if _, ok := registry.Find(item.TargetKey()); !ok {
			// The target does not exist in the loaded infrastructure at
			// all, as opposed to existing but momentarily out of free
			// cores: TryAcquire would return false forever for this key,
			// so fail the item immediately instead of polling (§7
			// UnknownTarget).
			markFailed()
			onComplete(item, nil, fmt.Errorf("%w: %q", model.ErrUnknownTarget, item.TargetKey()))

			continue
		}

		for {
			if err := sem.Acquire(ctx, 1); err != nil {
				markFailed()

				break
			}

			if registry.TryAcquire(item.TargetKey()) {
				break
			}

			sem.Release(1)

			select {
			case <-done:
			case <-time.After(pollInterval):
			case <-ctx.Done():
				markFailed()
			}

			if ctx.Err() != nil {
				break
			}
		}

		if ctx.Err() != nil {
			markFailed()

			break
		}

		// Resources for this item were acquired while waiting on an
		// earlier, concurrently-running item; re-check success now
		// that we hold them; an intervening failure still means no
		// new dispatch (§7), so give the reservation straight back.
		mu.Lock()
		stillOK = success
		mu.Unlock()

		if !stillOK {
			sem.Release(1)
			registry.Release(item.TargetKey())

			continue
		}

		wg.Add(1)

		metrics.InFlightOperations.WithLabelValues(item.TargetKey()).Inc()

		go func() {
			defer wg.Done()
			defer sem.Release(1)
			defer registry.Release(item.TargetKey())
			defer func() { done <- struct{}{} }()
			defer metrics.InFlightOperations.WithLabelValues(item.TargetKey()).Dec()

			op, err := mapFn(ctx, item)
			if err != nil {
				logger.Error(err, "failed to build operation", "target", item.TargetKey())
				markFailed()
				onComplete(item, nil, err)

				return
			}

			result, err := op.Run(ctx)
			if err != nil {
				logger.Error(err, "agent operation failed", "target", item.TargetKey())
				markFailed()
				metrics.OperationFailures.WithLabelValues(verbOf(err)).Inc()
			}

			onComplete(item, result, err)
		}()
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()

	return success
}

// verbOf extracts the client-interface verb from an agent execution error
// for metric labelling, falling back to "unknown" for errors that did not
// originate from an agent process (e.g. mapFn construction failures).
func verbOf(err error) string {
	var execErr *agent.ExecError
	if errors.As(err, &execErr) {
		return execErr.Verb
	}

	return "unknown"
}
