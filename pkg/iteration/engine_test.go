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

package iteration_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/disnix-go/pkg/iteration"
	"github.com/eschercloudai/disnix-go/pkg/model"
	"github.com/eschercloudai/disnix-go/pkg/targets"
)

type workItem struct {
	target string
	fail   bool
	delay  time.Duration
}

func (w workItem) TargetKey() string { return w.target }

type fakeOperation struct {
	delay time.Duration
	fail  bool
}

func (f fakeOperation) Run(ctx context.Context) ([]string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if f.fail {
		return nil, errors.New("boom")
	}

	return []string{"ok"}, nil
}

func newRegistry(t *testing.T, cores int, names ...string) *targets.Registry {
	t.Helper()

	ts := make([]model.Target, 0, len(names))

	for _, n := range names {
		ts = append(ts, model.Target{
			Name:           n,
			NumOfCores:     cores,
			AvailableCores: cores,
			Properties:     model.Properties{{Name: "hostname", Value: n}},
		})
	}

	r, err := targets.New(ts, "")
	require.NoError(t, err)

	return r
}

func TestRunAllSucceed(t *testing.T) {
	t.Parallel()

	registry := newRegistry(t, 1, "t1", "t2")

	items := []workItem{{target: "t1"}, {target: "t2"}, {target: "t1"}}

	var completed int32

	ok := iteration.Run(context.Background(), items, registry, 3,
		func(_ context.Context, item workItem) (iteration.Operation, error) {
			return fakeOperation{fail: item.fail}, nil
		},
		func(_ workItem, result []string, err error) {
			require.NoError(t, err)
			assert.Equal(t, []string{"ok"}, result)
			atomic.AddInt32(&completed, 1)
		},
	)

	assert.True(t, ok)
	assert.Equal(t, int32(3), completed)
}

func TestRunReleasesReservationsOnCompletion(t *testing.T) {
	t.Parallel()

	registry := newRegistry(t, 1, "t1")

	items := []workItem{{target: "t1"}, {target: "t1"}, {target: "t1"}}

	ok := iteration.Run(context.Background(), items, registry, 8,
		func(_ context.Context, item workItem) (iteration.Operation, error) {
			return fakeOperation{delay: 5 * time.Millisecond}, nil
		},
		func(workItem, []string, error) {},
	)

	assert.True(t, ok)

	// every acquire must have been matched by a release: a single-core
	// target must still be acquirable after the run completes.
	assert.True(t, registry.TryAcquire("t1"))
}

func TestRunFailsFastOnUnknownTarget(t *testing.T) {
	t.Parallel()

	registry := newRegistry(t, 4, "t1")

	items := []workItem{{target: "no-such-target"}}

	var got error

	done := make(chan struct{})

	go func() {
		defer close(done)

		ok := iteration.Run(context.Background(), items, registry, 4,
			func(_ context.Context, item workItem) (iteration.Operation, error) {
				t.Errorf("mapFn should not be called for an unknown target")

				return fakeOperation{}, nil
			},
			func(_ workItem, _ []string, err error) {
				got = err
			},
		)

		assert.False(t, ok)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly for an unknown target; it appears to be polling forever")
	}

	require.Error(t, got)
	assert.ErrorIs(t, got, model.ErrUnknownTarget)
}

func TestRunStopsDispatchingAfterFailure(t *testing.T) {
	t.Parallel()

	registry := newRegistry(t, 4, "t1")

	items := []workItem{{target: "t1", fail: true}, {target: "t1"}, {target: "t1"}}

	var mu sync.Mutex

	var dispatched []bool

	ok := iteration.Run(context.Background(), items, registry, 1,
		func(_ context.Context, item workItem) (iteration.Operation, error) {
			mu.Lock()
			dispatched = append(dispatched, item.fail)
			mu.Unlock()

			return fakeOperation{fail: item.fail}, nil
		},
		func(workItem, []string, error) {},
	)

	assert.False(t, ok)
	// with a global cap of 1, items are fully serialized, so the
	// failing first item must stop dispatch of the rest.
	assert.Len(t, dispatched, 1)
}
