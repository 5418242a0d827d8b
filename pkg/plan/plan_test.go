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

package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/disnix-go/pkg/model"
	"github.com/eschercloudai/disnix-go/pkg/plan"
)

func svc(name, target string, deps ...*model.ManifestService) *model.ManifestService {
	return &model.ManifestService{Name: name, Target: target, Container: "default", Service: "/nix/store/" + name, DependsOn: deps}
}

// TestComputeDiffUpgrade reproduces scenario S3: old={A@T1,B@T1},
// new={B@T1,C@T2}. toDeactivate={A}, toActivate={C}, unchanged={B}.
func TestComputeDiffUpgrade(t *testing.T) {
	t.Parallel()

	a := svc("A", "t1")
	b := svc("B", "t1")
	c := svc("C", "t2")

	oldManifest := &model.Manifest{Services: []*model.ManifestService{a, b}}
	newManifest := &model.Manifest{Services: []*model.ManifestService{b, c}}

	diff := plan.ComputeDiff(oldManifest, newManifest, false)

	require.Len(t, diff.ToDeactivate, 1)
	assert.Equal(t, "A", diff.ToDeactivate[0].Name)

	require.Len(t, diff.ToActivate, 1)
	assert.Equal(t, "C", diff.ToActivate[0].Name)

	require.Len(t, diff.Unchanged, 1)
	assert.Equal(t, "B", diff.Unchanged[0].Name)
}

func TestComputeDiffNoUpgrade(t *testing.T) {
	t.Parallel()

	a := svc("A", "t1")
	b := svc("B", "t1")

	oldManifest := &model.Manifest{Services: []*model.ManifestService{a}}
	newManifest := &model.Manifest{Services: []*model.ManifestService{b}}

	diff := plan.ComputeDiff(oldManifest, newManifest, true)

	require.Len(t, diff.ToDeactivate, 1)
	require.Len(t, diff.ToActivate, 1)
	assert.Empty(t, diff.Unchanged)
}

// TestActivationWaves reproduces scenario S2's dependency chain A <- B <- C.
func TestActivationWaves(t *testing.T) {
	t.Parallel()

	a := svc("A", "t1")
	b := svc("B", "t1", a)
	c := svc("C", "t1", b)

	waves := plan.ActivationWaves([]*model.ManifestService{c, b, a})

	require.Len(t, waves, 3)
	assert.Equal(t, "A", waves[0][0].Name)
	assert.Equal(t, "B", waves[1][0].Name)
	assert.Equal(t, "C", waves[2][0].Name)
}

func TestDeactivationWavesForwardOrder(t *testing.T) {
	t.Parallel()

	a := svc("A", "t1")
	b := svc("B", "t1", a)
	c := svc("C", "t1", b)

	// Deactivation must happen in the order C, B, A: nothing may be
	// deactivated before everything depending on it already has been.
	waves := plan.DeactivationWaves([]*model.ManifestService{a, b, c})

	require.Len(t, waves, 3)
	assert.Equal(t, "C", waves[0][0].Name)
	assert.Equal(t, "B", waves[1][0].Name)
	assert.Equal(t, "A", waves[2][0].Name)
}

func TestSnapshotListMigratesOnTargetChange(t *testing.T) {
	t.Parallel()

	oldManifest := &model.Manifest{Services: []*model.ManifestService{
		{Name: "db", Container: "default", Target: "t1"},
	}}

	moved := &model.ManifestService{Name: "db", Container: "default", Target: "t2"}

	items := plan.SnapshotList(oldManifest, []*model.ManifestService{moved}, nil)

	require.Len(t, items, 1)
	assert.Equal(t, "t1", items[0].From)
	assert.Equal(t, "t2", items[0].To)
}

func TestLockListDeduplicatesTargets(t *testing.T) {
	t.Parallel()

	m := &model.Manifest{Profiles: []model.ProfileMapping{
		{Target: "t1", Profile: "default"},
		{Target: "t1", Profile: "default"},
		{Target: "t2", Profile: "default"},
	}}

	items := plan.LockList(m)
	require.Len(t, items, 2)
}
