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

package migrate_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschercloudai/disnix-go/pkg/agent"
	"github.com/eschercloudai/disnix-go/pkg/migrate"
	"github.com/eschercloudai/disnix-go/pkg/model"
	"github.com/eschercloudai/disnix-go/pkg/plan"
	"github.com/eschercloudai/disnix-go/pkg/targets"
)

func writeFakeAgent(t *testing.T, dir, logPath string) string {
	t.Helper()

	script := `#!/bin/sh
echo "$1 $3" >> "` + logPath + `"
if [ "$1" = "$FAIL_VERB" ] && [ "$3" = "$FAIL_TARGET" ]; then
  exit 1
fi
exit 0
`

	path := filepath.Join(dir, "fake-agent.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	return path
}

func readLog(t *testing.T, logPath string) []string {
	t.Helper()

	data, err := os.ReadFile(logPath)
	if os.IsNotExist(err) {
		return nil
	}

	require.NoError(t, err)

	s := strings.TrimRight(string(data), "\n")
	if s == "" {
		return nil
	}

	return strings.Split(s, "\n")
}

func newRegistry(t *testing.T, names ...string) *targets.Registry {
	t.Helper()

	ts := make([]model.Target, 0, len(names))

	for _, n := range names {
		ts = append(ts, model.Target{
			Name:           n,
			NumOfCores:     2,
			AvailableCores: 2,
			Properties:     model.Properties{{Name: "hostname", Value: n}},
		})
	}

	r, err := targets.New(ts, "hostname")
	require.NoError(t, err)

	return r
}

// TestRunStagesReserveTheCorrectTarget checks that the snapshot and
// copy-from stages run against the source target and the copy-to and
// restore stages against the destination target (§4.G).
func TestRunStagesReserveTheCorrectTarget(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	exe := writeFakeAgent(t, dir, logPath)

	registry := newRegistry(t, "src", "dst")

	ifaceFor := func(targetKey string) (*agent.Interface, error) {
		return agent.New(exe, targetKey), nil
	}

	items := []plan.SnapshotItem{{Container: "default", Component: "db", From: "src", To: "dst"}}

	ok := migrate.Run(context.Background(), items, registry, 1, ifaceFor, migrate.Options{})
	require.True(t, ok)

	lines := readLog(t, logPath)
	assert.Contains(t, lines, "snapshot src")
	assert.Contains(t, lines, "copy-snapshots-from src")
	assert.Contains(t, lines, "copy-snapshots-to dst")
	assert.Contains(t, lines, "restore dst")

	// both reservations must have been released: a single-core-equivalent
	// acquire on either target must still succeed afterwards.
	assert.True(t, registry.TryAcquire("src"))
	assert.True(t, registry.TryAcquire("dst"))
}

func TestRunTransferOnlySkipsRestore(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	exe := writeFakeAgent(t, dir, logPath)

	registry := newRegistry(t, "src", "dst")

	ifaceFor := func(targetKey string) (*agent.Interface, error) {
		return agent.New(exe, targetKey), nil
	}

	items := []plan.SnapshotItem{{Container: "default", Component: "db", From: "src", To: "dst"}}

	ok := migrate.Run(context.Background(), items, registry, 1, ifaceFor, migrate.Options{TransferOnly: true})
	require.True(t, ok)

	lines := readLog(t, logPath)
	assert.Contains(t, lines, "copy-snapshots-to dst")
	assert.NotContains(t, lines, "restore dst")
}

func TestRunFiltersByComponent(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	exe := writeFakeAgent(t, dir, logPath)

	registry := newRegistry(t, "src", "dst")

	ifaceFor := func(targetKey string) (*agent.Interface, error) {
		return agent.New(exe, targetKey), nil
	}

	items := []plan.SnapshotItem{
		{Container: "default", Component: "db", From: "src", To: "dst"},
		{Container: "default", Component: "cache", From: "src", To: "dst"},
	}

	opts := migrate.Options{Components: []migrate.ComponentFilter{{Container: "default", Component: "db"}}}

	ok := migrate.Run(context.Background(), items, registry, 1, ifaceFor, opts)
	require.True(t, ok)

	lines := readLog(t, logPath)
	assert.Equal(t, 1, countLines(lines, "snapshot src"))
}

func TestRunStopsAfterSnapshotFailure(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "calls.log")
	exe := writeFakeAgent(t, dir, logPath)

	t.Setenv("FAIL_VERB", "snapshot")
	t.Setenv("FAIL_TARGET", "src")

	registry := newRegistry(t, "src", "dst")

	ifaceFor := func(targetKey string) (*agent.Interface, error) {
		return agent.New(exe, targetKey), nil
	}

	items := []plan.SnapshotItem{{Container: "default", Component: "db", From: "src", To: "dst"}}

	ok := migrate.Run(context.Background(), items, registry, 1, ifaceFor, migrate.Options{})
	require.False(t, ok)

	lines := readLog(t, logPath)
	assert.Contains(t, lines, "snapshot src")
	assert.NotContains(t, lines, "copy-snapshots-from src")
}

func countLines(lines []string, s string) int {
	n := 0

	for _, l := range lines {
		if l == s {
			n++
		}
	}

	return n
}
