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

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eschercloudai/disnix-go/pkg/config"
	"github.com/eschercloudai/disnix-go/pkg/log"
	"github.com/eschercloudai/disnix-go/pkg/migrate"
	"github.com/eschercloudai/disnix-go/pkg/plan"
	"github.com/eschercloudai/disnix-go/pkg/tracing"
)

var (
	// errMigrationFailed is returned when migrate.Run reports failure;
	// the stage at which it stopped was already logged.
	errMigrationFailed = errors.New("migration failed")

	// errInvalidComponentFilter is returned when a --component value
	// does not parse as container:component.
	errInvalidComponentFilter = errors.New("invalid component filter")
)

// newMigrateCommand returns the "migrate" verb: run the snapshot/restore
// pipeline (§4.G) for every service whose target changed between
// --old-manifest and --manifest, standalone of a full deploy.
func newMigrateCommand() *cobra.Command {
	o := &config.Options{}

	var components []string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move component state between targets.",
		Long:  "Snapshot, copy and restore the state of components that changed target between the old and new manifest, without touching activation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, o, components)
		},
	}

	o.AddFlags(cmd)
	cmd.Flags().StringSliceVar(&components, "component", nil, "Restrict the migration to container:component pairs (may be repeated); default is every changed component")

	return cmd
}

func runMigrate(cmd *cobra.Command, o *config.Options, rawComponents []string) error {
	logger := log.New(o.LogLevel)
	ctx := log.NewContext(cmd.Context(), logger)

	shutdownTracing, err := tracing.Init(ctx, o.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error(err, "tracing shutdown failed")
		}
	}()

	registry, err := loadInfrastructure(o)
	if err != nil {
		return err
	}

	newManifest, err := loadManifest(o.ManifestXML)
	if err != nil {
		return err
	}

	oldManifest, err := loadManifest(o.OldManifestXML)
	if err != nil {
		return err
	}

	diff := plan.ComputeDiff(oldManifest, newManifest, o.NoUpgrade)
	snapshots := plan.SnapshotList(oldManifest, diff.Unchanged, diff.ToActivate)

	filters, err := parseComponentFilters(rawComponents)
	if err != nil {
		return err
	}

	stopMetrics := maybeServeMetrics(o, logger)
	defer stopMetrics()

	ok := migrate.Run(ctx, snapshots, registry, o.MaxConcurrentTransfers, interfaceFactory(registry), migrate.Options{
		All:          o.All,
		TransferOnly: o.TransferOnly,
		Components:   filters,
	})
	if !ok {
		return errMigrationFailed
	}

	return nil
}

// parseComponentFilters turns "container:component" strings from the
// --component flag into migrate.ComponentFilter values.
func parseComponentFilters(raw []string) ([]migrate.ComponentFilter, error) {
	filters := make([]migrate.ComponentFilter, 0, len(raw))

	for _, r := range raw {
		container, component, ok := cutOnce(r, ':')
		if !ok {
			return nil, fmt.Errorf("%w: %q must be container:component", errInvalidComponentFilter, r)
		}

		filters = append(filters, migrate.ComponentFilter{Container: container, Component: component})
	}

	return filters, nil
}

// cutOnce splits s on the first occurrence of sep, reporting whether sep
// was present.
func cutOnce(s string, sep byte) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}

	return s, "", false
}
