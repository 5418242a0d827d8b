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

	"github.com/spf13/cobra"

	"github.com/eschercloudai/disnix-go/pkg/config"
	"github.com/eschercloudai/disnix-go/pkg/coordinator"
	"github.com/eschercloudai/disnix-go/pkg/log"
	"github.com/eschercloudai/disnix-go/pkg/migrate"
	"github.com/eschercloudai/disnix-go/pkg/tracing"
)

// newDeployCommand returns the "deploy" verb: load the infrastructure and
// manifest models and drive the activation coordinator's full state
// machine (§4.F) to bring the fleet to the desired manifest.
func newDeployCommand() *cobra.Command {
	o := &config.Options{}

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a manifest across the infrastructure.",
		Long:  "Compute the activation diff against the previous manifest, if any, and run it through the activation coordinator.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, o)
		},
	}

	o.AddFlags(cmd)

	return cmd
}

func runDeploy(cmd *cobra.Command, o *config.Options) error {
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

	stopMetrics := maybeServeMetrics(o, logger)
	defer stopMetrics()

	c := coordinator.New(registry, interfaceFactory(registry), coordinator.Options{
		GlobalCap:              o.GlobalCap,
		MaxConcurrentTransfers: o.MaxConcurrentTransfers,
		NoUpgrade:              o.NoUpgrade,
		CoordinatorProfilePath: o.CoordinatorProfilePath,
		Migrate: migrate.Options{
			All: o.All,
		},
	})

	return c.Deploy(ctx, oldManifest, newManifest)
}
