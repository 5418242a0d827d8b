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

// Package cmd builds the disnix command tree: deploy, migrate and version,
// following the same Generate()-returns-a-cobra.Command convention as the
// original create/delete/get command tree.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/eschercloudai/disnix-go/pkg/constants"
)

const rootLongDesc = `Distributed deployment orchestration.

This tool loads an infrastructure model and a desired manifest, computes
the activation diff against whatever was previously deployed, and drives
the resulting distribute/lock/transfer/deactivate/activate/unlock/commit
sequence across the target machines named in the infrastructure model via
their client-interface executables. The 'migrate' command runs just the
snapshot/restore half of that sequence standalone, for moving component
state between targets outside of a full deploy.`

// newRootCommand returns the root command and all its subordinates.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   constants.Application,
		Short: "Distributed deployment orchestration.",
		Long:  rootLongDesc,
	}

	commands := []*cobra.Command{
		newVersionCommand(),
		newDeployCommand(),
		newMigrateCommand(),
	}

	cmd.AddCommand(commands...)

	return cmd
}

// Generate creates a hierarchy of cobra commands for the application.  It can
// also be used to walk the structure and generate HTML documentation for example.
func Generate() *cobra.Command {
	return newRootCommand()
}
