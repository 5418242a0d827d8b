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

// Package config defines the CLI-wide option surface shared by the deploy
// and migrate verbs, following the same Options-struct-with-AddFlags
// convention as pkg/managers/options.
package config

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/eschercloudai/disnix-go/pkg/cmd/util/flags"
)

// profileEnvVar overrides --profile when set, matching the precedent set
// by pkg/util/flags for environment-overridable defaults.
const profileEnvVar = "DISNIX_PROFILE"

// Options carries the flags common to every subcommand that loads a model
// and drives the coordinator or migrator against it.
type Options struct {
	// InfrastructureXML is the path to the infrastructure model document.
	InfrastructureXML string

	// ManifestXML is the path to the new (desired) manifest document.
	ManifestXML string

	// OldManifestXML is the path to the previously deployed manifest, if
	// any; empty means "nothing deployed yet" (a fresh deploy).
	OldManifestXML string

	// Profile holds the --profile value, defaulting from DISNIX_PROFILE.
	// The deploy and migrate verbs do not read it: the profile each
	// target locks, unlocks and sets comes from that target's profile
	// mapping in the new manifest.
	Profile string

	// CoordinatorProfilePath is where the coordinator commits the new
	// manifest on success (§4.F COMMIT stage).
	CoordinatorProfilePath string

	// MaxConcurrentTransfers bounds simultaneous closure/snapshot
	// transfers (§4.D), separately from per-stage activation
	// concurrency.
	MaxConcurrentTransfers int64

	// GlobalCap bounds simultaneous agent operations across every
	// target for the activation stages (§4.D).
	GlobalCap int64

	// NoUpgrade disables the unchanged-service optimisation: every
	// service in the old manifest is deactivated and every service in
	// the new one activated, regardless of diff (§4.E.4).
	NoUpgrade bool

	// TransferOnly stops a migration after copying snapshots, omitting
	// the restore stage (§4.G).
	TransferOnly bool

	// All widens snapshot copying from latest-only to every generation
	// (§4.G).
	All bool

	// LogLevel selects the verbosity passed to pkg/log.New.
	LogLevel string

	// MetricsAddress, if non-empty, serves pkg/metrics.Registry over
	// HTTP for external scraping.
	MetricsAddress string

	// OTLPEndpoint, if non-empty, is the collector address spans are
	// batch-exported to over OTLP/HTTP. Empty means spans are created
	// but never exported.
	OTLPEndpoint string
}

// AddFlags registers every option onto cmd, following the
// pkg/cmd/util/flags.RequiredStringVar convention for the two paths a
// stage cannot run without, and plain pflag registration for the rest.
func (o *Options) AddFlags(cmd *cobra.Command) {
	flags.RequiredStringVar(cmd, &o.InfrastructureXML, "infrastructure", "", "Path to the infrastructure model XML document")
	flags.RequiredStringVar(cmd, &o.ManifestXML, "manifest", "", "Path to the desired manifest XML document")

	f := cmd.Flags()

	f.StringVar(&o.OldManifestXML, "old-manifest", "", "Path to the previously deployed manifest XML document, if any")
	f.StringVar(&o.Profile, "profile", defaultProfile(), "Deployment profile name (overridable via "+profileEnvVar+")")
	f.StringVar(&o.CoordinatorProfilePath, "coordinator-profile-path", "", "Path to commit the new manifest to on success")
	f.Int64Var(&o.MaxConcurrentTransfers, "max-concurrent-transfers", 4, "Maximum number of simultaneous closure/snapshot transfers")
	f.Int64Var(&o.GlobalCap, "max-concurrency", 16, "Maximum number of simultaneous agent operations across all targets")
	f.BoolVar(&o.NoUpgrade, "no-upgrade", false, "Disable the unchanged-service optimisation")
	f.BoolVar(&o.TransferOnly, "transfer-only", false, "Stop after transferring snapshots, skipping restore")
	f.BoolVar(&o.All, "all", false, "Copy every snapshot generation rather than only the latest")
	f.StringVar(&o.LogLevel, "log-level", "info", "Logging verbosity: debug, info or error")
	f.StringVar(&o.MetricsAddress, "metrics-address", "", "Address to serve Prometheus metrics on, e.g. :9090 (disabled if empty)")
	f.StringVar(&o.OTLPEndpoint, "otlp-endpoint", "", "OTLP/HTTP collector address to export coordinator stage spans to (disabled if empty)")
}

// defaultProfile resolves the --profile default from DISNIX_PROFILE,
// falling back to "default" when unset, matching the original's own
// environment-overridable default (§2.3).
func defaultProfile() string {
	if p := os.Getenv(profileEnvVar); p != "" {
		return p
	}

	return "default"
}
