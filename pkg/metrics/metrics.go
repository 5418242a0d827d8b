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

// Package metrics exposes the deployment core's own Prometheus registry,
// separate from controller-runtime's since this binary isn't a Kubernetes
// operator. cmd/disnix's deploy and migrate verbs serve Registry over HTTP
// via pkg/cmd/metrics.go when --metrics-address is set.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry collects every metric this module registers.
//
//nolint:gochecknoglobals
var Registry = prometheus.NewRegistry()

//nolint:gochecknoglobals
var (
	// InFlightOperations is the number of operations currently dispatched
	// by the iteration engine, labelled by target.
	InFlightOperations = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "disnix_inflight_operations",
		Help: "Number of operations currently dispatched per target",
	}, []string{"target"})

	// StageDuration times each activation coordinator stage (§4.F).
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "disnix_stage_duration_seconds",
		Help: "Time taken to run one activation coordinator stage",
		Buckets: []float64{
			0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600,
		},
	}, []string{"stage"})

	// OperationFailures counts failed agent operations, labelled by verb.
	OperationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "disnix_operation_failures_total",
		Help: "Number of agent operations that returned a non-zero exit status",
	}, []string{"verb"})
)

//nolint:gochecknoinits
func init() {
	Registry.MustRegister(InFlightOperations, StageDuration, OperationFailures)
}
