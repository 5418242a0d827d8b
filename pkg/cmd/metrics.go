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
	"net/http"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eschercloudai/disnix-go/pkg/config"
	"github.com/eschercloudai/disnix-go/pkg/metrics"
)

// maybeServeMetrics starts an HTTP server exposing pkg/metrics.Registry when
// o.MetricsAddress is set, returning a func that shuts it down. It is a
// no-op, returning a no-op stop func, when metrics serving was not
// requested.
func maybeServeMetrics(o *config.Options, logger logr.Logger) func() {
	if o.MetricsAddress == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{Registry: metrics.Registry}))

	server := &http.Server{Addr: o.MetricsAddress, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "metrics server exited")
		}
	}()

	return func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error(err, "metrics server shutdown failed")
		}
	}
}
