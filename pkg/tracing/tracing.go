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

// Package tracing configures the global OpenTelemetry TracerProvider the
// activation coordinator spans its stages against. It mirrors
// pkg/server.Server's tracing setup (an OTLP/HTTP batch exporter registered
// with go.opentelemetry.io/otel/sdk/trace), minus the HTTP server this
// module has no need of: the exporter endpoint is optional, since a bare CLI
// invocation with no collector configured should still run, just without
// anywhere to send spans.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Init configures the process-wide TracerProvider. When endpoint is empty,
// spans are still created (coordinator.timeStage always opens one) but are
// never exported, so callers don't need to branch on whether tracing was
// requested. The returned shutdown func flushes any pending spans and must
// be called before the process exits.
func Init(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		provider := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(provider)

		return provider.Shutdown, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("building OTLP trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}
