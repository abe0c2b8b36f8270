// Package telemetry configures OpenTelemetry tracing for the crawler.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/nick-cb/game-reseller-scraper/internal/config"
)

// Telemetry owns the tracer provider installed by Setup.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
}

// Shutdown flushes and stops the exporter. It is a no-op when tracing is disabled.
func (t Telemetry) Shutdown(ctx context.Context) error {
	if t.TracerProvider == nil {
		return nil
	}
	return errors.Join(t.TracerProvider.ForceFlush(ctx), t.TracerProvider.Shutdown(ctx))
}

// Setup installs a global tracer provider exporting over OTLP/HTTP. With no
// endpoint configured the global no-op provider is left in place.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (Telemetry, error) {
	if cfg.OTLPEndpoint == "" {
		return Telemetry{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	r, err := newResource(cfg.ServiceName)
	if err != nil {
		return Telemetry{}, err
	}
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint),
		otlptracehttp.WithHeaders(cfg.Headers),
	)
	if err != nil {
		return Telemetry{}, err
	}
	slog.Info("tracer export initialized", "type", "http", "endpoint", cfg.OTLPEndpoint)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
	)
	otel.SetTracerProvider(provider)
	return Telemetry{TracerProvider: provider}, nil
}

func newResource(serviceName string) (*resource.Resource, error) {
	if serviceName == "" {
		serviceName = "gamecrawler"
	}
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}
