// Package tracing configures OpenTelemetry for the mock registry. Spans
// cover registry request handling and callback delivery; W3C trace
// context is injected into callback POSTs so a harness can join them.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"

	DefaultServiceName  = "spdci-registry-mock"
	DefaultOTLPEndpoint = "localhost:4317"
)

type Config struct {
	// Exporter is one of none, stdout or otlp. none disables tracing.
	Exporter     string
	OTLPEndpoint string
	// SampleRate is the fraction of root traces sampled; <= 0 means 1.
	SampleRate  float64
	ServiceName string
}

// Provider wraps the tracer provider. A disabled Provider hands out a
// no-op tracer.
type Provider struct {
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	enabled    bool
}

// NewProvider builds the provider for cfg and installs it globally when
// tracing is enabled.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case ExporterNone, "":
		return Disabled(), nil
	case ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
	case ExporterOTLP:
		endpoint := cfg.OTLPEndpoint
		if endpoint == "" {
			endpoint = DefaultOTLPEndpoint
		}
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.Exporter)
	}

	p := WithExporter(cfg, sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(p.provider)
	otel.SetTextMapPropagator(p.propagator)
	return p, nil
}

// WithExporter builds an enabled provider around a span processor option,
// such as sdktrace.WithSyncer for an in-memory test exporter. It does not
// touch the global provider.
func WithExporter(cfg Config, processor sdktrace.TracerProviderOption) *Provider {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	// NewSchemaless avoids schema URL conflicts with resource.Default().
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
		processor,
	)
	return &Provider{
		provider:   provider,
		tracer:     provider.Tracer(serviceName),
		propagator: newPropagator(),
		enabled:    true,
	}
}

func Disabled() *Provider {
	return &Provider{
		tracer:     noop.NewTracerProvider().Tracer("noop"),
		propagator: newPropagator(),
	}
}

func newPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

func (p *Provider) Propagator() propagation.TextMapPropagator {
	return p.propagator
}

func (p *Provider) Enabled() bool {
	return p.enabled
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}
