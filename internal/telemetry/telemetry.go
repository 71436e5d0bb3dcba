package telemetry

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const namespace = "qms"

type Options struct {
	ServiceName string
	Version     string
	// InstanceID tells replicas apart; the host name when empty.
	InstanceID  string
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

// Setup installs an OTLP tracer provider when an endpoint is configured. The
// returned function flushes and stops it.
func Setup(opts Options) func(context.Context) error {
	if opts.Endpoint == "" {
		return func(context.Context) error { return nil }
	}

	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(context.Background(), exporterOpts...)
	if err != nil {
		log.Error().Err(err).Str("endpoint", opts.Endpoint).Msg("otel exporter")
		return func(context.Context) error { return nil }
	}

	res, err := newResource(opts)
	if err != nil {
		log.Warn().Err(err).Msg("otel resource")
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(sampler(opts.SampleRatio)),
	)
	otel.SetTracerProvider(provider)
	log.Info().Str("endpoint", opts.Endpoint).Float64("sample_ratio", opts.SampleRatio).Msg("tracing enabled")

	return provider.Shutdown
}

func newResource(opts Options) (*resource.Resource, error) {
	instance := opts.InstanceID
	if instance == "" {
		instance, _ = os.Hostname()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceNamespace(namespace),
		semconv.ServiceVersion(version),
		semconv.ServiceInstanceID(instance),
	))
}

// sampler keeps the caller's decision for propagated traces and samples new
// roots at ratio.
func sampler(ratio float64) trace.Sampler {
	switch {
	case ratio >= 1:
		return trace.ParentBased(trace.AlwaysSample())
	case ratio <= 0:
		return trace.ParentBased(trace.NeverSample())
	default:
		return trace.ParentBased(trace.TraceIDRatioBased(ratio))
	}
}
