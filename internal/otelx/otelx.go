// Package otelx wires the global OpenTelemetry tracer provider.
package otelx

import (
	"context"
	"crypto/tls"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/keithlinneman/tapcommand-web/internal/xerrors"
)

type Options struct {
	Enabled  bool
	Endpoint string
	// Insecure uses a plaintext connection (local collector sidecar).
	// Otherwise TLS is used, verified against CAFile when set or the
	// system roots.
	Insecure  bool
	CAFile    string
	Sample    float64
	Service   string
	Component string
	Version   string
}

func propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	)
}

// transportCredentials picks the exporter transport security.
func transportCredentials(o Options) (otlptracegrpc.Option, error) {
	if o.Insecure {
		return otlptracegrpc.WithInsecure(), nil
	}
	if o.CAFile != "" {
		creds, err := credentials.NewClientTLSFromFile(o.CAFile, "")
		if err != nil {
			return nil, xerrors.Wrapf(err, "load otlp ca file %s", o.CAFile)
		}
		return otlptracegrpc.WithTLSCredentials(creds), nil
	}
	return otlptracegrpc.WithTLSCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})), nil
}

// Init installs the tracer provider and propagator. When disabled a
// non-exporting SDK provider is installed so spans still carry IDs for
// log correlation.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		otel.SetTextMapPropagator(propagator())
		return func(context.Context) error { return nil }, nil
	}
	if o.Endpoint == "" {
		return nil, xerrors.New("otlp endpoint is required when tracing is enabled")
	}

	sec, err := transportCredentials(o)
	if err != nil {
		return nil, err
	}

	// the exporter dial blocks without a deadline
	dialCtx, dialCancel := context.WithTimeout(ctx, 3*time.Second)
	defer dialCancel()
	exp, err := otlptracegrpc.New(dialCtx, otlptracegrpc.WithEndpoint(o.Endpoint), sec)
	if err != nil {
		return nil, xerrors.Wrap(err, "create otlp exporter")
	}

	name := o.Service
	if o.Component != "" {
		name += "." + o.Component
	}
	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(o.Version),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(o.Sample),
		)),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagator())

	return tp.Shutdown, nil
}
