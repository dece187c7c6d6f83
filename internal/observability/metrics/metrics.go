package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
	// Registerer receives the prometheus collector served on /metrics.
	// Nil means the process default registry.
	Registerer prometheus.Registerer
}

// Metrics exposes application-level instruments.
type Metrics struct {
	keysCreated      metric.Int64Counter
	keyValidations   metric.Int64Counter
	stateIssued      metric.Int64Counter
	stateValidations metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider builds the meter provider. Instruments are always readable
// through the prometheus registry; an OTLP push reader is added when
// enabled.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	promReader, err := otelprom.New(otelprom.WithRegisterer(registerer))
	if err != nil {
		return nil, fmt.Errorf("prometheus reader: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithReader(promReader),
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		)),
	}
	if cfg.Enabled {
		exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))))
		if log != nil {
			log.Info("metrics push enabled",
				zap.String("endpoint", cfg.ExporterEndpoint),
				zap.String("protocol", cfg.ExporterProtocol),
			)
		}
	}

	provider := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}
	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "identity"
	}
	meter := provider.Meter(name)

	keysCreated, err := meter.Int64Counter("identity_keys_created_total")
	if err != nil {
		return nil, err
	}
	keyValidations, err := meter.Int64Counter("identity_key_validations_total")
	if err != nil {
		return nil, err
	}
	stateIssued, err := meter.Int64Counter("oauth_states_issued_total")
	if err != nil {
		return nil, err
	}
	stateValidations, err := meter.Int64Counter("oauth_state_validations_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("identity_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		keysCreated:      keysCreated,
		keyValidations:   keyValidations,
		stateIssued:      stateIssued,
		stateValidations: stateValidations,
		rateLimitDenied:  rateLimitDenied,
	}, nil
}

// RecordKeyCreated increments issued key counts.
func (m *Metrics) RecordKeyCreated(ctx context.Context, nature string, imported bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("nature", strings.TrimSpace(nature)),
		attribute.Bool("imported", imported),
	)
	m.keysCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordKeyValidation counts validation outcomes, e.g. ok, not_found, key_revoked.
func (m *Metrics) RecordKeyValidation(ctx context.Context, nature, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("nature", strings.TrimSpace(nature)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.keyValidations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordStateIssued(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.stateIssued.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStateValidation counts state outcomes. The reason never leaves the process.
func (m *Metrics) RecordStateValidation(ctx context.Context, result, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("result", strings.TrimSpace(result)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.stateValidations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"nature":      {},
	"imported":    {},
	"result":      {},
	"endpoint":    {},
	"method":      {},
	"route":       {},
	"status_code": {},
	"provider":    {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
