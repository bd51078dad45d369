package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
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
}

// Metrics exposes application-level instruments.
type Metrics struct {
	jobsStarted    metric.Int64Counter
	invoicesSynced metric.Int64Counter
	stepCalls      metric.Int64Counter
	emailsSent     metric.Int64Counter
	taskEnqueued   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "ordersync"
	}
	meter := provider.Meter(name)

	jobsStarted, err := meter.Int64Counter("ordersync_jobs_started_total")
	if err != nil {
		return nil, err
	}
	invoicesSynced, err := meter.Int64Counter("ordersync_invoices_synced_total")
	if err != nil {
		return nil, err
	}
	stepCalls, err := meter.Int64Counter("ordersync_step_calls_total")
	if err != nil {
		return nil, err
	}
	emailsSent, err := meter.Int64Counter("ordersync_emails_total")
	if err != nil {
		return nil, err
	}
	taskEnqueued, err := meter.Int64Counter("ordersync_tasks_enqueued_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		jobsStarted:    jobsStarted,
		invoicesSynced: invoicesSynced,
		stepCalls:      stepCalls,
		emailsSent:     emailsSent,
		taskEnqueued:   taskEnqueued,
	}, nil
}

// RecordJobStarted counts jobs created through the API or by the daily runner.
func (m *Metrics) RecordJobStarted(ctx context.Context, jobType, trigger string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("job_type", strings.TrimSpace(jobType)),
		attribute.String("trigger", strings.TrimSpace(trigger)),
	)
	m.jobsStarted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordInvoice(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.invoicesSynced.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordStepCall(ctx context.Context, step, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("step", strings.TrimSpace(step)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.stepCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordEmail(ctx context.Context, template, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("template", strings.TrimSpace(template)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.emailsSent.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTaskEnqueued counts continuation tasks by kind and queue mode.
func (m *Metrics) RecordTaskEnqueued(ctx context.Context, kind, mode string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
		attribute.String("mode", strings.TrimSpace(mode)),
	)
	m.taskEnqueued.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"job_type":    {},
	"trigger":     {},
	"outcome":     {},
	"step":        {},
	"template":    {},
	"kind":        {},
	"mode":        {},
	"endpoint":    {},
	"status_code": {},
	"method":      {},
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
