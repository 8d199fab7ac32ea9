package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/tfst/carrier-portal/internal/config"
)

const meterName = "carrier-portal"

type AppMetrics struct {
	authLoginCounter    metric.Int64Counter
	authRefreshCounter  metric.Int64Counter
	authLogoutCounter   metric.Int64Counter
	bulkRowCounter      metric.Int64Counter
	upstreamCounter     metric.Int64Counter
	repositoryCounter   metric.Int64Counter
	tokenCheckCounter   metric.Int64Counter
	capabilityCounter   metric.Int64Counter
	rateLimitCounter    metric.Int64Counter
	csrfCounter         metric.Int64Counter
	shipmentReadCounter metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)
	m := &AppMetrics{}
	counters := []struct {
		name string
		dst  *metric.Int64Counter
	}{
		{"auth.login.attempts", &m.authLoginCounter},
		{"auth.refresh.attempts", &m.authRefreshCounter},
		{"auth.logout.attempts", &m.authLogoutCounter},
		{"bulk.rows.processed", &m.bulkRowCounter},
		{"upstream.calls", &m.upstreamCounter},
		{"repository.operations", &m.repositoryCounter},
		{"session.token.validations", &m.tokenCheckCounter},
		{"capability.cache.events", &m.capabilityCounter},
		{"ratelimit.decisions", &m.rateLimitCounter},
		{"csrf.decisions", &m.csrfCounter},
		{"shipments.reads", &m.shipmentReadCounter},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(provider, status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLoginCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

func RecordAuthRefresh(status string) {
	m := current()
	if m == nil {
		return
	}
	m.authRefreshCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthLogout(status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLogoutCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordBulkRow(ctx context.Context, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.bulkRowCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordUpstreamCall(ctx context.Context, system, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.upstreamCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("system", system),
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		),
	)
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		),
	)
}

func RecordSessionTokenValidation(ctx context.Context, outcome, source string) {
	m := current()
	if m == nil {
		return
	}
	m.tokenCheckCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("source", source),
		),
	)
}

func RecordCapabilityCacheEvent(ctx context.Context, event string) {
	m := current()
	if m == nil {
		return
	}
	m.capabilityCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func RecordRateLimitDecision(ctx context.Context, scope, decision, keyType string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("decision", decision),
			attribute.String("key_type", keyType),
		),
	)
}

func RecordCSRFDecision(ctx context.Context, outcome, pathGroup string) {
	m := current()
	if m == nil {
		return
	}
	m.csrfCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("path_group", pathGroup),
		),
	)
}

func RecordShipmentRead(ctx context.Context, view, realtime string) {
	m := current()
	if m == nil {
		return
	}
	m.shipmentReadCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("view", view),
			attribute.String("realtime", realtime),
		),
	)
}
