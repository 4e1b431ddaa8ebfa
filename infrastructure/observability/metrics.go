package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"matrixfund/config"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MetricsProvider manages OpenTelemetry metrics for the ledger service
type MetricsProvider struct {
	config        *config.Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	initialized   bool
	mu            sync.RWMutex

	// Metric instruments
	registrationsCounter         metric.Int64Counter
	creditedAmountCounter        metric.Int64Counter
	forfeitedAmountCounter       metric.Int64Counter
	withdrawalsCounter           metric.Int64Counter
	distributionRunsCounter      metric.Int64Counter
	breakerTransitionsCounter    metric.Int64Counter
	natsMessagesPublishedCounter metric.Int64Counter
	transactionsCounter          metric.Int64Counter
	transactionDurationHist      metric.Float64Histogram
}

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(cfg *config.Config) *MetricsProvider {
	return &MetricsProvider{
		config: cfg,
	}
}

// Initialize sets up the OpenTelemetry metrics provider
func (mp *MetricsProvider) Initialize(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.initialized {
		log.Info("Metrics provider already initialized")
		return nil
	}

	if !mp.config.OTelEnabled {
		log.Info("OpenTelemetry metrics disabled")
		mp.initialized = true
		return nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(mp.config.OTelServiceName),
			attribute.String("environment", mp.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdkmetric.Exporter
	switch mp.config.OTelExporterType {
	case "console":
		exporter, err = stdoutmetric.New()
		if err != nil {
			return fmt.Errorf("failed to create console exporter: %w", err)
		}
		log.Info("Using console metric exporter")

	case "otlp":
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		exporter, err = otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(mp.config.OTelOTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		log.WithField("endpoint", mp.config.OTelOTLPEndpoint).Info("Using OTLP metric exporter")

	case "none":
		log.Info("Metrics export disabled (exporter_type='none')")
		mp.initialized = true
		return nil

	default:
		return fmt.Errorf("unknown exporter type: %s", mp.config.OTelExporterType)
	}

	mp.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(
				exporter,
				sdkmetric.WithInterval(time.Duration(mp.config.OTelExportIntervalMillis)*time.Millisecond),
			),
		),
	)
	otel.SetMeterProvider(mp.meterProvider)
	mp.meter = mp.meterProvider.Meter("matrixfund")

	if err := mp.createInstruments(); err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	mp.initialized = true
	log.Info("Metrics provider initialized successfully")
	return nil
}

// initWithReader wires the provider to a caller-supplied reader; used by tests
func (mp *MetricsProvider) initWithReader(reader sdkmetric.Reader) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	mp.meter = mp.meterProvider.Meter("matrixfund")
	if err := mp.createInstruments(); err != nil {
		return err
	}
	mp.initialized = true
	return nil
}

func (mp *MetricsProvider) createInstruments() error {
	counters := []struct {
		target      *metric.Int64Counter
		name        string
		description string
		unit        string
	}{
		{&mp.registrationsCounter, RegistrationsTotal, "Total number of package purchases", "1"},
		{&mp.creditedAmountCounter, CreditedAmountTotal, "Total commission credited", "{micro_usdt}"},
		{&mp.forfeitedAmountCounter, ForfeitedAmountTotal, "Total commission dropped by the earnings cap", "{micro_usdt}"},
		{&mp.withdrawalsCounter, WithdrawalsTotal, "Total number of withdrawals", "1"},
		{&mp.distributionRunsCounter, DistributionRunsTotal, "Distribution runs by job and status", "1"},
		{&mp.breakerTransitionsCounter, BreakerTransitionsTotal, "Circuit breaker transitions", "1"},
		{&mp.natsMessagesPublishedCounter, NATSMessagesPublishedTotal, "Total number of NATS messages published", "1"},
		{&mp.transactionsCounter, DatabaseTransactionsTotal, "Total number of ledger transactions", "1"},
	}

	var err error
	for _, c := range counters {
		*c.target, err = mp.meter.Int64Counter(
			c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	mp.transactionDurationHist, err = mp.meter.Float64Histogram(
		DatabaseTransactionDuration,
		metric.WithDescription("Duration of ledger transactions in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction duration histogram: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the metrics provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.meterProvider != nil {
		return mp.meterProvider.Shutdown(ctx)
	}
	return nil
}

// RecordRegistration records a registration or upgrade purchase
func (mp *MetricsProvider) RecordRegistration(registrationType string) {
	if !mp.isEnabled() {
		return
	}
	mp.registrationsCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String(LabelType, registrationType)),
	)
}

// RecordCredit records a credited amount and the part the cap dropped
func (mp *MetricsProvider) RecordCredit(channel string, credited, forfeited int64) {
	if !mp.isEnabled() {
		return
	}
	attrs := metric.WithAttributes(attribute.String(LabelChannel, channel))
	if credited > 0 {
		mp.creditedAmountCounter.Add(context.Background(), credited, attrs)
	}
	if forfeited > 0 {
		mp.forfeitedAmountCounter.Add(context.Background(), forfeited, attrs)
	}
}

// RecordWithdrawal records a completed withdrawal
func (mp *MetricsProvider) RecordWithdrawal() {
	if !mp.isEnabled() {
		return
	}
	mp.withdrawalsCounter.Add(context.Background(), 1)
}

// RecordDistributionRun records a distribution run transition
func (mp *MetricsProvider) RecordDistributionRun(job, status string) {
	if !mp.isEnabled() {
		return
	}
	mp.distributionRunsCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String(LabelJob, job),
			attribute.String(LabelStatus, status),
		),
	)
}

// RecordBreakerTransition records a circuit breaker opening or closing
func (mp *MetricsProvider) RecordBreakerTransition(job, transition string) {
	if !mp.isEnabled() {
		return
	}
	mp.breakerTransitionsCounter.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String(LabelJob, job),
			attribute.String(LabelType, transition),
		),
	)
}

// RecordNATSMessagePublished records a NATS message being published
func (mp *MetricsProvider) RecordNATSMessagePublished(eventType string) {
	if !mp.isEnabled() {
		return
	}
	mp.natsMessagesPublishedCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String(LabelEventType, eventType)),
	)
}

// RecordTransaction records a finished ledger transaction with its duration
func (mp *MetricsProvider) RecordTransaction(mode, outcome string, duration time.Duration) {
	if !mp.isEnabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(LabelMode, mode),
		attribute.String(LabelOutcome, outcome),
	)
	mp.transactionsCounter.Add(context.Background(), 1, attrs)
	mp.transactionDurationHist.Record(context.Background(), duration.Seconds(), attrs)
}

// isEnabled checks if metrics are initialized with live instruments. A nil
// provider is valid and records nothing.
func (mp *MetricsProvider) isEnabled() bool {
	if mp == nil {
		return false
	}
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	return mp.initialized && mp.meter != nil
}

// Global metrics provider instance
var (
	globalMetrics *MetricsProvider
	metricsOnce   sync.Once
)

// InitializeGlobalMetrics initializes the global metrics provider
func InitializeGlobalMetrics(ctx context.Context, cfg *config.Config) error {
	var err error
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsProvider(cfg)
		err = globalMetrics.Initialize(ctx)
	})
	return err
}

// GetMetrics returns the global metrics provider, nil before initialization
func GetMetrics() *MetricsProvider {
	return globalMetrics
}

// ShutdownGlobalMetrics shuts down the global metrics provider
func ShutdownGlobalMetrics(ctx context.Context) error {
	if globalMetrics != nil {
		return globalMetrics.Shutdown(ctx)
	}
	return nil
}
