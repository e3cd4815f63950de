package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ErrMeterNil is returned when a metrics set is built without a meter
var ErrMeterNil = errors.New("telemetry: meter is nil")

var (
	attrOutcome   = attribute.Key("outcome")
	attrSource    = attribute.Key("source")
	attrOperation = attribute.Key("operation")
)

// gatewayDurationBuckets cover a single fast call up to three slow retries
var gatewayDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// CheckoutMetrics counts invoice lifecycle events. A nil *CheckoutMetrics
// records nothing.
type CheckoutMetrics struct {
	logger *zap.Logger

	invoicesCreated  metric.Int64Counter
	confirmations    metric.Int64Counter
	deliveries       metric.Int64Counter
	expiries         metric.Int64Counter
	gatewayDurations metric.Float64Histogram
}

// NewCheckoutMetrics creates the checkout metric set on meter.
func NewCheckoutMetrics(meter metric.Meter, logger *zap.Logger) (*CheckoutMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &CheckoutMetrics{logger: logger}
	counters := []struct {
		dst              *metric.Int64Counter
		name, desc, unit string
	}{
		{&m.invoicesCreated, "checkout_invoices_created_total", "Invoices created at the payment gateway", "{invoice}"},
		{&m.confirmations, "checkout_confirmations_total", "Payment confirmations committed, by source", "{invoice}"},
		{&m.deliveries, "checkout_deliveries_total", "Deliverables released after payment", "{asset}"},
		{&m.expiries, "checkout_expiries_total", "Invoices that expired unpaid", "{invoice}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}

	hist, err := meter.Float64Histogram("checkout_gateway_call_duration_seconds",
		metric.WithDescription("Payment gateway call duration including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(gatewayDurationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway duration histogram: %w", err)
	}
	m.gatewayDurations = hist

	return m, nil
}

// InvoiceCreated counts a new or superseding invoice.
func (m *CheckoutMetrics) InvoiceCreated(ctx context.Context, retry bool) {
	if m == nil {
		return
	}
	outcome := "first"
	if retry {
		outcome = "retry"
	}
	m.invoicesCreated.Add(ctx, 1, metric.WithAttributes(attrOutcome.String(outcome)))
}

// Confirmed counts a committed confirmation by its source.
func (m *CheckoutMetrics) Confirmed(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.confirmations.Add(ctx, 1, metric.WithAttributes(attrSource.String(source)))
}

// Delivered counts a released deliverable.
func (m *CheckoutMetrics) Delivered(ctx context.Context) {
	if m == nil {
		return
	}
	m.deliveries.Add(ctx, 1)
}

// Expired counts an expired invoice.
func (m *CheckoutMetrics) Expired(ctx context.Context) {
	if m == nil {
		return
	}
	m.expiries.Add(ctx, 1)
}

// GatewayCall records how long a gateway operation took.
func (m *CheckoutMetrics) GatewayCall(ctx context.Context, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.gatewayDurations.Record(ctx, d.Seconds(),
		metric.WithAttributes(attrOperation.String(operation), attrOutcome.String(outcome)))
}
