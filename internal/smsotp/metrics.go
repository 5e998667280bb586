package smsotp

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsObserver counts step outcomes as sms_otp_outcomes_total{op,state,error}.
type MetricsObserver struct {
	outcomes metric.Int64Counter
}

// NewMetricsObserver registers the outcome counter on meter.
func NewMetricsObserver(meter metric.Meter) (*MetricsObserver, error) {
	c, err := meter.Int64Counter("sms_otp_outcomes_total",
		metric.WithDescription("SMS OTP step outcomes by operation and state"))
	if err != nil {
		return nil, err
	}
	return &MetricsObserver{outcomes: c}, nil
}

// Observe implements Observer.
func (m *MetricsObserver) Observe(ctx context.Context, op string, res Result) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("state", res.State.String()),
		attribute.String("error", formError(res.Err)),
	))
}
