package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// ServerMetrics holds the metric instruments for the line protocol server.
type ServerMetrics struct {
	RequestsStartedCounter         metric.Int64Counter
	RequestsHandledCounter         metric.Int64Counter
	RequestLatencyHistogram        metric.Float64Histogram
	RateLimitedCounter             metric.Int64Counter
	ActiveConnectionsUpDownCounter metric.Int64UpDownCounter
}

// NewServerMetrics creates and registers all the metrics for the server.
func NewServerMetrics(meter metric.Meter) (*ServerMetrics, error) {
	requestsStartedCounter, err := meter.Int64Counter(
		"blinkdb.server.requests_started",
		metric.WithDescription("Total number of requests started."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	requestsHandledCounter, err := meter.Int64Counter(
		"blinkdb.server.requests_handled",
		metric.WithDescription("Total number of requests completed, by command and status."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	requestLatencyHistogram, err := meter.Float64Histogram(
		"blinkdb.server.request_duration",
		metric.WithDescription("The latency of requests."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	rateLimitedCounter, err := meter.Int64Counter(
		"blinkdb.server.rate_limited",
		metric.WithDescription("Requests that waited on the per-connection rate limiter."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	activeConnectionsUpDownCounter, err := meter.Int64UpDownCounter(
		"blinkdb.server.active_connections",
		metric.WithDescription("Number of open client connections."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestsStartedCounter:         requestsStartedCounter,
		RequestsHandledCounter:         requestsHandledCounter,
		RequestLatencyHistogram:        requestLatencyHistogram,
		RateLimitedCounter:             rateLimitedCounter,
		ActiveConnectionsUpDownCounter: activeConnectionsUpDownCounter,
	}, nil
}
