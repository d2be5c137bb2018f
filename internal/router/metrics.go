package router

import (
	"go.opentelemetry.io/otel/metric"
)

// metrics are the router-level OpenTelemetry instruments of
// SPEC_FULL.md's router module, exported through whatever collector
// the control surface's MeterProvider is configured with.
type metrics struct {
	messagesIn      metric.Int64Counter
	messagesRouted  metric.Int64Counter
	messagesDropped metric.Int64Counter
	droppedNoRoute  metric.Int64Counter
	loopsDetected   metric.Int64Counter
	hopsExceeded    metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	var m metrics
	var err error

	if m.messagesIn, err = meter.Int64Counter("router.messages_in",
		metric.WithDescription("inbound MIDI messages presented to the router for rule evaluation")); err != nil {
		return nil, err
	}
	if m.messagesRouted, err = meter.Int64Counter("router.messages_routed",
		metric.WithDescription("messages successfully delivered to a local device or peer connection")); err != nil {
		return nil, err
	}
	if m.messagesDropped, err = meter.Int64Counter("router.messages_dropped",
		metric.WithDescription("per-rule delivery attempts that failed or hit a disconnected peer")); err != nil {
		return nil, err
	}
	if m.droppedNoRoute, err = meter.Int64Counter("router.dropped_no_route",
		metric.WithDescription("messages dropped for an empty or unparsable payload or because the destination node has no pooled connection")); err != nil {
		return nil, err
	}
	if m.loopsDetected, err = meter.Int64Counter("router.loops_detected",
		metric.WithDescription("forwarding attempts rejected because the device was already in the visited set")); err != nil {
		return nil, err
	}
	if m.hopsExceeded, err = meter.Int64Counter("router.hops_exceeded",
		metric.WithDescription("forwarding attempts rejected for exceeding the maximum hop count")); err != nil {
		return nil, err
	}
	return &m, nil
}
