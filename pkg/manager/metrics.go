package manager

import (
	"context"
	"errors"

	// Packages
	schema "github.com/michealrm/video-submission-frame/pkg/schema"
	attribute "go.opentelemetry.io/otel/attribute"
	metric "go.opentelemetry.io/otel/metric"
	noop "go.opentelemetry.io/otel/metric/noop"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

type metrics struct {
	sessions metric.Int64Counter
	bytes    metric.Int64Counter
}

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(schema.SchemaName)
	}
	var result error
	self := new(metrics)
	if counter, err := meter.Int64Counter(schema.SchemaName+".sessions",
		metric.WithDescription("Upload sessions by final state"),
		metric.WithUnit("{session}"),
	); err != nil {
		result = errors.Join(result, err)
	} else {
		self.sessions = counter
	}
	if counter, err := meter.Int64Counter(schema.SchemaName+".bytes",
		metric.WithDescription("Bytes committed to storage"),
		metric.WithUnit("By"),
	); err != nil {
		result = errors.Join(result, err)
	} else {
		self.bytes = counter
	}
	return self, result
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// ended records a session reaching a terminal state
func (m *metrics) ended(s *schema.Session) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("state", string(s.State)),
		attribute.String("mode", string(s.Mode)),
	)
	m.sessions.Add(ctx, 1, attrs)
	if s.State == schema.StateCompleted && s.BytesTransferred > 0 {
		m.bytes.Add(ctx, s.BytesTransferred, metric.WithAttributes(attribute.String("mode", string(s.Mode))))
	}
}
