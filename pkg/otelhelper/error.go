package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/castellan/castellan/pkg/models"
)

// SetError marks the span failed and records the error. Execution errors
// additionally carry their taxonomy kind and offending action ID so traces
// are filterable by failure class.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if execErr, ok := models.AsExecutionError(err); ok {
		attrs = append(attrs, attribute.String(ErrorKindKey, string(execErr.Kind)))

		if execErr.ActionID != "" {
			attrs = append(attrs, attribute.String(ActionIDKey, execErr.ActionID))
		}
	}

	span.AddEvent("error_occurred", trace.WithAttributes(attrs...))
}
