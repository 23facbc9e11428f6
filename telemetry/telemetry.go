// Package telemetry defines the logging, metrics, and tracing facades used
// throughout the server. The dispatcher, sessions, the proxy manager and its
// proxies, the history writer and the line transport take a Logger; the
// graph scheduler, workflow runtime and node implementations do not. No
// provider configuration is logged; Redact masks a secret for any caller
// that needs to log one.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log messages. Implementations must be safe for
	// concurrent use.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, d time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer starts trace spans. No subsystem of the server calls it;
	// NewOTelTracer and NewNoopTracer provide implementations.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is a single unit of work within a trace.
	Span interface {
		End(...trace.SpanEndOption)
		AddEvent(name string, keyvals ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)

// Redact replaces the value of a secret (API key, token) with a fixed-width
// placeholder suitable for logging provider configuration without leaking
// credentials.
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + "****" + secret[len(secret)-2:]
}
