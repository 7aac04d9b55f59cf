// Package telemetry provides OpenTelemetry integration for the application.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the default tracer name for the application
	TracerName = "github.com/procrasturbate/procrasturbate"
)

// Tracer returns the global tracer for the application
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a new span with the given name and returns the context and span.
// The caller is responsible for calling span.End() when the operation is complete.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// SpanFromContext returns the current span from the context.
// If no span is found, a no-op span is returned.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// SetSpanError records an error on the span and sets its status to error
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanOK sets the span status to OK
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddSpanEvent adds an event to the span with optional attributes
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanAttributes sets attributes on the span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// Common attribute keys for consistent naming
var (
	// Job attributes
	AttrJobID      = attribute.Key("job.id")
	AttrJobTask    = attribute.Key("job.task")
	AttrJobLockKey = attribute.Key("job.lock_key")

	// Repository attributes
	AttrRepoFullName = attribute.Key("repo.full_name")
	AttrRepoOwner    = attribute.Key("repo.owner")
	AttrRepoName     = attribute.Key("repo.name")

	// Review attributes
	AttrReviewID      = attribute.Key("review.id")
	AttrReviewStatus  = attribute.Key("review.status")
	AttrReviewTrigger = attribute.Key("review.trigger")
	AttrPRNumber      = attribute.Key("pr.number")
	AttrHeadSHA       = attribute.Key("pr.head_sha")

	// Result attributes
	AttrCommentsCount = attribute.Key("comments.count")
	AttrFilesCount    = attribute.Key("files.count")
	AttrDurationMs    = attribute.Key("duration.ms")
)

// WithJobAttributes returns span start options with scheduler job attributes
func WithJobAttributes(jobID, task, lockKey string) trace.SpanStartOption {
	return trace.WithAttributes(
		AttrJobID.String(jobID),
		AttrJobTask.String(task),
		AttrJobLockKey.String(lockKey),
	)
}

// WithReviewAttributes returns span start options with review attributes
func WithReviewAttributes(reviewID, trigger string) trace.SpanStartOption {
	return trace.WithAttributes(
		AttrReviewID.String(reviewID),
		AttrReviewTrigger.String(trigger),
	)
}
