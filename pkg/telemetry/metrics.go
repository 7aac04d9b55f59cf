// Package telemetry provides OpenTelemetry integration for the application.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/procrasturbate/procrasturbate/pkg/logger"
)

const (
	// MeterName is the default meter name for the application
	MeterName = "github.com/procrasturbate/procrasturbate"
)

// Metrics holds all application metrics
type Metrics struct {
	// Review metrics
	ReviewsTotal    metric.Int64Counter
	ReviewDuration  metric.Float64Histogram
	ActiveReviews   metric.Int64UpDownCounter
	ReviewsByStatus metric.Int64Counter

	// Token and cost metrics
	TokensUsed metric.Int64Counter
	CostCents  metric.Int64Counter

	// HTTP metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Scheduler metrics
	SchedulerQueueDepth metric.Int64UpDownCounter
	SchedulerRetries    metric.Int64Counter

	// Provider metrics
	GitHubAPICalls metric.Int64Counter
	AICalls        metric.Int64Counter
	AICallDuration metric.Float64Histogram
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetMetrics returns the global metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		var err error
		globalMetrics, err = initMetrics()
		if err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			// Return empty metrics to avoid nil pointer
			globalMetrics = &Metrics{}
		}
	})
	return globalMetrics
}

// initMetrics initializes all application metrics
func initMetrics() (*Metrics, error) {
	meter := otel.Meter(MeterName)
	m := &Metrics{}

	var err error

	// Review metrics
	m.ReviewsTotal, err = meter.Int64Counter(
		"procrasturbate_reviews_total",
		metric.WithDescription("Total number of review runs started"),
		metric.WithUnit("{review}"),
	)
	if err != nil {
		return nil, err
	}

	m.ReviewDuration, err = meter.Float64Histogram(
		"procrasturbate_review_duration_seconds",
		metric.WithDescription("Duration of review runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveReviews, err = meter.Int64UpDownCounter(
		"procrasturbate_active_reviews",
		metric.WithDescription("Number of currently running reviews"),
		metric.WithUnit("{review}"),
	)
	if err != nil {
		return nil, err
	}

	m.ReviewsByStatus, err = meter.Int64Counter(
		"procrasturbate_reviews_by_status_total",
		metric.WithDescription("Total number of reviews reaching each terminal status"),
		metric.WithUnit("{review}"),
	)
	if err != nil {
		return nil, err
	}

	// Token and cost metrics
	m.TokensUsed, err = meter.Int64Counter(
		"procrasturbate_tokens_total",
		metric.WithDescription("Total AI tokens consumed"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	m.CostCents, err = meter.Int64Counter(
		"procrasturbate_cost_cents_total",
		metric.WithDescription("Total AI cost in cents"),
		metric.WithUnit("{cent}"),
	)
	if err != nil {
		return nil, err
	}

	// HTTP metrics
	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"procrasturbate_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"procrasturbate_http_request_duration_seconds",
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	// Scheduler metrics
	m.SchedulerQueueDepth, err = meter.Int64UpDownCounter(
		"procrasturbate_scheduler_queue_depth",
		metric.WithDescription("Number of jobs waiting in the scheduler"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	m.SchedulerRetries, err = meter.Int64Counter(
		"procrasturbate_scheduler_retries_total",
		metric.WithDescription("Total number of job retries"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	// Provider metrics
	m.GitHubAPICalls, err = meter.Int64Counter(
		"procrasturbate_github_api_calls_total",
		metric.WithDescription("Total number of GitHub API calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.AICalls, err = meter.Int64Counter(
		"procrasturbate_ai_calls_total",
		metric.WithDescription("Total number of AI provider calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	m.AICallDuration, err = meter.Float64Histogram(
		"procrasturbate_ai_call_duration_seconds",
		metric.WithDescription("Duration of AI provider calls in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("Metrics initialized successfully")
	return m, nil
}

// RecordReviewStarted records that a review run has started
func (m *Metrics) RecordReviewStarted(ctx context.Context, trigger string) {
	if m == nil || m.ReviewsTotal == nil {
		return
	}
	m.ReviewsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("trigger", trigger)),
	)
	if m.ActiveReviews != nil {
		m.ActiveReviews.Add(ctx, 1)
	}
}

// RecordReviewFinished records that a review run reached a terminal status
func (m *Metrics) RecordReviewFinished(ctx context.Context, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	if m.ActiveReviews != nil {
		m.ActiveReviews.Add(ctx, -1)
	}
	if m.ReviewsByStatus != nil {
		m.ReviewsByStatus.Add(ctx, 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
	if m.ReviewDuration != nil {
		m.ReviewDuration.Record(ctx, durationSeconds,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// RecordUsage records token consumption and cost for a completed review
func (m *Metrics) RecordUsage(ctx context.Context, inputTokens, outputTokens int64, costCents int64) {
	if m == nil {
		return
	}
	if m.TokensUsed != nil {
		m.TokensUsed.Add(ctx, inputTokens,
			metric.WithAttributes(attribute.String("direction", "input")),
		)
		m.TokensUsed.Add(ctx, outputTokens,
			metric.WithAttributes(attribute.String("direction", "output")),
		)
	}
	if m.CostCents != nil {
		m.CostCents.Add(ctx, costCents)
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	if m.HTTPRequestsTotal != nil {
		m.HTTPRequestsTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("method", method),
				attribute.String("path", path),
				attribute.Int("status_code", statusCode),
			),
		)
	}
	if m.HTTPRequestDuration != nil {
		m.HTTPRequestDuration.Record(ctx, durationSeconds,
			metric.WithAttributes(
				attribute.String("method", method),
				attribute.String("path", path),
			),
		)
	}
}

// RecordQueueDepth adjusts the scheduler queue depth gauge
func (m *Metrics) RecordQueueDepth(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	if m.SchedulerQueueDepth != nil {
		m.SchedulerQueueDepth.Add(ctx, delta)
	}
}

// RecordRetry records a scheduler job retry
func (m *Metrics) RecordRetry(ctx context.Context, taskName string) {
	if m == nil {
		return
	}
	if m.SchedulerRetries != nil {
		m.SchedulerRetries.Add(ctx, 1,
			metric.WithAttributes(attribute.String("task", taskName)),
		)
	}
}

// RecordGitHubCall records a GitHub API call
func (m *Metrics) RecordGitHubCall(ctx context.Context, operation string, success bool) {
	if m == nil {
		return
	}
	if m.GitHubAPICalls != nil {
		m.GitHubAPICalls.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.Bool("success", success),
			),
		)
	}
}

// RecordAICall records an AI provider call
func (m *Metrics) RecordAICall(ctx context.Context, model string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	if m.AICalls != nil {
		m.AICalls.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("model", model),
				attribute.Bool("success", success),
			),
		)
	}
	if m.AICallDuration != nil {
		m.AICallDuration.Record(ctx, durationSeconds,
			metric.WithAttributes(attribute.String("model", model)),
		)
	}
}
