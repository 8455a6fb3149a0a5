package core

import (
	"context"
	"time"

	"contribledger/pkg/domain"
)

// Clock supplies the current time to the service and its components.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Logger is the structured logging surface the service writes to. Arguments
// are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// AuditStatus captures the outcome of an audited operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one service operation for the audit trail.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    domain.Action
	EntityID  string
	Status    AuditStatus
	Code      domain.ErrorCode
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries for every instrumented operation.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes operation latency and outcome. err is nil on
// success; Outcome turns it into a label.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, err error, duration time.Duration)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation's error, if any.
type TraceSpan interface {
	End(err error)
}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, error, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// ServiceOption customises a Service at construction time.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	clock           Clock
	logger          Logger
	audit           AuditRecorder
	metrics         MetricsRecorder
	tracer          Tracer
	archiver        Archiver
	directory       AllocationDirectory
	fallbackCap     float64
	minContribution float64
	queueWindow     int
	deadline        time.Time
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:           ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:          noopLogger{},
		audit:           noopAuditRecorder{},
		metrics:         noopMetricsRecorder{},
		tracer:          noopTracer{},
		fallbackCap:     DefaultFallbackCap,
		minContribution: DefaultMinimumContribution,
		queueWindow:     DefaultQueueWindow,
	}
}

// WithClock overrides the service clock. The clock also stamps stored records.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger routes service logs to logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder installs an audit sink.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder installs a metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithArchiver installs a ledger archiver invoked after successful writes.
func WithArchiver(archiver Archiver) ServiceOption {
	return func(o *serviceOptions) {
		o.archiver = archiver
	}
}

// WithAllocationDirectory sets the known-allocations lookup.
func WithAllocationDirectory(directory AllocationDirectory) ServiceOption {
	return func(o *serviceOptions) {
		o.directory = directory
	}
}

// WithFallbackCap sets the cap granted to handles missing from the directory.
// Non-positive values are ignored.
func WithFallbackCap(limit float64) ServiceOption {
	return func(o *serviceOptions) {
		if limit > 0 {
			o.fallbackCap = limit
		}
	}
}

// WithMinimumContribution sets the smallest accepted submission amount.
func WithMinimumContribution(minimum float64) ServiceOption {
	return func(o *serviceOptions) {
		if minimum > 0 {
			o.minContribution = minimum
		}
	}
}

// WithQueueWindow bounds the number of most recent submissions the
// moderation queue observes.
func WithQueueWindow(n int) ServiceOption {
	return func(o *serviceOptions) {
		if n > 0 {
			o.queueWindow = n
		}
	}
}

// WithDeadline fixes the instant at which the submission window closes.
func WithDeadline(deadline time.Time) ServiceOption {
	return func(o *serviceOptions) {
		o.deadline = deadline
	}
}
