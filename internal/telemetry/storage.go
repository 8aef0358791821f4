package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/manna/internal/storage"
	"github.com/steveyegge/manna/internal/types"
)

const storageScopeName = "github.com/steveyegge/manna/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Every method gets a span and is counted in manna.storage.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner      storage.Store
	tracer     trace.Tracer
	ops        metric.Int64Counter
	dur        metric.Float64Histogram
	errs       metric.Int64Counter
	issueGauge metric.Int64Gauge
}

var _ storage.Store = (*InstrumentedStore)(nil)

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("manna.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("manna.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("manna.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	issueGauge, _ := m.Int64Gauge("manna.issue.count",
		metric.WithDescription("Number of issues by status at the last load"),
	)
	return &InstrumentedStore{
		inner:      s,
		tracer:     Tracer(storageScopeName),
		ops:        ops,
		dur:        dur,
		errs:       errs,
		issueGauge: issueGauge,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) Init(ctx context.Context) error {
	ctx, span, t := s.op(ctx, "Init")
	err := s.inner.Init(ctx)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStore) IsInitialized(ctx context.Context) (bool, error) {
	ctx, span, t := s.op(ctx, "IsInitialized")
	ok, err := s.inner.IsInitialized(ctx)
	span.SetAttributes(attribute.Bool("manna.initialized", ok))
	s.done(ctx, span, t, err)
	return ok, err
}

func (s *InstrumentedStore) LoadIssues(ctx context.Context) ([]*types.Issue, error) {
	ctx, span, t := s.op(ctx, "LoadIssues")
	issues, err := s.inner.LoadIssues(ctx)
	if err == nil {
		span.SetAttributes(attribute.Int("manna.issue.count", len(issues)))
		counts := make(map[types.Status]int64, len(types.Statuses))
		for _, issue := range issues {
			counts[issue.Status]++
		}
		for _, st := range types.Statuses {
			s.issueGauge.Record(ctx, counts[st], metric.WithAttributes(attribute.String("manna.issue.status", string(st))))
		}
	}
	s.done(ctx, span, t, err)
	return issues, err
}

func (s *InstrumentedStore) AppendIssue(ctx context.Context, issue *types.Issue) error {
	attrs := []attribute.KeyValue{attribute.String("manna.issue.id", issue.ID)}
	ctx, span, t := s.op(ctx, "AppendIssue", attrs...)
	err := s.inner.AppendIssue(ctx, issue)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) UpdateIssue(ctx context.Context, issue *types.Issue) error {
	attrs := []attribute.KeyValue{
		attribute.String("manna.issue.id", issue.ID),
		attribute.String("manna.issue.status", string(issue.Status)),
	}
	ctx, span, t := s.op(ctx, "UpdateIssue", attrs...)
	err := s.inner.UpdateIssue(ctx, issue)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) LoadSessions(ctx context.Context) ([]*types.SessionEvent, error) {
	ctx, span, t := s.op(ctx, "LoadSessions")
	events, err := s.inner.LoadSessions(ctx)
	if err == nil {
		span.SetAttributes(attribute.Int("manna.session.event_count", len(events)))
	}
	s.done(ctx, span, t, err)
	return events, err
}

func (s *InstrumentedStore) AppendSession(ctx context.Context, event *types.SessionEvent) error {
	attrs := []attribute.KeyValue{attribute.String("manna.session.event", string(event.Event))}
	ctx, span, t := s.op(ctx, "AppendSession", attrs...)
	err := s.inner.AppendSession(ctx, event)
	s.done(ctx, span, t, err, attrs...)
	return err
}
