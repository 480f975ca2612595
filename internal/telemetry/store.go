package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"issueflow/internal/domain"
	"issueflow/internal/store"
)

const storeScopeName = "issueflow/store"

// InstrumentedStore wraps store.Store with spans and issueflow.store.*
// metrics. Version conflicts are counted separately from errors.
type InstrumentedStore struct {
	store.Store
	tracer    trace.Tracer
	ops       metric.Int64Counter
	dur       metric.Float64Histogram
	errs      metric.Int64Counter
	conflicts metric.Int64Counter
}

// Wrap decorates s using the global providers, or returns s as is when
// telemetry is disabled.
func Wrap(s store.Store, enabled bool) store.Store {
	if !enabled {
		return s
	}
	return NewInstrumentedStore(s, Meter(storeScopeName), Tracer(storeScopeName))
}

func NewInstrumentedStore(s store.Store, m metric.Meter, tracer trace.Tracer) *InstrumentedStore {
	ops, _ := m.Int64Counter("issueflow.store.operations",
		metric.WithDescription("Total store operations executed"),
	)
	dur, _ := m.Float64Histogram("issueflow.store.operation.duration",
		metric.WithDescription("Store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("issueflow.store.errors",
		metric.WithDescription("Total store operation errors"),
	)
	conflicts, _ := m.Int64Counter("issueflow.store.conflicts",
		metric.WithDescription("Conditional issue writes rejected on a stale version"),
	)
	return &InstrumentedStore{Store: s, tracer: tracer, ops: ops, dur: dur, errs: errs, conflicts: conflicts}
}

func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "store."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	s.dur.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
	switch {
	case err == nil, errors.Is(err, store.ErrNotFound):
	case errors.Is(err, store.ErrConflict):
		span.SetAttributes(attribute.Bool("issueflow.conflict", true))
		s.conflicts.Add(ctx, 1, metric.WithAttributes(attrs...))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) GetIssue(ctx context.Context, id string) (domain.Issue, error) {
	attrs := []attribute.KeyValue{attribute.String("issueflow.issue.id", id)}
	ctx, span, t := s.op(ctx, "GetIssue", attrs...)
	v, err := s.Store.GetIssue(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx, span, t := s.op(ctx, "RunInTx")
	err := s.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &instrumentedTx{Tx: tx, parent: s})
	})
	if errors.Is(err, store.ErrConflict) {
		// Already counted by UpdateIssue.
		span.SetAttributes(attribute.Bool("issueflow.conflict", true))
		s.done(ctx, span, t, nil)
		return err
	}
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStore) SearchIssues(ctx context.Context, f store.SearchFilter) ([]domain.Issue, error) {
	attrs := []attribute.KeyValue{
		attribute.String("issueflow.project.id", f.ProjectID),
		attribute.Bool("issueflow.search.text", f.Text != ""),
	}
	ctx, span, t := s.op(ctx, "SearchIssues", attrs...)
	v, err := s.Store.SearchIssues(ctx, f)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) TopPerformers(ctx context.Context, from, to time.Time, limit int) ([]domain.Performer, error) {
	attrs := []attribute.KeyValue{attribute.Int("issueflow.report.limit", limit)}
	ctx, span, t := s.op(ctx, "TopPerformers", attrs...)
	v, err := s.Store.TopPerformers(ctx, from, to, limit)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ListHistory(ctx context.Context, issueID string) ([]domain.HistoryEntry, error) {
	attrs := []attribute.KeyValue{attribute.String("issueflow.issue.id", issueID)}
	ctx, span, t := s.op(ctx, "ListHistory", attrs...)
	v, err := s.Store.ListHistory(ctx, issueID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

type instrumentedTx struct {
	store.Tx
	parent *InstrumentedStore
}

func (tx *instrumentedTx) UpdateIssue(ctx context.Context, issue domain.Issue, expectedVersion int64) (domain.Issue, error) {
	attrs := []attribute.KeyValue{
		attribute.String("issueflow.issue.id", issue.ID),
		attribute.String("issueflow.issue.status", string(issue.Status)),
	}
	ctx, span, t := tx.parent.op(ctx, "UpdateIssue", attrs...)
	v, err := tx.Tx.UpdateIssue(ctx, issue, expectedVersion)
	tx.parent.done(ctx, span, t, err, attrs...)
	return v, err
}

func (tx *instrumentedTx) AppendHistory(ctx context.Context, h domain.HistoryEntry) (domain.HistoryEntry, error) {
	var attrs []attribute.KeyValue
	if h.Change != nil {
		attrs = append(attrs, attribute.String("issueflow.history.field", string(h.Change.Field())))
	}
	ctx, span, t := tx.parent.op(ctx, "AppendHistory", attrs...)
	v, err := tx.Tx.AppendHistory(ctx, h)
	tx.parent.done(ctx, span, t, err, attrs...)
	return v, err
}
