// Package postgres builds the traced pgx pool used to read the catalog.
package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

const modulePrefix = "github.com/linnemanlabs/sightline/"

type queryStartKey struct{}

type queryStatsKey struct{}

type queryStart struct {
	sql    string
	args   []any
	start  time.Time
	caller string
}

// QueryObserver receives per-query timings (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, operation, caller, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, operation, caller, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, operation, caller, outcome string, dur time.Duration) {
	f(ctx, operation, caller, outcome, dur)
}

// QueryStats accumulates query counts for one unit of work, such as a
// catalog load.
type QueryStats struct {
	mu            sync.Mutex
	QueryCount    int
	Rows          int64
	TotalDuration time.Duration
	ErrorCount    int
}

// AddQuery records a single query execution.
func (s *QueryStats) AddQuery(dur time.Duration, rows int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCount++
	s.TotalDuration += dur
	if rows > 0 {
		s.Rows += rows
	}
	if err != nil {
		s.ErrorCount++
	}
}

// WithQueryStats returns a context that collects statistics for every query
// traced under it.
func WithQueryStats(ctx context.Context) (context.Context, *QueryStats) {
	s := &QueryStats{}
	return context.WithValue(ctx, queryStatsKey{}, s), s
}

// QueryStatsFromContext extracts the QueryStats from the context, if present.
func QueryStatsFromContext(ctx context.Context) (*QueryStats, bool) {
	s, ok := ctx.Value(queryStatsKey{}).(*QueryStats)
	return s, ok
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithObserver feeds every query timing to o.
func WithObserver(o QueryObserver) TracerOption {
	return func(t *Tracer) { t.observer = o }
}

// WithSlowThreshold only logs successful queries that took at least d.
// Failed queries are always logged.
func WithSlowThreshold(d time.Duration) TracerOption {
	return func(t *Tracer) { t.slow = d }
}

// Tracer wraps another pgx.QueryTracer (usually otelpgx) and adds a
// structured log line and an observer callback for every query.
type Tracer struct {
	inner    pgx.QueryTracer
	logger   log.Logger
	observer QueryObserver
	slow     time.Duration
}

var _ pgx.QueryTracer = (*Tracer)(nil)

// NewTracer wraps inner. A nil inner is allowed; a nil logger falls back to
// the logger on the query context.
func NewTracer(inner pgx.QueryTracer, logger log.Logger, opts ...TracerOption) *Tracer {
	t := &Tracer{inner: inner, logger: logger}
	for _, o := range opts {
		o(t)
	}
	return t
}

// TraceQueryStart implements pgx.QueryTracer.
func (t *Tracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	qs := queryStart{
		sql:    data.SQL,
		args:   data.Args,
		start:  time.Now(),
		caller: findCaller(),
	}

	// Let the inner tracer create its span first so attributes land on it.
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if qs.caller != "" {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(attribute.String("db.caller", qs.caller))
		}
	}

	return context.WithValue(ctx, queryStartKey{}, qs)
}

// TraceQueryEnd implements pgx.QueryTracer.
func (t *Tracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	// Inner first so spans are finished correctly.
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qs, _ := ctx.Value(queryStartKey{}).(queryStart)
	var dur time.Duration
	if !qs.start.IsZero() {
		dur = time.Since(qs.start)
	}
	rows := data.CommandTag.RowsAffected()

	if s, ok := QueryStatsFromContext(ctx); ok {
		s.AddQuery(dur, rows, data.Err)
	}

	op := operationName(data.CommandTag, qs.sql)
	if t.observer != nil {
		outcome := "ok"
		if data.Err != nil {
			outcome = "error"
		}
		caller := qs.caller
		if caller == "" {
			caller = "unknown"
		}
		t.observer.ObserveQuery(ctx, op, caller, outcome, dur)
	}

	if data.Err == nil && t.slow > 0 && dur < t.slow {
		return
	}

	L := t.logger
	if L == nil {
		L = log.FromContext(ctx)
	}

	fields := []any{
		"db.statement", compactSQL(qs.sql),
		"db.args", len(qs.args),
		"db.duration", dur.Seconds(),
		"db.operation.name", op,
		"db.rows", rows,
	}
	if qs.caller != "" {
		fields = append(fields, "db.caller", qs.caller)
	}

	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}

// operationName prefers the command tag and falls back to the first SQL
// keyword when the query failed before producing one.
func operationName(tag pgconn.CommandTag, sql string) string {
	if f := strings.Fields(tag.String()); len(f) > 0 {
		return strings.ToUpper(f[0])
	}
	if f := strings.Fields(sql); len(f) > 0 {
		return strings.ToUpper(f[0])
	}
	return "UNKNOWN"
}

func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

// findCaller walks the stack to the first application frame outside this
// package, skipping runtime and driver frames.
func findCaller() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function
		if strings.HasPrefix(fn, modulePrefix) && !strings.HasPrefix(fn, modulePrefix+"internal/postgres.") {
			return shortenFuncName(fn)
		}
		if !more {
			return ""
		}
	}
}

func shortenFuncName(fn string) string {
	// Trim package path.
	if i := strings.LastIndex(fn, "/"); i >= 0 && i+1 < len(fn) {
		fn = fn[i+1:]
	}
	// Trim package name, keep receiver + method.
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
