package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/linnemanlabs/go-core/log"
)

type recordingTracer struct {
	starts, ends int
}

func (r *recordingTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	r.starts++
	return ctx
}

func (r *recordingTracer) TraceQueryEnd(_ context.Context, _ *pgx.Conn, _ pgx.TraceQueryEndData) {
	r.ends++
}

type observed struct {
	operation, caller, outcome string
}

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/sightline/internal/catalog/pgcatalog.Load", "Load"},
		{"method", "github.com/linnemanlabs/sightline/internal/catalog/pgcatalog.(*loader).departments", "(*loader).departments"},
		{"already short", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := shortenFuncName(tt.in); got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOperationName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tag  string
		sql  string
		want string
	}{
		{"from tag", "SELECT 13", "select id from departments", "SELECT"},
		{"fallback to sql", "", "  select id\n from departments", "SELECT"},
		{"empty", "", "", "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := operationName(pgconn.NewCommandTag(tt.tag), tt.sql); got != tt.want {
				t.Errorf("operationName(%q, %q) = %q, want %q", tt.tag, tt.sql, got, tt.want)
			}
		})
	}
}

func TestCompactSQL(t *testing.T) {
	t.Parallel()

	in := "SELECT id, name\n\t\tFROM departments\n\t\tORDER BY id"
	want := "SELECT id, name FROM departments ORDER BY id"
	if got := compactSQL(in); got != want {
		t.Errorf("compactSQL = %q, want %q", got, want)
	}
}

func TestQueryStats_AddQuery(t *testing.T) {
	t.Parallel()

	s := &QueryStats{}
	s.AddQuery(10*time.Millisecond, 3, nil)
	s.AddQuery(20*time.Millisecond, -1, errors.New("timeout"))
	s.AddQuery(5*time.Millisecond, 2, nil)

	if s.QueryCount != 3 {
		t.Errorf("QueryCount = %d, want 3", s.QueryCount)
	}
	if s.Rows != 5 {
		t.Errorf("Rows = %d, want 5", s.Rows)
	}
	if s.TotalDuration != 35*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 35ms", s.TotalDuration)
	}
	if s.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", s.ErrorCount)
	}
}

func TestQueryStatsFromContext_Missing(t *testing.T) {
	t.Parallel()

	if _, ok := QueryStatsFromContext(context.Background()); ok {
		t.Error("expected ok=false for plain context")
	}
}

func TestTracer_StartEnd(t *testing.T) {
	t.Parallel()

	inner := &recordingTracer{}
	var got []observed
	tr := NewTracer(inner, log.Nop(), WithObserver(QueryObserverFunc(
		func(_ context.Context, op, caller, outcome string, _ time.Duration) {
			got = append(got, observed{op, caller, outcome})
		})))

	ctx, stats := WithQueryStats(context.Background())

	qctx := tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	qctx = tr.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT broken"})
	tr.TraceQueryEnd(qctx, nil, pgx.TraceQueryEndData{Err: &pgconn.PgError{Code: "42P01"}})

	if inner.starts != 2 || inner.ends != 2 {
		t.Errorf("inner starts/ends = %d/%d, want 2/2", inner.starts, inner.ends)
	}
	if stats.QueryCount != 2 || stats.ErrorCount != 1 || stats.Rows != 1 {
		t.Errorf("stats = %d queries, %d errors, %d rows; want 2, 1, 1", stats.QueryCount, stats.ErrorCount, stats.Rows)
	}
	if len(got) != 2 {
		t.Fatalf("observer calls = %d, want 2", len(got))
	}
	if got[0].operation != "SELECT" || got[0].outcome != "ok" {
		t.Errorf("first observation = %+v, want SELECT/ok", got[0])
	}
	if got[1].outcome != "error" {
		t.Errorf("second outcome = %q, want error", got[1].outcome)
	}
	// Frames inside this package are skipped, leaving no application caller.
	if got[0].caller != "unknown" {
		t.Errorf("caller = %q, want unknown", got[0].caller)
	}
}

func TestTracer_NilInnerAndLogger(t *testing.T) {
	t.Parallel()

	tr := NewTracer(nil, nil, WithSlowThreshold(time.Hour))
	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("conn reset")})
}
