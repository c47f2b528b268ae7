// Package pgcatalog loads the department/disease catalog from PostgreSQL.
//
// The tables are read once at startup; sightline never writes to them.
package pgcatalog

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sightline/internal/catalog"
	"github.com/linnemanlabs/sightline/internal/postgres"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sightline/internal/catalog/pgcatalog")

// Querier is the subset of pgx used by Load. *pgxpool.Pool and *pgx.Conn
// both satisfy it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const (
	departmentsQuery = `SELECT id, name, director, phone, description
		FROM departments ORDER BY id`
	mappingsQuery = `SELECT id, disease_name, department_id, confidence
		FROM disease_mappings ORDER BY id`
	synonymsQuery = `SELECT id, mapping_id, synonym, similarity_score
		FROM disease_synonyms ORDER BY id`
)

// Load reads departments, disease mappings and synonyms in id order and
// builds an in-memory catalog index.
func Load(ctx context.Context, q Querier, logger log.Logger) (*catalog.Index, error) {
	if logger == nil {
		logger = log.Nop()
	}

	ctx, span := tracer.Start(ctx, "pgcatalog.Load", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	ctx, stats := postgres.WithQueryStats(ctx)

	idx, err := load(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	st := idx.Stats()
	span.SetAttributes(
		attribute.Int("sightline.catalog.departments", st.Departments),
		attribute.Int("sightline.catalog.mappings", st.Mappings),
		attribute.Int("sightline.catalog.synonyms", st.Synonyms),
	)
	logger.Info(ctx, "catalog loaded from postgres",
		"departments", st.Departments,
		"mappings", st.Mappings,
		"synonyms", st.Synonyms,
		"queries", stats.QueryCount,
		"db_seconds", stats.TotalDuration.Seconds(),
	)
	return idx, nil
}

func load(ctx context.Context, q Querier) (*catalog.Index, error) {
	departments, err := queryAll(ctx, q, departmentsQuery, scanDepartment)
	if err != nil {
		return nil, fmt.Errorf("load departments: %w", err)
	}
	mappings, err := queryAll(ctx, q, mappingsQuery, scanMapping)
	if err != nil {
		return nil, fmt.Errorf("load disease mappings: %w", err)
	}
	synonyms, err := queryAll(ctx, q, synonymsQuery, scanSynonym)
	if err != nil {
		return nil, fmt.Errorf("load disease synonyms: %w", err)
	}

	idx, err := catalog.NewIndex(departments, mappings, synonyms)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	return idx, nil
}

func queryAll[T any](ctx context.Context, q Querier, sql string, scan func(pgx.Row) (T, error)) ([]T, error) {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

func scanDepartment(row pgx.Row) (catalog.Department, error) {
	var (
		d                  catalog.Department
		phone, description *string
	)
	if err := row.Scan(&d.ID, &d.Name, &d.Director, &phone, &description); err != nil {
		return d, err
	}
	if phone != nil {
		d.Phone = *phone
	}
	if description != nil {
		d.Description = *description
	}
	return d, nil
}

// confidence and similarity_score are nullable; NULL reads as
// catalog.DefaultWeight, the same as an omitted value in a YAML seed.
func scanMapping(row pgx.Row) (catalog.DiseaseMapping, error) {
	var (
		m          catalog.DiseaseMapping
		confidence *float64
	)
	if err := row.Scan(&m.ID, &m.DiseaseName, &m.DepartmentID, &confidence); err != nil {
		return m, err
	}
	m.Confidence = weightOrDefault(confidence)
	return m, nil
}

func scanSynonym(row pgx.Row) (catalog.DiseaseSynonym, error) {
	var (
		s     catalog.DiseaseSynonym
		score *float64
	)
	if err := row.Scan(&s.ID, &s.MappingID, &s.Synonym, &score); err != nil {
		return s, err
	}
	s.SimilarityScore = weightOrDefault(score)
	return s, nil
}

func weightOrDefault(p *float64) float64 {
	if p == nil {
		return catalog.DefaultWeight
	}
	return *p
}
