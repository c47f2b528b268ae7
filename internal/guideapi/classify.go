package guideapi

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/sightline/internal/session"
)

type classifyRequest struct {
	Symptoms []string `json:"symptoms"`
}

type classificationView struct {
	Disease    string  `json:"disease"`
	Department string  `json:"department"`
	Confidence float64 `json:"confidence"`
}

type classifyResponse struct {
	ResultID       string             `json:"result_id"`
	Classification classificationView `json:"classification"`
	ExpiresAt      time.Time          `json:"expires_at"`
}

type resultResponse struct {
	ResultID       string             `json:"result_id"`
	Classification classificationView `json:"classification"`
	CreatedAt      time.Time          `json:"created_at"`
}

type sessionResponse struct {
	*session.Classification
	AgeSeconds       float64   `json:"age_seconds"`
	RemainingSeconds float64   `json:"remaining_seconds"`
	ExpiresAt        time.Time `json:"expires_at"`
}

func viewOf(c *session.Classification) classificationView {
	return classificationView{Disease: c.Disease, Department: c.Department, Confidence: c.Confidence}
}

func (a *API) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int("sightline.symptoms.count", len(req.Symptoms)))

	c, err := a.svc.Classify(r.Context(), req.Symptoms)
	if err != nil {
		a.writeServiceError(r.Context(), w, err)
		return
	}

	span.SetAttributes(
		attribute.String("sightline.session.id", c.ID),
		attribute.String("sightline.disease", c.Disease),
		attribute.String("sightline.matched_by", c.MatchedBy),
	)

	writeJSON(w, http.StatusOK, classifyResponse{
		ResultID:       c.ID,
		Classification: viewOf(c),
		ExpiresAt:      c.CreatedAt.Add(a.ttl).UTC(),
	})
}

func (a *API) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("sightline.session.id", id))

	c, err := a.svc.Result(r.Context(), id)
	if err != nil {
		a.writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{
		ResultID:       c.ID,
		Classification: viewOf(c),
		CreatedAt:      c.CreatedAt.UTC(),
	})
}

// handleGetSession is the debug view: the whole cached entry plus timing.
func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("sightline.session.id", id))

	c, err := a.svc.Result(r.Context(), id)
	if err != nil {
		a.writeServiceError(r.Context(), w, err)
		return
	}

	age := a.now().Sub(c.CreatedAt)
	remaining := max(a.ttl-age, 0)
	writeJSON(w, http.StatusOK, sessionResponse{
		Classification:   c,
		AgeSeconds:       age.Seconds(),
		RemainingSeconds: remaining.Seconds(),
		ExpiresAt:        c.CreatedAt.Add(a.ttl).UTC(),
	})
}
