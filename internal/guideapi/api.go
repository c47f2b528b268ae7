// Package guideapi exposes the classification and triage service over HTTP.
package guideapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sightline/internal/guide"
	"github.com/linnemanlabs/sightline/internal/session"
	"github.com/linnemanlabs/sightline/internal/triage"
)

// Service defines the business operations the API needs.
type Service interface {
	Classify(ctx context.Context, symptoms []string) (*session.Classification, error)
	Result(ctx context.Context, id string) (*session.Classification, error)
	Triage(ctx context.Context, answers triage.Answers) (*guide.TriageResult, error)
	Engine() *triage.Engine
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    Service
	ttl    time.Duration
	now    func() time.Time
}

// New creates the API. ttl is the session lifetime reported to clients.
func New(logger log.Logger, svc Service, ttl time.Duration) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("guide service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		ttl:    ttl,
		now:    time.Now,
	}
}

// RegisterRoutes attaches API endpoints to the router. The mounted
// subrouters serve both /classify and /classify/ (likewise /triage).
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/classify", func(r chi.Router) {
		r.Post("/", a.handleClassify)
		r.Get("/result/{id}", a.handleGetResult)
		r.Get("/session/{id}", a.handleGetSession)
	})

	r.Route("/triage", func(r chi.Router) {
		r.Post("/", a.handleTriage)
		r.Get("/rules", a.handleListRules)
	})
}

type errorBody struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	RawLabel string `json:"raw_label,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// writeServiceError maps service outcomes to HTTP statuses. Unknown errors
// are logged and reported as 500 without detail.
func (a *API) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	span := trace.SpanFromContext(ctx)

	var ue *guide.UnresolvedError
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &ue):
		status, body.Code, body.RawLabel = http.StatusUnprocessableEntity, "unresolved_disease", ue.RawLabel
	case errors.Is(err, guide.ErrValidation):
		status, body.Code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, guide.ErrTriageValidation):
		status, body.Code = http.StatusBadRequest, "triage_validation_error"
	case errors.Is(err, guide.ErrSessionNotFound):
		status, body.Code = http.StatusNotFound, "session_not_found"
	case errors.Is(err, guide.ErrSessionExpired):
		status, body.Code = http.StatusGone, "session_expired"
	case errors.Is(err, guide.ErrPartnerRejected):
		status, body.Code = http.StatusBadGateway, "partner_rejected"
	case errors.Is(err, guide.ErrUpstreamUnavailable):
		status, body.Code = http.StatusServiceUnavailable, "upstream_unavailable"
	default:
		a.logger.Error(ctx, err, "request failed")
		body.Code, body.Error = "internal_error", "internal error"
	}

	span.SetAttributes(attribute.String("sightline.error.code", body.Code))
	writeJSON(w, status, body)
}

// decodeBody reads a JSON request body, reporting 413 when the body limit
// middleware cut it short.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_payload", "invalid JSON payload")
		return false
	}
	return true
}
