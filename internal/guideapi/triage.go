package guideapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/sightline/internal/triage"
)

type triageRequest struct {
	SessionID          string   `json:"session_id"`
	PainLevel          *string  `json:"pain_level"`
	VisionChanges      []string `json:"vision_changes"`
	DurationHours      *float64 `json:"duration_hours"`
	AssociatedSymptoms []string `json:"associated_symptoms"`
	TraumaHistory      bool     `json:"trauma_history"`
	ChemicalExposure   bool     `json:"chemical_exposure"`
}

type triageResponse struct {
	SessionID      string             `json:"session_id"`
	TriageResult   triage.Verdict     `json:"triage_result"`
	Classification classificationView `json:"classification"`
}

type ruleView struct {
	ID          string `json:"id"`
	Level       int    `json:"level"`
	LevelName   string `json:"level_name"`
	Description string `json:"description"`
	Action      string `json:"recommended_action"`
}

type rulesResponse struct {
	Thresholds triage.Thresholds `json:"thresholds"`
	Rules      []ruleView        `json:"rules"`
}

func (a *API) handleTriage(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	switch {
	case req.PainLevel == nil:
		writeError(w, http.StatusBadRequest, "triage_validation_error", "pain_level is required")
		return
	case req.DurationHours == nil:
		writeError(w, http.StatusBadRequest, "triage_validation_error", "duration_hours is required")
		return
	}
	pain, err := triage.ParsePainLevel(*req.PainLevel)
	if err != nil {
		writeError(w, http.StatusBadRequest, "triage_validation_error", err.Error())
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sightline.session.id", req.SessionID))

	res, err := a.svc.Triage(r.Context(), triage.Answers{
		SessionID:          req.SessionID,
		Pain:               pain,
		VisionChanges:      req.VisionChanges,
		DurationHours:      *req.DurationHours,
		AssociatedSymptoms: req.AssociatedSymptoms,
		TraumaHistory:      req.TraumaHistory,
		ChemicalExposure:   req.ChemicalExposure,
	})
	if err != nil {
		a.writeServiceError(r.Context(), w, err)
		return
	}

	span.SetAttributes(
		attribute.Int("sightline.triage.level", int(res.Verdict.Level)),
		attribute.String("sightline.triage.rule_id", res.Verdict.RuleID),
	)

	writeJSON(w, http.StatusOK, triageResponse{
		SessionID:      res.SessionID,
		TriageResult:   res.Verdict,
		Classification: viewOf(res.Classification),
	})
}

func (a *API) handleListRules(w http.ResponseWriter, _ *http.Request) {
	e := a.svc.Engine()
	rules := e.Rules()
	out := rulesResponse{Thresholds: e.Thresholds(), Rules: make([]ruleView, 0, len(rules))}
	for _, rule := range rules {
		out.Rules = append(out.Rules, ruleView{
			ID:          rule.ID,
			Level:       int(rule.Level),
			LevelName:   rule.Level.String(),
			Description: rule.Description,
			Action:      rule.Action,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
