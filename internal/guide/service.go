// Package guide orchestrates a patient visit: classify symptoms through the
// partner, place the label in the catalog, cache the result under a session
// id, and later evaluate triage answers against that session.
package guide

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sightline/internal/partner"
	"github.com/linnemanlabs/sightline/internal/resolve"
	"github.com/linnemanlabs/sightline/internal/session"
	"github.com/linnemanlabs/sightline/internal/triage"
)

const notifyTimeout = 15 * time.Second

// TriageResult is a verdict together with the classification it was
// evaluated against.
type TriageResult struct {
	SessionID      string                  `json:"session_id"`
	Verdict        triage.Verdict          `json:"verdict"`
	Classification *session.Classification `json:"classification"`
	Answers        triage.Answers          `json:"-"`
	EvaluatedAt    time.Time               `json:"evaluated_at"`
}

// Notifier is told about immediate-level verdicts.
type Notifier interface {
	Notify(ctx context.Context, r *TriageResult) error
}

// Service is the business boundary for classification and triage.
type Service struct {
	classifier partner.Classifier
	resolver   *resolve.Resolver
	cache      session.Cache
	engine     *triage.Engine
	logger     log.Logger
	metrics    *Metrics
	notifier   Notifier
	now        func() time.Time

	inflight sync.WaitGroup
}

// NewService wires a Service. metrics and notifier may be nil.
func NewService(classifier partner.Classifier, resolver *resolve.Resolver, cache session.Cache, engine *triage.Engine, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if classifier == nil || resolver == nil || cache == nil || engine == nil {
		panic(xerrors.New("guide: classifier, resolver, cache and engine are required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		classifier: classifier,
		resolver:   resolver,
		cache:      cache,
		engine:     engine,
		logger:     logger,
		metrics:    metrics,
		notifier:   notifier,
		now:        time.Now,
	}
}

// Engine exposes the triage engine for read-only callers such as the rule
// listing endpoint.
func (s *Service) Engine() *triage.Engine { return s.engine }

// Classify sends symptoms to the partner, resolves the returned label and
// caches the result. Nothing is cached when any step fails.
func (s *Service) Classify(ctx context.Context, symptoms []string) (*session.Classification, error) {
	start := time.Now()
	c, outcome, err := s.classify(ctx, symptoms)
	s.metrics.classify(outcome, time.Since(start).Seconds())
	return c, err
}

func (s *Service) classify(ctx context.Context, symptoms []string) (*session.Classification, string, error) {
	clean, err := partner.ValidateSymptoms(symptoms)
	if err != nil {
		return nil, "invalid", fmt.Errorf("%w: %w", ErrValidation, err)
	}

	label, err := s.classifier.Classify(ctx, clean)
	if err != nil {
		outcome, mapped := mapPartnerError(err)
		s.logger.Warn(ctx, "partner classification failed", "outcome", outcome, "error", err)
		return nil, outcome, mapped
	}

	res, ok := s.resolver.Resolve(label.Text)
	if !ok {
		s.metrics.resolution("unresolved")
		s.logger.Warn(ctx, "partner label not in catalog", "raw_label", label.Text)
		return nil, "unresolved", &UnresolvedError{RawLabel: label.Text}
	}
	s.metrics.resolution(string(res.MatchedBy))

	c := &session.Classification{
		Disease:           res.Disease,
		Department:        res.Department.Name,
		DepartmentID:      res.Department.ID,
		Confidence:        res.Confidence,
		MatchedBy:         string(res.MatchedBy),
		RawLabel:          label.Text,
		PartnerConfidence: label.Confidence,
		Symptoms:          clean,
	}
	stored, err := s.cache.Put(ctx, c)
	if err != nil {
		return nil, "error", fmt.Errorf("store classification: %w", err)
	}

	s.logger.Info(ctx, "symptoms classified",
		"session_id", stored.ID,
		"disease", stored.Disease,
		"department", stored.Department,
		"matched_by", stored.MatchedBy,
		"confidence", stored.Confidence,
	)
	return stored, "ok", nil
}

func mapPartnerError(err error) (string, error) {
	var rej *partner.RejectedError
	switch {
	case errors.Is(err, partner.ErrInvalidInput):
		return "invalid", fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.As(err, &rej), errors.Is(err, partner.ErrBadResponse):
		return "rejected", fmt.Errorf("%w: %w", ErrPartnerRejected, err)
	default:
		return "unavailable", fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
}

// Result returns the cached classification for id.
func (s *Service) Result(ctx context.Context, id string) (*session.Classification, error) {
	return s.lookup(ctx, id)
}

func (s *Service) lookup(ctx context.Context, id string) (*session.Classification, error) {
	c, err := s.cache.Get(ctx, id)
	switch {
	case err == nil:
		s.metrics.lookup("hit")
		return c, nil
	case errors.Is(err, session.ErrExpired):
		s.metrics.lookup("expired")
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	case errors.Is(err, session.ErrNotFound):
		s.metrics.lookup("not_found")
		return nil, fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	default:
		s.metrics.lookup("error")
		return nil, fmt.Errorf("session lookup %s: %w", id, err)
	}
}

// Triage validates answers, loads their session and evaluates the rules.
// Immediate-level verdicts are handed to the notifier in the background.
func (s *Service) Triage(ctx context.Context, answers triage.Answers) (*TriageResult, error) {
	if err := answers.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTriageValidation, err)
	}

	c, err := s.lookup(ctx, answers.SessionID)
	if err != nil {
		return nil, err
	}

	verdict := s.engine.Evaluate(answers)
	s.metrics.verdict(verdict.Level.String(), verdict.RuleID)

	result := &TriageResult{
		SessionID:      answers.SessionID,
		Verdict:        verdict,
		Classification: c,
		Answers:        answers,
		EvaluatedAt:    s.now(),
	}

	s.logger.Info(ctx, "triage evaluated",
		"session_id", answers.SessionID,
		"level", verdict.Level.String(),
		"rule_id", verdict.RuleID,
		"disease", c.Disease,
	)

	if verdict.Level == triage.LevelImmediate && s.notifier != nil {
		s.dispatch(ctx, result)
	}
	return result, nil
}

// dispatch notifies on its own goroutine; the request may finish first.
func (s *Service) dispatch(ctx context.Context, r *TriageResult) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()

		if err := s.notifier.Notify(nctx, r); err != nil {
			s.metrics.notification("error")
			s.logger.Error(nctx, err, "urgent triage notification failed", "session_id", r.SessionID)
			return
		}
		s.metrics.notification("sent")
	}()
}

// Wait blocks until background notifications finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
