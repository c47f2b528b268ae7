// Package slack posts urgent triage verdicts to a Slack incoming webhook.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sightline/internal/guide"
	"github.com/linnemanlabs/sightline/internal/triage"
)

const (
	maxFieldLen = 500
	httpTimeout = 10 * time.Second
)

// Notifier sends triage results to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

var _ guide.Notifier = (*Notifier)(nil)

// New creates a Slack notifier. With an empty webhookURL, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Notify posts r to the configured webhook.
func (n *Notifier) Notify(ctx context.Context, r *guide.TriageResult) error {
	if n.webhookURL == "" || r == nil {
		return nil
	}

	msg := buildMessage(r)
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, msg); err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	n.logger.Info(ctx, "urgent triage posted to slack", "session_id", r.SessionID, "rule_id", r.Verdict.RuleID)
	return nil
}

func buildMessage(r *guide.TriageResult) *slack.WebhookMessage {
	blocks := []slack.Block{
		headerBlock(r),
		slack.NewDividerBlock(),
		fieldsBlock(r),
		actionBlock(r),
		slack.NewDividerBlock(),
		contextBlock(r),
	}
	return &slack.WebhookMessage{
		Text:   fallbackText(r),
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
}

func fallbackText(r *guide.TriageResult) string {
	return fmt.Sprintf("Urgent eye triage: %s (%s)", disease(r), r.Verdict.RuleID)
}

func headerBlock(r *guide.TriageResult) *slack.HeaderBlock {
	text := fmt.Sprintf("%s %s: %s", levelEmoji(r), levelTitle(r), disease(r))
	return slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, text, true, false))
}

func fieldsBlock(r *guide.TriageResult) *slack.SectionBlock {
	department := "-"
	if r.Classification != nil {
		department = r.Classification.Department
	}
	fields := []*slack.TextBlockObject{
		mrkdwn(fmt.Sprintf("*Level:* %d (%s)", int(r.Verdict.Level), r.Verdict.Level)),
		mrkdwn(fmt.Sprintf("*Rule:* `%s`", r.Verdict.RuleID)),
		mrkdwn(fmt.Sprintf("*Disease:* %s", disease(r))),
		mrkdwn(fmt.Sprintf("*Department:* %s", department)),
		mrkdwn(fmt.Sprintf("*Onset:* %gh ago", r.Answers.DurationHours)),
		mrkdwn(fmt.Sprintf("*Pain:* %s", r.Answers.Pain)),
	}
	if len(r.Answers.VisionChanges) > 0 {
		fields = append(fields, mrkdwn("*Vision:* "+truncate(strings.Join(r.Answers.VisionChanges, "、"), maxFieldLen)))
	}
	return slack.NewSectionBlock(nil, fields, nil)
}

func actionBlock(r *guide.TriageResult) *slack.SectionBlock {
	text := truncate(r.Verdict.RecommendedAction, maxFieldLen)
	if text == "" {
		text = "_No recommended action._"
	}
	return slack.NewSectionBlock(mrkdwn("*Recommended action*\n"+text), nil, nil)
}

func contextBlock(r *guide.TriageResult) *slack.ContextBlock {
	ts := r.EvaluatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	text := fmt.Sprintf("sightline • session %s • %s", r.SessionID, ts.UTC().Format("2006-01-02 15:04 UTC"))
	return slack.NewContextBlock("", mrkdwn(text))
}

func mrkdwn(s string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, s, false, false)
}

func disease(r *guide.TriageResult) string {
	if r.Classification == nil || r.Classification.Disease == "" {
		return "unclassified"
	}
	return r.Classification.Disease
}

func levelTitle(r *guide.TriageResult) string {
	switch r.Verdict.Level {
	case triage.LevelImmediate:
		return "Immediate care"
	case triage.LevelSameDay:
		return "Same-day care"
	default:
		return "Triage"
	}
}

func levelEmoji(r *guide.TriageResult) string {
	switch r.Verdict.Level {
	case triage.LevelImmediate:
		return "\U0001f534" // red circle
	case triage.LevelSameDay:
		return "\U0001f7e0" // orange circle
	default:
		return "\U0001f7e1" // yellow circle
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
