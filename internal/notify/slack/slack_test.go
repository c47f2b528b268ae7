package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sightline/internal/guide"
	"github.com/linnemanlabs/sightline/internal/session"
	"github.com/linnemanlabs/sightline/internal/triage"
)

func sampleResult() *guide.TriageResult {
	return &guide.TriageResult{
		SessionID: "01JN123",
		Verdict: triage.Verdict{
			Level:             triage.LevelImmediate,
			RuleID:            "L1-CHEMICAL-EXPOSURE",
			RecommendedAction: "立即用大量清水冲洗眼部至少15分钟，并立即前往急诊。",
		},
		Classification: &session.Classification{
			ID:         "01JN123",
			Disease:    "化学性眼烧伤",
			Department: "眼外伤科",
		},
		Answers: triage.Answers{
			SessionID:        "01JN123",
			Pain:             triage.PainSevere,
			VisionChanges:    []string{"视力突然完全丧失"},
			DurationHours:    1.5,
			ChemicalExposure: true,
		},
		EvaluatedAt: time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
	}
}

func TestNotify_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := New(srv.URL, log.Nop()).Notify(context.Background(), sampleResult()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatalf("expected blocks array in payload, got %v", got)
	}
	// header, divider, fields, action, divider, context
	if len(blocks) != 6 {
		t.Errorf("blocks count = %d, want 6", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "化学性眼烧伤") || !strings.Contains(headerText, "\U0001f534") {
		t.Errorf("header = %q, want disease and red circle", headerText)
	}

	raw, _ := json.Marshal(got)
	for _, want := range []string{"L1-CHEMICAL-EXPOSURE", "眼外伤科", "1.5h", "01JN123", "2026-02-26 14:23 UTC"} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("payload missing %q", want)
		}
	}
	if text, _ := got["text"].(string); !strings.Contains(text, "化学性眼烧伤") {
		t.Errorf("fallback text = %q", text)
	}
}

func TestNotify_EmptyURLIsNoop(t *testing.T) {
	t.Parallel()

	if err := New("", nil).Notify(context.Background(), sampleResult()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
}

func TestNotify_WebhookError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer srv.Close()

	if err := New(srv.URL, log.Nop()).Notify(context.Background(), sampleResult()); err == nil {
		t.Fatal("Notify err = nil, want error on 403")
	}
}

func TestHeader_Levels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level triage.Level
		want  string
	}{
		{triage.LevelImmediate, "Immediate care"},
		{triage.LevelSameDay, "Same-day care"},
		{triage.LevelRoutine, "Triage"},
	}
	for _, tt := range tests {
		r := sampleResult()
		r.Verdict.Level = tt.level
		if got := headerBlock(r).Text.Text; !strings.Contains(got, tt.want) {
			t.Errorf("level %d header = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestDisease_Unclassified(t *testing.T) {
	t.Parallel()

	r := sampleResult()
	r.Classification = nil
	if got := disease(r); got != "unclassified" {
		t.Errorf("disease() = %q, want unclassified", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("眼睛痛", 10); got != "眼睛痛" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate(strings.Repeat("眼", 20), 10); got != strings.Repeat("眼", 7)+"..." {
		t.Errorf("truncate long = %q", got)
	}
}
