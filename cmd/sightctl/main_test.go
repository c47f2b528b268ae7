package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr error
	}{
		{
			name: "exact",
			args: []string{"resolve", "老年性白内障"},
			want: []string{"老年性白内障", "白内障科", "1.00", "exact"},
		},
		{
			name: "synonym",
			args: []string{"resolve", "AMD"},
			want: []string{"黄斑变性", "玻璃体视网膜科", "0.97", "synonym (AMD)"},
		},
		{
			name:    "unresolved",
			args:    []string{"resolve", "老年性白内障", "完全未知的病"},
			want:    []string{"完全未知的病", "unresolved"},
			wantErr: errUnresolved,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := execute(t, tt.args...)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output %q missing %q", out, w)
				}
			}
		})
	}
}

func TestResolve_NoArgs(t *testing.T) {
	t.Parallel()

	if _, err := execute(t, "resolve"); err == nil {
		t.Fatal("err = nil, want argument error")
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"chemical", []string{"--pain", "severe", "--hours", "1", "--chemical"}, "L1-CHEMICAL-EXPOSURE"},
		{"red flag", []string{"--pain", "剧痛", "--hours", "6", "--assoc", "恶心呕吐"}, "L2-SEVERE-RED-FLAG"},
		{"routine", []string{"--pain", "mild", "--hours", "72", "--vision", "无变化"}, "L4-ROUTINE"},
		{"custom window", []string{"--pain", "moderate", "--hours", "60", "--multi-day-hours", "72"}, "L3-PAIN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := execute(t, append([]string{"evaluate"}, tt.args...)...)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output %q missing rule %q", out, tt.want)
			}
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
	}{
		{"missing pain", []string{"evaluate", "--hours", "1"}},
		{"unknown pain", []string{"evaluate", "--pain", "unbearable", "--hours", "1"}},
		{"negative hours", []string{"evaluate", "--pain", "mild", "--hours", "-1"}},
		{"bad windows", []string{"evaluate", "--pain", "mild", "--hours", "1", "--acute-hours", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := execute(t, tt.args...); err == nil {
				t.Fatal("err = nil, want error")
			}
		})
	}
}

func TestRules(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "rules", "--acute-hours", "6")
	if err != nil {
		t.Fatalf("rules: %v", err)
	}
	for _, w := range []string{"acute=6h", "L1-CHEMICAL-EXPOSURE", "L4-ROUTINE", "within 6h"} {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q:\n%s", w, out)
		}
	}
	if strings.Index(out, "L1-CHEMICAL-EXPOSURE") > strings.Index(out, "L4-ROUTINE") {
		t.Error("rules printed out of order")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	var gotSymptoms []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Symptoms []string `json:"symptoms"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotSymptoms = body.Symptoms
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"label":"AMD","confidence":0.8}`))
	}))
	defer srv.Close()

	out, err := execute(t, "classify", "视物变形", "中心暗点", "--partner-url", srv.URL, "--retries", "0")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(gotSymptoms) != 2 || gotSymptoms[0] != "视物变形" {
		t.Errorf("partner received %v", gotSymptoms)
	}
	for _, w := range []string{"partner label: AMD", "confidence 0.80", "黄斑变性", "玻璃体视网膜科"} {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q:\n%s", w, out)
		}
	}
}

func TestClassify_PartnerDown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := execute(t, "classify", "眼痛", "--partner-url", srv.URL, "--retries", "0"); err == nil {
		t.Fatal("err = nil, want partner error")
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "sightctl") {
		t.Errorf("output %q missing component", out)
	}
}
