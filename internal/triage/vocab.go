package triage

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/linnemanlabs/sightline/internal/catalog"
)

// Thresholds are the duration windows, in hours, the rules compare against.
type Thresholds struct {
	AcuteOnsetHours float64 `json:"acute_onset_hours"`
	SameDayHours    float64 `json:"same_day_hours"`
	MultiDayHours   float64 `json:"multi_day_hours"`
}

// DefaultThresholds returns the windows used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AcuteOnsetHours: 12,
		SameDayHours:    24,
		MultiDayHours:   48,
	}
}

// Validate requires finite windows with 0 < acute <= same-day <= multi-day.
func (t Thresholds) Validate() error {
	for _, w := range []struct {
		name  string
		hours float64
	}{
		{"acute onset", t.AcuteOnsetHours},
		{"same-day", t.SameDayHours},
		{"multi-day", t.MultiDayHours},
	} {
		if math.IsNaN(w.hours) || math.IsInf(w.hours, 0) {
			return fmt.Errorf("%s window %vh must be a finite number", w.name, w.hours)
		}
	}
	switch {
	case !(t.AcuteOnsetHours > 0):
		return fmt.Errorf("acute onset window %vh must be positive", t.AcuteOnsetHours)
	case t.SameDayHours < t.AcuteOnsetHours:
		return fmt.Errorf("same-day window %vh is shorter than acute onset window %vh", t.SameDayHours, t.AcuteOnsetHours)
	case t.MultiDayHours < t.SameDayHours:
		return fmt.Errorf("multi-day window %vh is shorter than same-day window %vh", t.MultiDayHours, t.SameDayHours)
	}
	return nil
}

// Vocabulary holds the marker phrases used to classify free-form tags.
// A tag carries a marker when the marker is a substring of the normalised
// tag. NoChange entries must match a tag exactly.
type Vocabulary struct {
	SuddenLoss   []string
	RapidDecline []string
	RedFlags     []string
	NoChange     []string
}

// DefaultVocabulary covers the Chinese questionnaire wording and English
// equivalents.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		SuddenLoss: []string{
			"突然完全丧失", "完全丧失", "视力丧失", "突然失明", "失明", "看不见",
			"vision loss", "loss of vision", "blindness",
		},
		RapidDecline: []string{
			"急剧下降", "骤降", "突然下降", "明显下降", "迅速下降",
			"rapid decline", "sudden decline", "significant decline", "rapidly worsening",
		},
		RedFlags: []string{
			"恶心", "呕吐", "剧烈头痛", "虹视",
			"nausea", "vomit", "severe headache", "halo",
		},
		NoChange: []string{
			"无", "没有", "无变化", "正常", "none", "no change", "normal",
		},
	}
}

func (v Vocabulary) normalized() (Vocabulary, error) {
	var errs []error
	norm := func(field string, in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			n := catalog.Normalize(s)
			if n == "" {
				errs = append(errs, fmt.Errorf("vocabulary %s: empty marker", field))
				continue
			}
			out = append(out, n)
		}
		return out
	}
	nv := Vocabulary{
		SuddenLoss:   norm("sudden_loss", v.SuddenLoss),
		RapidDecline: norm("rapid_decline", v.RapidDecline),
		RedFlags:     norm("red_flags", v.RedFlags),
		NoChange:     norm("no_change", v.NoChange),
	}
	if len(nv.SuddenLoss) == 0 {
		errs = append(errs, errors.New("vocabulary sudden_loss: no markers"))
	}
	if len(nv.RapidDecline) == 0 {
		errs = append(errs, errors.New("vocabulary rapid_decline: no markers"))
	}
	return nv, errors.Join(errs...)
}

func containsAny(tag string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(tag, m) {
			return true
		}
	}
	return false
}
