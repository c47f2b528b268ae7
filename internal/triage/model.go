package triage

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/linnemanlabs/sightline/internal/catalog"
)

// Level is the urgency of a verdict, 1 being the most urgent.
type Level int

// Urgency levels.
const (
	LevelImmediate Level = 1 // go to emergency now
	LevelSameDay   Level = 2
	LevelUrgent    Level = 3 // within the multi-day window
	LevelRoutine   Level = 4
)

func (l Level) String() string {
	switch l {
	case LevelImmediate:
		return "immediate"
	case LevelSameDay:
		return "same_day"
	case LevelUrgent:
		return "urgent"
	case LevelRoutine:
		return "routine"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// PainLevel is the reported pain severity.
type PainLevel int

// Pain levels, ordered by severity.
const (
	PainNone PainLevel = iota
	PainMild
	PainModerate
	PainSevere
)

func (p PainLevel) String() string {
	switch p {
	case PainNone:
		return "none"
	case PainMild:
		return "mild"
	case PainModerate:
		return "moderate"
	case PainSevere:
		return "severe"
	default:
		return fmt.Sprintf("pain(%d)", int(p))
	}
}

var painWords = map[string]PainLevel{
	"none": PainNone, "无": PainNone, "无痛": PainNone, "没有疼痛": PainNone, "不痛": PainNone,
	"mild": PainMild, "轻微": PainMild, "轻微不适": PainMild, "轻度": PainMild, "轻度疼痛": PainMild, "轻微疼痛": PainMild,
	"moderate": PainModerate, "中度": PainModerate, "中度疼痛": PainModerate, "中等": PainModerate,
	"severe": PainSevere, "剧痛": PainSevere, "重度": PainSevere, "重度疼痛": PainSevere, "剧烈疼痛": PainSevere,
}

// ErrInvalidAnswers is wrapped by every validation failure of Answers and
// by ParsePainLevel.
var ErrInvalidAnswers = errors.New("invalid triage answers")

// ParsePainLevel accepts the English level names and the Chinese
// questionnaire wording.
func ParsePainLevel(s string) (PainLevel, error) {
	if p, ok := painWords[catalog.Normalize(s)]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("%w: unknown pain level %q", ErrInvalidAnswers, s)
}

// Answers is one questionnaire submission for a classified session.
type Answers struct {
	SessionID          string
	Pain               PainLevel
	VisionChanges      []string
	DurationHours      float64
	AssociatedSymptoms []string
	TraumaHistory      bool
	ChemicalExposure   bool
}

// Validate reports every problem with a, joined.
func (a Answers) Validate() error {
	var errs []error
	if strings.TrimSpace(a.SessionID) == "" {
		errs = append(errs, errors.New("session_id is required"))
	}
	if a.Pain < PainNone || a.Pain > PainSevere {
		errs = append(errs, fmt.Errorf("pain level %d out of range", int(a.Pain)))
	}
	if math.IsNaN(a.DurationHours) || math.IsInf(a.DurationHours, 0) || a.DurationHours < 0 {
		errs = append(errs, fmt.Errorf("duration_hours %v must be a non-negative number", a.DurationHours))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidAnswers, errors.Join(errs...))
	}
	return nil
}

// Verdict is the outcome of evaluating Answers.
type Verdict struct {
	Level             Level  `json:"level"`
	RuleID            string `json:"rule_id"`
	RecommendedAction string `json:"recommended_action"`
}
