package triage

import (
	"fmt"
	"slices"

	"github.com/linnemanlabs/sightline/internal/catalog"
)

// Rule is one row of the rule table.
type Rule struct {
	ID          string
	Level       Level
	Description string
	Action      string
	match       func(f *findings) bool
}

// findings are the answers reduced to the facts the rules test.
type findings struct {
	pain         PainLevel
	hours        float64
	trauma       bool
	chemical     bool
	suddenLoss   bool
	rapidDecline bool
	redFlag      bool
	visionChange bool
}

// Engine evaluates Answers against an ordered rule table. It is safe for
// concurrent use and performs no I/O.
type Engine struct {
	thresholds Thresholds
	vocab      Vocabulary
	rules      []Rule
}

// NewEngine validates the thresholds and vocabulary and builds the rule
// table.
func NewEngine(th Thresholds, vocab Vocabulary) (*Engine, error) {
	if err := th.Validate(); err != nil {
		return nil, fmt.Errorf("triage thresholds: %w", err)
	}
	nv, err := vocab.normalized()
	if err != nil {
		return nil, err
	}
	return &Engine{
		thresholds: th,
		vocab:      nv,
		rules:      buildRules(th),
	}, nil
}

// DefaultEngine returns an engine with DefaultThresholds and DefaultVocabulary.
func DefaultEngine() *Engine {
	e, err := NewEngine(DefaultThresholds(), DefaultVocabulary())
	if err != nil {
		panic(err)
	}
	return e
}

// Thresholds returns the windows the engine was built with.
func (e *Engine) Thresholds() Thresholds { return e.thresholds }

// Rules returns a copy of the rule table in evaluation order.
func (e *Engine) Rules() []Rule {
	return slices.Clone(e.rules)
}

// Evaluate returns the verdict of the first matching rule. Answers should
// already have passed Validate; Evaluate itself never fails.
func (e *Engine) Evaluate(a Answers) Verdict {
	f := e.reduce(a)
	for i := range e.rules {
		r := &e.rules[i]
		if r.match(&f) {
			return Verdict{Level: r.Level, RuleID: r.ID, RecommendedAction: r.Action}
		}
	}
	// unreachable: the last rule matches everything
	last := e.rules[len(e.rules)-1]
	return Verdict{Level: last.Level, RuleID: last.ID, RecommendedAction: last.Action}
}

func (e *Engine) reduce(a Answers) findings {
	f := findings{
		pain:     a.Pain,
		hours:    a.DurationHours,
		trauma:   a.TraumaHistory,
		chemical: a.ChemicalExposure,
	}
	for _, raw := range a.VisionChanges {
		tag := catalog.Normalize(raw)
		if tag == "" || slices.Contains(e.vocab.NoChange, tag) {
			continue
		}
		f.visionChange = true
		if containsAny(tag, e.vocab.SuddenLoss) {
			f.suddenLoss = true
		}
		if containsAny(tag, e.vocab.RapidDecline) {
			f.rapidDecline = true
		}
		if containsAny(tag, e.vocab.RedFlags) {
			f.redFlag = true
		}
	}
	for _, raw := range a.AssociatedSymptoms {
		if tag := catalog.Normalize(raw); tag != "" && containsAny(tag, e.vocab.RedFlags) {
			f.redFlag = true
		}
	}
	// complete loss is the extreme case of decline
	if f.suddenLoss {
		f.rapidDecline = true
	}
	return f
}

func buildRules(th Thresholds) []Rule {
	return []Rule{
		{
			ID:          "L1-CHEMICAL-EXPOSURE",
			Level:       LevelImmediate,
			Description: "chemical exposure",
			Action:      "立即用大量清水持续冲洗眼部至少15分钟，同时尽快前往急诊眼科就诊",
			match:       func(f *findings) bool { return f.chemical },
		},
		{
			ID:          "L1-TRAUMA-VISION-LOSS",
			Level:       LevelImmediate,
			Description: "trauma with sudden vision loss",
			Action:      "立即前往急诊眼科就诊，途中不要按压或揉搓眼球",
			match:       func(f *findings) bool { return f.trauma && f.suddenLoss },
		},
		{
			ID:          "L1-ACUTE-SEVERE-VISION-LOSS",
			Level:       LevelImmediate,
			Description: fmt.Sprintf("severe pain with sudden vision loss within %gh", th.AcuteOnsetHours),
			Action:      "立即前往急诊眼科就诊",
			match: func(f *findings) bool {
				return f.pain == PainSevere && f.suddenLoss && f.hours <= th.AcuteOnsetHours
			},
		},
		{
			ID:          "L2-SEVERE-RAPID-DECLINE",
			Level:       LevelSameDay,
			Description: fmt.Sprintf("severe pain with rapid vision decline within %gh", th.SameDayHours),
			Action:      "请于今天内前往眼科急诊就诊",
			match: func(f *findings) bool {
				return f.pain == PainSevere && f.rapidDecline && f.hours <= th.SameDayHours
			},
		},
		{
			ID:          "L2-SEVERE-RED-FLAG",
			Level:       LevelSameDay,
			Description: fmt.Sprintf("severe pain with nausea, headache or halos within %gh", th.SameDayHours),
			Action:      "疑似眼压急剧升高，请于今天内前往眼科急诊就诊",
			match: func(f *findings) bool {
				return f.pain == PainSevere && f.redFlag && f.hours <= th.SameDayHours
			},
		},
		{
			ID:          "L2-SUDDEN-VISION-LOSS",
			Level:       LevelSameDay,
			Description: fmt.Sprintf("sudden vision loss within %gh", th.SameDayHours),
			Action:      "请于今天内前往眼科就诊",
			match: func(f *findings) bool {
				return f.suddenLoss && f.hours <= th.SameDayHours
			},
		},
		{
			ID:          "L3-PAIN",
			Level:       LevelUrgent,
			Description: fmt.Sprintf("moderate or severe pain within %gh", th.MultiDayHours),
			Action:      fmt.Sprintf("请在%g小时内前往眼科门诊就诊", th.MultiDayHours),
			match: func(f *findings) bool {
				return f.pain >= PainModerate && f.hours <= th.MultiDayHours
			},
		},
		{
			ID:          "L3-VISION-CHANGE",
			Level:       LevelUrgent,
			Description: fmt.Sprintf("vision change within %gh", th.MultiDayHours),
			Action:      fmt.Sprintf("请在%g小时内前往眼科门诊检查视力", th.MultiDayHours),
			match: func(f *findings) bool {
				return f.visionChange && f.hours <= th.MultiDayHours
			},
		},
		{
			ID:          "L4-ROUTINE",
			Level:       LevelRoutine,
			Description: "no urgent findings",
			Action:      "建议预约眼科常规门诊，如症状加重请及时就诊",
			match:       func(*findings) bool { return true },
		},
	}
}
