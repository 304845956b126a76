// Package rules implements the eligibility rule-evaluation engine.
//
// The engine is a data-driven interpreter: it walks a study's declarative
// rule list in declaration order against normalized applicant answers and
// derived facts (age, coordinates), and produces a deterministic verdict
// with human-readable disqualification reasons and classification tags.
package rules

import (
	"log/slog"

	"github.com/clinicontact/leadscreen/internal/geo"
	"github.com/clinicontact/leadscreen/internal/models"
)

// DerivedFacts carries values computed upstream of rule evaluation. Nil
// pointers mean the fact is unavailable (unparsable DOB, failed geocoding).
type DerivedFacts struct {
	Age    *int
	Coords *geo.Coords
}

// result is the outcome of evaluating a single rule. When a handler leaves
// reasons empty on an unsatisfied rule, the engine falls back to the rule's
// own disqualification message.
type result struct {
	satisfied bool
	reasons   []string
	tags      []string
}

// Handler evaluates one rule kind. Handlers never see skipped rules; the
// engine resolves conditional gating before dispatch.
type Handler func(ectx *Context, rule *models.RuleSpec) result

// Context is the read-only evaluation state handed to rule handlers.
type Context struct {
	Study   *models.StudyConfig
	Answers models.ApplicantAnswers
	Facts   DerivedFacts
}

// comparators maps comparison operators to their predicate. Adding an
// operator is a map entry, not a dispatch change.
var comparators = map[models.Operator]func(got string, rule *models.RuleSpec) bool{
	models.OperatorEquals: func(got string, rule *models.RuleSpec) bool {
		return got == rule.Value
	},
	models.OperatorNotEquals: func(got string, rule *models.RuleSpec) bool {
		return got != rule.Value
	},
	models.OperatorInList: func(got string, rule *models.RuleSpec) bool {
		for _, v := range rule.Values {
			if got == v {
				return true
			}
		}
		return false
	},
}

// Evaluator interprets declarative rule lists. Handlers are keyed by rule
// kind so new kinds register without touching the evaluation loop.
type Evaluator struct {
	handlers map[models.RuleKind]Handler
}

// New creates an Evaluator with the built-in rule kinds registered.
func New() *Evaluator {
	e := &Evaluator{handlers: make(map[models.RuleKind]Handler)}
	e.Register(models.RuleKindComparison, evalComparison)
	e.Register(models.RuleKindAge, evalAge)
	e.Register(models.RuleKindDistance, evalDistance)
	e.Register(models.RuleKindComposite, evalComposite)
	return e
}

// Register installs a handler for a rule kind, replacing any existing one.
func (e *Evaluator) Register(kind models.RuleKind, h Handler) {
	e.handlers[kind] = h
}

// Evaluate interprets the study's rules against the normalized answers and
// derived facts. Rules run in declaration order; a rule whose condition does
// not hold is vacuously satisfied and skipped. Unknown rule kinds are skipped
// with a warning and never disqualify. The returned verdict carries reasons
// de-duplicated in first-occurrence order.
func (e *Evaluator) Evaluate(study *models.StudyConfig, answers models.ApplicantAnswers, facts DerivedFacts) models.Verdict {
	ectx := &Context{Study: study, Answers: answers, Facts: facts}

	qualified := true
	var reasons []string
	var tags []string

	for i := range study.Rules {
		rule := &study.Rules[i]
		if skipByCondition(answers, rule) {
			slog.Debug("rules: conditional rule skipped", "study", study.ID, "field", rule.Field)
			continue
		}

		handler, ok := e.handlers[rule.Kind]
		if !ok {
			slog.Warn("rules: unknown rule kind skipped", "study", study.ID, "kind", rule.Kind, "field", rule.Field)
			continue
		}

		res := handler(ectx, rule)
		if !res.satisfied {
			qualified = false
			if len(res.reasons) > 0 {
				reasons = append(reasons, res.reasons...)
			} else {
				reasons = append(reasons, rule.DisqualMessage)
			}
		}
		tags = append(tags, res.tags...)
	}

	// Classification side-tag, independent of rule outcomes.
	if answers.Get(models.FieldHandedness) == models.AnswerLeftHanded {
		tags = append(tags, models.TagLeftHanded)
	}

	return models.Verdict{
		Qualified: qualified,
		Reasons:   dedupe(reasons),
		Tags:      dedupe(tags),
	}
}

// skipByCondition reports whether a conditional rule is vacuously satisfied:
// the controlling field's answer differs from the required value (a missing
// answer counts as a mismatch), or the rule's own field holds the configured
// skip value.
func skipByCondition(answers models.ApplicantAnswers, rule *models.RuleSpec) bool {
	cond := rule.Condition
	if cond == nil {
		return false
	}
	if answers.Get(cond.Field) != cond.Value {
		return true
	}
	if cond.SkipValue != "" && answers.Get(rule.Field) == cond.SkipValue {
		return true
	}
	return false
}

func evalComparison(ectx *Context, rule *models.RuleSpec) result {
	cmp, ok := comparators[rule.Operator]
	if !ok {
		slog.Warn("rules: unknown operator skipped", "operator", rule.Operator, "field", rule.Field)
		return result{satisfied: true}
	}
	return result{satisfied: cmp(ectx.Answers.Get(rule.Field), rule)}
}

func evalAge(ectx *Context, rule *models.RuleSpec) result {
	age := ectx.Facts.Age
	return result{satisfied: age != nil && *age >= rule.MinimumAge}
}

// evalDistance applies the stricter-than-usual location policy: coordinates
// that could not be resolved disqualify with a distinct "Location unknown"
// tag, while resolvable coordinates beyond the threshold tag "Too far". The
// threshold is inclusive.
func evalDistance(ectx *Context, rule *models.RuleSpec) result {
	target := ectx.Study.Geo
	if target == nil {
		slog.Warn("rules: distance rule without geo target skipped", "study", ectx.Study.ID)
		return result{satisfied: true}
	}

	coords := ectx.Facts.Coords
	if coords == nil {
		return result{
			reasons: []string{rule.DisqualMessage},
			tags:    []string{models.TagLocationUnknown},
		}
	}

	site := geo.Coords{Latitude: target.Latitude, Longitude: target.Longitude}
	if !geo.WithinDistance(*coords, site, target.ThresholdMiles) {
		return result{
			reasons: []string{rule.DisqualMessage},
			tags:    []string{models.TagTooFar},
		}
	}
	return result{satisfied: true}
}

// evalComposite evaluates each sub-rule with the same conditional-skip logic
// as top-level rules and collects every failing sub-rule's specific message.
// The composite is satisfied iff all (non-skipped) sub-rules are satisfied;
// with no specific messages the engine falls back to the composite's own.
func evalComposite(ectx *Context, rule *models.RuleSpec) result {
	satisfied := true
	var reasons []string

	for i := range rule.SubRules {
		sub := &rule.SubRules[i]
		if skipByCondition(ectx.Answers, sub) {
			continue
		}
		res := evalComparison(ectx, sub)
		if !res.satisfied {
			satisfied = false
			if sub.DisqualMessage != "" {
				reasons = append(reasons, sub.DisqualMessage)
			}
		}
	}

	return result{satisfied: satisfied, reasons: reasons}
}

// dedupe removes duplicate strings while preserving first-occurrence order.
func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
