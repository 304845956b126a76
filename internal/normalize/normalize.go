// Package normalize canonicalizes free-text applicant answers into the fixed
// vocabulary the rule evaluator compares against.
//
// Normalization is a pure, total transform: unrecognized values and fields
// with no configured normalization pass through unchanged.
package normalize

import (
	"strings"

	"github.com/clinicontact/leadscreen/internal/models"
)

// Normalizer applies per-field canonicalization driven by a study's field specs.
type Normalizer struct {
	kinds map[string]models.NormalizeKind
}

// New builds a Normalizer from the study's field specs.
func New(fields []models.FieldSpec) *Normalizer {
	kinds := make(map[string]models.NormalizeKind, len(fields))
	for _, f := range fields {
		if f.Normalize != models.NormalizeNone {
			kinds[f.Name] = f.Normalize
		}
	}
	return &Normalizer{kinds: kinds}
}

// Apply returns a normalized copy of the raw answer set. The input is never
// mutated; fields without a configured normalization are copied as-is.
func (n *Normalizer) Apply(raw models.ApplicantAnswers) models.ApplicantAnswers {
	out := raw.Clone()
	for field, kind := range n.kinds {
		val, ok := out[field]
		if !ok {
			continue
		}
		out[field] = Value(kind, val)
	}
	return out
}

// Value canonicalizes a single answer according to the given kind.
func Value(kind models.NormalizeKind, val string) string {
	switch kind {
	case models.NormalizeYesNo:
		return YesNo(val)
	case models.NormalizeYesNoNA:
		// Yes/No first, then the ternary state.
		return NotApplicable(YesNo(val))
	case models.NormalizeHandedness:
		return Handedness(val)
	case models.NormalizeConsent:
		return Consent(val)
	default:
		return val
	}
}

// YesNo canonicalizes yes/y and no/n variants, case-insensitively.
func YesNo(val string) string {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "yes", "y":
		return models.AnswerYes
	case "no", "n":
		return models.AnswerNo
	}
	return val
}

// Handedness canonicalizes by substring match on "left" or "right".
func Handedness(val string) string {
	lower := strings.ToLower(strings.TrimSpace(val))
	if strings.Contains(lower, "left") {
		return models.AnswerLeftHanded
	}
	if strings.Contains(lower, "right") {
		return models.AnswerRightHanded
	}
	return val
}

// Consent canonicalizes a yes/no consent answer into the confirmation phrasing.
func Consent(val string) string {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "yes":
		return models.ConsentConfirmed
	case "no":
		return models.ConsentDeclined
	}
	return val
}

// NotApplicable canonicalizes the "not applicable"/"n/a" family.
func NotApplicable(val string) string {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "not applicable", "n/a":
		return models.AnswerNotApplicable
	}
	return val
}
