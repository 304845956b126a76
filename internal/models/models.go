// Package models defines the core data structures for LeadScreen.
//
// It includes study configurations, declarative qualification rules,
// applicant answers, eligibility verdicts, and verification sessions,
// which are shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// RuleKind identifies how a qualification rule is evaluated.
type RuleKind string

const (
	// RuleKindComparison compares a single answer field against an expected value.
	RuleKindComparison RuleKind = "comparison"
	// RuleKindAge checks the applicant's derived age against a minimum.
	RuleKindAge RuleKind = "age"
	// RuleKindDistance checks geocoded coordinates against the study's geo target.
	RuleKindDistance RuleKind = "distance"
	// RuleKindComposite groups conditional comparisons that must all be satisfied.
	RuleKindComposite RuleKind = "complex"
)

// Operator defines the comparison operator for comparison rules.
type Operator string

const (
	// OperatorEquals is satisfied when the answer equals the expected value.
	OperatorEquals Operator = "equals"
	// OperatorNotEquals is satisfied when the answer differs from the expected value.
	OperatorNotEquals Operator = "not_equals"
	// OperatorInList is satisfied when the answer is a member of the expected values.
	OperatorInList Operator = "in_list"
)

// NormalizeKind selects the canonicalization applied to a form field's answer.
type NormalizeKind string

const (
	// NormalizeNone leaves the answer unchanged.
	NormalizeNone NormalizeKind = ""
	// NormalizeYesNo canonicalizes yes/y and no/n variants to "Yes"/"No".
	NormalizeYesNo NormalizeKind = "yes_no"
	// NormalizeYesNoNA is NormalizeYesNo plus a "Not Applicable" ternary state.
	NormalizeYesNoNA NormalizeKind = "yes_no_na"
	// NormalizeHandedness canonicalizes to "Left-handed"/"Right-handed".
	NormalizeHandedness NormalizeKind = "handedness"
	// NormalizeConsent canonicalizes to the consent confirmation phrasing.
	NormalizeConsent NormalizeKind = "consent"
)

// Canonical answer values produced by normalization.
const (
	AnswerYes           = "Yes"
	AnswerNo            = "No"
	AnswerNotApplicable = "Not Applicable"
	AnswerLeftHanded    = "Left-handed"
	AnswerRightHanded   = "Right-handed"
	ConsentConfirmed    = "I, confirm"
	ConsentDeclined     = "I, do not confirm"
)

// Well-known answer field names shared by every study form.
const (
	FieldName       = "name"
	FieldEmail      = "email"
	FieldPhone      = "phone"
	FieldDOB        = "dob"
	FieldCityState  = "city_state"
	FieldHandedness = "handedness"
	FieldConsent    = "future_study_consent"
)

// Classification tags attached by the rule evaluator.
const (
	TagTooFar          = "Too far"
	TagLocationUnknown = "Location unknown"
	TagLeftHanded      = "Left-handed"
	TagDuplicate       = "Duplicate"
)

// Error variables for rule validation and testability.
var (
	ErrInvalidRuleKind      = errors.New("invalid rule kind")
	ErrInvalidOperator      = errors.New("invalid operator")
	ErrMissingRuleField     = errors.New("rule field is required")
	ErrMissingRuleMessage   = errors.New("rule disqual_message is required")
	ErrMissingExpectedValue = errors.New("rule expected value is required")
	ErrMissingSubRules      = errors.New("composite rule requires sub_rules")
	ErrInvalidMinimumAge    = errors.New("age rule requires a positive minimum_age")
)

// Condition gates a rule on a controlling field's answer. The rule applies
// only when the controlling field equals Value; when SkipValue is set and the
// rule's own field currently holds it, the rule is skipped as well.
type Condition struct {
	Field     string `json:"field"`
	Value     string `json:"value"`
	SkipValue string `json:"skip_value,omitempty"`
}

// RuleSpec is one declarative eligibility test. The Kind tag selects which
// attributes are meaningful; evaluation order is declaration order.
type RuleSpec struct {
	Kind           RuleKind   `json:"type"`
	Field          string     `json:"field,omitempty"`
	Operator       Operator   `json:"operator,omitempty"`
	Value          string     `json:"value,omitempty"`
	Values         []string   `json:"values,omitempty"`
	MinimumAge     int        `json:"minimum_age,omitempty"`
	DisqualMessage string     `json:"disqual_message"`
	Condition      *Condition `json:"condition,omitempty"`
	SubRules       []RuleSpec `json:"sub_rules,omitempty"`
}

// IsValidRuleKind checks if the given rule kind is supported.
func IsValidRuleKind(k RuleKind) bool {
	switch k {
	case RuleKindComparison, RuleKindAge, RuleKindDistance, RuleKindComposite:
		return true
	default:
		return false
	}
}

// Validate performs structural validation on a RuleSpec.
func (r *RuleSpec) Validate() error {
	if !IsValidRuleKind(r.Kind) {
		return fmt.Errorf("%w: %q", ErrInvalidRuleKind, r.Kind)
	}
	if r.DisqualMessage == "" {
		return ErrMissingRuleMessage
	}

	switch r.Kind {
	case RuleKindComparison:
		return r.validateComparison()
	case RuleKindAge:
		if r.MinimumAge <= 0 {
			return ErrInvalidMinimumAge
		}
	case RuleKindComposite:
		if len(r.SubRules) == 0 {
			return ErrMissingSubRules
		}
		for i := range r.SubRules {
			sub := &r.SubRules[i]
			if sub.Kind == "" {
				sub.Kind = RuleKindComparison
			}
			if sub.Kind != RuleKindComparison {
				return fmt.Errorf("sub_rules[%d]: %w: composite sub-rules must be comparisons", i, ErrInvalidRuleKind)
			}
			if err := sub.validateComparison(); err != nil {
				return fmt.Errorf("sub_rules[%d]: %w", i, err)
			}
		}
	case RuleKindDistance:
		// Target and threshold come from the study's geo config.
	}
	return nil
}

// validateComparison validates comparison rule requirements.
func (r *RuleSpec) validateComparison() error {
	if r.Field == "" {
		return ErrMissingRuleField
	}
	if r.DisqualMessage == "" {
		return ErrMissingRuleMessage
	}
	switch r.Operator {
	case OperatorEquals, OperatorNotEquals:
		if r.Value == "" {
			return ErrMissingExpectedValue
		}
	case OperatorInList:
		if len(r.Values) == 0 {
			return ErrMissingExpectedValue
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOperator, r.Operator)
	}
	return nil
}

// FieldSpec describes one form field of a study questionnaire. It drives form
// rendering (outside the core) and answer normalization.
type FieldSpec struct {
	Name          string        `json:"name"`
	Label         string        `json:"label"`
	Type          string        `json:"type"`
	Placeholder   string        `json:"placeholder,omitempty"`
	Description   string        `json:"description,omitempty"`
	Required      bool          `json:"required"`
	Options       []string      `json:"options,omitempty"`
	Validation    string        `json:"validation,omitempty"`
	Normalize     NormalizeKind `json:"normalize,omitempty"`
	ConditionalOn *Condition    `json:"conditional_on,omitempty"`
}

// BoardHandle identifies the external CRM board a study records to, along
// with its column mappings and the tag vocabulary the board accepts.
type BoardHandle struct {
	BoardID        int64             `json:"board_id"`
	ColumnMappings map[string]string `json:"column_mappings"`
	AllowedTags    []string          `json:"allowed_tags"`
}

// Buckets holds the opaque routing labels consumed by the external recorder.
// The core never interprets them.
type Buckets struct {
	Qualified    string `json:"qualified"`
	Disqualified string `json:"disqualified"`
	Duplicate    string `json:"duplicate"`
}

// GeoTarget is the study site location and eligibility radius for distance rules.
type GeoTarget struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	ThresholdMiles float64 `json:"threshold_miles"`
}

// Messages holds the study-specific user-facing message templates.
// CodePrompt embeds the verification code via the "{code}" placeholder.
type Messages struct {
	Qualified     string `json:"qualified"`
	FutureConsent string `json:"future_consent"`
	CodePrompt    string `json:"code_prompt"`
}

// StudyConfig is the full configuration of one study, immutable after load.
type StudyConfig struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	Fields   []FieldSpec `json:"fields"`
	Rules    []RuleSpec  `json:"rules"`
	Geo      *GeoTarget  `json:"geo,omitempty"`
	Buckets  Buckets     `json:"buckets"`
	Board    BoardHandle `json:"board"`
	Messages Messages    `json:"messages"`
}

// HasField reports whether the study's field schema declares the given name.
func (c *StudyConfig) HasField(name string) bool {
	for _, f := range c.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// ApplicantAnswers maps field names to submitted (and later normalized)
// answer values. Fields unknown to any rule are inert but preserved for the
// external recorder.
type ApplicantAnswers map[string]string

// Get returns the answer for a field, or "" when absent.
func (a ApplicantAnswers) Get(field string) string {
	return a[field]
}

// Clone returns an independent copy of the answer set.
func (a ApplicantAnswers) Clone() ApplicantAnswers {
	out := make(ApplicantAnswers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Verdict is the rule evaluator's output: the qualification flag, ordered
// de-duplicated disqualification reasons, and classification tags. It is
// produced fresh per evaluation and never mutated afterwards.
type Verdict struct {
	Qualified bool     `json:"qualified"`
	Reasons   []string `json:"reasons,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// HasTag reports whether the verdict carries the given classification tag.
func (v *Verdict) HasTag(tag string) bool {
	for _, t := range v.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// OutcomeKind represents the result category of a submission.
type OutcomeKind string

const (
	// OutcomeRejected indicates malformed input (email/phone/DOB/location shape).
	OutcomeRejected OutcomeKind = "rejected"
	// OutcomeDuplicate indicates the email already exists on the study board.
	OutcomeDuplicate OutcomeKind = "duplicate"
	// OutcomeDisqualified indicates a terminal disqualification with no future-contact consent.
	OutcomeDisqualified OutcomeKind = "disqualified"
	// OutcomeVerificationRequired indicates a pending SMS code confirmation.
	OutcomeVerificationRequired OutcomeKind = "sms_required"
	// OutcomeInternalError indicates an unexpected collaborator failure.
	OutcomeInternalError OutcomeKind = "error"
)

// Outcome is the orchestrator's result for one submission.
type Outcome struct {
	Kind         OutcomeKind `json:"status"`
	Message      string      `json:"message"`
	SubmissionID string      `json:"submission_id,omitempty"`
}

// CompletionStatus is the result of a verification attempt against a session.
type CompletionStatus string

const (
	// CompletionMatched indicates the code matched and the session was consumed.
	CompletionMatched CompletionStatus = "matched"
	// CompletionMismatched indicates a wrong code; the session remains for retry.
	CompletionMismatched CompletionStatus = "mismatched"
	// CompletionNotFound covers expired, already-completed, or unknown sessions.
	CompletionNotFound CompletionStatus = "not_found"
)

// VerificationSession bridges "answers evaluated" and "externally recorded"
// while a phone confirmation is pending. The answer snapshot is frozen at
// creation time.
type VerificationSession struct {
	ID        string           `json:"id"`
	StudyID   string           `json:"study_id"`
	Code      string           `json:"code"`
	Answers   ApplicantAnswers `json:"answers"`
	Bucket    string           `json:"bucket"`
	Qualified bool             `json:"qualified"`
	Tags      []string         `json:"tags,omitempty"`
	Notes     string           `json:"notes,omitempty"`
	Board     BoardHandle      `json:"board"`
	CreatedAt time.Time        `json:"created_at"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// Expired reports whether the session's verification window has closed.
func (s *VerificationSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// OutcomeRecord is the payload handed to the external recorder once a
// submission is final (verified or duplicate).
type OutcomeRecord struct {
	Answers   ApplicantAnswers `json:"answers"`
	Bucket    string           `json:"bucket"`
	Qualified bool             `json:"qualified"`
	Tags      []string         `json:"tags,omitempty"`
	Notes     string           `json:"notes,omitempty"`
	Board     BoardHandle      `json:"board"`
}
