// Package screening orchestrates qualification submissions: normalization,
// structural validation, duplicate lookup, rule evaluation, outcome routing,
// and the SMS verification lifecycle.
//
// External collaborators (duplicate check, geocoding, IP metadata, SMS
// delivery, CRM recording) are consumed through narrow interfaces; no retry
// policy lives here.
package screening

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clinicontact/leadscreen/internal/config"
	"github.com/clinicontact/leadscreen/internal/geo"
	"github.com/clinicontact/leadscreen/internal/ipinfo"
	"github.com/clinicontact/leadscreen/internal/models"
	"github.com/clinicontact/leadscreen/internal/normalize"
	"github.com/clinicontact/leadscreen/internal/rules"
	"github.com/clinicontact/leadscreen/internal/store"
	"github.com/clinicontact/leadscreen/internal/util"
)

// User-facing messages for outcomes that are not study-configurable.
const (
	msgInvalidEmail    = "Invalid email address format. Please provide a valid email (e.g., example@domain.com)."
	msgInvalidPhone    = "Invalid US phone number format. Please enter a 10-digit US number (e.g. 5551234567)."
	msgInvalidDOB      = "Invalid date of birth format. Please use MM/DD/YYYY."
	msgMissingLocation = "City and State information is missing."
	msgDuplicate       = "It looks like you've already submitted an application for this platform. We'll be in touch if you qualify!"
	msgStudyNotFound   = "Study configuration not found."
	msgSessionGone     = "Verification session expired or not found. Please resubmit the form."
	msgCodeMismatch    = "That code doesn't match. Please try again."

	defaultQualifiedMsg     = "Thank you! Based on your answers, you may qualify for a study."
	defaultFutureConsentMsg = "Thank you for your interest. Based on your answers, you do not meet the current study criteria, but since you opted for future studies, we will verify your contact information."
	defaultCodePromptMsg    = "Your confirmation code is {code}. Please enter this code to confirm your submission."
)

// codePlaceholder is the token in a study's code prompt template replaced by
// the generated verification code.
const codePlaceholder = "{code}"

// Evaluator is the rule engine contract consumed by the orchestrator.
type Evaluator interface {
	Evaluate(study *models.StudyConfig, answers models.ApplicantAnswers, facts rules.DerivedFacts) models.Verdict
}

// DuplicateChecker looks up whether an email already exists on a study board.
type DuplicateChecker interface {
	CheckDuplicateEmail(ctx context.Context, email string, handle models.BoardHandle) (bool, error)
}

// Geocoder resolves free-text location answers to coordinates. A nil result
// with nil error means the location could not be resolved.
type Geocoder interface {
	Geocode(ctx context.Context, locationText string) (*geo.Coords, error)
}

// IPLookup fetches freeform metadata about a source IP for outcome notes.
type IPLookup interface {
	Lookup(ctx context.Context, ip string) (map[string]string, error)
}

// CodeSender delivers a one-time verification code message.
type CodeSender interface {
	SendCode(ctx context.Context, to string, body string) error
}

// OutcomeRecorder files a finalized screening outcome on the external board.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, rec models.OutcomeRecord) error
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Configs    *config.Registry
	Sessions   store.SessionRepo
	Evaluator  Evaluator
	Duplicates DuplicateChecker
	Geocoder   Geocoder
	IPLookup   IPLookup
	Sender     CodeSender
	Recorder   OutcomeRecorder
}

// Option defines a configuration option for the Processor.
type Option func(*Processor)

// WithSessionTTL overrides the default verification session TTL.
func WithSessionTTL(ttl time.Duration) Option {
	return func(p *Processor) { p.sessionTTL = ttl }
}

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// Processor sequences a submission through validation, duplicate lookup,
// rule evaluation, and outcome routing. It is stateless apart from the
// injected session store and safe for concurrent use.
type Processor struct {
	deps       Deps
	sessionTTL time.Duration
	now        func() time.Time
	newID      func() string
	newCode    func() string
}

// NewProcessor creates a Processor with the given collaborators.
func NewProcessor(deps Deps, opts ...Option) *Processor {
	p := &Processor{
		deps:       deps,
		sessionTTL: store.DefaultSessionTTL,
		now:        time.Now,
		newID:      util.GenerateSubmissionID,
		newCode:    util.GenerateVerificationCode,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessSubmission runs the fixed screening sequence for one submission and
// returns the outcome. Each step short-circuits on failure; collaborator
// soft-failures (duplicate check, geocoding, IP lookup) degrade per policy
// instead of aborting.
func (p *Processor) ProcessSubmission(ctx context.Context, raw models.ApplicantAnswers, studyID, sourceIP string) models.Outcome {
	cfg, err := p.deps.Configs.Load(studyID)
	if err != nil {
		slog.Error("Processor.ProcessSubmission: study config unavailable", "study", studyID, "error", err)
		return models.Outcome{Kind: models.OutcomeInternalError, Message: msgStudyNotFound}
	}

	answers := normalize.New(cfg.Fields).Apply(raw)
	slog.Debug("Processor.ProcessSubmission: answers normalized", "study", studyID, "fields", len(answers))

	// Structural validation, fail-closed.
	if !ValidEmail(answers.Get(models.FieldEmail)) {
		return models.Outcome{Kind: models.OutcomeRejected, Message: msgInvalidEmail}
	}
	if !ValidUSPhone(answers.Get(models.FieldPhone)) {
		return models.Outcome{Kind: models.OutcomeRejected, Message: msgInvalidPhone}
	}
	age, err := CalculateAge(answers.Get(models.FieldDOB), p.now())
	if err != nil {
		return models.Outcome{Kind: models.OutcomeRejected, Message: msgInvalidDOB}
	}
	location := answers.Get(models.FieldCityState)
	if location == "" {
		return models.Outcome{Kind: models.OutcomeRejected, Message: msgMissingLocation}
	}

	if p.isDuplicate(ctx, answers, cfg) {
		return models.Outcome{Kind: models.OutcomeDuplicate, Message: msgDuplicate}
	}

	facts := rules.DerivedFacts{Age: &age}
	if cfg.Geo != nil {
		facts.Coords = p.resolveCoords(ctx, location, studyID)
	}

	verdict := p.deps.Evaluator.Evaluate(cfg, answers, facts)
	slog.Info("Processor.ProcessSubmission: rules evaluated", "study", studyID, "qualified", verdict.Qualified, "reasons", len(verdict.Reasons), "tags", verdict.Tags)

	// Outcome routing: qualified applicants always verify before recording;
	// disqualified applicants verify only with future-contact consent.
	var bucket, userMsg string
	switch {
	case verdict.Qualified:
		bucket = cfg.Buckets.Qualified
		userMsg = messageOrDefault(cfg.Messages.Qualified, defaultQualifiedMsg)
	case answers.Get(models.FieldConsent) == models.ConsentConfirmed:
		bucket = cfg.Buckets.Disqualified
		userMsg = messageOrDefault(cfg.Messages.FutureConsent, defaultFutureConsentMsg)
	default:
		return models.Outcome{Kind: models.OutcomeDisqualified, Message: terminalDisqualMessage(verdict.Reasons)}
	}

	return p.beginVerification(ctx, cfg, answers, verdict, bucket, userMsg, sourceIP)
}

// isDuplicate checks the study board for the email and, on a hit, fires a
// best-effort background record of the duplicate attempt. Lookup failures
// fail open to "not a duplicate" so a flaky board never blocks submissions.
func (p *Processor) isDuplicate(ctx context.Context, answers models.ApplicantAnswers, cfg *models.StudyConfig) bool {
	email := answers.Get(models.FieldEmail)
	dup, err := p.deps.Duplicates.CheckDuplicateEmail(ctx, email, cfg.Board)
	if err != nil {
		slog.Warn("Processor.isDuplicate: duplicate check failed, assuming not duplicate", "study", cfg.ID, "error", err)
		return false
	}
	if !dup {
		return false
	}

	rec := models.OutcomeRecord{
		Answers: models.ApplicantAnswers{
			models.FieldEmail: email,
			models.FieldName:  answers.Get(models.FieldName),
		},
		Bucket: cfg.Buckets.Duplicate,
		Tags:   []string{models.TagDuplicate},
		Board:  cfg.Board,
	}
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		if err := p.deps.Recorder.RecordOutcome(bgCtx, rec); err != nil {
			slog.Error("Processor.isDuplicate: failed to record duplicate attempt", "study", cfg.ID, "error", err)
		}
	}()
	return true
}

// resolveCoords geocodes the location text; failures flow into the evaluator
// as unavailable coordinates, where the distance rule's policy applies.
func (p *Processor) resolveCoords(ctx context.Context, location, studyID string) *geo.Coords {
	coords, err := p.deps.Geocoder.Geocode(ctx, location)
	if err != nil {
		slog.Warn("Processor.resolveCoords: geocoding failed, coordinates unavailable", "study", studyID, "error", err)
		return nil
	}
	return coords
}

// beginVerification freezes the submission into a session and requests SMS
// delivery of the one-time code. Delivery failure discards the session.
func (p *Processor) beginVerification(ctx context.Context, cfg *models.StudyConfig, answers models.ApplicantAnswers, verdict models.Verdict, bucket, userMsg, sourceIP string) models.Outcome {
	now := p.now()
	session := models.VerificationSession{
		ID:        p.newID(),
		StudyID:   cfg.ID,
		Code:      p.newCode(),
		Answers:   answers.Clone(),
		Bucket:    bucket,
		Qualified: verdict.Qualified,
		Tags:      verdict.Tags,
		Notes:     p.lookupNotes(ctx, sourceIP),
		Board:     cfg.Board,
		CreatedAt: now,
		ExpiresAt: now.Add(p.sessionTTL),
	}

	if err := p.deps.Sessions.Create(session); err != nil {
		slog.Error("Processor.beginVerification: failed to store session", "study", cfg.ID, "error", err)
		return models.Outcome{Kind: models.OutcomeInternalError, Message: "An unexpected error occurred during qualification. Please try again."}
	}

	prompt := messageOrDefault(cfg.Messages.CodePrompt, defaultCodePromptMsg)
	body := strings.ReplaceAll(prompt, codePlaceholder, session.Code)

	if err := p.deps.Sender.SendCode(ctx, answers.Get(models.FieldPhone), body); err != nil {
		// Verification cannot proceed without the code; the session must not linger.
		if delErr := p.deps.Sessions.Delete(session.ID); delErr != nil {
			slog.Error("Processor.beginVerification: failed to discard session after SMS failure", "id", session.ID, "error", delErr)
		}
		slog.Error("Processor.beginVerification: SMS delivery failed", "study", cfg.ID, "error", err)
		return models.Outcome{
			Kind:    models.OutcomeInternalError,
			Message: fmt.Sprintf("Failed to send SMS for verification: %v. Please check your phone number and try again.", err),
		}
	}

	slog.Info("Processor.beginVerification: verification session created", "study", cfg.ID, "id", session.ID, "qualified", verdict.Qualified)
	return models.Outcome{Kind: models.OutcomeVerificationRequired, SubmissionID: session.ID, Message: userMsg}
}

// lookupNotes fetches IP metadata for the outcome notes; failures leave the
// notes empty and never affect the verdict.
func (p *Processor) lookupNotes(ctx context.Context, sourceIP string) string {
	if sourceIP == "" || p.deps.IPLookup == nil {
		return ""
	}
	info, err := p.deps.IPLookup.Lookup(ctx, sourceIP)
	if err != nil {
		slog.Warn("Processor.lookupNotes: IP lookup failed", "error", err)
		return ""
	}
	return ipinfo.NotesText(info)
}

// VerifyResult is the outcome of a verification attempt.
type VerifyResult struct {
	Status    models.CompletionStatus
	Qualified bool
	Message   string
}

// CompleteVerification checks the submitted code against the pending session.
// On a match the session is atomically consumed and the outcome recorded
// externally exactly once; a mismatch leaves the session for retry.
func (p *Processor) CompleteVerification(ctx context.Context, submissionID, code string) (VerifyResult, error) {
	session, status, err := p.deps.Sessions.Complete(submissionID, code)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("failed to complete verification session %s: %w", submissionID, err)
	}

	switch status {
	case models.CompletionNotFound:
		return VerifyResult{Status: status, Message: msgSessionGone}, nil
	case models.CompletionMismatched:
		slog.Debug("Processor.CompleteVerification: code mismatch", "id", submissionID)
		return VerifyResult{Status: status, Message: msgCodeMismatch}, nil
	}

	rec := models.OutcomeRecord{
		Answers:   session.Answers,
		Bucket:    session.Bucket,
		Qualified: session.Qualified,
		Tags:      session.Tags,
		Notes:     session.Notes,
		Board:     session.Board,
	}
	if err := p.deps.Recorder.RecordOutcome(ctx, rec); err != nil {
		// The applicant already confirmed; recording failures are surfaced in
		// logs, not to the user.
		slog.Error("Processor.CompleteVerification: failed to record outcome", "id", submissionID, "study", session.StudyID, "error", err)
	}

	return VerifyResult{
		Status:    models.CompletionMatched,
		Qualified: session.Qualified,
		Message:   p.confirmationMessage(session),
	}, nil
}

// confirmationMessage builds the post-verification message, using the study
// title when the config is still loadable.
func (p *Processor) confirmationMessage(session *models.VerificationSession) string {
	if !session.Qualified {
		return "Your submission is confirmed! Based on your answers, you do not meet the current study criteria, but your information has been saved for future studies you may qualify for."
	}
	title := "a study"
	if cfg, err := p.deps.Configs.Load(session.StudyID); err == nil && cfg.Title != "" {
		title = "the " + cfg.Title
	}
	return fmt.Sprintf("Your submission is confirmed! Based on your answers, you may qualify for %s. We will contact you soon with more details.", title)
}

// terminalDisqualMessage composes the final message for disqualified
// applicants without future-contact consent.
func terminalDisqualMessage(reasons []string) string {
	if len(reasons) == 0 {
		return "Thank you for your interest. Unfortunately, based on your answers, you do not meet the current study criteria. We appreciate your time."
	}
	return fmt.Sprintf("Thank you for your interest. Unfortunately, based on your answers, you do not meet the current study criteria because %s. We appreciate your time.", JoinReasons(reasons))
}

func messageOrDefault(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}
