// Package api provides HTTP handlers for LeadScreen endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/clinicontact/leadscreen/internal/config"
	"github.com/clinicontact/leadscreen/internal/models"
)

// verifyCodeRequest is the payload for SMS code verification.
type verifyCodeRequest struct {
	SubmissionID string `json:"submission_id"`
	Code         string `json:"code"`
}

// verifyCodeResponse reports the result of a verification attempt.
type verifyCodeResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Qualified bool   `json:"qualified,omitempty"`
}

// formResponse is the study form definition served to renderers.
type formResponse struct {
	StudyID string             `json:"study_id"`
	Title   string             `json:"title"`
	Fields  []models.FieldSpec `json:"fields"`
}

func (s *Server) qualifyFormHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.qualifyFormHandler: processing submission", "method", r.Method, "path", r.URL.Path)

	var answers models.ApplicantAnswers
	if err := json.NewDecoder(r.Body).Decode(&answers); err != nil {
		slog.Warn("Server.qualifyFormHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	studyID := answers.Get("study_id")
	if studyID == "" {
		slog.Warn("Server.qualifyFormHandler: missing study_id")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing study_id in form submission"))
		return
	}

	outcome := s.processor.ProcessSubmission(r.Context(), answers, studyID, clientIP(r))
	slog.Info("Server.qualifyFormHandler: submission processed", "study", studyID, "status", outcome.Kind)
	writeJSONResponse(w, outcomeStatusCode(outcome.Kind), outcome)
}

func (s *Server) verifyCodeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.verifyCodeHandler: processing verification", "method", r.Method, "path", r.URL.Path)

	var req verifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.verifyCodeHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.SubmissionID == "" || req.Code == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("submission_id and code are required"))
		return
	}

	result, err := s.processor.CompleteVerification(r.Context(), req.SubmissionID, req.Code)
	if err != nil {
		slog.Error("Server.verifyCodeHandler: verification failed", "error", err, "id", req.SubmissionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("An error occurred during final submission. Please try again."))
		return
	}

	switch result.Status {
	case models.CompletionMatched:
		slog.Info("Server.verifyCodeHandler: submission confirmed", "id", req.SubmissionID, "qualified", result.Qualified)
		writeJSONResponse(w, http.StatusOK, verifyCodeResponse{Status: "confirmed", Message: result.Message, Qualified: result.Qualified})
	case models.CompletionMismatched:
		writeJSONResponse(w, http.StatusOK, verifyCodeResponse{Status: "invalid_code", Message: result.Message})
	default:
		writeJSONResponse(w, http.StatusNotFound, verifyCodeResponse{Status: "expired", Message: result.Message})
	}
}

func (s *Server) formHandler(w http.ResponseWriter, r *http.Request) {
	studyID := r.PathValue("study_id")
	slog.Debug("Server.formHandler: serving form definition", "study", studyID)

	cfg, err := s.configs.Load(studyID)
	if err != nil {
		if errors.Is(err, config.ErrUnknownStudy) || errors.Is(err, config.ErrInvalidStudyID) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown study"))
			return
		}
		slog.Error("Server.formHandler: failed to load study config", "study", studyID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load study configuration"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(formResponse{
		StudyID: cfg.ID,
		Title:   cfg.Title,
		Fields:  cfg.Fields,
	}))
}

// outcomeStatusCode maps submission outcomes to HTTP status codes.
func outcomeStatusCode(kind models.OutcomeKind) int {
	switch kind {
	case models.OutcomeRejected:
		return http.StatusBadRequest
	case models.OutcomeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// clientIP extracts the submitting client's IP, preferring X-Forwarded-For.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
