package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clinicontact/leadscreen/internal/config"
	"github.com/clinicontact/leadscreen/internal/models"
	"github.com/clinicontact/leadscreen/internal/screening"
)

const testStudyJSON = `{
  "title": "Test Study",
  "fields": [
    {"name": "email", "label": "Email", "type": "email", "required": true},
    {"name": "phone", "label": "Phone", "type": "tel", "required": true}
  ],
  "rules": [],
  "buckets": {"qualified": "g1", "disqualified": "g2", "duplicate": "g3"},
  "board": {"board_id": 1, "column_mappings": {"email": "email"}, "allowed_tags": []}
}`

type stubProcessor struct {
	outcome      models.Outcome
	verifyResult screening.VerifyResult
	verifyErr    error

	lastStudyID  string
	lastSourceIP string
	lastAnswers  models.ApplicantAnswers
	lastVerifyID string
	lastCode     string
}

func (s *stubProcessor) ProcessSubmission(ctx context.Context, raw models.ApplicantAnswers, studyID, sourceIP string) models.Outcome {
	s.lastAnswers = raw
	s.lastStudyID = studyID
	s.lastSourceIP = sourceIP
	return s.outcome
}

func (s *stubProcessor) CompleteVerification(ctx context.Context, submissionID, code string) (screening.VerifyResult, error) {
	s.lastVerifyID = submissionID
	s.lastCode = code
	return s.verifyResult, s.verifyErr
}

func newTestServer(t *testing.T, p *stubProcessor) *Server {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "study_test_study.json"), []byte(testStudyJSON), 0644); err != nil {
		t.Fatalf("failed to write study config: %v", err)
	}
	return NewServer(p, config.NewRegistry(dir))
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestQualifyFormHandler(t *testing.T) {
	stub := &stubProcessor{outcome: models.Outcome{
		Kind:         models.OutcomeVerificationRequired,
		Message:      "check your phone",
		SubmissionID: "sub-1",
	}}
	srv := newTestServer(t, stub)

	w := postJSON(t, srv.Handler(), "/qualify_form", `{"study_id": "test_study", "email": "a@b.com", "phone": "5551234567"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if stub.lastStudyID != "test_study" {
		t.Errorf("studyID = %q", stub.lastStudyID)
	}
	if stub.lastAnswers.Get("email") != "a@b.com" {
		t.Errorf("answers = %v", stub.lastAnswers)
	}

	var outcome models.Outcome
	if err := json.Unmarshal(w.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("response is not an outcome: %v", err)
	}
	if outcome.Kind != models.OutcomeVerificationRequired || outcome.SubmissionID != "sub-1" {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestQualifyFormHandlerStatusCodes(t *testing.T) {
	tests := []struct {
		kind models.OutcomeKind
		want int
	}{
		{models.OutcomeRejected, http.StatusBadRequest},
		{models.OutcomeInternalError, http.StatusInternalServerError},
		{models.OutcomeDuplicate, http.StatusOK},
		{models.OutcomeDisqualified, http.StatusOK},
		{models.OutcomeVerificationRequired, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			srv := newTestServer(t, &stubProcessor{outcome: models.Outcome{Kind: tt.kind, Message: "m"}})
			w := postJSON(t, srv.Handler(), "/qualify_form", `{"study_id": "test_study"}`)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestQualifyFormHandlerRejectsBadJSON(t *testing.T) {
	srv := newTestServer(t, &stubProcessor{})
	w := postJSON(t, srv.Handler(), "/qualify_form", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestQualifyFormHandlerRequiresStudyID(t *testing.T) {
	srv := newTestServer(t, &stubProcessor{})
	w := postJSON(t, srv.Handler(), "/qualify_form", `{"email": "a@b.com"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestQualifyFormHandlerClientIP(t *testing.T) {
	stub := &stubProcessor{outcome: models.Outcome{Kind: models.OutcomeDisqualified, Message: "m"}}
	srv := newTestServer(t, stub)

	req := httptest.NewRequest(http.MethodPost, "/qualify_form", strings.NewReader(`{"study_id": "test_study"}`))
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.RemoteAddr = "192.0.2.1:5555"
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if stub.lastSourceIP != "203.0.113.9" {
		t.Errorf("sourceIP = %q, want first X-Forwarded-For entry", stub.lastSourceIP)
	}

	// Without the header, the remote address host is used.
	stub.lastSourceIP = ""
	req = httptest.NewRequest(http.MethodPost, "/qualify_form", strings.NewReader(`{"study_id": "test_study"}`))
	req.RemoteAddr = "192.0.2.1:5555"
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)

	if stub.lastSourceIP != "192.0.2.1" {
		t.Errorf("sourceIP = %q, want RemoteAddr host", stub.lastSourceIP)
	}
}

func TestVerifyCodeHandlerConfirmed(t *testing.T) {
	stub := &stubProcessor{verifyResult: screening.VerifyResult{
		Status:    models.CompletionMatched,
		Qualified: true,
		Message:   "confirmed",
	}}
	srv := newTestServer(t, stub)

	w := postJSON(t, srv.Handler(), "/verify_code", `{"submission_id": "sub-1", "code": "4321"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if stub.lastVerifyID != "sub-1" || stub.lastCode != "4321" {
		t.Errorf("verify args = (%q, %q)", stub.lastVerifyID, stub.lastCode)
	}

	var resp verifyCodeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.Status != "confirmed" || !resp.Qualified {
		t.Errorf("response = %+v", resp)
	}
}

func TestVerifyCodeHandlerInvalidCode(t *testing.T) {
	stub := &stubProcessor{verifyResult: screening.VerifyResult{
		Status:  models.CompletionMismatched,
		Message: "try again",
	}}
	srv := newTestServer(t, stub)

	w := postJSON(t, srv.Handler(), "/verify_code", `{"submission_id": "sub-1", "code": "0000"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 so the client can retry", w.Code)
	}
	var resp verifyCodeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "invalid_code" {
		t.Errorf("Status = %q, want invalid_code", resp.Status)
	}
}

func TestVerifyCodeHandlerExpiredSession(t *testing.T) {
	stub := &stubProcessor{verifyResult: screening.VerifyResult{
		Status:  models.CompletionNotFound,
		Message: "gone",
	}}
	srv := newTestServer(t, stub)

	w := postJSON(t, srv.Handler(), "/verify_code", `{"submission_id": "sub-1", "code": "4321"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestVerifyCodeHandlerProcessorError(t *testing.T) {
	stub := &stubProcessor{verifyErr: errors.New("store down")}
	srv := newTestServer(t, stub)

	w := postJSON(t, srv.Handler(), "/verify_code", `{"submission_id": "sub-1", "code": "4321"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestVerifyCodeHandlerRequiresFields(t *testing.T) {
	srv := newTestServer(t, &stubProcessor{})
	for _, body := range []string{`{}`, `{"submission_id": "sub-1"}`, `{"code": "4321"}`} {
		if w := postJSON(t, srv.Handler(), "/verify_code", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestFormHandler(t *testing.T) {
	srv := newTestServer(t, &stubProcessor{})

	req := httptest.NewRequest(http.MethodGet, "/form/test_study", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp models.APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	result, _ := resp.Result.(map[string]any)
	if result["study_id"] != "test_study" || result["title"] != "Test Study" {
		t.Errorf("form response = %v", resp.Result)
	}
	fields, _ := result["fields"].([]any)
	if len(fields) != 2 {
		t.Errorf("fields = %v, want 2 entries", result["fields"])
	}
}

func TestFormHandlerUnknownStudy(t *testing.T) {
	srv := newTestServer(t, &stubProcessor{})

	req := httptest.NewRequest(http.MethodGet, "/form/missing_study", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
