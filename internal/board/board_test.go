package board

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/clinicontact/leadscreen/internal/models"
)

func testHandle() models.BoardHandle {
	return models.BoardHandle{
		BoardID: 2014579172,
		ColumnMappings: map[string]string{
			"email":      "email",
			"phone":      "phone",
			"city_state": "text9",
			"tbi_year":   "single_select",
			"qualified":  "boolean_mks56vyg",
			"tags":       "dropdown",
			"notes":      "long_text_mks58x7v",
		},
		AllowedTags: []string{"Too far", "Left-handed", "fraudulent"},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(WithAPIKey("test-key"), WithAPIURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, srv
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("MONDAY_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("NewClient succeeded without an API key")
	}
}

func TestCheckDuplicateEmailFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "test-key" {
			t.Errorf("Authorization = %q, want test-key", got)
		}
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		fmt.Fprint(w, `{"data": {"boards": [{"items_page": {"items": [
			{"id": "1", "column_values": [{"id": "email", "text": "Taken@Example.com"}]},
			{"id": "2", "column_values": [{"id": "email", "text": "other@example.com"}]}
		]}}]}}`)
	})

	dup, err := client.CheckDuplicateEmail(context.Background(), "taken@example.com", testHandle())
	if err != nil {
		t.Fatalf("CheckDuplicateEmail failed: %v", err)
	}
	if !dup {
		t.Error("expected duplicate, matching is case-insensitive")
	}
}

func TestCheckDuplicateEmailNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"boards": [{"items_page": {"items": [
			{"id": "1", "column_values": [{"id": "email", "text": "someone@example.com"}]}
		]}}]}}`)
	})

	dup, err := client.CheckDuplicateEmail(context.Background(), "new@example.com", testHandle())
	if err != nil {
		t.Fatalf("CheckDuplicateEmail failed: %v", err)
	}
	if dup {
		t.Error("unexpected duplicate")
	}
}

func TestCheckDuplicateEmailAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors": [{"message": "not authorized"}]}`)
	})

	if _, err := client.CheckDuplicateEmail(context.Background(), "a@b.com", testHandle()); err == nil {
		t.Error("expected error for GraphQL errors payload")
	}
}

func TestCheckDuplicateEmailHTTPError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := client.CheckDuplicateEmail(context.Background(), "a@b.com", testHandle()); err == nil {
		t.Error("expected error for non-2xx status")
	}
}

func TestRecordOutcomePayload(t *testing.T) {
	var captured gqlRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		fmt.Fprint(w, `{"data": {"create_item": {"id": "99"}}}`)
	})

	rec := models.OutcomeRecord{
		Answers: models.ApplicantAnswers{
			"name":       "Jane Doe",
			"email":      "jane@example.com",
			"phone":      "5551234567",
			"city_state": "Newark, NJ",
			"tbi_year":   "Yes",
		},
		Bucket:    "new_group58505__1",
		Qualified: true,
		Tags:      []string{"Too far", "Unknown tag", "Left-handed"},
		Notes:     "IP: 1.2.3.4",
		Board:     testHandle(),
	}

	if err := client.RecordOutcome(context.Background(), rec); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}

	if got := captured.Variables["groupId"]; got != "new_group58505__1" {
		t.Errorf("groupId = %v, want the record's bucket", got)
	}
	if got := captured.Variables["itemName"]; got != "Jane Doe" {
		t.Errorf("itemName = %v, want applicant name", got)
	}

	var values map[string]any
	if err := json.Unmarshal([]byte(captured.Variables["columnValues"].(string)), &values); err != nil {
		t.Fatalf("columnValues is not valid JSON: %v", err)
	}

	qualified, _ := values["boolean_mks56vyg"].(map[string]any)
	if qualified["checked"] != true {
		t.Errorf("qualified column = %v, want checked true", values["boolean_mks56vyg"])
	}

	dropdown, _ := values["dropdown"].(map[string]any)
	labels, _ := dropdown["labels"].([]any)
	want := []any{"Too far", "Left-handed"}
	if !reflect.DeepEqual(labels, want) {
		t.Errorf("tags labels = %v, want allowed tags only %v", labels, want)
	}

	notes, _ := values["long_text_mks58x7v"].(map[string]any)
	if notes["text"] != "IP: 1.2.3.4" {
		t.Errorf("notes column = %v", values["long_text_mks58x7v"])
	}

	email, _ := values["email"].(map[string]any)
	if email["email"] != "jane@example.com" {
		t.Errorf("email column = %v", values["email"])
	}

	single, _ := values["single_select"].(map[string]any)
	if single["label"] != "Yes" {
		t.Errorf("single_select column = %v", values["single_select"])
	}

	if values["text9"] != "Newark, NJ" {
		t.Errorf("text column = %v, want raw value", values["text9"])
	}
}

func TestRecordOutcomeDefaultItemName(t *testing.T) {
	var captured gqlRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		fmt.Fprint(w, `{"data": {"create_item": {"id": "1"}}}`)
	})

	rec := models.OutcomeRecord{
		Answers: models.ApplicantAnswers{"email": "jane@example.com"},
		Bucket:  "g1",
		Board:   testHandle(),
	}
	if err := client.RecordOutcome(context.Background(), rec); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}
	if got := captured.Variables["itemName"]; got != "Form Submission" {
		t.Errorf("itemName = %v, want Form Submission fallback", got)
	}
}

func TestRecordOutcomeAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors": [{"message": "group not found"}]}`)
	})

	rec := models.OutcomeRecord{Bucket: "missing", Board: testHandle()}
	if err := client.RecordOutcome(context.Background(), rec); err == nil {
		t.Error("expected error for GraphQL errors payload")
	}
}

func TestFilterTags(t *testing.T) {
	allowed := []string{"Too far", "Left-handed", "fraudulent"}
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"all allowed", []string{"Too far", "Left-handed"}, []string{"Too far", "Left-handed"}},
		{"drops unknown", []string{"Too far", "Location unknown"}, []string{"Too far"}},
		{"nothing allowed", []string{"Location unknown"}, nil},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilterTags(tt.in, allowed); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FilterTags(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
