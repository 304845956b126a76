package ipinfo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/203.0.113.9") {
			t.Errorf("path = %q, want the IP in the path", r.URL.Path)
		}
		fmt.Fprint(w, `{"ip": "203.0.113.9", "city": "Newark", "region": "New Jersey", "country": "US", "org": "AS100 Example", "loc": "40.73,-74.17", "readme": null}`)
	}))
	defer srv.Close()

	client := NewClient(WithToken("t"), WithAPIURL(srv.URL))
	info, err := client.Lookup(context.Background(), "203.0.113.9")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if info["city"] != "Newark" || info["org"] != "AS100 Example" {
		t.Errorf("info = %v", info)
	}
	if _, ok := info["readme"]; ok {
		t.Error("non-string values must be dropped")
	}
}

func TestLookupEmptyIP(t *testing.T) {
	client := NewClient(WithToken("t"))
	info, err := client.Lookup(context.Background(), "")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(info) != 0 {
		t.Errorf("info = %v, want empty", info)
	}
}

func TestLookupHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(WithToken("t"), WithAPIURL(srv.URL))
	if _, err := client.Lookup(context.Background(), "203.0.113.9"); err == nil {
		t.Error("expected error for non-2xx status")
	}
}

func TestNotesText(t *testing.T) {
	info := map[string]string{
		"ip":      "203.0.113.9",
		"city":    "Newark",
		"region":  "New Jersey",
		"country": "US",
		"org":     "AS100 Example",
	}
	got := NotesText(info)
	want := "IP: 203.0.113.9\nLocation (IP): Newark, New Jersey, US\nOrg: AS100 Example"
	if got != want {
		t.Errorf("NotesText = %q, want %q", got, want)
	}

	if NotesText(nil) != "" {
		t.Error("NotesText(nil) should be empty")
	}
	if got := NotesText(map[string]string{"city": "Newark"}); !strings.HasPrefix(got, "IP: N/A") {
		t.Errorf("NotesText without ip = %q, want IP: N/A prefix", got)
	}
}
