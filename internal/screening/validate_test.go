package screening

import (
	"testing"
	"time"
)

func TestValidEmail(t *testing.T) {
	valid := []string{
		"john.doe@example.com",
		"a+b@sub.domain.org",
		"USER_99@example.co",
	}
	for _, email := range valid {
		if !ValidEmail(email) {
			t.Errorf("ValidEmail(%q) = false, want true", email)
		}
	}

	invalid := []string{
		"",
		"plainaddress",
		"@example.com",
		"user@",
		"user@domain",
		"user @example.com",
	}
	for _, email := range invalid {
		if ValidEmail(email) {
			t.Errorf("ValidEmail(%q) = true, want false", email)
		}
	}
}

func TestValidUSPhone(t *testing.T) {
	valid := []string{
		"5551234567",
		"(555) 123-4567",
		"555-123-4567",
		"15551234567",
		"+1 555 123 4567",
	}
	for _, phone := range valid {
		if !ValidUSPhone(phone) {
			t.Errorf("ValidUSPhone(%q) = false, want true", phone)
		}
	}

	invalid := []string{
		"",
		"555123",
		"555123456789",
		"25551234567", // 11 digits but not a leading 1
	}
	for _, phone := range invalid {
		if ValidUSPhone(phone) {
			t.Errorf("ValidUSPhone(%q) = true, want false", phone)
		}
	}
}

func TestCalculateAge(t *testing.T) {
	today := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		dob  string
		want int
	}{
		{"birthday already passed", "01/15/1990", 35},
		{"birthday today", "06/15/2007", 18},
		{"birthday tomorrow", "06/16/2007", 17},
		{"birthday later this year", "12/01/2007", 17},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateAge(tt.dob, today)
			if err != nil {
				t.Fatalf("CalculateAge(%q) failed: %v", tt.dob, err)
			}
			if got != tt.want {
				t.Errorf("CalculateAge(%q) = %d, want %d", tt.dob, got, tt.want)
			}
		})
	}
}

func TestCalculateAgeRejectsBadFormats(t *testing.T) {
	today := time.Now()
	for _, dob := range []string{"", "1990-01-15", "15/01/1990", "January 15, 1990", "13/45/1990"} {
		if _, err := CalculateAge(dob, today); err == nil {
			t.Errorf("CalculateAge(%q) accepted a malformed date", dob)
		}
	}
}

func TestJoinReasons(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"empty", nil, ""},
		{"single", []string{"a"}, "a"},
		{"two", []string{"a", "b"}, "a, and b"},
		{"three", []string{"a", "b", "c"}, "a, b, and c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := JoinReasons(tt.in); got != tt.want {
				t.Errorf("JoinReasons(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
