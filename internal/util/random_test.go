package util

import (
	"strconv"
	"testing"
	"time"
)

func TestGenerateVerificationCodeRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code := GenerateVerificationCode()
		if len(code) != VerificationCodeDigits {
			t.Fatalf("code %q has %d digits, want %d", code, len(code), VerificationCodeDigits)
		}
		n, err := strconv.Atoi(code)
		if err != nil {
			t.Fatalf("code %q is not numeric: %v", code, err)
		}
		if n < 1000 || n > 9999 {
			t.Fatalf("code %d out of range [1000, 9999]", n)
		}
	}
}

func TestGenerateSubmissionIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateSubmissionID()
		if id == "" {
			t.Fatal("empty submission id")
		}
		if seen[id] {
			t.Fatalf("duplicate submission id %q", id)
		}
		seen[id] = true
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_TTL", "30m")
	if got := ParseDurationEnv("TEST_TTL", time.Minute); got != 30*time.Minute {
		t.Errorf("ParseDurationEnv = %v, want 30m", got)
	}

	t.Setenv("TEST_TTL", "not-a-duration")
	if got := ParseDurationEnv("TEST_TTL", time.Minute); got != time.Minute {
		t.Errorf("ParseDurationEnv with invalid value = %v, want the default", got)
	}

	t.Setenv("TEST_TTL", "")
	if got := ParseDurationEnv("TEST_TTL", time.Minute); got != time.Minute {
		t.Errorf("ParseDurationEnv with unset value = %v, want the default", got)
	}
}
