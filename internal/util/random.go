// Package util provides utility functions for the LeadScreen application.
package util

import (
	"math/rand/v2"
	"strconv"

	"github.com/google/uuid"
)

// VerificationCodeDigits is the length of generated one-time codes.
const VerificationCodeDigits = 4

// GenerateVerificationCode generates a 4-digit numeric one-time code in the
// range 1000-9999. Uses math/rand/v2; the code is a short-lived shared secret
// delivered out of band, not a cryptographic credential.
func GenerateVerificationCode() string {
	return strconv.Itoa(1000 + rand.IntN(9000))
}

// GenerateSubmissionID generates a fresh opaque identifier for a pending
// verification session.
func GenerateSubmissionID() string {
	return uuid.NewString()
}
