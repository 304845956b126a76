// Package screening: structural validation of submissions and derived facts.
package screening

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// emailPattern matches the basic user@domain.tld shape.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidEmail reports whether the value looks like a well-formed email address.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidUSPhone reports whether the value looks like a 10-digit US number,
// optionally carrying a leading 1 or formatting characters.
func ValidUSPhone(phone string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	return len(digits) == 10 || (len(digits) == 11 && strings.HasPrefix(digits, "1"))
}

// dobLayout is the required date-of-birth format (MM/DD/YYYY).
const dobLayout = "01/02/2006"

// CalculateAge derives whole years from an MM/DD/YYYY date-of-birth string
// at day precision: the age increments on the birthday, not before.
func CalculateAge(dob string, today time.Time) (int, error) {
	birth, err := time.Parse(dobLayout, dob)
	if err != nil {
		return 0, fmt.Errorf("invalid date of birth format, expected MM/DD/YYYY: %w", err)
	}

	age := today.Year() - birth.Year()
	if today.Month() < birth.Month() || (today.Month() == birth.Month() && today.Day() < birth.Day()) {
		age--
	}
	return age, nil
}

// JoinReasons renders disqualification reasons as a natural-language list
// ("X, Y, and Z").
func JoinReasons(reasons []string) string {
	switch len(reasons) {
	case 0:
		return ""
	case 1:
		return reasons[0]
	default:
		return strings.Join(reasons[:len(reasons)-1], ", ") + ", and " + reasons[len(reasons)-1]
	}
}
