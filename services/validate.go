package services

import (
	"net/mail"
	"regexp"
	"strings"
	"time"

	"hrms/models"

	"golang.org/x/text/unicode/norm"
)

// MinPasswordLength is the password policy applied on every password write.
const MinPasswordLength = 8

var cinPattern = regexp.MustCompile(`^[0-9]{8}$`)

// cleanText normalizes user supplied names to NFC and collapses whitespace.
func cleanText(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}

func validCIN(s string) bool {
	return cinPattern.MatchString(s)
}

func checkPassword(v *ValidationError, field, password string) {
	if len(password) < MinPasswordLength {
		v.Add(field, "must be at least 8 characters")
	}
}

// ParseDate parses a YYYY-MM-DD calendar date as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(models.DateLayout, strings.TrimSpace(s), time.UTC)
}

// Today returns the current calendar date at midnight UTC.
func Today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func validClock(s string) bool {
	_, err := time.Parse(models.ClockLayout, s)
	return err == nil && len(s) == len(models.ClockLayout)
}
