package utils

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used when a number carries no country code
const DefaultPhoneRegion = "IN"

// PhoneNormalizer validates patient phone numbers and renders them as E.164
type PhoneNormalizer struct {
	region string
}

// NewPhoneNormalizer creates a normalizer for the given default region
func NewPhoneNormalizer(region string) *PhoneNormalizer {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = DefaultPhoneRegion
	}
	return &PhoneNormalizer{region: region}
}

// Normalize parses raw and returns the E.164 form, or an error when the
// number is not a valid number for its region.
func (pn *PhoneNormalizer) Normalize(raw string) (string, error) {
	return NormalizePhone(raw, pn.region)
}

// NormalizePhone parses raw against region and returns the E.164 form
func NormalizePhone(raw, region string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("phone number is required")
	}

	num, err := phonenumbers.Parse(trimmed, region)
	if err != nil {
		return "", fmt.Errorf("invalid phone number %q: %w", raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("invalid phone number %q", raw)
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// MaskPhone keeps the country prefix and the last four digits
func MaskPhone(phone string) string {
	if len(phone) <= 6 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:3] + strings.Repeat("*", len(phone)-7) + phone[len(phone)-4:]
}

// MaskName reduces each word of a name to its initial, e.g. "Ravi Kumar" -> "R. K."
func MaskName(name string) string {
	words := strings.Fields(name)
	if len(words) == 0 {
		return ""
	}
	masked := make([]string, 0, len(words))
	for _, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		masked = append(masked, strings.ToUpper(string(r))+".")
	}
	return strings.Join(masked, " ")
}
