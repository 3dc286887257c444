package provider

import (
	"errors"
	"slices"

	"github.com/nyaruka/phonenumbers"
)

// ErrInvalidPhoneNumber is returned when a phone number cannot be parsed or validated.
var ErrInvalidPhoneNumber = errors.New("invalid phone number")

// NormalizePhone parses and validates a phone number using libphonenumber,
// returning E.164 format. Requires a '+' prefix (no default region).
func NormalizePhone(input string) (string, error) {
	// Only ASCII digits, a single leading '+', and formatting chars.
	plusCount := 0
	for _, r := range input {
		switch {
		case r == '+':
			plusCount++
		case r >= '0' && r <= '9', r == ' ', r == '-', r == '(', r == ')', r == '.':
		default:
			return "", ErrInvalidPhoneNumber
		}
	}
	if plusCount != 1 {
		return "", ErrInvalidPhoneNumber
	}

	num, err := phonenumbers.Parse(input, "")
	if err != nil {
		return "", ErrInvalidPhoneNumber
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidPhoneNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// PhoneCountry returns the ISO 3166-1 alpha-2 country code for an E.164
// phone number, or "" if parsing fails.
func PhoneCountry(phone string) string {
	num, err := phonenumbers.Parse(phone, "")
	if err != nil {
		return ""
	}
	return phonenumbers.GetRegionCodeForNumber(num)
}

// IsAllowedCountry checks whether the phone's country matches one of the
// allowed country codes. An empty allowed list permits all.
func IsAllowedCountry(phone string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	region := PhoneCountry(phone)
	if region == "" {
		return false
	}
	return slices.Contains(allowed, region)
}
