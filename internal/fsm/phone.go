// ABOUTME: Phone number normalization, OTP parsing, and log masking.
// ABOUTME: Local Kenyan formats are converted to +254 international form.

package fsm

import (
	"regexp"
	"strings"
)

var validPhone = regexp.MustCompile(`^\+\d{10,15}$`)

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone converts raw input to +<country><number> form.
func NormalizePhone(raw string) string {
	digits := digitsOnly(raw)
	switch {
	case digits == "":
		return ""
	case strings.HasPrefix(digits, "254"):
		return "+" + digits
	case strings.HasPrefix(digits, "0") && len(digits) == 10:
		return "+254" + digits[1:]
	case len(digits) == 9:
		return "+254" + digits
	default:
		return "+" + digits
	}
}

// ValidPhone reports whether phone is a normalized number of 10 to 15 digits.
func ValidPhone(phone string) bool {
	return validPhone.MatchString(phone)
}

// ParseOTP returns the code if text holds exactly six digits.
func ParseOTP(text string) (string, bool) {
	code := digitsOnly(text)
	if len(code) != 6 {
		return "", false
	}
	return code, true
}

// bareOTP reports whether text is nothing but a six digit code, allowing
// the spaces and dashes people type between groups.
func bareOTP(text string) bool {
	n := 0
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
			n++
		case r == ' ' || r == '-':
		default:
			return false
		}
	}
	return n == 6
}

// MaskPhone hides the middle of a phone number for logging.
func MaskPhone(phone string) string {
	if len(phone) < 7 {
		return "****"
	}
	return phone[:3] + "****" + phone[len(phone)-3:]
}
