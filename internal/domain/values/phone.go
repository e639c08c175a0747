package values

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// PhoneNumber is the canonical phone identity used as the DNC cache key and
// list lookup key. Parseable numbers are stored in E.164 (+15551234567).
type PhoneNumber struct {
	number string
}

var (
	// E.164 format regex: + followed by up to 15 digits
	e164Regex = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

	// US phone number regex for parsing various formats
	usPhoneRegex = regexp.MustCompile(`^(?:\+?1[-.\s]?)?\(?([0-9]{3})\)?[-.\s]?([0-9]{3})[-.\s]?([0-9]{4})$`)
)

// NewPhoneNumber normalizes number to E.164, accepting E.164 input and the
// usual North American formats.
func NewPhoneNumber(number string) (PhoneNumber, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return PhoneNumber{}, PhoneValidationError{Number: number, Reason: "empty"}
	}

	cleaned := cleanPhoneNumber(number)
	if e164Regex.MatchString(cleaned) {
		return PhoneNumber{number: cleaned}, nil
	}

	if normalized, ok := parseUSPhoneNumber(number); ok {
		return PhoneNumber{number: normalized}, nil
	}

	return PhoneNumber{}, PhoneValidationError{Number: number, Reason: "not E.164 or a US format"}
}

// NewLenientPhoneNumber normalizes when it can and otherwise keeps the
// digits-and-plus form of the input, so a badly formatted number still maps
// to one stable key. Only an input without any digit is rejected.
func NewLenientPhoneNumber(number string) (PhoneNumber, error) {
	if phone, err := NewPhoneNumber(number); err == nil {
		return phone, nil
	}
	cleaned := cleanPhoneNumber(number)
	if strings.Trim(cleaned, "+") == "" {
		return PhoneNumber{}, PhoneValidationError{Number: number, Reason: "no digits"}
	}
	return PhoneNumber{number: cleaned}, nil
}

// String returns the canonical form.
func (p PhoneNumber) String() string {
	return p.number
}

// IsEmpty checks if the phone number is empty
func (p PhoneNumber) IsEmpty() bool {
	return p.number == ""
}

// IsE164 reports whether the number passed strict normalization.
func (p PhoneNumber) IsE164() bool {
	return e164Regex.MatchString(p.number)
}

// Redacted masks every digit except the trailing four. It is the only form
// of a phone number that may appear in logs.
func (p PhoneNumber) Redacted() string {
	return RedactPhone(p.number)
}

// RedactPhone masks all but the last four digits of raw.
func RedactPhone(raw string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

// MarshalJSON implements JSON marshaling
func (p PhoneNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.number)
}

// UnmarshalJSON implements JSON unmarshaling
func (p *PhoneNumber) UnmarshalJSON(data []byte) error {
	var number string
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}

	phone, err := NewLenientPhoneNumber(number)
	if err != nil {
		return err
	}

	*p = phone
	return nil
}

func cleanPhoneNumber(number string) string {
	var b strings.Builder
	for _, char := range number {
		if char >= '0' && char <= '9' || char == '+' {
			b.WriteRune(char)
		}
	}
	return b.String()
}

func parseUSPhoneNumber(number string) (string, bool) {
	matches := usPhoneRegex.FindStringSubmatch(number)
	if len(matches) != 4 {
		return "", false
	}

	return "+1" + matches[1] + matches[2] + matches[3], true
}

// PhoneValidationError represents validation errors for phone numbers
type PhoneValidationError struct {
	Number string
	Reason string
}

func (e PhoneValidationError) Error() string {
	return fmt.Sprintf("invalid phone number %q: %s", RedactPhone(e.Number), e.Reason)
}
