package contact

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var (
	// ErrMalformedBody reports a body that is not a JSON object.
	ErrMalformedBody = errors.New("contact: body is not a JSON object")
	// ErrMissingEmail reports an absent or empty email_address.
	ErrMissingEmail = errors.New("contact: email_address is required")
	// ErrInvalidField reports a recognised field holding a non-string value.
	ErrInvalidField = errors.New("contact: field must be a string")
)

// Derived carries the values taken from request metadata rather than the body.
type Derived struct {
	IP     string
	Token  string
	Origin string
}

// Options tunes extraction.
type Options struct {
	// PhoneRegion is the default region for numbers without a country code.
	// Empty disables normalisation.
	PhoneRegion string
}

// Extract builds a Submission from a JSON object body. Unknown keys are
// ignored and recognised keys that are absent become null. Client-supplied
// values for derived and enrichment-only columns are discarded.
func Extract(body []byte, derived Derived, opts Options) (Submission, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Submission{}, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}
	if raw == nil {
		return Submission{}, ErrMalformedBody
	}

	var s Submission
	for _, f := range fields {
		var value sql.NullString
		switch f.policy {
		case Required, Optional, DefaultOrigin:
			v, err := stringField(raw, f.name)
			if err != nil {
				return Submission{}, err
			}
			value = v
			if f.policy == DefaultOrigin && !value.Valid {
				value = optional(derived.Origin)
			}
		case DerivedIP:
			value = optional(derived.IP)
		case DerivedToken:
			value = optional(derived.Token)
		case EnrichmentOnly:
		}
		f.set(&s, value)
	}

	if s.EmailAddress == "" {
		return Submission{}, ErrMissingEmail
	}
	if s.PhoneNumber.Valid && opts.PhoneRegion != "" {
		s.PhoneNumber.String = normalizePhone(s.PhoneNumber.String, opts.PhoneRegion)
	}
	return s, nil
}

// stringField reads a string value; missing, null, and blank all mean null.
func stringField(raw map[string]json.RawMessage, name string) (sql.NullString, error) {
	msg, ok := raw[name]
	if !ok || bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
		return sql.NullString{}, nil
	}
	var v string
	if err := json.Unmarshal(msg, &v); err != nil {
		return sql.NullString{}, fmt.Errorf("%s: %w", name, ErrInvalidField)
	}
	return optional(v), nil
}

func optional(v string) sql.NullString {
	v = strings.TrimSpace(v)
	return sql.NullString{String: v, Valid: v != ""}
}

// normalizePhone formats valid numbers as E.164 and keeps anything it cannot
// parse exactly as given.
func normalizePhone(raw, region string) string {
	number, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return raw
	}
	if !phonenumbers.IsPossibleNumber(number) || !phonenumbers.IsValidNumber(number) {
		return raw
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}
