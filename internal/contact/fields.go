package contact

import "database/sql"

// Policy decides where a column's value comes from during extraction.
type Policy int

const (
	// Required values come from the body and must be present.
	Required Policy = iota
	// Optional values come from the body and default to null.
	Optional
	// DerivedIP values come from the caller's address, never the body.
	DerivedIP
	// DerivedToken values come from the validated bearer token.
	DerivedToken
	// DefaultOrigin values come from the body, else the request Origin.
	DefaultOrigin
	// EnrichmentOnly values are filled by geolocation, never the body.
	EnrichmentOnly
)

type fieldSpec struct {
	name   string
	policy Policy
	get    func(Submission) sql.NullString
	set    func(*Submission, sql.NullString)
}

func nullable(name string, policy Policy, ref func(*Submission) *sql.NullString) fieldSpec {
	return fieldSpec{
		name:   name,
		policy: policy,
		get:    func(s Submission) sql.NullString { return *ref(&s) },
		set:    func(s *Submission, v sql.NullString) { *ref(s) = v },
	}
}

// fields is the fixed column layout of the contacts table, in order.
var fields = []fieldSpec{
	{
		name:   "email_address",
		policy: Required,
		get: func(s Submission) sql.NullString {
			return sql.NullString{String: s.EmailAddress, Valid: s.EmailAddress != ""}
		},
		set: func(s *Submission, v sql.NullString) { s.EmailAddress = v.String },
	},
	nullable("name", Optional, func(s *Submission) *sql.NullString { return &s.Name }),
	nullable("phone_number", Optional, func(s *Submission) *sql.NullString { return &s.PhoneNumber }),
	nullable("job_title", Optional, func(s *Submission) *sql.NullString { return &s.JobTitle }),
	nullable("ip_address", DerivedIP, func(s *Submission) *sql.NullString { return &s.IPAddress }),
	nullable("continent", EnrichmentOnly, func(s *Submission) *sql.NullString { return &s.Continent }),
	nullable("country", EnrichmentOnly, func(s *Submission) *sql.NullString { return &s.Country }),
	nullable("country_code", EnrichmentOnly, func(s *Submission) *sql.NullString { return &s.CountryCode }),
	nullable("region_name", EnrichmentOnly, func(s *Submission) *sql.NullString { return &s.RegionName }),
	nullable("city", EnrichmentOnly, func(s *Submission) *sql.NullString { return &s.City }),
	nullable("submission_token", DerivedToken, func(s *Submission) *sql.NullString { return &s.SubmissionToken }),
	nullable("inquiry", Optional, func(s *Submission) *sql.NullString { return &s.Inquiry }),
	nullable("host", DefaultOrigin, func(s *Submission) *sql.NullString { return &s.Host }),
	nullable("labels", Optional, func(s *Submission) *sql.NullString { return &s.Labels }),
	nullable("details", Optional, func(s *Submission) *sql.NullString { return &s.Details }),
}
