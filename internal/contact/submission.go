// Package contact models a contact-form submission and builds one from a
// request body plus request-derived metadata.
package contact

import (
	"database/sql"
	"fmt"
)

// Submission is one contact-form entry. EmailAddress is always set; every
// other field is nullable. Values are never mutated after construction;
// enrichment returns a copy.
type Submission struct {
	EmailAddress    string
	Name            sql.NullString
	PhoneNumber     sql.NullString
	JobTitle        sql.NullString
	IPAddress       sql.NullString
	Continent       sql.NullString
	Country         sql.NullString
	CountryCode     sql.NullString
	RegionName      sql.NullString
	City            sql.NullString
	SubmissionToken sql.NullString
	Inquiry         sql.NullString
	Host            sql.NullString
	Labels          sql.NullString
	Details         sql.NullString
}

// Geo carries the location fields produced by enrichment.
type Geo struct {
	Continent   string
	Country     string
	CountryCode string
	RegionName  string
	City        string
}

// Field is a single non-null column/value pair.
type Field struct {
	Name  string
	Value string
}

// Columns lists the stored column names in schema order.
func Columns() []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	return names
}

// Fields returns the non-null fields in schema order.
func (s Submission) Fields() []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if v := f.get(s); v.Valid {
			out = append(out, Field{Name: f.name, Value: v.String})
		}
	}
	return out
}

// Values returns one driver value per column, nil for null fields.
func (s Submission) Values() []any {
	out := make([]any, len(fields))
	for i, f := range fields {
		if v := f.get(s); v.Valid {
			out[i] = v.String
		}
	}
	return out
}

// FromValues rebuilds a Submission from column values in Columns order.
func FromValues(values []sql.NullString) (Submission, error) {
	if len(values) != len(fields) {
		return Submission{}, fmt.Errorf("expected %d columns, got %d", len(fields), len(values))
	}
	var s Submission
	for i, f := range fields {
		f.set(&s, values[i])
	}
	return s, nil
}

// WithGeo returns a copy with the non-empty location fields of g applied.
// Fields empty in g keep their current value.
func (s Submission) WithGeo(g Geo) Submission {
	out := s
	assign := func(dst *sql.NullString, v string) {
		if v != "" {
			*dst = sql.NullString{String: v, Valid: true}
		}
	}
	assign(&out.Continent, g.Continent)
	assign(&out.Country, g.Country)
	assign(&out.CountryCode, g.CountryCode)
	assign(&out.RegionName, g.RegionName)
	assign(&out.City, g.City)
	return out
}
