// Package publisher defines the submission events fanned out after a contact
// is persisted. Implementations live in the pubsub and memory subpackages.
package publisher

import (
	"context"

	"github.com/JakeFAU/contact-form/internal/contact"
)

// EventContactSubmitted is the type of the event emitted per stored contact.
const EventContactSubmitted = "contact.submitted"

// Event is the JSON payload published for a stored contact.
type Event struct {
	Type      string            `json:"type"`
	ContactID int64             `json:"contact_id"`
	CreatedAt string            `json:"created_at"`
	Fields    map[string]string `json:"fields"`
}

// NewContactSubmitted builds the event for a persisted row.
func NewContactSubmitted(contactID int64, createdAt string, fields []contact.Field) Event {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f.Name] = f.Value
	}
	return Event{
		Type:      EventContactSubmitted,
		ContactID: contactID,
		CreatedAt: createdAt,
		Fields:    m,
	}
}

// Publisher delivers events to a topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) (string, error)
}
