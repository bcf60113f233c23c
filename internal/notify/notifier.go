// Package notify emails the operator a plain-text summary of each persisted
// submission.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-form/internal/contact"
	"github.com/JakeFAU/contact-form/internal/metrics"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "New contact form submission"

var (
	// ErrNotConfigured reports a missing relay credential or address.
	ErrNotConfigured = errors.New("notify: mail relay is not configured")
	// ErrSend reports that the relay could not be reached or rejected the message.
	ErrSend = errors.New("notify: send failed")
)

// Config holds relay settings and addresses.
type Config struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	To        string
	Subject   string
	TLSPolicy string
}

// missing lists the required settings that are unset.
func (c Config) missing() []string {
	var out []string
	for _, kv := range []struct{ name, value string }{
		{"host", c.Host},
		{"username", c.Username},
		{"password", c.Password},
		{"from", c.From},
		{"to", c.To},
	} {
		if strings.TrimSpace(kv.value) == "" {
			out = append(out, kv.name)
		}
	}
	return out
}

// Message is a rendered plain-text email.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Notifier renders and sends submission summaries.
type Notifier struct {
	cfg    Config
	sender Sender
	logger *zap.Logger
}

// New builds a Notifier. A nil sender uses SMTP with cfg.
func New(cfg Config, sender Sender, logger *zap.Logger) *Notifier {
	metrics.Init()
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if sender == nil {
		sender = NewSMTPSender(cfg)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{cfg: cfg, sender: sender, logger: logger}
}

// Notify sends the non-null fields of a persisted record.
func (n *Notifier) Notify(ctx context.Context, fields []contact.Field) error {
	if missing := n.cfg.missing(); len(missing) > 0 {
		metrics.ObserveNotification("not_configured")
		return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}

	msg := Message{
		From:    n.cfg.From,
		To:      splitAddresses(n.cfg.To),
		Subject: n.cfg.Subject,
		Body:    Render(fields),
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		metrics.ObserveNotification("failed")
		return fmt.Errorf("%w: %w", ErrSend, err)
	}

	metrics.ObserveNotification("sent")
	n.logger.Debug("notification sent", zap.Strings("to", msg.To))
	return nil
}

// Render lists fields as newline-separated "name:value" lines.
func Render(fields []contact.Field) string {
	lines := make([]string, len(fields))
	for i, f := range fields {
		lines[i] = f.Name + ":" + f.Value
	}
	return strings.Join(lines, "\n")
}

func splitAddresses(raw string) []string {
	var out []string
	for _, addr := range strings.Split(raw, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
