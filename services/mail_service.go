package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wneessen/go-mail"
)

// Message is a plain text email to one recipient.
type Message struct {
	To      string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer sends through one SMTP relay, upgrading to TLS when offered.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	fromName string
	from     string
}

func NewSMTPMailer(host string, port int, username, password, fromName, from string) *SMTPMailer {
	return &SMTPMailer{host: host, port: port, username: username, password: password, fromName: fromName, from: from}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	email := mail.NewMsg()
	if err := email.FromFormat(m.fromName, m.from); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := email.To(msg.To); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	email.Subject(msg.Subject)
	email.SetBodyString(mail.TypeTextPlain, msg.Body)

	opts := []mail.Option{
		mail.WithPort(m.port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.username),
			mail.WithPassword(m.password),
		)
	}
	client, err := mail.NewClient(m.host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, email); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	slog.Info("Email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// LogMailer writes messages to the log instead of sending them. It stands in
// when no SMTP host is configured.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, msg Message) error {
	slog.Info("Email not sent, no SMTP host configured", "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}
