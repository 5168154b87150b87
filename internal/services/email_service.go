package services

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"keyshop-api/internal/config"
	"keyshop-api/internal/models"
	"keyshop-api/pkg/logging"

	"gopkg.in/gomail.v2"
)

// Mailer delivers customer email. Callers treat every method as best effort.
type Mailer interface {
	SendKeyEmail(ctx context.Context, to string, keys []string, tier models.Tier, transactionID string) error
	SendVerificationEmail(ctx context.Context, to, code string) error
	SendTicketReplyEmail(ctx context.Context, to, ticketNumber, message string) error
}

type emailMessage struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

type emailSender interface {
	send(ctx context.Context, msg emailMessage) error
}

// EmailService renders messages and hands them to the configured sender.
type EmailService struct {
	sender      emailSender
	serviceName string
	codeTTL     time.Duration
}

// NewEmailService picks Brevo when an API key is set, SMTP when a host is set,
// and otherwise only logs outgoing mail.
func NewEmailService(cfg *config.Config) *EmailService {
	var sender emailSender
	switch {
	case cfg.BrevoAPIKey != "":
		sender = NewBrevoService(cfg.BrevoAPIKey, cfg.BrevoFromEmail, cfg.BrevoFromName)
	case cfg.SMTPHost != "":
		sender = newSMTPSender(gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword),
			cfg.BrevoFromEmail, cfg.BrevoFromName, maxInflightSMTP)
	default:
		logging.Warnf("No email provider configured, outgoing mail will only be logged")
		sender = logSender{}
	}

	return &EmailService{
		sender:      sender,
		serviceName: cfg.ServiceName,
		codeTTL:     time.Duration(cfg.CodeExpireMinutes) * time.Minute,
	}
}

func (e *EmailService) SendKeyEmail(ctx context.Context, to string, keys []string, tier models.Tier, transactionID string) error {
	var items strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&items, `<li style="font-family: monospace; font-size: 16px;">%s</li>`, html.EscapeString(k))
	}

	subject := fmt.Sprintf("Your %s key - %s", tier, e.serviceName)
	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h1 style="color: #333;">Thank you for your purchase</h1>
	<p>Your %s access key:</p>
	<ul>%s</ul>
	<p style="color: #999; font-size: 12px;">Transaction: %s</p>
</body>
</html>`, html.EscapeString(string(tier)), items.String(), html.EscapeString(transactionID))
	text := fmt.Sprintf("Thank you for your purchase.\n\nYour %s access key:\n%s\n\nTransaction: %s\n",
		tier, strings.Join(keys, "\n"), transactionID)

	return e.sender.send(ctx, emailMessage{To: to, Subject: subject, HTML: htmlBody, Text: text})
}

func (e *EmailService) SendVerificationEmail(ctx context.Context, to, code string) error {
	minutes := int(e.codeTTL.Minutes())
	subject := fmt.Sprintf("Your login code - %s", e.serviceName)
	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background-color: #f8f9fa; padding: 30px; border-radius: 10px; text-align: center;">
		<h1 style="color: #333; margin-bottom: 20px;">%s login code</h1>
		<div style="background-color: #007bff; color: white; padding: 20px; border-radius: 10px; font-size: 32px; font-weight: bold; letter-spacing: 5px;">%s</div>
		<p style="color: #999; font-size: 14px; margin-top: 20px;">The code is valid for %d minutes. Do not share it.</p>
	</div>
</body>
</html>`, html.EscapeString(e.serviceName), code, minutes)
	text := fmt.Sprintf("%s login code: %s\n\nThe code is valid for %d minutes. Do not share it.\n", e.serviceName, code, minutes)

	return e.sender.send(ctx, emailMessage{To: to, Subject: subject, HTML: htmlBody, Text: text})
}

func (e *EmailService) SendTicketReplyEmail(ctx context.Context, to, ticketNumber, message string) error {
	subject := fmt.Sprintf("New reply on ticket %s", ticketNumber)
	htmlBody := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
	<h2>Support replied to ticket %s</h2>
	<blockquote style="border-left: 3px solid #ccc; padding-left: 10px; white-space: pre-wrap;">%s</blockquote>
</body>
</html>`, html.EscapeString(ticketNumber), html.EscapeString(message))
	text := fmt.Sprintf("Support replied to ticket %s:\n\n%s\n", ticketNumber, message)

	return e.sender.send(ctx, emailMessage{To: to, Subject: subject, HTML: htmlBody, Text: text})
}

// maxInflightSMTP caps concurrent SMTP exchanges. gomail has no per-exchange
// deadline (only a 10s dial timeout), so a send abandoned on ctx expiry keeps
// its slot until the server answers.
const maxInflightSMTP = 4

type smtpDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// smtpSender delivers mail over SMTP with gomail.
type smtpSender struct {
	dialer smtpDialer
	from   string
	name   string
	slots  chan struct{}
}

func newSMTPSender(dialer smtpDialer, from, name string, maxInflight int) *smtpSender {
	if maxInflight <= 0 {
		maxInflight = 1
	}
	return &smtpSender{dialer: dialer, from: from, name: name, slots: make(chan struct{}, maxInflight)}
}

func (s *smtpSender) send(ctx context.Context, msg emailMessage) error {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.from, s.name)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	m.AddAlternative("text/html", msg.HTML)

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-s.slots }()
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

type logSender struct{}

func (logSender) send(_ context.Context, msg emailMessage) error {
	logging.Infof("Email not sent (no provider) - to: %s, subject: %s", msg.To, msg.Subject)
	return nil
}
