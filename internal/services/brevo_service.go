package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const brevoSendEmailURL = "https://api.brevo.com/v3/sendEmail"

// BrevoService sends transactional email through the Brevo REST API
type BrevoService struct {
	client    *resty.Client
	endpoint  string
	apiKey    string
	fromEmail string
	fromName  string
}

// NewBrevoService creates a new Brevo sender
func NewBrevoService(apiKey, fromEmail, fromName string) *BrevoService {
	return &BrevoService{
		client:    resty.New().SetTimeout(10 * time.Second),
		endpoint:  brevoSendEmailURL,
		apiKey:    apiKey,
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

// EmailRequest represents Brevo email request structure
type EmailRequest struct {
	Sender      EmailSender `json:"sender"`
	To          []EmailTo   `json:"to"`
	Subject     string      `json:"subject"`
	HTMLContent string      `json:"htmlContent"`
	TextContent string      `json:"textContent"`
}

type EmailSender struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type EmailTo struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (s *BrevoService) send(ctx context.Context, msg emailMessage) error {
	req := EmailRequest{
		Sender:      EmailSender{Name: s.fromName, Email: s.fromEmail},
		To:          []EmailTo{{Email: msg.To}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
		TextContent: msg.Text,
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("api-key", s.apiKey).
		SetBody(req).
		Post(s.endpoint)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	if !resp.IsSuccess() {
		return fmt.Errorf("brevo API error: status %d", resp.StatusCode())
	}

	return nil
}
