package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"noticeboard/internal/config"
	"noticeboard/internal/middleware"
)

// Mail is one outgoing plain-text message.
type Mail struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers account emails.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// NewMailer picks the delivery backend named by MAIL_PROVIDER.
func NewMailer(cfg *config.Config) Mailer {
	if cfg.MailProvider == "sendgrid" {
		return NewSendGridMailer(cfg.SendGridAPIKey, cfg.MailFrom)
	}
	return &LogMailer{}
}

// LogMailer writes messages to the application log instead of sending them.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, m Mail) error {
	middleware.Logger.InfoContext(ctx, "outgoing mail",
		slog.String("to", m.To),
		slog.String("subject", m.Subject),
		slog.String("body", m.Body),
	)
	return nil
}

// SendGridMailer sends through the SendGrid v3 mail API.
type SendGridMailer struct {
	APIKey     string
	FromEmail  string
	HTTPClient *http.Client
	Endpoint   string
}

// NewSendGridMailer returns a mailer for the given key and sender.
func NewSendGridMailer(apiKey, fromEmail string) *SendGridMailer {
	return &SendGridMailer{
		APIKey:    strings.TrimSpace(apiKey),
		FromEmail: strings.TrimSpace(fromEmail),
		Endpoint:  "https://api.sendgrid.com/v3/mail/send",
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendGridEmailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridPersonalization struct {
	To      []sendGridEmailAddress `json:"to"`
	Subject string                 `json:"subject"`
}

type sendGridMailSendRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridEmailAddress      `json:"from"`
	Content          []sendGridContent         `json:"content"`
}

func (m *SendGridMailer) Send(ctx context.Context, mail Mail) error {
	if m == nil {
		return fmt.Errorf("sendgrid mailer not configured")
	}
	if m.APIKey == "" {
		return fmt.Errorf("missing SENDGRID_API_KEY")
	}
	if m.FromEmail == "" {
		return fmt.Errorf("missing MAIL_FROM")
	}

	reqBody := sendGridMailSendRequest{
		Personalizations: []sendGridPersonalization{
			{
				To:      []sendGridEmailAddress{{Email: mail.To}},
				Subject: mail.Subject,
			},
		},
		From: sendGridEmailAddress{
			Email: m.FromEmail,
			Name:  "Noticeboard",
		},
		Content: []sendGridContent{
			{Type: "text/plain", Value: mail.Body},
		},
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := m.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// SendGrid returns 202 Accepted on success.
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("sendgrid mail send http %d", resp.StatusCode)
	}
	return nil
}
