package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
)

// WebhookChannel posts the rendered message as a JSON-ish text body to a
// configured URL. No third-party webhook SDK appears anywhere in the pack,
// so this is a deliberate stdlib choice (net/http) rather than a dropped
// dependency — see DESIGN.md.
type WebhookChannel struct {
	URL    string
	client *http.Client
}

// NewWebhookChannel builds a channel posting to url.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{URL: url, client: &http.Client{}}
}

func (w *WebhookChannel) Name() string { return "WEBHOOK" }

func (w *WebhookChannel) Send(ctx context.Context, message string) error {
	body := fmt.Sprintf(`{"text":%q}`, message)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewBufferString(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// SlackChannel is a WebhookChannel pointed at a Slack incoming-webhook URL;
// Slack's payload shape is the same simple {"text": ...} JSON body.
type SlackChannel struct {
	*WebhookChannel
}

// NewSlackChannel builds a Slack incoming-webhook channel.
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{WebhookChannel: NewWebhookChannel(webhookURL)}
}

func (s *SlackChannel) Name() string { return "SLACK" }

// EmailChannel sends the rendered message as a plaintext email via SMTP.
type EmailChannel struct {
	Host     string
	Port     string
	From     string
	To       []string
	Auth     smtp.Auth
}

// NewEmailChannel builds an SMTP-backed channel. auth may be nil for
// unauthenticated relays (e.g. local test SMTP servers).
func NewEmailChannel(host, port, from string, to []string, auth smtp.Auth) *EmailChannel {
	return &EmailChannel{Host: host, Port: port, From: from, To: to, Auth: auth}
}

func (e *EmailChannel) Name() string { return "EMAIL" }

func (e *EmailChannel) Send(ctx context.Context, message string) error {
	addr := e.Host + ":" + e.Port
	subject := "sanctionswatch alert"
	if idx := strings.Index(message, "\n"); idx > 0 {
		subject = strings.TrimSpace(message[:idx])
	}
	body := fmt.Sprintf("Subject: %s\r\nTo: %s\r\nFrom: %s\r\n\r\n%s", subject, strings.Join(e.To, ", "), e.From, message)
	return smtp.SendMail(addr, e.Auth, e.From, e.To, []byte(body))
}
