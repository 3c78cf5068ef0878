package notification

import (
	"Go2NetIDS/internal/config"
	"Go2NetIDS/internal/model"
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"

	"github.com/gomarkdown/markdown"
)

// EmailNotifier implements the Notifier interface for sending emails.
type EmailNotifier struct {
	cfg  config.SMTPConfig
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates a new EmailNotifier.
func NewEmailNotifier(cfg config.SMTPConfig) *EmailNotifier {
	var auth smtp.Auth
	if cfg.Username != "" {
		// PlainAuth will not send credentials until the server identifies itself as a trusted one.
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailNotifier{cfg: cfg, auth: auth, send: smtp.SendMail}
}

func (n *EmailNotifier) Name() string { return "email" }

var alertTemplate = template.Must(template.New("alert").Parse(`# Intrusion alert

A flow was classified as malicious.

| Field | Value |
|---|---|
| Source | {{.Source}} |
| Destination | {{.Destination}} |
| Confidence | {{printf "%.1f" .Percent}}% |
| Flow | {{.Flow}} |
| Time | {{.Timestamp.Format "2006-01-02 15:04:05 MST"}} |

Alert ID: ` + "`{{.ID}}`" + `
`))

// RenderAlert renders the alert as markdown.
func RenderAlert(a model.Alert) (string, error) {
	var buf bytes.Buffer
	err := alertTemplate.Execute(&buf, struct {
		model.Alert
		Percent float64
	}{a, a.Confidence * 100})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Send sends the alert as an HTML email to the configured recipients.
// net/smtp has no context support, so ctx is only checked before dialing.
func (n *EmailNotifier) Send(ctx context.Context, a model.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	md, err := RenderAlert(a)
	if err != nil {
		return fmt.Errorf("failed to render alert: %w", err)
	}
	body := markdown.ToHTML([]byte(md), nil, nil)

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	recipients := strings.Split(n.cfg.To, ",")
	for i := range recipients {
		recipients[i] = strings.TrimSpace(recipients[i])
	}
	subject := fmt.Sprintf("IDS alert: %s -> %s (%.0f%%)", a.Source, a.Destination, a.Confidence*100)

	msg := []byte("To: " + n.cfg.To + "\r\n" +
		"From: " + n.cfg.From + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/html; charset=UTF-8\r\n" +
		"\r\n" +
		string(body))

	if err := n.send(addr, n.auth, n.cfg.From, recipients, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
