// Package notification renders and sends outbound email through an HTTP mail
// gateway.
package notification

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const TemplateDischargeSummary = "discharge-summary"

// EmailSender is the interface for sending email messages. Body is HTML.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Template defines a reusable email template using {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.RegisterTemplate(Template{
		ID:      TemplateDischargeSummary,
		Name:    "Discharge Summary",
		Subject: "Discharge summary for {{patient_name}}",
		Body: "<p>The discharge summary for {{patient_name}} ({{facility_name}}) is ready.</p>" +
			`<p><a href="{{link}}">Download the summary</a>. The link expires on {{expires_at}}.</p>`,
	})
	return e
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement in a
// single pass, so substituted values are never expanded again. Values are
// HTML-escaped in the body and inserted verbatim in the subject. Keys
// present in the template but absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	plain := make([]string, 0, 2*len(data))
	escaped := make([]string, 0, 2*len(data))
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		plain = append(plain, placeholder, v)
		escaped = append(escaped, placeholder, html.EscapeString(v))
	}
	subject = strings.NewReplacer(plain...).Replace(t.Subject)
	body = strings.NewReplacer(escaped...).Replace(t.Body)
	return subject, body, nil
}

// MailerConfig points the HTTP mailer at the gateway.
type MailerConfig struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration
	Retries int
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type sendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// HTTPMailer posts messages to the gateway's /send endpoint. Transport
// errors and 5xx responses are retried.
type HTTPMailer struct {
	client *resty.Client
	from   string
}

func NewHTTPMailer(cfg MailerConfig) *HTTPMailer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &HTTPMailer{client: client, from: cfg.From}
}

func (m *HTTPMailer) SendEmail(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return errors.New("recipient is required")
	}

	var out sendResponse
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(sendRequest{From: m.from, To: []string{to}, Subject: subject, HTML: body}).
		SetResult(&out).
		SetError(&out).
		Post("/send")
	if err != nil {
		return fmt.Errorf("call mail gateway: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mail gateway returned %d: %s", resp.StatusCode(), out.Message)
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them. Used when no
// gateway is configured.
type LogMailer struct {
	logger zerolog.Logger
}

func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendEmail(_ context.Context, to, subject, body string) error {
	m.logger.Info().
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(body)).
		Msg("email not sent: no mail gateway configured")
	return nil
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}
