package contact

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"html/template"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
	"github.com/idealindiska/livs-backend/pkg/mailer"
)

// ContactInput is the contact form.
type ContactInput struct {
	Name    string `json:"name" validate:"required,max=100"`
	Email   string `json:"email" validate:"required,email,max=254"`
	Phone   string `json:"phone" validate:"omitempty,max=30"`
	Subject string `json:"subject" validate:"omitempty,max=200"`
	Message string `json:"message" validate:"required,min=10,max=5000"`
}

// SurveyInput is the exit-intent survey.
type SurveyInput struct {
	Reason   string `json:"reason" validate:"required,max=100"`
	Feedback string `json:"feedback" validate:"omitempty,max=2000"`
	Email    string `json:"email" validate:"omitempty,email,max=254"`
	Page     string `json:"page" validate:"omitempty,max=300"`
}

type rateCounter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// Limits caps submissions per window.
type Limits struct {
	Window   time.Duration
	PerIP    int
	PerEmail int
}

type ServiceParams struct {
	Mailer     mailer.Sender
	Counter    rateCounter
	Limits     Limits
	AdminEmail string
	StoreName  string
	Logger     *logger.Logger
	Now        func() time.Time
}

// Service forwards storefront messages to the shop by email.
type Service interface {
	SubmitContact(ctx context.Context, clientIP string, input ContactInput) error
	SubmitSurvey(ctx context.Context, clientIP string, input SurveyInput) error
}

type service struct {
	mailer     mailer.Sender
	counter    rateCounter
	limits     Limits
	adminEmail string
	storeName  string
	logg       *logger.Logger
	now        func() time.Time
}

var textPolicy = bluemonday.StrictPolicy()

func NewService(params ServiceParams) (Service, error) {
	if params.Mailer == nil {
		return nil, fmt.Errorf("mailer required")
	}
	if strings.TrimSpace(params.AdminEmail) == "" {
		return nil, fmt.Errorf("admin email required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	limits := params.Limits
	if limits.Window <= 0 {
		limits.Window = 10 * time.Minute
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	store := params.StoreName
	if store == "" {
		store = "Ideal Indiska LIVS"
	}
	return &service{
		mailer:     params.Mailer,
		counter:    params.Counter,
		limits:     limits,
		adminEmail: strings.TrimSpace(params.AdminEmail),
		storeName:  store,
		logg:       params.Logger,
		now:        now,
	}, nil
}

func (s *service) SubmitContact(ctx context.Context, clientIP string, input ContactInput) error {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	ctx = s.logg.WithCustomerEmail(ctx, email)
	if err := s.allow(ctx, "contact:ip:"+clientIP, s.limits.PerIP); err != nil {
		return err
	}
	if err := s.allow(ctx, "contact:email:"+email, s.limits.PerEmail); err != nil {
		return err
	}

	data := contactData{
		Store:       s.storeName,
		Name:        clean(input.Name),
		Email:       email,
		Phone:       clean(input.Phone),
		Subject:     clean(input.Subject),
		Paragraphs:  paragraphs(clean(input.Message)),
		SubmittedAt: s.now().UTC().Format("2006-01-02 15:04 MST"),
	}
	subject := "New contact message from " + data.Name
	if data.Subject != "" {
		subject += ": " + data.Subject
	}
	body, err := render(contactTemplate, data)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render contact email")
	}
	msg := mailer.Message{
		To:      []string{s.adminEmail},
		ReplyTo: email,
		Subject: subject,
		HTML:    body,
		Text:    fmt.Sprintf("%s <%s>\n\n%s", data.Name, data.Email, strings.Join(data.Paragraphs, "\n\n")),
	}
	return s.send(ctx, "contact", msg)
}

func (s *service) SubmitSurvey(ctx context.Context, clientIP string, input SurveyInput) error {
	if err := s.allow(ctx, "survey:ip:"+clientIP, s.limits.PerIP); err != nil {
		return err
	}
	data := surveyData{
		Store:       s.storeName,
		Reason:      clean(input.Reason),
		Feedback:    paragraphs(clean(input.Feedback)),
		Email:       strings.ToLower(strings.TrimSpace(input.Email)),
		Page:        clean(input.Page),
		SubmittedAt: s.now().UTC().Format("2006-01-02 15:04 MST"),
	}
	body, err := render(surveyTemplate, data)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render survey email")
	}
	msg := mailer.Message{
		To:      []string{s.adminEmail},
		ReplyTo: data.Email,
		Subject: "Exit survey: " + data.Reason,
		HTML:    body,
		Text:    fmt.Sprintf("Reason: %s\n\n%s", data.Reason, strings.Join(data.Feedback, "\n\n")),
	}
	return s.send(ctx, "survey", msg)
}

// allow counts one submission for key. Counter failures let the
// submission through.
func (s *service) allow(ctx context.Context, scope string, limit int) error {
	if s.counter == nil || limit <= 0 {
		return nil
	}
	count, err := s.counter.IncrWithTTL(ctx, s.counter.RateLimitKey(scope), s.limits.Window)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"limit": scope[:strings.LastIndex(scope, ":")], "error": err.Error()}), "contact.rate_limit.unavailable")
		return nil
	}
	if count > int64(limit) {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "Too many messages, please try again later")
	}
	return nil
}

func (s *service) send(ctx context.Context, kind string, msg mailer.Message) error {
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "kind", kind), "contact.send_failed", err)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "could not send your message, please try again later")
	}
	s.logg.Info(s.logg.WithField(ctx, "kind", kind), "contact.sent")
	return nil
}

type contactData struct {
	Store       string
	Name        string
	Email       string
	Phone       string
	Subject     string
	Paragraphs  []string
	SubmittedAt string
}

type surveyData struct {
	Store       string
	Reason      string
	Feedback    []string
	Email       string
	Page        string
	SubmittedAt string
}

var contactTemplate = template.Must(template.New("contact").Parse(`<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;color:#222">
<h2>New message via {{.Store}}</h2>
<table cellpadding="4">
<tr><td><strong>Name</strong></td><td>{{.Name}}</td></tr>
<tr><td><strong>Email</strong></td><td><a href="mailto:{{.Email}}">{{.Email}}</a></td></tr>
{{if .Phone}}<tr><td><strong>Phone</strong></td><td>{{.Phone}}</td></tr>{{end}}
{{if .Subject}}<tr><td><strong>Subject</strong></td><td>{{.Subject}}</td></tr>{{end}}
</table>
{{range .Paragraphs}}<p>{{.}}</p>
{{end}}<p style="color:#888;font-size:12px">Sent {{.SubmittedAt}}</p>
</body></html>`))

var surveyTemplate = template.Must(template.New("survey").Parse(`<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;color:#222">
<h2>Exit survey response ({{.Store}})</h2>
<p><strong>Reason:</strong> {{.Reason}}</p>
{{range .Feedback}}<p>{{.}}</p>
{{end}}{{if .Email}}<p><strong>Email:</strong> {{.Email}}</p>{{end}}
{{if .Page}}<p><strong>Page:</strong> {{.Page}}</p>{{end}}
<p style="color:#888;font-size:12px">Sent {{.SubmittedAt}}</p>
</body></html>`))

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// clean strips markup; the template escapes what remains.
func clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

func paragraphs(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	out := []string{}
	for _, p := range strings.Split(s, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
