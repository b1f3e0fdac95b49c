// Package notify delivers completion and failure notices of generation and training runs
// to email and webhook destinations.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"os"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"

	"github.com/courtyard/yardmaster/app/enums"
)

// Repeater repeats failed function
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Service sends notifications to all configured destinations
type Service struct {
	destinations []notify.Notifier
	fromEmail    string
	toEmail      []string
	webhooks     []string
	repeater     Repeater

	hostName           string
	enabledError       bool
	enabledCompletion  bool
	errorTemplate      string
	completionTemplate string
}

// Params configures notification behavior
type Params struct {
	EnabledError       bool
	EnabledCompletion  bool
	ErrorTemplate      string // path to custom error template, optional
	CompletionTemplate string // path to custom completion template, optional
	HostName           string
	Repeater           Repeater
}

// SendersParams defines destinations
type SendersParams struct {
	SMTPParams notify.SMTPParams
	FromEmail  string
	ToEmails   []string

	WebhookURLs    []string
	WebhookHeaders []string // "Header:value" pairs
	WebhookTimeout time.Duration
}

// Report describes a finished run
type Report struct {
	Kind        enums.Kind
	OwnerID     string
	OwnerName   string
	JobID       string
	Status      enums.RunStatus
	FinalLoss   *float64
	Duration    time.Duration
	AdapterPath string
	Version     string
	Error       string
	TS          time.Time
}

// NewService makes Service, returns nil if no destinations configured
func NewService(p Params, sp SendersParams) *Service {
	res := &Service{
		fromEmail:          sp.FromEmail,
		toEmail:            sp.ToEmails,
		webhooks:           sp.WebhookURLs,
		repeater:           p.Repeater,
		hostName:           p.HostName,
		enabledError:       p.EnabledError,
		enabledCompletion:  p.EnabledCompletion,
		errorTemplate:      p.ErrorTemplate,
		completionTemplate: p.CompletionTemplate,
	}
	if len(sp.ToEmails) > 0 {
		res.destinations = append(res.destinations, notify.NewEmail(sp.SMTPParams))
	}
	if len(sp.WebhookURLs) > 0 {
		timeout := sp.WebhookTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		headers := append([]string{"Content-Type:application/json"}, sp.WebhookHeaders...)
		res.destinations = append(res.destinations, notify.NewWebhook(notify.WebhookParams{Timeout: timeout, Headers: headers}))
	}
	if len(res.destinations) == 0 {
		return nil
	}
	if res.hostName == "" {
		res.hostName, _ = os.Hostname()
	}
	return res
}

// IsOnError status enabling on-error notification
func (s *Service) IsOnError() bool { return s.enabledError }

// IsOnCompletion status enabling on-completion notification
func (s *Service) IsOnCompletion() bool { return s.enabledCompletion }

// Send delivers subject and html text to every destination. Emails get the html,
// webhooks get a JSON document with subject and text.
func (s *Service) Send(ctx context.Context, subj, text string) error {
	var errs []error

	if len(s.toEmail) > 0 {
		dest := s.mailtoDestination(subj)
		if err := s.send(ctx, dest, text); err != nil {
			errs = append(errs, err)
		}
	}

	if len(s.webhooks) > 0 {
		body, err := json.Marshal(struct {
			Subject string `json:"subject"`
			Text    string `json:"text"`
			Host    string `json:"host"`
		}{Subject: subj, Text: text, Host: s.hostName})
		if err != nil {
			return fmt.Errorf("can't make webhook body: %w", err)
		}
		for _, wh := range s.webhooks {
			if err := s.send(ctx, wh, string(body)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Service) send(ctx context.Context, dest, text string) error {
	fn := func() error { return notify.Send(ctx, s.destinations, dest, text) }
	if s.repeater == nil {
		return fn()
	}
	if err := s.repeater.Do(ctx, fn); err != nil {
		log.Printf("[WARN] can't deliver notification to %s, %v", redact(dest), err)
		return err
	}
	return nil
}

func (s *Service) mailtoDestination(subj string) string {
	q := url.Values{}
	q.Set("from", s.fromEmail)
	q.Set("subject", subj)
	return "mailto:" + strings.Join(s.toEmail, ",") + "?" + q.Encode()
}

// MakeErrorHTML renders the failure notice
func (s *Service) MakeErrorHTML(r Report) (string, error) {
	return s.render(s.errorTemplate, defaultErrorTemplate, r)
}

// MakeCompletionHTML renders the completion notice
func (s *Service) MakeCompletionHTML(r Report) (string, error) {
	return s.render(s.completionTemplate, defaultCompletionTemplate, r)
}

// Subject makes a short subject line for the report
func Subject(r Report) string {
	name := r.OwnerName
	if name == "" {
		name = r.OwnerID
	}
	return fmt.Sprintf("%s %s for %s", r.Kind, r.Status, name)
}

func (s *Service) render(file, fallback string, r Report) (string, error) {
	if r.TS.IsZero() {
		r.TS = time.Now()
	}
	data := struct {
		Report
		Host     string
		Loss     string
		Duration string
	}{Report: r, Host: s.hostName, Duration: r.Duration.Round(time.Second).String()}
	if r.FinalLoss != nil {
		data.Loss = fmt.Sprintf("%.4f", *r.FinalLoss)
	}

	tmplText := fallback
	if file != "" {
		custom, err := os.ReadFile(file) //nolint:gosec // template path comes from the operator
		if err != nil {
			log.Printf("[WARN] can't read template %s, using default: %v", file, err)
		} else {
			tmplText = string(custom)
		}
	}

	t, err := template.New("msg").Parse(tmplText)
	if err != nil && tmplText != fallback {
		log.Printf("[WARN] can't parse template %s, using default: %v", file, err)
		t, err = template.New("msg").Parse(fallback)
	}
	if err != nil {
		return "", fmt.Errorf("can't parse message template: %w", err)
	}

	buf := bytes.Buffer{}
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to apply template: %w", err)
	}
	return buf.String(), nil
}

// redact drops query and credentials from destination for logging
func redact(dest string) string {
	if before, _, ok := strings.Cut(dest, "?"); ok {
		dest = before
	}
	if u, err := url.Parse(dest); err == nil && u.User != nil {
		u.User = nil
		return u.String()
	}
	return dest
}
