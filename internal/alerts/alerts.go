// Package alerts sends operational alert emails through Resend. Alerts fire
// when a queue job exhausts its retries or panics; everything else stays in
// the logs.
package alerts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"

	"github.com/casewire/casewire/internal/config"
)

const jobFailureTemplate = `<h2>casewire job failure</h2>
<p><strong>{{.Kind}}</strong> job {{.ID}} on queue <code>{{.Queue}}</code> failed
after {{.Attempt}}/{{.MaxAttempts}} attempts at {{.When}}.</p>
<pre>{{.Error}}</pre>`

var jobFailureTmpl = template.Must(template.New("job_failure").Parse(jobFailureTemplate))

// Notifier delivers alert emails. A notifier built without an API key or
// recipients drops every alert with a debug log, so callers wire it
// unconditionally and config decides.
type Notifier struct {
	client *resend.Client
	from   string
	to     []string
	logger zerolog.Logger
}

func NewNotifier(cfg config.AlertsConfig, logger zerolog.Logger) *Notifier {
	n := &Notifier{
		from:   cfg.From,
		logger: logger.With().Str("component", "alerts").Logger(),
	}
	for _, addr := range strings.Split(cfg.To, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			n.to = append(n.to, addr)
		}
	}
	if cfg.ResendAPIKey != "" {
		n.client = resend.NewClient(cfg.ResendAPIKey)
	}
	return n
}

// Enabled reports whether alerts will actually be sent.
func (n *Notifier) Enabled() bool {
	return n.client != nil && n.from != "" && len(n.to) > 0
}

// JobFailed notifies about a job that is out of retries (or panicked). It
// matches the queue error handler's notify hook. Delivery failures are
// logged and swallowed so an alert outage cannot affect job processing.
func (n *Notifier) JobFailed(ctx context.Context, job *rivertype.JobRow, jobErr error) {
	if !n.Enabled() {
		n.logger.Debug().Str("kind", job.Kind).Int64("job_id", job.ID).Msg("alerts disabled, dropping job failure alert")
		return
	}

	var body bytes.Buffer
	err := jobFailureTmpl.Execute(&body, map[string]any{
		"Kind":        job.Kind,
		"ID":          job.ID,
		"Queue":       job.Queue,
		"Attempt":     job.Attempt,
		"MaxAttempts": job.MaxAttempts,
		"When":        time.Now().UTC().Format(time.RFC3339),
		"Error":       jobErr.Error(),
	})
	if err != nil {
		n.logger.Error().Err(err).Msg("render job failure alert")
		return
	}

	subject := fmt.Sprintf("[casewire] %s job %d failed", job.Kind, job.ID)
	if err := n.send(ctx, subject, body.String()); err != nil {
		n.logger.Error().Err(err).Str("kind", job.Kind).Int64("job_id", job.ID).Msg("send job failure alert")
		return
	}
	n.logger.Info().Str("kind", job.Kind).Int64("job_id", job.ID).Msg("job failure alert sent")
}

func (n *Notifier) send(ctx context.Context, subject, htmlBody string) error {
	params := &resend.SendEmailRequest{
		From:    n.from,
		To:      n.to,
		Subject: subject,
		Html:    htmlBody,
	}
	sent, err := n.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		var rateLimitErr *resend.RateLimitError
		if errors.As(err, &rateLimitErr) {
			n.logger.Warn().
				Str("limit", rateLimitErr.Limit).
				Str("remaining", rateLimitErr.Remaining).
				Str("reset", rateLimitErr.Reset).
				Msg("resend rate limit exceeded")
			return fmt.Errorf("alert rate limit exceeded (resets in %s seconds): %w", rateLimitErr.Reset, err)
		}
		return fmt.Errorf("resend API error: %w", err)
	}
	n.logger.Debug().Str("email_id", sent.Id).Msg("alert delivered")
	return nil
}
