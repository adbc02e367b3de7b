package notifications

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/smartmed/interaction-engine/internal/config"
	"github.com/smartmed/interaction-engine/internal/models"
)

// Service delivers alerts through the configured channels: a push relay
// webhook for per-user alerts and email for the ops sweep digest.
// Unconfigured channels are skipped silently.
type Service struct {
	config *config.Config
	client *resty.Client
}

// Ensure Service implements Dispatcher
var _ Dispatcher = (*Service)(nil)

// pushMessage is the payload the push relay forwards to the mobile app.
type pushMessage struct {
	UserID   string `json:"userId"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Severity string `json:"severity"`
	AlertID  string `json:"alertId"`
	Type     string `json:"type"`
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
}

// SendAlert pushes one alert to the user's devices via the relay.
func (s *Service) SendAlert(ctx context.Context, alert *models.Alert) error {
	if s.config.PushGatewayURL == "" {
		logrus.Debug("Push gateway not configured, skipping alert dispatch")
		return nil
	}

	message := &pushMessage{
		UserID:   alert.UserID,
		Title:    alertTitle(alert.SeverityLevel),
		Body:     alert.Message,
		Severity: string(alert.SeverityLevel),
		AlertID:  alert.ID,
		Type:     string(alert.AlertType),
	}

	req := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(message)
	if s.config.PushGatewayToken != "" {
		req.SetAuthToken(s.config.PushGatewayToken)
	}

	resp, err := req.Post(s.config.PushGatewayURL)
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("push gateway returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	logrus.Infof("Dispatched %s alert %s to user %s", alert.SeverityLevel, alert.ID, alert.UserID)
	return nil
}

func alertTitle(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "Critical medication interaction"
	case models.SeverityHigh:
		return "Serious medication interaction"
	default:
		return "Medication interaction detected"
	}
}

// SendSweepDigest emails the daily sweep summary to the ops address.
func (s *Service) SendSweepDigest(ctx context.Context, report *models.SweepReport) error {
	if s.config.DigestEmail == "" {
		logrus.Debug("Digest email not configured, skipping sweep digest")
		return nil
	}

	subject := fmt.Sprintf("Interaction sweep %s: %d users checked, %d alerts created",
		report.StartedAt.Format("2006-01-02"), report.UsersChecked, report.AlertsCreated)

	htmlBody, err := s.buildDigestHTML(report)
	if err != nil {
		return fmt.Errorf("failed to build digest HTML: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.DigestEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", s.buildDigestText(report))
	m.AddAlternative("text/html", htmlBody)

	d := gomail.NewDialer(s.config.SMTPHost, s.config.SMTPPort, s.config.SMTPUsername, s.config.SMTPPassword)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send digest email: %w", err)
	}

	logrus.Info("Sent sweep digest email")
	return nil
}

func (s *Service) buildDigestHTML(report *models.SweepReport) (string, error) {
	tmpl := `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Interaction Sweep Digest</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #2e7d32; color: white; padding: 20px; border-radius: 5px; }
        .summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
        .failure { border-left: 4px solid #d13438; padding: 10px; margin: 10px 0; background-color: #fafafa; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Daily Interaction Sweep</h1>
        <p>Started {{.StartedAt.Format "January 2, 2006 at 3:04 PM UTC"}}, took {{.Duration}}</p>
    </div>

    <div class="summary">
        <h2>Summary</h2>
        <ul>
            <li>Users with profiles: {{.UsersTotal}}</li>
            <li>Users checked: {{.UsersChecked}}</li>
            <li>Users skipped (no active substances): {{.UsersSkipped}}</li>
            <li>Alerts created: {{.AlertsCreated}}</li>
            <li>Alerts escalated: {{.AlertsEscalated}}</li>
            <li>Partial checks: {{.PartialChecks}}</li>
        </ul>
    </div>

    {{if .Failures}}
    <h2>Failed Users ({{len .Failures}})</h2>
    {{range .Failures}}
    <div class="failure">
        <strong>{{.UserID}}</strong>: {{.Reason}}
    </div>
    {{end}}
    {{end}}
</body>
</html>`

	t, err := template.New("digest").Parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, report); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *Service) buildDigestText(report *models.SweepReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily interaction sweep, started %s (took %s)\n\n",
		report.StartedAt.Format(time.RFC1123), report.Duration)
	fmt.Fprintf(&b, "Users with profiles: %d\n", report.UsersTotal)
	fmt.Fprintf(&b, "Users checked: %d\n", report.UsersChecked)
	fmt.Fprintf(&b, "Users skipped: %d\n", report.UsersSkipped)
	fmt.Fprintf(&b, "Alerts created: %d\n", report.AlertsCreated)
	fmt.Fprintf(&b, "Alerts escalated: %d\n", report.AlertsEscalated)
	fmt.Fprintf(&b, "Partial checks: %d\n", report.PartialChecks)

	if len(report.Failures) > 0 {
		fmt.Fprintf(&b, "\nFailed users (%d):\n", len(report.Failures))
		for _, f := range report.Failures {
			fmt.Fprintf(&b, "  %s: %s\n", f.UserID, f.Reason)
		}
	}

	return b.String()
}
