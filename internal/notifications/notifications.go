package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/models"
)

// NotificationType defines the type of notification
type NotificationType string

const (
	NotifyEmergencyResponse NotificationType = "emergency_response"
	NotifyCriticalFinding   NotificationType = "critical_finding"
	NotifyElevatedThreat    NotificationType = "elevated_threat"
)

// Notification represents a notification to be sent
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Severity  models.Severity
	Data      map[string]interface{}
	Timestamp time.Time
}

// Service delivers alerts over the configured channels. Delivery failures
// are reported to the caller but never block the scan or response path.
type Service struct {
	config config.NotificationsConfig
	logger *slog.Logger
	client *http.Client
}

func NewService(cfg config.NotificationsConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config: cfg,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send sends a notification to all enabled channels.
func (s *Service) Send(ctx context.Context, notif *Notification) error {
	if notif.Severity.Rank() < s.config.MinSeverity.Rank() {
		return nil
	}

	var errs []error

	if s.config.Slack.Enabled {
		if err := s.sendSlack(ctx, notif); err != nil {
			errs = append(errs, fmt.Errorf("slack: %w", err))
		}
	}
	if s.config.Email.Enabled {
		if err := s.sendEmail(notif); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %v", errs)
	}
	return nil
}

// NotifyEmergency alerts operators that the response engine activated.
func (s *Service) NotifyEmergency(ctx context.Context, result *models.ScanResult, classification string) error {
	notif := &Notification{
		Type:     NotifyEmergencyResponse,
		Title:    "Emergency Threat Response Activated",
		Message:  fmt.Sprintf("Scan %s reached threat level %.1f; containment is in progress", result.ScanID, result.ThreatLevel),
		Severity: models.SeverityCritical,
		Data: map[string]interface{}{
			"scan_id":        result.ScanID,
			"threat_level":   result.ThreatLevel,
			"classification": classification,
			"finding_count":  len(result.Findings),
			"fingerprint":    result.Fingerprint,
		},
		Timestamp: time.Now(),
	}
	return s.Send(ctx, notif)
}

// NotifyElevated alerts on scans that crossed the elevated threshold but
// did not trigger containment.
func (s *Service) NotifyElevated(ctx context.Context, result *models.ScanResult) error {
	notif := &Notification{
		Type:     NotifyElevatedThreat,
		Title:    "Elevated Threat Level Detected",
		Message:  fmt.Sprintf("Scan %s completed at threat level %.1f", result.ScanID, result.ThreatLevel),
		Severity: models.SeverityHigh,
		Data: map[string]interface{}{
			"scan_id":       result.ScanID,
			"threat_level":  result.ThreatLevel,
			"finding_count": len(result.Findings),
		},
		Timestamp: time.Now(),
	}
	return s.Send(ctx, notif)
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (s *Service) sendSlack(ctx context.Context, notif *Notification) error {
	fields := []SlackField{}
	for _, key := range []string{"scan_id", "threat_level", "classification", "finding_count"} {
		if v, ok := notif.Data[key]; ok {
			fields = append(fields, SlackField{
				Title: key,
				Value: fmt.Sprint(v),
				Short: true,
			})
		}
	}

	msg := SlackMessage{
		Channel:  s.config.Slack.Channel,
		Username: "aegis",
		Attachments: []SlackAttachment{
			{
				Color:     severityToColor(notif.Severity),
				Title:     notif.Title,
				Text:      notif.Message,
				Fallback:  fmt.Sprintf("%s: %s", notif.Title, notif.Message),
				Fields:    fields,
				Footer:    "Aegis Threat Scanner",
				Timestamp: notif.Timestamp.Unix(),
			},
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.config.Slack.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	s.logger.Info("slack notification sent",
		"type", notif.Type,
		"title", notif.Title)

	return nil
}

func severityToColor(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "#FF0000"
	case models.SeverityHigh:
		return "#FFA500"
	case models.SeverityMedium:
		return "#FFFF00"
	default:
		return "#36A64F"
	}
}

func (s *Service) sendEmail(notif *Notification) error {
	subject := fmt.Sprintf("[Aegis Alert] %s", notif.Title)
	body, err := s.formatEmailBody(notif)
	if err != nil {
		return err
	}

	msg := s.buildEmailMessage(subject, body)

	auth := smtp.PlainAuth("", s.config.Email.Username, s.config.Email.Password, s.config.Email.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.config.Email.SMTPHost, s.config.Email.SMTPPort)

	if err := smtp.SendMail(addr, auth, s.config.Email.From, s.config.Email.To, []byte(msg)); err != nil {
		return err
	}

	s.logger.Info("email notification sent",
		"type", notif.Type,
		"title", notif.Title,
		"recipients", len(s.config.Email.To))

	return nil
}

func (s *Service) buildEmailMessage(subject, body string) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.Email.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(s.config.Email.To, ",")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.String()
}

func (s *Service) formatEmailBody(notif *Notification) (string, error) {
	tmpl := `
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 600px; margin: 0 auto; background: white; border-radius: 8px; }
        .header { padding: 20px; background: {{.HeaderColor}}; color: white; border-radius: 8px 8px 0 0; }
        .content { padding: 20px; }
        .severity { display: inline-block; padding: 4px 8px; border-radius: 4px; font-weight: bold; background: {{.SeverityColor}}; color: white; }
        .data-table { width: 100%; border-collapse: collapse; margin-top: 15px; }
        .data-table td { padding: 8px; border-bottom: 1px solid #eee; }
        .data-table td:first-child { font-weight: bold; width: 30%; }
        .footer { padding: 15px 20px; background: #f9f9f9; border-radius: 0 0 8px 8px; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h2 style="margin:0;">{{.Title}}</h2>
        </div>
        <div class="content">
            <p>{{.Message}}</p>
            <p>Severity: <span class="severity">{{.Severity}}</span></p>
            {{if .HasData}}
            <table class="data-table">
                {{range $key, $value := .Data}}
                <tr>
                    <td>{{$key}}</td>
                    <td>{{$value}}</td>
                </tr>
                {{end}}
            </table>
            {{end}}
        </div>
        <div class="footer">
            <p>This is an automated alert from the Aegis threat scanner.</p>
            <p>Generated at: {{.Timestamp}}</p>
        </div>
    </div>
</body>
</html>
`
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}

	headerColor := "#2196F3"
	switch notif.Severity {
	case models.SeverityCritical:
		headerColor = "#F44336"
	case models.SeverityHigh:
		headerColor = "#FF9800"
	case models.SeverityMedium:
		headerColor = "#FFC107"
	}

	data := map[string]interface{}{
		"Title":         notif.Title,
		"Message":       notif.Message,
		"Severity":      string(notif.Severity),
		"HeaderColor":   headerColor,
		"SeverityColor": severityToColor(notif.Severity),
		"Data":          notif.Data,
		"HasData":       len(notif.Data) > 0,
		"Timestamp":     notif.Timestamp.Format(time.RFC1123),
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
