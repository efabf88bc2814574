package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"net/smtp"
	"time"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Mailer handles sending emails
type Mailer struct {
	config Config
}

// New creates a new Mailer instance
func New(cfg Config) *Mailer {
	return &Mailer{config: cfg}
}

// Breach is one line of a threshold alert
type Breach struct {
	Metric    string
	Bound     string
	Value     float64
	Threshold float64
	Unit      string
	At        time.Time
}

// ThresholdAlert is the content of one alert email
type ThresholdAlert struct {
	Name       string
	DeviceName string
	DeviceID   string
	Breaches   []Breach
	ChartURL   string
}

// SendThresholdAlert emails the breaches of one reading batch
func (m *Mailer) SendThresholdAlert(toEmail string, alert ThresholdAlert) error {
	subject := fmt.Sprintf("IPI Monitor - %s is out of range", alert.DeviceName)

	body, err := RenderThresholdAlert(alert)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	return m.send(toEmail, subject, body)
}

// send delivers an email via SMTP
func (m *Mailer) send(to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%s", m.config.Host, m.config.Port)

	headers := []struct{ key, value string }{
		{"From", fmt.Sprintf("%s <%s>", m.config.FromName, m.config.From)},
		{"To", to},
		{"Subject", subject},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=\"utf-8\""},
	}

	var msg bytes.Buffer
	for _, h := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", h.key, h.value))
	}
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)

	var auth smtp.Auth
	if m.config.Username != "" && m.config.Password != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	err := smtp.SendMail(addr, auth, m.config.From, []string{to}, msg.Bytes())
	if err != nil {
		log.Printf("❌ Failed to send email to %s: %v", to, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	log.Printf("📧 Email sent to %s: %s", to, subject)
	return nil
}

var alertTemplate = template.Must(template.New("alert").Funcs(template.FuncMap{
	"num":  func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"when": func(t time.Time) string { return t.UTC().Format("Jan 2, 03:04 PM MST") },
}).Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="margin:0;padding:0;background-color:#f4f6f8;font-family:'Segoe UI',Tahoma,Geneva,Verdana,sans-serif;">
    <div style="max-width:520px;margin:40px auto;background:#ffffff;border-radius:12px;overflow:hidden;border:1px solid #e2e8f0;">
        <!-- Header -->
        <div style="background:#dc2626;padding:24px;text-align:center;">
            <h1 style="color:#fff;margin:0;font-size:24px;font-weight:700;">🌡️ IPI Monitor</h1>
            <p style="color:rgba(255,255,255,0.9);margin:8px 0 0;font-size:14px;">Threshold alert</p>
        </div>

        <!-- Body -->
        <div style="padding:24px;">
            <p style="color:#1e293b;font-size:15px;line-height:1.6;margin:0 0 16px;">
                Hi{{if .Name}} <strong>{{.Name}}</strong>{{end}},
            </p>
            <p style="color:#475569;font-size:14px;line-height:1.6;margin:0 0 16px;">
                <strong>{{.DeviceName}}</strong> ({{.DeviceID}}) reported readings outside its thresholds:
            </p>
            <table style="width:100%;border-collapse:collapse;font-size:13px;color:#1e293b;">
                <tr style="background:#f1f5f9;">
                    <th style="text-align:left;padding:8px;">Time</th>
                    <th style="text-align:left;padding:8px;">Metric</th>
                    <th style="text-align:right;padding:8px;">Value</th>
                    <th style="text-align:right;padding:8px;">Limit</th>
                </tr>
                {{range .Breaches}}
                <tr>
                    <td style="padding:8px;border-top:1px solid #e2e8f0;">{{when .At}}</td>
                    <td style="padding:8px;border-top:1px solid #e2e8f0;">{{.Metric}} ({{.Bound}})</td>
                    <td style="padding:8px;border-top:1px solid #e2e8f0;text-align:right;">{{num .Value}}{{.Unit}}</td>
                    <td style="padding:8px;border-top:1px solid #e2e8f0;text-align:right;">{{num .Threshold}}{{.Unit}}</td>
                </tr>
                {{end}}
            </table>
            {{if .ChartURL}}
            <p style="margin:24px 0 0;text-align:center;">
                <a href="{{.ChartURL}}" style="background:#2563eb;color:#fff;padding:10px 18px;border-radius:6px;text-decoration:none;font-size:14px;">Open chart</a>
            </p>
            {{end}}
        </div>

        <!-- Footer -->
        <div style="padding:12px 24px;border-top:1px solid #e2e8f0;text-align:center;">
            <p style="color:#94a3b8;font-size:12px;margin:0;">You receive this because alerts are enabled for this device.</p>
        </div>
    </div>
</body>
</html>`))

// RenderThresholdAlert returns the HTML body of an alert email
func RenderThresholdAlert(alert ThresholdAlert) (string, error) {
	var buf bytes.Buffer
	if err := alertTemplate.Execute(&buf, alert); err != nil {
		return "", err
	}
	return buf.String(), nil
}
