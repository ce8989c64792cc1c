// Package notifications sends license-related email to administrators:
// upcoming expiry and seat-limit alerts.
package notifications

import (
	"bytes"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"
	"time"

	"github.com/Abmarne/tadreeblms/internal/config"
	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFS embed.FS

// EmailService sends license notification emails over SMTP.
type EmailService struct {
	config    config.SMTPConfig
	templates *template.Template
	logger    zerolog.Logger
}

// NewEmailService creates an email service. The config must at least carry a
// host and a from address.
func NewEmailService(cfg config.SMTPConfig, logger zerolog.Logger) (*EmailService, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("smtp host and from address are required")
	}

	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}

	return &EmailService{
		config:    cfg,
		templates: tmpl,
		logger:    logger.With().Str("component", "email_service").Logger(),
	}, nil
}

// LicenseExpiryData holds data for the license expiry warning email.
type LicenseExpiryData struct {
	LicensedTo    string
	LicenseType   string
	MaskedKey     string
	ExpiryDate    time.Time
	DaysRemaining int
}

// UserLimitData holds data for the seat-limit email.
type UserLimitData struct {
	LicensedTo  string
	ActiveUsers int
	MaxUsers    int
	Exceeded    bool
}

// SendLicenseExpiry warns administrators that the license expires soon.
func (s *EmailService) SendLicenseExpiry(to []string, data LicenseExpiryData) error {
	subject := fmt.Sprintf("License Expiring in %d Days: %s", data.DaysRemaining, data.LicensedTo)
	if data.DaysRemaining <= 0 {
		subject = fmt.Sprintf("License Expired: %s", data.LicensedTo)
	}
	return s.sendTemplate(to, subject, "license_expiry.html", data)
}

// SendUserLimit notifies administrators that seat usage reached or exceeded
// the license quota.
func (s *EmailService) SendUserLimit(to []string, data UserLimitData) error {
	subject := fmt.Sprintf("User Limit Reached: %d of %d Seats", data.ActiveUsers, data.MaxUsers)
	if data.Exceeded {
		subject = fmt.Sprintf("User Limit Exceeded: %d of %d Seats", data.ActiveUsers, data.MaxUsers)
	}
	return s.sendTemplate(to, subject, "user_limit.html", data)
}

// sendTemplate renders a template and sends the email.
func (s *EmailService) sendTemplate(to []string, subject, templateName string, data any) error {
	if len(to) == 0 {
		s.logger.Debug().Str("subject", subject).Msg("no recipients, skipping email")
		return nil
	}

	var body bytes.Buffer
	if err := s.templates.ExecuteTemplate(&body, templateName, data); err != nil {
		return fmt.Errorf("execute template %s: %w", templateName, err)
	}
	return s.send(to, subject, body.String())
}

func (s *EmailService) send(to []string, subject, htmlBody string) error {
	msg := s.buildMessage(to, subject, htmlBody)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var err error
	if s.config.TLS {
		err = s.sendTLS(addr, to, msg)
	} else {
		err = s.sendPlain(addr, to, msg)
	}
	if err != nil {
		s.logger.Error().Err(err).Strs("to", to).Str("subject", subject).
			Msg("failed to send email")
		return fmt.Errorf("send email: %w", err)
	}

	s.logger.Info().Strs("to", to).Str("subject", subject).Msg("email sent")
	return nil
}

func (s *EmailService) buildMessage(to []string, subject, htmlBody string) []byte {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s\r\n", s.config.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to[0]))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(htmlBody)
	return buf.Bytes()
}

// sendPlain sends without TLS, for port 25 or trusted networks.
func (s *EmailService) sendPlain(addr string, to []string, msg []byte) error {
	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}
	return smtp.SendMail(addr, auth, s.config.From, to, msg)
}

// sendTLS sends over implicit TLS (port 465).
func (s *EmailService) sendTLS(addr string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: s.config.Host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("tls dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer client.Close()

	if s.config.Username != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err = client.Mail(s.config.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, recipient := range to {
		if err = client.Rcpt(recipient); err != nil {
			return fmt.Errorf("smtp rcpt to %s: %w", recipient, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("close message writer: %w", err)
	}
	return client.Quit()
}
