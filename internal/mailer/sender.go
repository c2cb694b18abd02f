package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/internal/config"
)

// Sender delivers a rendered mail.
type Sender interface {
	Send(ctx context.Context, data JobData) error
}

// NewSender returns the sender selected by cfg.Transport.
func NewSender(cfg config.MailerConfig, logger *zap.Logger) (Sender, error) {
	switch cfg.Transport {
	case "http":
		return &HTTPSender{Host: cfg.Host, Username: cfg.Username, Password: cfg.Password}, nil
	case "smtp":
		return &SMTPSender{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.Username,
			Password:  cfg.Password,
			FromEmail: cfg.FromEmail,
			FromName:  cfg.FromName,
			logger:    logger.Sugar(),
		}, nil
	}
	return nil, fmt.Errorf("unsupported mail transport %q", cfg.Transport)
}

// HTTPSender posts mail to the mail service's /send endpoint using basic auth.
type HTTPSender struct {
	Host     string
	Username string
	Password string
	Client   *http.Client
}

// Send posts data to the mail service.
func (s *HTTPSender) Send(ctx context.Context, data JobData) error {
	body, err := json.Marshal(map[string]interface{}{
		"html":    data.HTML,
		"subject": data.Subject,
		"to":      data.To,
		"cc":      data.Cc,
		"bcc":     data.Bcc,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.Host, "/")+"/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.Username, s.Password)
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("mail service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mail service responded with status %d", resp.StatusCode)
	}
	return nil
}

// SMTPSender sends mail directly over SMTP with PLAIN auth. Without credentials it only logs
// the mail.
type SMTPSender struct {
	Host      string
	Port      string
	Username  string
	Password  string
	FromEmail string
	FromName  string

	logger   *zap.SugaredLogger
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// Send delivers data to every To, Cc and Bcc recipient.
func (s *SMTPSender) Send(_ context.Context, data JobData) error {
	if s.Username == "" || s.Password == "" {
		if s.logger != nil {
			s.logger.Warnw("SMTP not configured, mail not sent", "to", data.To, "subject", data.Subject)
		}
		return nil
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", headerValue(s.FromName), headerValue(s.FromEmail))
	fmt.Fprintf(&msg, "To: %s\r\n", headerValue(strings.Join(data.To, ", ")))
	if len(data.Cc) > 0 {
		fmt.Fprintf(&msg, "Cc: %s\r\n", headerValue(strings.Join(data.Cc, ", ")))
	}
	fmt.Fprintf(&msg, "Subject: %s\r\n", headerValue(data.Subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString(data.HTML)

	rcpt := make([]string, 0, len(data.To)+len(data.Cc)+len(data.Bcc))
	rcpt = append(rcpt, data.To...)
	rcpt = append(rcpt, data.Cc...)
	rcpt = append(rcpt, data.Bcc...)

	send := s.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
	return send(s.Host+":"+s.Port, auth, s.FromEmail, rcpt, msg.Bytes())
}

var headerBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// headerValue folds line breaks so a value cannot start a new header.
func headerValue(v string) string {
	return headerBreaks.Replace(v)
}
