package mail

import (
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/agoraflux/chart-export/pkg/model"
)

// Mailer sends generated reports over SMTP.
type Mailer struct {
	config model.SMTPConfig
}

// NewMailer creates a mailer from SMTP settings.
func NewMailer(config model.SMTPConfig) *Mailer {
	return &Mailer{config: config}
}

func (m *Mailer) dialer() *gomail.Dialer {
	dialer := gomail.NewDialer(m.config.Host, m.config.Port, m.config.Username, m.config.Password)

	if m.config.UseTLS {
		dialer.TLSConfig = &tls.Config{
			InsecureSkipVerify: m.config.SkipTLSVerify,
			ServerName:         m.config.Host,
		}
	} else {
		dialer.TLSConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
		dialer.SSL = false
	}

	return dialer
}

// TestConnection dials the SMTP server and disconnects without sending anything.
func (m *Mailer) TestConnection() error {
	if m.config.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if m.config.Port == 0 {
		return fmt.Errorf("SMTP port is required")
	}

	closer, err := m.dialer().Dial()
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer closer.Close()

	return nil
}

// SendReport sends a report as an email attachment.
func (m *Mailer) SendReport(recipients model.Recipients, subject, body string, attachment []byte, filename string) error {
	if m.config.Host == "" {
		return fmt.Errorf("SMTP host is not configured")
	}
	if len(recipients.To) == 0 {
		return fmt.Errorf("no recipients")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.config.From)
	msg.SetHeader("To", recipients.To...)
	if len(recipients.CC) > 0 {
		msg.SetHeader("Cc", recipients.CC...)
	}
	if len(recipients.BCC) > 0 {
		msg.SetHeader("Bcc", recipients.BCC...)
	}
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body)

	if len(attachment) > 0 {
		msg.Attach(filename, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(attachment)
			return err
		}))
	}

	if err := m.dialer().DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	log.Printf("[MAIL] report sent to %d recipient(s): %s", len(recipients.To), filename)
	return nil
}

// InterpolateTemplate replaces {{variable}} placeholders in email subjects
// and bodies. Unknown placeholders are left untouched.
func InterpolateTemplate(template string, vars map[string]string) string {
	result := template
	for key, value := range vars {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}
