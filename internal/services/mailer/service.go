// Package mailer sends notification email over SMTP: expiry notices to
// site contacts and operational alerts to the admin address.
package mailer

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/smtp"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
)

// Service sends plain text email using the configured SMTP account. The
// admin address is copied on every outbound message.
type Service struct {
	config common.SMTPConfig
	logger arbor.ILogger
}

func NewService(config common.SMTPConfig, logger arbor.ILogger) *Service {
	return &Service{
		config: config,
		logger: logger,
	}
}

var _ interfaces.MailerService = (*Service)(nil)

// IsConfigured reports whether enough SMTP settings are present to send.
// Callers are expected to check this before composing a message.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.From != "" && s.config.To != ""
}

// SendEmail sends a plain text message. An empty to address routes the
// message to the admin; otherwise the admin is added as a CC recipient.
func (s *Service) SendEmail(replyTo, to, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("smtp is not configured")
	}

	cc := ""
	if to == "" {
		to = s.config.To
	} else if to != s.config.To {
		cc = s.config.To
	}

	msg, err := s.buildMessage(replyTo, to, cc, subject, body)
	if err != nil {
		return err
	}

	recipients := []string{to}
	if cc != "" {
		recipients = append(recipients, cc)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	if s.config.UseTLS {
		err = s.sendWithTLS(addr, auth, recipients, msg)
	} else {
		err = smtp.SendMail(addr, auth, s.config.From, recipients, msg)
	}
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("to", to).
		Str("cc", cc).
		Str("subject", subject).
		Msg("Email sent")

	return nil
}

// buildMessage assembles a single part text/plain MIME message.
func (s *Service) buildMessage(replyTo, to, cc, subject, body string) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Name: s.config.FromName, Address: s.config.From}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	if cc != "" {
		h.SetAddressList("Cc", []*mail.Address{{Address: cc}})
	}
	if replyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: replyTo}})
	}
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("failed to write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize message: %w", err)
	}
	return buf.Bytes(), nil
}

// sendWithTLS sends over an implicit TLS connection, falling back to a
// STARTTLS upgrade when the server does not speak TLS on the wire.
func (s *Service) sendWithTLS(addr string, auth smtp.Auth, recipients []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.config.Host})
	if err != nil {
		return s.sendWithSTARTTLS(addr, auth, recipients, msg)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	return s.transmit(client, auth, recipients, msg)
}

// sendWithSTARTTLS connects in the clear and upgrades with STARTTLS.
func (s *Service) sendWithSTARTTLS(addr string, auth smtp.Auth, recipients []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: s.config.Host}); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}

	return s.transmit(client, auth, recipients, msg)
}

func (s *Service) transmit(client *smtp.Client, auth smtp.Auth, recipients []string, msg []byte) error {
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(s.config.From); err != nil {
		return fmt.Errorf("failed to set mail from: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set mail recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}
