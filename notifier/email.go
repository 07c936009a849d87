package notifier

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
)

var ErrNoRecipient = errors.New("not sending email, no recipient defined")

// EmailSink sends one alert email. Implementations make exactly one attempt.
type EmailSink interface {
	Send(ctx context.Context, subject, body string) error
}

// EmailConfig of the email provider's SMTP relay. With SendGrid the username
// is "apikey" and the API key is the password.
type EmailConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	APIKey    string `mapstructure:"api_key"`
	Sender    string `mapstructure:"sender"`
	Recipient string `mapstructure:"recipient"`
	// Whether to skip TLS verify.
	NoVerify bool `mapstructure:"no_verify"`
}

func (c EmailConfig) Validate() error {
	if c.Host == "" {
		return errors.New("email host cannot be empty")
	}
	if c.Port <= 0 {
		return fmt.Errorf("invalid email port %d", c.Port)
	}
	if c.APIKey == "" {
		return errors.New("email api key cannot be empty")
	}
	if !strings.ContainsRune(c.Sender, '@') {
		return fmt.Errorf("invalid sender email address: %q", c.Sender)
	}
	if !strings.ContainsRune(c.Recipient, '@') {
		return fmt.Errorf("invalid recipient email address: %q", c.Recipient)
	}
	return nil
}

// SMTPSender dials the relay for every message.
type SMTPSender struct {
	config EmailConfig
	dialer *gomail.Dialer
}

func NewSMTPSender(c EmailConfig) *SMTPSender {
	d := gomail.NewDialer(c.Host, c.Port, c.Username, c.APIKey)
	if c.NoVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &SMTPSender{config: c, dialer: d}
}

func (s *SMTPSender) Send(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.config.Recipient == "" {
		return ErrNoRecipient
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.Sender)
	m.SetHeader("To", s.config.Recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email via %s:%d: %w", s.config.Host, s.config.Port, err)
	}
	return nil
}
