package services

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"hrms/config"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Mailer delivers plain text mail.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NewMailer returns an SMTP mailer when a host is configured and a
// log-only mailer otherwise.
func NewMailer(cfg config.SMTPConfig, log *zap.Logger) Mailer {
	if cfg.Host == "" {
		return &LogMailer{log: log}
	}
	return &SMTPMailer{cfg: cfg}
}

// LogMailer writes messages to the log instead of sending them. Used for
// local runs without an SMTP relay.
type LogMailer struct {
	log *zap.Logger
}

func (m *LogMailer) Send(_ context.Context, to, subject, body string) error {
	if m.log != nil {
		m.log.Info("mail not sent, no smtp host configured",
			zap.String("to", to),
			zap.String("subject", subject),
			zap.String("body", body))
	}
	return nil
}

type SMTPMailer struct {
	cfg config.SMTPConfig
}

func (m *SMTPMailer) Send(_ context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to}, []byte(msg.String())); err != nil {
		return errors.Wrapf(err, "send mail to %s", to)
	}
	return nil
}
