// Package mailer delivers OTP codes and password reset tokens.
// It supports a log-only mode for development and SMTP for production.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/rvidia/server/internal/config"
	"github.com/rvidia/server/internal/logger"
)

// Sender delivers account emails
type Sender interface {
	SendOTP(ctx context.Context, to, code string, expiresIn time.Duration) error
	SendPasswordReset(ctx context.Context, to, token string, expiresAt time.Time) error
}

// New picks the sender for cfg.Mode ("smtp" or anything else for log)
func New(cfg config.EmailConfig, log *slog.Logger) Sender {
	if strings.EqualFold(cfg.Mode, "smtp") {
		if cfg.Host == "" || cfg.From == "" {
			log.Warn("smtp mode without host or from, falling back to log sender")
			return &logSender{log: log}
		}
		log.Info("mailer enabled", "host", cfg.Host, "port", cfg.Port, "user", logger.MaskEmail(cfg.User))
		return &smtpSender{cfg: cfg, log: log}
	}
	return &logSender{log: log}
}

// logSender writes messages to the log (development mode)
type logSender struct {
	log *slog.Logger
}

func (s *logSender) SendOTP(_ context.Context, to, code string, expiresIn time.Duration) error {
	s.log.Info("[DEV] verification code", "to", to, "code", code, "expires_in", expiresIn.String())
	return nil
}

func (s *logSender) SendPasswordReset(_ context.Context, to, token string, expiresAt time.Time) error {
	s.log.Info("[DEV] password reset token", "to", to, "token", token, "expires_at", expiresAt.UTC().Format(time.RFC3339))
	return nil
}

// smtpSender sends mail with STARTTLS when the server offers it
type smtpSender struct {
	cfg config.EmailConfig
	log *slog.Logger
}

func (s *smtpSender) SendOTP(ctx context.Context, to, code string, expiresIn time.Duration) error {
	body := fmt.Sprintf("Your RVIDIA verification code is: %s\n\nThis code expires in %d minutes.\nIf you did not request it, ignore this message.",
		code, int(expiresIn.Minutes()))
	if err := s.send(ctx, to, "Your verification code", body); err != nil {
		return fmt.Errorf("failed to send otp email: %w", err)
	}
	s.log.Info("verification code sent", "to", logger.MaskEmail(to))
	return nil
}

func (s *smtpSender) SendPasswordReset(ctx context.Context, to, token string, expiresAt time.Time) error {
	body := fmt.Sprintf("You requested a password reset. Use the token below before %s UTC.\n\nToken: %s\n\nIf you did not request this, ignore the message.",
		expiresAt.UTC().Format(time.RFC3339), token)
	if err := s.send(ctx, to, "Reset your RVIDIA password", body); err != nil {
		return fmt.Errorf("failed to send reset email: %w", err)
	}
	s.log.Info("password reset email sent", "to", logger.MaskEmail(to))
	return nil
}

func (s *smtpSender) send(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return err
		}
	}
	if s.cfg.User != "" {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)); err != nil {
			return err
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(message(s.cfg.From, to, subject, body)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func message(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
