package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/mail"
	gosmtp "net/smtp"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/keyxmakerx/gatekeeper/internal/apperror"
	"github.com/keyxmakerx/gatekeeper/internal/config"
)

// ErrNotConfigured is returned by SendMail when no SMTP host is set.
var ErrNotConfigured = errors.New("smtp is not configured")

// MailService is the contract the auth plugin uses to deliver codes.
type MailService interface {
	SendMail(ctx context.Context, to []string, subject, body string) error
	IsConfigured() bool
}

// SMTPService extends MailService with admin diagnostics.
type SMTPService interface {
	MailService

	// Status returns the configuration with the password redacted.
	Status() Status

	// TestConnection dials, negotiates TLS and authenticates without sending.
	TestConnection(ctx context.Context) error
}

// smtpService implements SMTPService.
type smtpService struct {
	cfg     config.SMTPConfig
	limiter *rate.Limiter
	dialer  *net.Dialer
	now     func() time.Time
}

// NewSMTPService creates a mail sender. Outbound messages are throttled to
// cfg.PerSecond across the process so a burst of registrations cannot trip
// the relay's own limits.
func NewSMTPService(cfg config.SMTPConfig) SMTPService {
	limit := rate.Inf
	if cfg.PerSecond > 0 {
		limit = rate.Limit(cfg.PerSecond)
	}
	return &smtpService{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		dialer:  &net.Dialer{},
		now:     time.Now,
	}
}

// IsConfigured reports whether a relay host is set.
func (s *smtpService) IsConfigured() bool {
	return s.cfg.Host != ""
}

// Status implements SMTPService.
func (s *smtpService) Status() Status {
	return Status{
		Configured:  s.IsConfigured(),
		Host:        s.cfg.Host,
		Port:        s.cfg.Port,
		Encryption:  s.cfg.Encryption,
		FromAddress: s.cfg.FromAddress,
		HasPassword: s.cfg.Password != "",
		PerSecond:   s.cfg.PerSecond,
	}
}

// SendMail delivers one plain-text message. The whole conversation,
// including waiting for the throttle, is bounded by the configured timeout.
func (s *smtpService) SendMail(ctx context.Context, to []string, subject, body string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return errors.New("no recipients")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for send slot: %w", err)
	}

	from := mail.Address{Name: s.cfg.FromName, Address: s.cfg.FromAddress}
	msg := buildMessage(from, Mail{To: to, Subject: subject, Body: body}, s.now())

	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := sendMessage(client, from.Address, to, msg); err != nil {
		return err
	}

	slog.Debug("mail sent", slog.Int("recipients", len(to)), slog.String("subject", subject))
	return nil
}

// TestConnection implements SMTPService.
func (s *smtpService) TestConnection(ctx context.Context) error {
	if !s.IsConfigured() {
		return apperror.NewBadRequest("SMTP host is not configured")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	client, err := s.connect(ctx)
	if err != nil {
		return apperror.NewBadRequest(fmt.Sprintf("SMTP connection failed: %v", err))
	}
	defer client.Close()

	if err := client.Quit(); err != nil {
		return apperror.NewBadRequest(fmt.Sprintf("SMTP QUIT failed: %v", err))
	}
	return nil
}

func (s *smtpService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// connect dials the relay according to the encryption mode and
// authenticates when a username is set. The connection deadline follows ctx.
func (s *smtpService) connect(ctx context.Context) (*gosmtp.Client, error) {
	host := s.cfg.Host
	addr := net.JoinHostPort(host, strconv.Itoa(s.cfg.Port))
	tlsConfig := &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if s.cfg.Encryption == EncryptionSSL {
		conn, err = (&tls.Dialer{NetDialer: s.dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = s.dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := gosmtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating smtp client: %w", err)
	}

	if s.cfg.Encryption == EncryptionStartTLS {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("starting TLS: %w", err)
		}
	}

	if s.cfg.Username != "" {
		auth := gosmtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("authenticating: %w", err)
		}
	}

	return client, nil
}

// sendMessage handles MAIL FROM, RCPT TO, DATA for an open client.
func sendMessage(client *gosmtp.Client, from string, to []string, msg string) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", recipient, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}
