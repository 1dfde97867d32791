package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/mhollstein/briefwerk/internal/domain"
)

// Session is one authenticated outbound-mail session. A batch opens exactly
// one session and sends every message over it.
type Session interface {
	Send(msg *mail.Msg) error
	Close() error
}

// DialFunc opens an authenticated session for a credential set. The engine
// uses a go-mail backed dialer by default; tests substitute their own.
type DialFunc func(ctx context.Context, creds *domain.CredentialSet) (Session, error)

const (
	sessionTimeout = 30 * time.Second
	testTimeout    = 10 * time.Second
)

type goMailSession struct {
	client *mail.Client
}

func (s *goMailSession) Send(msg *mail.Msg) error { return s.client.Send(msg) }
func (s *goMailSession) Close() error             { return s.client.Close() }

// DialSMTP opens one SMTP session using the credential set's
// transport-security mode and authenticates once.
func DialSMTP(ctx context.Context, creds *domain.CredentialSet) (Session, error) {
	client, err := newClient(creds, sessionTimeout)
	if err != nil {
		return nil, err
	}
	if err := client.DialWithContext(ctx); err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	return &goMailSession{client: client}, nil
}

func newClient(creds *domain.CredentialSet, timeout time.Duration) (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(creds.Port),
		mail.WithTimeout(timeout),
	}

	switch creds.Security {
	case domain.SecurityTLS:
		// Implicit encryption from connection start (SMTPS).
		opts = append(opts, mail.WithSSL())
	case domain.SecurityStartTLS:
		// Explicit upgrade before authentication.
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if creds.Username != "" && creds.Password != "" {
		opts = append(opts,
			mail.WithUsername(creds.Username),
			mail.WithPassword(creds.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}

	client, err := mail.NewClient(creds.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return client, nil
}

// TestConnection verifies SMTP connectivity and authentication for a
// credential set. When testRecipient is non-empty, a short test message is
// sent to it; otherwise only the connection and authentication are checked.
func TestConnection(ctx context.Context, creds *domain.CredentialSet, testRecipient string) error {
	client, err := newClient(creds, testTimeout)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()
	if err := client.DialWithContext(dialCtx); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer client.Close()

	if testRecipient == "" {
		return nil
	}

	msg := mail.NewMsg()
	if err := msg.From(creds.Username); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(testRecipient); err != nil {
		return fmt.Errorf("invalid test recipient address: %w", err)
	}
	msg.Subject("SMTP test: mail merge assistant")
	msg.SetBodyString(mail.TypeTextPlain,
		"This is a test email from your mail merge assistant. Your SMTP settings work.")

	if err := client.Send(msg); err != nil {
		return fmt.Errorf("test email failed: %w", err)
	}
	return nil
}
