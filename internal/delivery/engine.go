// Package delivery sends a batch of personalized emails over one outbound
// SMTP session and aggregates a per-recipient log. Send failures for one
// recipient never abort the batch; only a failure to establish the session
// at all is fatal for the whole batch.
package delivery

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/mhollstein/briefwerk/internal/domain"
	"github.com/mhollstein/briefwerk/internal/placeholder"
)

// Engine sends personalization batches through a mail relay.
type Engine struct {
	logger *slog.Logger
	dial   DialFunc
}

// NewEngine creates an Engine using the SMTP dialer.
func NewEngine(logger *slog.Logger) *Engine {
	return NewEngineWithDialer(logger, DialSMTP)
}

// NewEngineWithDialer creates an Engine with a custom session dialer.
// Tests use this to substitute an in-memory session.
func NewEngineWithDialer(logger *slog.Logger, dial DialFunc) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger, dial: dial}
}

// SendBatch sends one message per record, in input order, over a single
// authenticated session. It returns one success or error entry per
// attempted recipient plus trailing batch-level entries, in processing
// order. After the loop a summary report is sent to the sending account
// over a second connection when at least one recipient succeeded.
func (e *Engine) SendBatch(ctx context.Context, creds *domain.CredentialSet, fromName string, records []domain.PersonalizationRecord) []domain.LogEntry {
	if creds == nil {
		return []domain.LogEntry{domain.ErrorEntry(
			"No mail settings found for your account. Please configure them under settings.")}
	}
	if len(records) == 0 {
		return []domain.LogEntry{domain.ErrorEntry("No emails selected for sending.")}
	}

	session, err := e.dial(ctx, creds)
	if err != nil {
		e.logger.Error("delivery: could not open mail session", "host", creds.Host, "error", err)
		return []domain.LogEntry{domain.ErrorEntry("Critical send failure (mail session): %v", err)}
	}
	defer session.Close()

	log := make([]domain.LogEntry, 0, len(records)+2)
	var sent []domain.PersonalizationRecord

	for _, rec := range records {
		if err := e.sendOne(session, creds, fromName, rec); err != nil {
			e.logger.Warn("delivery: send failed", "recipient", rec.RecipientEmail, "error", err)
			log = append(log, domain.ErrorEntry("Failed to send to %s: %v", rec.RecipientEmail, err))
			continue
		}
		log = append(log, domain.SuccessEntry("Email sent to %s.", rec.RecipientEmail))
		sent = append(sent, rec)
	}

	if len(sent) > 0 {
		if err := e.sendReport(ctx, creds, sent); err != nil {
			e.logger.Warn("delivery: report failed", "error", err)
			log = append(log, domain.ErrorEntry("Failed to send the delivery report to %s: %v", creds.Username, err))
		} else {
			log = append(log, domain.InfoEntry("A delivery report was sent to %s.", creds.Username))
		}
	}
	return log
}

// sendOne composes and sends the message for one record. A deliverable that
// was expected but is absent from disk is an error for this recipient only.
func (e *Engine) sendOne(session Session, creds *domain.CredentialSet, fromName string, rec domain.PersonalizationRecord) error {
	if rec.DeliverablePath != "" {
		if _, err := os.Stat(rec.DeliverablePath); err != nil {
			return fmt.Errorf("attachment not found: %s", filepath.Base(rec.DeliverablePath))
		}
	}

	htmlBody := placeholder.ExpandHTML(rec.BodyHTML, rec.Row)

	msg := mail.NewMsg()
	if err := msg.FromFormat(senderName(fromName, creds.Username), creds.Username); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(rec.RecipientEmail); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(rec.Subject)
	msg.SetBodyString(mail.TypeTextPlain, htmlToText(htmlBody))
	msg.AddAlternativeString(mail.TypeTextHTML, htmlBody)

	if rec.DeliverablePath != "" {
		msg.AttachFile(rec.DeliverablePath,
			mail.WithFileName(filepath.Base(rec.DeliverablePath)),
			mail.WithFileContentType(mail.ContentType("application/pdf")))
	}
	return session.Send(msg)
}

// sendReport mails a summary of the delivered batch back to the sending
// account, using a second connection so a dead batch session cannot block
// the report.
func (e *Engine) sendReport(ctx context.Context, creds *domain.CredentialSet, sent []domain.PersonalizationRecord) error {
	session, err := e.dial(ctx, creds)
	if err != nil {
		return err
	}
	defer session.Close()

	msg := mail.NewMsg()
	if err := msg.FromFormat("Mail Merge Assistant Report", creds.Username); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(creds.Username); err != nil {
		return fmt.Errorf("invalid report recipient: %w", err)
	}
	msg.Subject("Report: mail merge delivery")
	msg.SetBodyString(mail.TypeTextHTML, reportHTML(sent, time.Now()))

	return session.Send(msg)
}

// reportHTML renders the delivery report: one table row per recipient with
// the attached deliverable's name, or "no attachment".
func reportHTML(sent []domain.PersonalizationRecord, now time.Time) string {
	var b strings.Builder
	b.WriteString("<h1>Delivery confirmation</h1>")
	fmt.Fprintf(&b, "<p>The mail merge assistant sent emails on %s:</p>",
		now.Format("02.01.2006 at 15:04"))
	b.WriteString(`<table border="1" cellpadding="5" cellspacing="0" style="border-collapse: collapse; width: 100%;">`)
	b.WriteString(`<tr><th style="background-color:#eee;">Recipient</th><th style="background-color:#eee;">Email</th><th style="background-color:#eee;">Document</th></tr>`)
	for _, rec := range sent {
		document := "no attachment"
		if rec.DeliverablePath != "" {
			document = filepath.Base(rec.DeliverablePath)
		}
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td></tr>",
			html.EscapeString(rec.RecipientName),
			html.EscapeString(rec.RecipientEmail),
			html.EscapeString(document))
	}
	b.WriteString("</table>")
	return b.String()
}

// senderName picks the display name for the From header: the configured
// name, or the local part of the sending address.
func senderName(fromName, fromAddr string) string {
	if fromName != "" {
		return fromName
	}
	if at := strings.Index(fromAddr, "@"); at > 0 {
		return fromAddr[:at]
	}
	return fromAddr
}
