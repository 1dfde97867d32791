package domain

import "fmt"

// SecurityMode selects the transport security used for the outbound
// mail session.
type SecurityMode string

const (
	// SecurityNone connects without transport encryption.
	SecurityNone SecurityMode = "none"
	// SecurityStartTLS upgrades the connection before authentication.
	SecurityStartTLS SecurityMode = "starttls"
	// SecurityTLS uses implicit encryption from connection start.
	SecurityTLS SecurityMode = "tls"
)

// ParseSecurityMode maps a stored mode string onto a SecurityMode,
// defaulting to SecurityNone for unknown values.
func ParseSecurityMode(s string) SecurityMode {
	switch SecurityMode(s) {
	case SecurityStartTLS, SecurityTLS:
		return SecurityMode(s)
	default:
		return SecurityNone
	}
}

// CredentialSet holds the mail-relay connection parameters for one account.
// Stored encrypted at rest; decrypted only transiently for one connection
// attempt.
type CredentialSet struct {
	Host     string
	Username string
	Password string
	Port     int
	Security SecurityMode
}

// PersonalizationRecord is the per-recipient bundle produced by the merge
// stage and consumed by the delivery stage. DeliverablePath, when set, must
// refer to a file that exists on disk for as long as the record is
// referenced.
type PersonalizationRecord struct {
	RecipientEmail  string
	RecipientName   string
	Subject         string
	BodyHTML        string // body template; placeholders expanded at send time
	DeliverablePath string // optional generated file to attach
	Row             DataRow
}

// Identifier returns a stable identifier for selecting a record in the
// review step: the deliverable path when one exists, a positional token
// otherwise. index is zero-based.
func (r PersonalizationRecord) Identifier(index int) string {
	if r.DeliverablePath != "" {
		return r.DeliverablePath
	}
	return fmt.Sprintf("no-attachment-%d", index+1)
}

// LogStatus classifies one delivery log entry.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogError   LogStatus = "error"
	LogInfo    LogStatus = "info"
)

// LogEntry is one human-readable line of the batch result, tied to a
// specific recipient or to the whole batch.
type LogEntry struct {
	Status  LogStatus
	Message string
}

// SuccessEntry builds a success entry.
func SuccessEntry(format string, args ...interface{}) LogEntry {
	return LogEntry{Status: LogSuccess, Message: fmt.Sprintf(format, args...)}
}

// ErrorEntry builds an error entry.
func ErrorEntry(format string, args ...interface{}) LogEntry {
	return LogEntry{Status: LogError, Message: fmt.Sprintf(format, args...)}
}

// InfoEntry builds an info entry.
func InfoEntry(format string, args ...interface{}) LogEntry {
	return LogEntry{Status: LogInfo, Message: fmt.Sprintf(format, args...)}
}
