package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSecurityMode(t *testing.T) {
	assert.Equal(t, SecurityStartTLS, ParseSecurityMode("starttls"))
	assert.Equal(t, SecurityTLS, ParseSecurityMode("tls"))
	assert.Equal(t, SecurityNone, ParseSecurityMode("none"))
	assert.Equal(t, SecurityNone, ParseSecurityMode("ssl3"))
	assert.Equal(t, SecurityNone, ParseSecurityMode(""))
}

func TestPersonalizationRecord_Identifier(t *testing.T) {
	withFile := PersonalizationRecord{DeliverablePath: "/out/Invoice_1.pdf"}
	assert.Equal(t, "/out/Invoice_1.pdf", withFile.Identifier(0))

	withoutFile := PersonalizationRecord{}
	assert.Equal(t, "no-attachment-1", withoutFile.Identifier(0))
	assert.Equal(t, "no-attachment-4", withoutFile.Identifier(3))
}

func TestLogEntryConstructors(t *testing.T) {
	assert.Equal(t, LogEntry{Status: LogSuccess, Message: "sent to a@x.com"}, SuccessEntry("sent to %s", "a@x.com"))
	assert.Equal(t, LogEntry{Status: LogError, Message: "row 3 failed"}, ErrorEntry("row %d failed", 3))
	assert.Equal(t, LogEntry{Status: LogInfo, Message: "5 records"}, InfoEntry("%d records", 5))
}

func TestWorkflowState_DetailsConfirmed(t *testing.T) {
	s := WorkflowState{EmailColumn: "Email", Subject: "Hi", FromName: "Billing"}
	assert.False(t, s.DetailsConfirmed(), "attachments enabled but no template stored")

	s.TemplatePath = "/uploads/letter.docx"
	assert.True(t, s.DetailsConfirmed())

	s = WorkflowState{EmailColumn: "Email", Subject: "Hi", FromName: "Billing", NoAttachment: true}
	assert.True(t, s.DetailsConfirmed())

	s.Subject = ""
	assert.False(t, s.DetailsConfirmed())
}
