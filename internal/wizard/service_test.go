package wizard

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/mhollstein/briefwerk/internal/domain"
)

const testAccount = "00000000-0000-0000-0000-000000000001"

type fakePipeline struct {
	dir     string
	failFor map[string]bool // recipient address column values that fail
	calls   []string
}

func (p *fakePipeline) Produce(_ context.Context, _ string, row domain.DataRow, outputName string) (string, error) {
	p.calls = append(p.calls, outputName)
	if p.failFor[row.Value("Email")] {
		return "", domain.Errorf(domain.EINTERNAL, "convert.pdf", "conversion failed")
	}
	path := filepath.Join(p.dir, outputName)
	if err := os.WriteFile(path, []byte("pdf"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type fakeSender struct {
	creds   *domain.CredentialSet
	batch   []domain.PersonalizationRecord
	entries []domain.LogEntry
}

func (s *fakeSender) SendBatch(_ context.Context, creds *domain.CredentialSet, _ string, records []domain.PersonalizationRecord) []domain.LogEntry {
	s.creds = creds
	s.batch = records
	if s.entries != nil {
		return s.entries
	}
	out := make([]domain.LogEntry, len(records))
	for i, rec := range records {
		out[i] = domain.SuccessEntry("sent to %s", rec.RecipientEmail)
	}
	return out
}

type fakeSettings struct {
	creds    *domain.CredentialSet
	recorded []domain.LogEntry
}

func (s *fakeSettings) GetSMTP(_ context.Context, _ uuid.UUID) (*domain.CredentialSet, error) {
	if s.creds == nil {
		return nil, domain.NotFound("postgres.GetSMTP", "mail settings", testAccount)
	}
	return s.creds, nil
}

func (s *fakeSettings) RecordDeliveryLog(_ context.Context, _ uuid.UUID, entries []domain.LogEntry) error {
	s.recorded = append(s.recorded, entries...)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakePipeline, *fakeSender, *fakeSettings) {
	t.Helper()

	dir := t.TempDir()
	pipeline := &fakePipeline{dir: dir, failFor: map[string]bool{}}
	sender := &fakeSender{}
	settings := &fakeSettings{creds: &domain.CredentialSet{Host: "mail.example.com", Username: "u@example.com", Port: 587, Security: domain.SecurityStartTLS}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewService(logger, testAccount, filepath.Join(dir, "uploads"), filepath.Join(dir, "output"), pipeline, sender, settings)
	require.NoError(t, err)
	return svc, pipeline, sender, settings
}

func sheetBytes(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()

	f := excelize.NewFile()
	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())
	return buf.Bytes()
}

func uploadFixture(t *testing.T, svc *Service, state *domain.WorkflowState) {
	t.Helper()

	data := sheetBytes(t, [][]interface{}{
		{"Name", "Email", "Status", "InvoiceID"},
		{"Ann", "ann@example.com", "open", "R-100"},
		{"Ben", "ben@example.com", "paid", "R-101"},
		{"Cleo", "", "open", "R-102"},
	})
	require.NoError(t, svc.Upload(state, "customers.xlsx", bytes.NewReader(data)))
}

func TestUpload(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	state := &domain.WorkflowState{}

	uploadFixture(t, svc, state)

	assert.Equal(t, "customers.xlsx", state.SpreadsheetName)
	assert.Equal(t, []string{"Name", "Email", "Status", "InvoiceID"}, state.Header)
	assert.FileExists(t, state.SpreadsheetPath)
}

func TestUpload_RejectsUnsupportedExtension(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	state := &domain.WorkflowState{}

	err := svc.Upload(state, "customers.csv", strings.NewReader("Name,Email"))
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestUpload_ReplacesPriorWorkflow(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	state := &domain.WorkflowState{}

	uploadFixture(t, svc, state)
	first := state.SpreadsheetPath

	uploadFixture(t, svc, state)
	assert.NoFileExists(t, first)
	assert.NotEqual(t, first, state.SpreadsheetPath)
	assert.Equal(t, domain.StepUploadPending, state.Step)
}

func TestApplyFilter_EmptySelectsAll(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	state := &domain.WorkflowState{}
	uploadFixture(t, svc, state)

	require.NoError(t, svc.ApplyFilter(state, "", ""))
	assert.Len(t, state.Rows, 3)
	assert.Equal(t, domain.StepFiltered, state.Step)
}

func TestApplyFilter_MatchesColumnValue(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	state := &domain.WorkflowState{}
	uploadFixture(t, svc, state)

	require.NoError(t, svc.ApplyFilter(state, "Status", "Open "))
	require.Len(t, state.Rows, 2)
	assert.Equal(t, "Ann", state.Rows[0].Value("Name"))
	assert.Equal(t, "Cleo", state.Rows[1].Value("Name"))
}

func TestApplyFilter_WithoutUpload(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	state := &domain.WorkflowState{}

	err := svc.ApplyFilter(state, "", "")
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func confirmFixtureDetails(t *testing.T, svc *Service, state *domain.WorkflowState, noAttachment bool) {
	t.Helper()

	d := Details{
		EmailColumn:     "Email",
		Subject:         "Invoice ${InvoiceID}",
		FromName:        "Billing",
		BodyHTML:        "<p>Dear ${Name},</p>",
		FilenamePattern: "Invoice_${InvoiceID}.pdf",
		NoAttachment:    noAttachment,
	}
	if !noAttachment {
		d.TemplateName = "letter.docx"
		d.Template = strings.NewReader("not a real docx, never parsed by the fake pipeline")
	}
	require.NoError(t, svc.ConfirmDetails(state, d))
}

func TestConfirmDetails_RequiredFields(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	state := &domain.WorkflowState{}
	uploadFixture(t, svc, state)
	require.NoError(t, svc.ApplyFilter(state, "", ""))

	err := svc.ConfirmDetails(state, Details{EmailColumn: "Email", Subject: "Hi"})
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))

	err = svc.ConfirmDetails(state, Details{EmailColumn: "Phone", Subject: "Hi", FromName: "X", NoAttachment: true})
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestConfirmDetails_TemplateRequiredForAttachments(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	state := &domain.WorkflowState{}
	uploadFixture(t, svc, state)
	require.NoError(t, svc.ApplyFilter(state, "", ""))

	err := svc.ConfirmDetails(state, Details{EmailColumn: "Email", Subject: "Hi", FromName: "X"})
	require.Error(t, err)
	assert.Contains(t, domain.ErrorMessage(err), "template")

	err = svc.ConfirmDetails(state, Details{
		EmailColumn: "Email", Subject: "Hi", FromName: "X",
		TemplateName: "letter.doc", Template: strings.NewReader("x"),
	})
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestConfirmDetails_SuggestsPatternWhenEmpty(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	state := &domain.WorkflowState{}
	uploadFixture(t, svc, state)
	require.NoError(t, svc.ApplyFilter(state, "", ""))

	require.NoError(t, svc.ConfirmDetails(state, Details{
		EmailColumn: "Email", Subject: "Hi", FromName: "X",
		TemplateName: "letter.docx", Template: strings.NewReader("x"),
	}))
	assert.NotEmpty(t, state.FilenamePattern)
	assert.Equal(t, domain.StepTemplateConfirmed, state.Step)
}

func TestGenerateForReview(t *testing.T) {
	svc, pipeline, _, _ := newTestService(t)
	state := &domain.WorkflowState{}
	uploadFixture(t, svc, state)
	require.NoError(t, svc.ApplyFilter(state, "", ""))
	confirmFixtureDetails(t, svc, state, false)

	require.NoError(t, svc.GenerateForReview(context.Background(), state))

	// Cleo has no address and is skipped.
	require.Len(t, state.Review, 2)
	assert.Equal(t, "ann@example.com", state.Review[0].RecipientEmail)
	assert.Equal(t, "Invoice R-100", state.Review[0].Subject)
	assert.Equal(t, "<p>Dear ${Name},</p>", state.Review[0].BodyHTML)
	assert.FileExists(t, state.Review[0].DeliverablePath)
	assert.Equal(t, []string{"Invoice_R-100.pdf", "Invoice_R-101.pdf"}, pipeline.calls)
	assert.Equal(t, domain.StepReviewReady, state.Step)

	var errors int
	for _, entry := range state.Log {
		if entry.Status == domain.LogError {
			errors++
		}
	}
	assert.Equal(t, 1, errors)
}

func TestGenerateForReview_ContinuesAfterRowFailure(t *testing.T) {
	svc, pipeline, _, _ := newTestService(t)
	pipeline.failFor["ann@example.com"] = true
	state := &domain.WorkflowState{}
	uploadFixture(t, svc, state)
	require.NoError(t, svc.ApplyFilter(state, "", ""))
	confirmFixtureDetails(t, svc, state, false)

	require.NoError(t, svc.GenerateForReview(context.Background(), state))
	require.Len(t, state.Review, 1)
	assert.Equal(t, "ben@example.com", state.Review[0].RecipientEmail)
}

func TestGenerateForReview_NoAttachmentMode(t *testing.T) {
	svc, pipeline, _, _ := newTestService(t)
	state := &domain.WorkflowState{}
	uploadFixture(t, svc, state)
	require.NoError(t, svc.ApplyFilter(state, "", ""))
	confirmFixtureDetails(t, svc, state, true)

	require.NoError(t, svc.GenerateForReview(context.Background(), state))
	require.Len(t, state.Review, 2)
	assert.Empty(t, pipeline.calls)
	assert.Empty(t, state.Review[0].DeliverablePath)
	assert.Equal(t, "no-attachment-1", state.Review[0].Identifier(0))
}

func TestSendSelected(t *testing.T) {
	svc, _, sender, settings := newTestService(t)
	state := &domain.WorkflowState{}
	uploadFixture(t, svc, state)
	require.NoError(t, svc.ApplyFilter(state, "", ""))
	confirmFixtureDetails(t, svc, state, false)
	require.NoError(t, svc.GenerateForReview(context.Background(), state))

	selected := []string{state.Review[1].Identifier(1)}
	require.NoError(t, svc.SendSelected(context.Background(), state, selected))

	require.Len(t, sender.batch, 1)
	assert.Equal(t, "ben@example.com", sender.batch[0].RecipientEmail)
	assert.Equal(t, settings.creds, sender.creds)
	assert.Len(t, settings.recorded, 1)
	assert.Equal(t, domain.StepSent, state.Step)
}

func TestSendSelected_MissingCredentialsReachSender(t *testing.T) {
	svc, _, sender, settings := newTestService(t)
	settings.creds = nil
	state := &domain.WorkflowState{}
	uploadFixture(t, svc, state)
	require.NoError(t, svc.ApplyFilter(state, "", ""))
	confirmFixtureDetails(t, svc, state, true)
	require.NoError(t, svc.GenerateForReview(context.Background(), state))

	// The engine turns nil credentials into a single batch-level error entry.
	require.NoError(t, svc.SendSelected(context.Background(), state, []string{"no-attachment-1"}))
	assert.Nil(t, sender.creds)
	require.Len(t, sender.batch, 1)
}

func TestSendSelected_NoSelection(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	state := &domain.WorkflowState{}
	uploadFixture(t, svc, state)
	require.NoError(t, svc.ApplyFilter(state, "", ""))
	confirmFixtureDetails(t, svc, state, true)
	require.NoError(t, svc.GenerateForReview(context.Background(), state))

	err := svc.SendSelected(context.Background(), state, nil)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestDownloadZip(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	state := &domain.WorkflowState{}
	uploadFixture(t, svc, state)
	require.NoError(t, svc.ApplyFilter(state, "", ""))
	confirmFixtureDetails(t, svc, state, false)
	require.NoError(t, svc.GenerateForReview(context.Background(), state))

	paths := []string{state.Review[0].DeliverablePath, state.Review[1].DeliverablePath}

	archive, err := svc.DownloadZip(state)
	require.NoError(t, err)
	assert.FileExists(t, archive)
	assert.True(t, strings.HasPrefix(filepath.Base(archive), "mailmerge_"))
	for _, p := range paths {
		assert.NoFileExists(t, p)
	}

	// Packaged files are gone, so a second download has nothing to offer.
	_, err = svc.DownloadZip(state)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestReset(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	state := &domain.WorkflowState{}
	uploadFixture(t, svc, state)
	require.NoError(t, svc.ApplyFilter(state, "", ""))
	confirmFixtureDetails(t, svc, state, false)
	require.NoError(t, svc.GenerateForReview(context.Background(), state))

	spreadsheet := state.SpreadsheetPath
	template := state.TemplatePath
	deliverable := state.Review[0].DeliverablePath

	svc.Reset(state)

	assert.NoFileExists(t, spreadsheet)
	assert.NoFileExists(t, template)
	assert.NoFileExists(t, deliverable)
	assert.Equal(t, domain.WorkflowState{}, *state)
}

func TestOutputName(t *testing.T) {
	row := domain.NewDataRow([]string{"InvoiceID", "Name"}, []string{"R-100", "Ann Weber"})

	tests := []struct {
		name    string
		pattern string
		want    string
	}{
		{"plain", "Invoice_${InvoiceID}.pdf", "Invoice_R-100.pdf"},
		{"unsafe characters stripped", "Invoice ${Name}/${InvoiceID}.pdf", "InvoiceAnnWeberR-100.pdf"},
		{"missing extension appended", "Invoice_${InvoiceID}", "Invoice_R-100.pdf"},
		{"empty after sanitizing", "${Missing}", "document_3.pdf"},
		{"extension only", "${Missing}.pdf", "document_3.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputName(tt.pattern, row, 2))
		})
	}
}

func TestSuggestFilenamePattern(t *testing.T) {
	assert.Equal(t, "Invoice_${InvoiceID}_${Name}.pdf",
		SuggestFilenamePattern([]string{"Name", "Email", "InvoiceID"}))
	assert.Equal(t, "Document_${Name}.pdf",
		SuggestFilenamePattern([]string{"Name", "Email"}))
	assert.Equal(t, "Document_${Street}.pdf",
		SuggestFilenamePattern([]string{"Street", "City"}))
	assert.Equal(t, "Document.pdf", SuggestFilenamePattern(nil))
}
