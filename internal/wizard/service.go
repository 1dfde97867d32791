// Package wizard orchestrates the mail-merge workflow: spreadsheet upload,
// row filtering, template and content details, document generation and the
// final batch send. Inner components return errors; the generation and send
// loops here convert per-row failures into process log entries and keep
// going.
package wizard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mhollstein/briefwerk/internal/bundle"
	"github.com/mhollstein/briefwerk/internal/convert"
	"github.com/mhollstein/briefwerk/internal/docmerge"
	"github.com/mhollstein/briefwerk/internal/domain"
	"github.com/mhollstein/briefwerk/internal/placeholder"
	"github.com/mhollstein/briefwerk/internal/tabular"
)

// SettingsStore loads mail credentials and persists delivery logs.
type SettingsStore interface {
	GetSMTP(ctx context.Context, accountID uuid.UUID) (*domain.CredentialSet, error)
	RecordDeliveryLog(ctx context.Context, accountID uuid.UUID, entries []domain.LogEntry) error
}

// BatchSender delivers a prepared batch and reports per-recipient outcomes.
type BatchSender interface {
	SendBatch(ctx context.Context, creds *domain.CredentialSet, fromName string, records []domain.PersonalizationRecord) []domain.LogEntry
}

// DocumentPipeline merges a template for one row and converts the result.
// Satisfied by docmerge.Merger + convert.Converter; split out so the
// generation loop can be tested without LibreOffice.
type DocumentPipeline interface {
	Produce(ctx context.Context, templatePath string, row domain.DataRow, outputName string) (string, error)
}

type mergePipeline struct {
	merger    *docmerge.Merger
	converter *convert.Converter
}

func (p mergePipeline) Produce(ctx context.Context, templatePath string, row domain.DataRow, outputName string) (string, error) {
	merged, err := p.merger.Merge(templatePath, row)
	if err != nil {
		return "", err
	}
	return p.converter.Convert(ctx, merged, outputName)
}

// NewPipeline combines the document merger and converter into the pipeline
// used by GenerateForReview.
func NewPipeline(merger *docmerge.Merger, converter *convert.Converter) DocumentPipeline {
	return mergePipeline{merger: merger, converter: converter}
}

// Service drives one wizard workflow per session. All methods mutate the
// passed-in state; the caller owns locking around it.
type Service struct {
	logger    *slog.Logger
	account   uuid.UUID
	uploadDir string
	outputDir string
	pipeline  DocumentPipeline
	sender    BatchSender
	settings  SettingsStore
	now       func() time.Time
}

// NewService creates the wizard service. uploadDir and outputDir are created
// when missing.
func NewService(logger *slog.Logger, accountID, uploadDir, outputDir string, pipeline DocumentPipeline, sender BatchSender, settings SettingsStore) (*Service, error) {
	const op = "wizard.NewService"

	account, err := uuid.Parse(accountID)
	if err != nil {
		return nil, &domain.Error{Code: domain.EINVALID, Op: op, Message: "invalid account ID", Err: err}
	}
	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &domain.Error{Code: domain.EINTERNAL, Op: op, Err: err}
		}
	}

	return &Service{
		logger:    logger,
		account:   account,
		uploadDir: uploadDir,
		outputDir: outputDir,
		pipeline:  pipeline,
		sender:    sender,
		settings:  settings,
		now:       time.Now,
	}, nil
}

// Upload stores a new spreadsheet and starts a fresh workflow, discarding any
// prior one together with its files.
func (s *Service) Upload(state *domain.WorkflowState, filename string, r io.Reader) error {
	const op = "wizard.Upload"

	ext := strings.ToLower(filepath.Ext(filename))
	if !tabular.AcceptedExtension(filename) {
		return &domain.Error{Code: domain.EINVALID, Op: op, Message: fmt.Sprintf("unsupported file type %q, expected .xlsx or .xlsm", ext)}
	}

	dest := filepath.Join(s.uploadDir, fmt.Sprintf("%s_%s%s", s.account, uuid.New(), ext))
	if err := writeFile(dest, r); err != nil {
		return &domain.Error{Code: domain.EINTERNAL, Op: op, Err: err}
	}

	header, err := tabular.ReadHeader(dest)
	if err != nil {
		os.Remove(dest)
		return err
	}

	s.Reset(state)
	state.SpreadsheetPath = dest
	state.SpreadsheetName = filepath.Base(filename)
	state.Header = header
	state.Log = append(state.Log, domain.InfoEntry("File %q loaded, %d columns found", state.SpreadsheetName, len(header)))

	s.logger.Info("spreadsheet uploaded",
		slog.String("file", state.SpreadsheetName),
		slog.Int("columns", len(header)))
	return nil
}

// ApplyFilter selects the working rows. An empty column or value selects
// every non-empty row.
func (s *Service) ApplyFilter(state *domain.WorkflowState, column, value string) error {
	const op = "wizard.ApplyFilter"

	if state.SpreadsheetPath == "" {
		return &domain.Error{Code: domain.EINVALID, Op: op, Message: "no spreadsheet uploaded yet"}
	}

	column = strings.TrimSpace(column)
	value = strings.TrimSpace(value)

	var (
		rows []domain.DataRow
		err  error
	)
	if column == "" || value == "" {
		rows, err = tabular.ReadAllRows(state.SpreadsheetPath)
	} else {
		rows, err = tabular.FilterRows(state.SpreadsheetPath, column, value)
	}
	if err != nil {
		return err
	}

	s.removeDeliverables(state)
	state.Review = nil
	state.FilterColumn = column
	state.FilterValue = value
	state.Rows = rows
	state.Step = domain.StepFiltered

	if column == "" || value == "" {
		state.Log = append(state.Log, domain.InfoEntry("%d records loaded", len(rows)))
	} else {
		state.Log = append(state.Log, domain.InfoEntry("%d records matched %s = %q", len(rows), column, value))
	}
	return nil
}

// Details carries the content form of the wizard's third step. Template is
// nil when the user did not upload a new template file.
type Details struct {
	EmailColumn     string
	Subject         string
	FromName        string
	BodyHTML        string
	FilenamePattern string
	NoAttachment    bool
	TemplateName    string
	Template        io.Reader
}

// ConfirmDetails validates and stores the content details, including an
// optional template upload.
func (s *Service) ConfirmDetails(state *domain.WorkflowState, d Details) error {
	const op = "wizard.ConfirmDetails"

	if state.Step < domain.StepFiltered {
		return &domain.Error{Code: domain.EINVALID, Op: op, Message: "select records before entering details"}
	}
	if d.EmailColumn == "" || d.Subject == "" || d.FromName == "" {
		return &domain.Error{Code: domain.EINVALID, Op: op, Message: "address column, subject and sender name are required"}
	}
	if !columnExists(state.Header, d.EmailColumn) {
		return &domain.Error{Code: domain.EINVALID, Op: op, Message: fmt.Sprintf("column %q not found in spreadsheet", d.EmailColumn)}
	}

	if d.Template != nil {
		if strings.ToLower(filepath.Ext(d.TemplateName)) != ".docx" {
			return &domain.Error{Code: domain.EINVALID, Op: op, Message: "template must be a .docx file"}
		}
		name := sanitizeFilename(filepath.Base(d.TemplateName))
		if name == "" {
			name = "template.docx"
		}
		dest := filepath.Join(s.uploadDir, fmt.Sprintf("%s_%s", uuid.New(), name))
		if err := writeFile(dest, d.Template); err != nil {
			return &domain.Error{Code: domain.EINTERNAL, Op: op, Err: err}
		}
		if state.TemplatePath != "" {
			os.Remove(state.TemplatePath)
		}
		state.TemplatePath = dest
	}
	if !d.NoAttachment && state.TemplatePath == "" {
		return &domain.Error{Code: domain.EINVALID, Op: op, Message: "a document template is required unless attachments are disabled"}
	}

	state.EmailColumn = d.EmailColumn
	state.Subject = d.Subject
	state.FromName = d.FromName
	state.BodyHTML = d.BodyHTML
	state.NoAttachment = d.NoAttachment
	state.FilenamePattern = d.FilenamePattern
	if state.FilenamePattern == "" && !d.NoAttachment {
		state.FilenamePattern = SuggestFilenamePattern(state.Header)
	}
	state.Step = domain.StepTemplateConfirmed
	return nil
}

// GenerateForReview produces one personalization record per row. Rows
// without an address and rows whose document fails to merge or convert are
// logged and skipped; the loop always runs to the end.
func (s *Service) GenerateForReview(ctx context.Context, state *domain.WorkflowState) error {
	const op = "wizard.GenerateForReview"

	if !state.DetailsConfirmed() {
		return &domain.Error{Code: domain.EINVALID, Op: op, Message: "confirm the content details before generating documents"}
	}
	if len(state.Rows) == 0 {
		return &domain.Error{Code: domain.EINVALID, Op: op, Message: "no records selected"}
	}

	s.removeDeliverables(state)

	var (
		records []domain.PersonalizationRecord
		failed  int
	)
	for i, row := range state.Rows {
		email := strings.TrimSpace(row.Value(state.EmailColumn))
		if email == "" {
			failed++
			state.Log = append(state.Log, domain.ErrorEntry("Row %d: no address in column %q", i+1, state.EmailColumn))
			continue
		}

		rec := domain.PersonalizationRecord{
			RecipientEmail: email,
			RecipientName:  recipientName(row, email),
			Subject:        placeholder.Expand(state.Subject, row),
			BodyHTML:       state.BodyHTML,
			Row:            row,
		}

		if !state.NoAttachment {
			outputName := OutputName(state.FilenamePattern, row, i)
			path, err := s.pipeline.Produce(ctx, state.TemplatePath, row, outputName)
			if err != nil {
				failed++
				state.Log = append(state.Log, domain.ErrorEntry("Row %d (%s): %v", i+1, email, err))
				continue
			}
			rec.DeliverablePath = path
		}
		records = append(records, rec)
	}

	state.Review = records
	state.Log = append(state.Log, domain.InfoEntry("%d of %d documents prepared, %d skipped", len(records), len(state.Rows), failed))

	if len(records) == 0 {
		return &domain.Error{Code: domain.EINVALID, Op: op, Message: "no documents could be prepared, see the process log"}
	}
	state.Step = domain.StepReviewReady
	return nil
}

// SendSelected delivers the review records whose identifiers were selected
// and persists the resulting log.
func (s *Service) SendSelected(ctx context.Context, state *domain.WorkflowState, selected []string) error {
	const op = "wizard.SendSelected"

	if state.Step < domain.StepReviewReady {
		return &domain.Error{Code: domain.EINVALID, Op: op, Message: "generate the documents before sending"}
	}

	chosen := make(map[string]bool, len(selected))
	for _, id := range selected {
		chosen[id] = true
	}
	var batch []domain.PersonalizationRecord
	for i, rec := range state.Review {
		if chosen[rec.Identifier(i)] {
			batch = append(batch, rec)
		}
	}
	if len(batch) == 0 {
		return &domain.Error{Code: domain.EINVALID, Op: op, Message: "no recipients selected"}
	}

	creds, err := s.settings.GetSMTP(ctx, s.account)
	if err != nil {
		if domain.ErrorCode(err) != domain.ENOTFOUND {
			return err
		}
		creds = nil // the engine reports missing credentials in the batch log
	}

	entries := s.sender.SendBatch(ctx, creds, state.FromName, batch)
	state.Log = append(state.Log, entries...)
	state.Step = domain.StepSent

	if err := s.settings.RecordDeliveryLog(ctx, s.account, entries); err != nil {
		s.logger.Error("failed to persist delivery log", slog.String("error", err.Error()))
	}
	return nil
}

// DownloadZip packages every remaining deliverable into a timestamped
// archive, removing the packaged files. The caller streams the archive and
// deletes it afterwards.
func (s *Service) DownloadZip(state *domain.WorkflowState) (string, error) {
	const op = "wizard.DownloadZip"

	var paths []string
	for _, rec := range state.Review {
		if rec.DeliverablePath != "" {
			paths = append(paths, rec.DeliverablePath)
		}
	}
	if len(paths) == 0 {
		return "", &domain.Error{Code: domain.ENOTFOUND, Op: op, Message: "no generated documents to download"}
	}

	archive, err := bundle.Pack(s.outputDir, paths, s.now())
	if err != nil {
		return "", err
	}
	for i := range state.Review {
		state.Review[i].DeliverablePath = ""
	}
	return archive, nil
}

// Reset deletes the workflow's files and clears its state. The process log
// is cleared too; persisted delivery logs are unaffected.
func (s *Service) Reset(state *domain.WorkflowState) {
	if state.SpreadsheetPath != "" {
		os.Remove(state.SpreadsheetPath)
	}
	if state.TemplatePath != "" {
		os.Remove(state.TemplatePath)
	}
	s.removeDeliverables(state)
	*state = domain.WorkflowState{}
}

func (s *Service) removeDeliverables(state *domain.WorkflowState) {
	for i, rec := range state.Review {
		if rec.DeliverablePath != "" {
			os.Remove(rec.DeliverablePath)
			state.Review[i].DeliverablePath = ""
		}
	}
}

// OutputName expands the filename pattern for one row and reduces it to
// safe characters. index is zero-based and only used for the fallback name.
func OutputName(pattern string, row domain.DataRow, index int) string {
	name := sanitizeFilename(placeholder.Expand(pattern, row))
	if name == "" || name == ".pdf" {
		return fmt.Sprintf("document_%d.pdf", index+1)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

// sanitizeFilename keeps letters, digits, dot, underscore and hyphen.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// patternPreference orders column-name fragments for the filename pattern
// suggestion, identifier-like columns first.
var patternPreference = []string{"id", "nummer", "number", "kunde", "customer", "name"}

// SuggestFilenamePattern proposes a filename pattern from the header:
// identifier and name-like columns first, the first header column as a last
// resort.
func SuggestFilenamePattern(header []string) string {
	var picks []string
	seen := make(map[string]bool)
	for _, frag := range patternPreference {
		for _, col := range header {
			if seen[col] || !strings.Contains(strings.ToLower(col), frag) {
				continue
			}
			picks = append(picks, col)
			seen[col] = true
			if len(picks) == 2 {
				break
			}
		}
		if len(picks) == 2 {
			break
		}
	}

	switch {
	case len(picks) >= 2:
		return fmt.Sprintf("Invoice_${%s}_${%s}.pdf", picks[0], picks[1])
	case len(picks) == 1:
		return fmt.Sprintf("Document_${%s}.pdf", picks[0])
	case len(header) > 0:
		return fmt.Sprintf("Document_${%s}.pdf", header[0])
	default:
		return "Document.pdf"
	}
}

func recipientName(row domain.DataRow, fallback string) string {
	for _, col := range row.Columns() {
		if strings.Contains(strings.ToLower(col), "name") {
			if v := strings.TrimSpace(row.Value(col)); v != "" {
				return v
			}
		}
	}
	return fallback
}

func columnExists(header []string, column string) bool {
	for _, col := range header {
		if col == column {
			return true
		}
	}
	return false
}

func writeFile(dest string, r io.Reader) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dest)
		return err
	}
	return f.Close()
}
