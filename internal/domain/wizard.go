package domain

// Step is the wizard's current position in the workflow state machine.
// Transitions only move forward through Upload → Filter → Details → Review
// → Sent; a reset returns to StepUploadPending.
type Step int

const (
	StepUploadPending Step = iota
	StepFiltered
	StepTemplateConfirmed
	StepReviewReady
	StepSent
)

// String returns the step name for logging and templates.
func (s Step) String() string {
	switch s {
	case StepUploadPending:
		return "upload_pending"
	case StepFiltered:
		return "filtered"
	case StepTemplateConfirmed:
		return "template_confirmed"
	case StepReviewReady:
		return "review_ready"
	case StepSent:
		return "sent"
	default:
		return "unknown"
	}
}

// WorkflowState is the strongly-typed per-session wizard state. One
// in-progress workflow exists per session; uploads replace prior state
// wholesale.
type WorkflowState struct {
	Step Step

	// Uploaded spreadsheet.
	SpreadsheetPath string
	SpreadsheetName string
	Header          []string

	// Filter choice and the resulting rows.
	FilterColumn string
	FilterValue  string
	Rows         []DataRow

	// Confirmed template and content details.
	TemplatePath    string
	EmailColumn     string
	Subject         string
	FromName        string
	BodyHTML        string
	FilenamePattern string
	NoAttachment    bool

	// Generated preview records and the latest process log.
	Review []PersonalizationRecord
	Log    []LogEntry
}

// DetailsConfirmed reports whether the content details required before
// generation are all present.
func (s *WorkflowState) DetailsConfirmed() bool {
	if s.EmailColumn == "" || s.Subject == "" || s.FromName == "" {
		return false
	}
	return s.NoAttachment || s.TemplatePath != ""
}
