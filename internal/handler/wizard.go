package handler

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mhollstein/briefwerk/internal/domain"
	"github.com/mhollstein/briefwerk/internal/middleware"
	"github.com/mhollstein/briefwerk/internal/session"
	"github.com/mhollstein/briefwerk/internal/wizard"
)

// WizardHandler serves the merge wizard pages and form actions. Every action
// redirects back to the wizard page; failures surface as a one-shot flash
// message on the next render.
type WizardHandler struct {
	logger   *slog.Logger
	renderer *Renderer
	service  *wizard.Service
	sessions *session.Store
}

// NewWizardHandler creates the wizard handler.
func NewWizardHandler(logger *slog.Logger, renderer *Renderer, service *wizard.Service, sessions *session.Store) *WizardHandler {
	return &WizardHandler{
		logger:   logger,
		renderer: renderer,
		service:  service,
		sessions: sessions,
	}
}

// wizardPage is the view model for the wizard page template.
type wizardPage struct {
	Flash  string
	State  *domain.WorkflowState
	Review []reviewItem
}

// reviewItem pairs a personalization record with its selection identifier.
type reviewItem struct {
	Identifier string
	Recipient  string
	Email      string
	Subject    string
	Filename   string
}

// Home renders the wizard at its current step.
func (h *WizardHandler) Home(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Attach(w, r)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	sess.Lock()
	defer sess.Unlock()

	page := wizardPage{
		Flash: sess.TakeFlash(),
		State: &sess.State,
	}
	for i, rec := range sess.State.Review {
		item := reviewItem{
			Identifier: rec.Identifier(i),
			Recipient:  rec.RecipientName,
			Email:      rec.RecipientEmail,
			Subject:    rec.Subject,
		}
		if rec.DeliverablePath != "" {
			item.Filename = filepath.Base(rec.DeliverablePath)
		}
		page.Review = append(page.Review, item)
	}

	h.renderer.RenderHTTP(w, "index", page)
}

// Upload accepts the spreadsheet and starts a new workflow.
func (h *WizardHandler) Upload(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(sess *session.Session) error {
		file, header, err := r.FormFile("spreadsheet")
		if err != nil {
			return domain.Invalid("handler.Upload", "please choose a spreadsheet file")
		}
		defer file.Close()
		return h.service.Upload(&sess.State, header.Filename, file)
	})
}

// Filter applies the row selection.
func (h *WizardHandler) Filter(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(sess *session.Session) error {
		return h.service.ApplyFilter(&sess.State, r.FormValue("filter_column"), r.FormValue("filter_value"))
	})
}

// Details stores the content details and the optional template upload.
func (h *WizardHandler) Details(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(sess *session.Session) error {
		d := wizard.Details{
			EmailColumn:     r.FormValue("email_column"),
			Subject:         r.FormValue("subject"),
			FromName:        r.FormValue("from_name"),
			BodyHTML:        r.FormValue("body_html"),
			FilenamePattern: r.FormValue("filename_pattern"),
			NoAttachment:    r.FormValue("no_attachment") == "on",
		}
		if file, header, err := r.FormFile("template"); err == nil {
			defer file.Close()
			d.TemplateName = header.Filename
			d.Template = file
		}
		return h.service.ConfirmDetails(&sess.State, d)
	})
}

// Review generates the personalized documents.
func (h *WizardHandler) Review(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(sess *session.Session) error {
		return h.service.GenerateForReview(r.Context(), &sess.State)
	})
}

// Send delivers the selected records.
func (h *WizardHandler) Send(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(sess *session.Session) error {
		if err := r.ParseForm(); err != nil {
			return domain.Invalid("handler.Send", "invalid form data")
		}
		return h.service.SendSelected(r.Context(), &sess.State, r.Form["selected"])
	})
}

// Reset discards the workflow and its files.
func (h *WizardHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, func(sess *session.Session) error {
		h.service.Reset(&sess.State)
		return nil
	})
}

// Download streams the generated documents as one zip archive and removes
// the archive afterwards.
func (h *WizardHandler) Download(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Attach(w, r)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	sess.Lock()
	defer sess.Unlock()

	archive, err := h.service.DownloadZip(&sess.State)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	defer os.Remove(archive)

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(archive)+`"`)
	http.ServeFile(w, r, archive)
}

// action runs one wizard form action under the session lock and redirects
// back to the wizard page. Validation failures become flash messages instead
// of error pages so the user keeps their place in the workflow.
func (h *WizardHandler) action(w http.ResponseWriter, r *http.Request, fn func(*session.Session) error) {
	sess, err := h.sessions.Attach(w, r)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	sess.Lock()
	defer sess.Unlock()

	if err := fn(sess); err != nil {
		logger := middleware.GetLogger(r.Context(), h.logger)
		if domain.ErrorCode(err) == domain.EINTERNAL {
			logger.Error("wizard action failed", slog.String("error", err.Error()))
		} else {
			logger.Info("wizard action rejected", slog.String("error", err.Error()))
		}
		sess.Flash = domain.ErrorMessage(err)
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}
