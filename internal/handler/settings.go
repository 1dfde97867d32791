package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mhollstein/briefwerk/internal/domain"
	"github.com/mhollstein/briefwerk/internal/middleware"
	"github.com/mhollstein/briefwerk/internal/session"
)

// SettingsStore is the persistence surface the settings page needs.
type SettingsStore interface {
	SaveSMTP(ctx context.Context, accountID uuid.UUID, creds domain.CredentialSet) error
	GetSMTP(ctx context.Context, accountID uuid.UUID) (*domain.CredentialSet, error)
	RecentDeliveryLog(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LogEntry, error)
}

// ConnectionTester verifies a credential set against the live mail relay,
// optionally delivering a short test message.
type ConnectionTester func(ctx context.Context, creds *domain.CredentialSet, testRecipient string) error

// settingsForm is the mail relay configuration form.
type settingsForm struct {
	Host     string `validate:"required,hostname_rfc1123"`
	Port     int    `validate:"required,min=1,max=65535"`
	Username string `validate:"required,email"`
	Password string `validate:"required"`
	Security string `validate:"required,oneof=none starttls tls"`
}

// SettingsHandler serves the mail relay settings page.
type SettingsHandler struct {
	logger   *slog.Logger
	renderer *Renderer
	store    SettingsStore
	test     ConnectionTester
	account  uuid.UUID
	sessions *session.Store
	validate *validator.Validate
}

// NewSettingsHandler creates the settings handler.
func NewSettingsHandler(logger *slog.Logger, renderer *Renderer, store SettingsStore, test ConnectionTester, accountID string, sessions *session.Store) (*SettingsHandler, error) {
	account, err := uuid.Parse(accountID)
	if err != nil {
		return nil, domain.WrapError(err, domain.EINVALID, "handler.NewSettingsHandler", "invalid account ID")
	}
	return &SettingsHandler{
		logger:   logger,
		renderer: renderer,
		store:    store,
		test:     test,
		account:  account,
		sessions: sessions,
		validate: validator.New(),
	}, nil
}

// settingsPage is the view model for the settings template.
type settingsPage struct {
	Flash      string
	Host       string
	Port       int
	Username   string
	Security   string
	Configured bool
	RecentLog  []domain.LogEntry
}

// Show renders the settings form with the stored values. The password is
// never echoed back.
func (h *SettingsHandler) Show(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Attach(w, r)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	sess.Lock()
	page := settingsPage{Flash: sess.TakeFlash(), Port: 587, Security: string(domain.SecurityStartTLS)}
	sess.Unlock()

	creds, err := h.store.GetSMTP(r.Context(), h.account)
	switch {
	case err == nil:
		page.Host = creds.Host
		page.Port = creds.Port
		page.Username = creds.Username
		page.Security = string(creds.Security)
		page.Configured = true
	case domain.ErrorCode(err) != domain.ENOTFOUND:
		ErrorResponse(w, r, err)
		return
	}

	if entries, err := h.store.RecentDeliveryLog(r.Context(), h.account, 50); err == nil {
		page.RecentLog = entries
	} else {
		middleware.GetLogger(r.Context(), h.logger).Error("failed to load delivery log", slog.String("error", err.Error()))
	}

	h.renderer.RenderHTTP(w, "settings", page)
}

// Save validates and stores the credential set.
func (h *SettingsHandler) Save(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Attach(w, r)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	form, err := h.parseForm(r)
	if err == nil {
		err = h.store.SaveSMTP(r.Context(), h.account, formToCredentials(form))
	}

	sess.Lock()
	if err != nil {
		sess.Flash = domain.ErrorMessage(err)
		middleware.GetLogger(r.Context(), h.logger).Info("settings rejected", slog.String("error", err.Error()))
	} else {
		sess.Flash = "Settings saved."
	}
	sess.Unlock()

	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

// Test dials the relay with the submitted credentials without storing them.
// A test recipient is optional; when given, a short test message is sent.
func (h *SettingsHandler) Test(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Attach(w, r)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	form, err := h.parseForm(r)
	var testErr error
	if err == nil {
		creds := formToCredentials(form)
		testErr = h.test(r.Context(), &creds, r.FormValue("test_recipient"))
	}

	sess.Lock()
	switch {
	case err != nil:
		sess.Flash = domain.ErrorMessage(err)
	case testErr != nil:
		// the dial error carries the relay diagnostic, show it verbatim
		sess.Flash = "Connection test failed: " + testErr.Error()
	default:
		sess.Flash = "Connection test succeeded."
	}
	sess.Unlock()

	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}

func (h *SettingsHandler) parseForm(r *http.Request) (*settingsForm, error) {
	const op = "handler.settings"

	port, err := strconv.Atoi(r.FormValue("port"))
	if err != nil {
		return nil, domain.Invalid(op, "port must be a number")
	}
	form := &settingsForm{
		Host:     r.FormValue("host"),
		Port:     port,
		Username: r.FormValue("username"),
		Password: r.FormValue("password"),
		Security: r.FormValue("security"),
	}
	if err := h.validate.Struct(form); err != nil {
		return nil, domain.WrapError(err, domain.EINVALID, op, "please check the server, port, address and security fields")
	}
	return form, nil
}

func formToCredentials(form *settingsForm) domain.CredentialSet {
	return domain.CredentialSet{
		Host:     form.Host,
		Port:     form.Port,
		Username: form.Username,
		Password: form.Password,
		Security: domain.ParseSecurityMode(form.Security),
	}
}
