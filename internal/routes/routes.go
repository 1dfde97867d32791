// Package routes wires the HTTP surface onto the router.
package routes

import (
	"net/http"

	"github.com/mhollstein/briefwerk/internal/handler"
	"github.com/mhollstein/briefwerk/internal/middleware"
	"github.com/mhollstein/briefwerk/internal/router"
)

// Deps contains the handlers behind the HTTP surface.
type Deps struct {
	Wizard   *handler.WizardHandler
	Settings *handler.SettingsHandler

	// Health reports readiness; wired to the database ping.
	Health http.HandlerFunc

	// Metrics serves the Prometheus scrape endpoint.
	Metrics http.Handler
}

// Register mounts every route. Upload-carrying actions get the larger body
// limit; everything else keeps the small one.
func Register(r *router.Router, deps Deps) {
	uploadLimit := middleware.MaxBodySize(middleware.UploadMaxBodySize)
	formLimit := middleware.MaxBodySize(middleware.SmallMaxBodySize)

	r.Get("/", deps.Wizard.Home)
	r.Post("/upload", deps.Wizard.Upload, uploadLimit)
	r.Post("/filter", deps.Wizard.Filter, formLimit)
	r.Post("/details", deps.Wizard.Details, uploadLimit)
	r.Post("/review", deps.Wizard.Review, formLimit)
	r.Post("/send", deps.Wizard.Send, formLimit)
	r.Post("/reset", deps.Wizard.Reset, formLimit)
	r.Get("/download", deps.Wizard.Download)

	r.Get("/settings", deps.Settings.Show)
	r.Post("/settings", deps.Settings.Save, formLimit)
	r.Post("/settings/test", deps.Settings.Test, formLimit)

	r.Get("/healthz", deps.Health)
	r.Handle(http.MethodGet, "/metrics", deps.Metrics)

	r.Static("/static", "./web/static")
}
