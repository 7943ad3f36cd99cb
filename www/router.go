package www

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"assetedge/engine"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine   *engine.Engine
	auth     *adminAuth
	eventHub *EventHub
}

// NewRouter creates the chi router and returns it along with a stop function.
// A nil gatherer leaves /metrics unmounted.
func NewRouter(eng *engine.Engine, gatherer prometheus.Gatherer) (http.Handler, func()) {
	h := &Handlers{
		engine:   eng,
		auth:     newAdminAuth(eng.AppConfig().Web.SessionSecret, eng.AppConfig().Web.AdminPassword, eng.DB()),
		eventHub: NewEventHub(),
	}

	h.eventHub.Start()
	h.eventHub.SetupEngineListeners(eng)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// SSE (no auth: field terminals)
	r.Get("/events", h.eventHub.HandleSSE)

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Route("/api", func(r chi.Router) {
		// Assets
		r.Get("/assets", h.apiListAssets)
		r.Post("/assets", h.apiCreateAsset)
		r.Put("/assets/{id}", h.apiUpdateAsset)
		r.Delete("/assets/{id}", h.apiDeleteAsset)
		r.Post("/assets/{id}/check", h.apiCheckAsset)
		r.Post("/assets/{id}/uncheck", h.apiUncheckAsset)
		r.Post("/scans", h.apiRecordScan)

		// Sync
		r.Get("/sync/status", h.apiSyncStatus)
		r.Post("/sync", h.apiSyncNow)
		r.Get("/queue", h.apiListQueue)
		r.Post("/queue/{id}/retry", h.apiRetryAction)
		r.Post("/visibility", h.apiVisibility)

		// Admin
		r.Group(func(r chi.Router) {
			r.Use(h.auth.require)
			r.Delete("/queue/failed", h.apiClearFailed)
		})
	})

	return r, func() {
		h.eventHub.Stop()
	}
}
