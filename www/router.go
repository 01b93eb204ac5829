// Package www serves the JSON API, the SSE event stream and the WebSocket
// snapshot stream.
package www

import (
	"log"
	"net/http"
	"sync"

	"robolink/engine"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine   *engine.Engine
	sessions *sessionStore
	eventHub *EventHub
	logins   *loginGuard

	stopOnce sync.Once
	done     chan struct{}
}

// NewRouter creates the chi router and returns it along with a stop function.
func NewRouter(eng *engine.Engine) (http.Handler, func()) {
	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
		eventHub: NewEventHub(),
		logins:   newLoginGuard(),
		done:     make(chan struct{}),
	}
	h.ensureAdmin()

	h.eventHub.SetupEngineListeners(eng)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// Streams (no auth)
	r.Get("/events", h.eventHub.HandleSSE)
	r.Get("/ws", h.handleWS)

	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.apiStatus)
		r.Post("/connect", h.apiConnect)
		r.Post("/disconnect", h.apiDisconnect)
		r.Post("/commands/{name}", h.apiCommand)
		r.Post("/telemetry/decode", h.apiDecodeTelemetry)

		// Map editing
		r.Get("/map", h.apiGetMap)
		r.Put("/map", h.apiReplaceMap)
		r.Post("/map/new", h.apiNewMap)
		r.Post("/map/import", h.apiImportMap)
		r.Get("/map/export", h.apiExportMap)
		r.Post("/map/locations", h.apiAddLocation)
		r.Put("/map/locations/{index}", h.apiUpdateLocation)
		r.Delete("/map/locations/{index}", h.apiRemoveLocation)
		r.Post("/map/locations/{index}/up", h.apiMoveLocationUp)
		r.Post("/map/locations/{index}/down", h.apiMoveLocationDown)

		// Admin API
		r.Group(func(r chi.Router) {
			r.Use(h.adminMiddleware)
			r.Get("/me", h.apiWhoAmI)
			r.Get("/commands", h.apiListCommands)
			r.Get("/readback/{name}", h.apiReadback)
			r.Post("/map/send", h.apiSendMap)
			r.Post("/config/password", h.apiChangePassword)
		})
	})

	return r, func() {
		h.stopOnce.Do(func() { close(h.done) })
		h.eventHub.Stop()
	}
}

func (h *Handlers) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.isAdmin(r) {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) isAdmin(r *http.Request) bool {
	_, ok := h.sessions.user(r)
	return ok
}

// ensureAdmin creates the configured admin user when the table is empty.
func (h *Handlers) ensureAdmin() {
	db := h.engine.DB()
	web := h.engine.AppConfig().Web
	if db == nil || web.AdminUser == "" || web.AdminPassword == "" {
		return
	}
	exists, err := db.AdminUserExists()
	if err != nil || exists {
		return
	}
	hash, err := hashPassword(web.AdminPassword)
	if err != nil {
		log.Printf("www: hash admin password: %v", err)
		return
	}
	if err := db.CreateAdminUser(web.AdminUser, hash); err != nil {
		log.Printf("www: create admin user: %v", err)
		return
	}
	log.Printf("www: created admin user %q", web.AdminUser)
}
