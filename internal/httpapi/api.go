package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"graindesk.io/internal/audit"
	"graindesk.io/internal/auth"
	"graindesk.io/internal/obs"
	"graindesk.io/internal/stream"
)

// ReadyProbe reports readiness, typically by pinging the database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the access-control core.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	auth       *auth.Service
	audit      *audit.Recorder
	feed       *stream.Stream

	rateBurst  int
	ratePerSec int

	// defaultRetention bounds the stale-session sweep when the caller
	// does not supply one.
	defaultRetention time.Duration
}

// New wires routes over the given services.
func New(rp ReadyProbe, version string, authSvc *auth.Service, auditRec *audit.Recorder) *API {
	a := &API{
		mux:              http.NewServeMux(),
		readyProbe:       rp,
		version:          version,
		auth:             authSvc,
		audit:            auditRec,
		feed:             stream.New(),
		rateBurst:        20,
		ratePerSec:       10,
		defaultRetention: 72 * time.Hour,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)

	a.mux.HandleFunc("/v1/roles", a.handleRolesCollection)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.Handle("/v1/permissions", a.RequirePermission(auth.PermRolesRead)(http.HandlerFunc(a.handlePermissions)))

	a.mux.HandleFunc("/v1/sessions/", a.handleSessionResource)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	a.mux.Handle("/v1/audit", a.RequirePermission(auth.PermAuditRead)(http.HandlerFunc(a.handleAuditCollection)))
	a.mux.Handle("/v1/audit/stream", a.RequirePermission(auth.PermAuditRead)(http.HandlerFunc(a.handleAuditStream)))
	a.mux.Handle("/v1/audit/", a.RequirePermission(auth.PermAuditRead)(http.HandlerFunc(a.handleAuditResource)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	if auditRec != nil {
		auditRec.Observe(a.feed.Publish)
	}

	return a
}

// Handler assembles the middleware chain around the mux. Authentication sits
// innermost so every protected route sees a resolved principal.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "graindesk-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeData(w, http.StatusOK, map[string]any{"status": "ready"})
}
