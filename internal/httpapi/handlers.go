package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"tubepilot.app/internal/gate"
	"tubepilot.app/internal/identity"
	"tubepilot.app/internal/obs"
	"tubepilot.app/internal/panels"
	"tubepilot.app/internal/session"
)

const serviceName = "tubepilot"

// Pinger is any dependency that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks optional backing stores. Nil members are skipped.
type ReadyProbe struct {
	DB    Pinger
	Redis Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if rp.DB != nil {
		if err := rp.DB.Ping(ctx); err != nil {
			return errors.New("database unavailable")
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx); err != nil {
			return errors.New("redis unavailable")
		}
	}
	return nil
}

// LoginFlow runs the OpenID Connect login round trip.
type LoginFlow interface {
	BeginLogin(ctx context.Context, returnTo string) (string, error)
	CompleteLogin(ctx context.Context, state, code string) (session.Profile, string, error)
}

// HistoryReader lists a creator's recent panel runs.
type HistoryReader interface {
	Recent(ctx context.Context, email string, limit int) ([]panels.Run, error)
}

// Deps wires the API to the rest of the service. Login and History may be nil.
type Deps struct {
	Gate     *gate.Gate
	Sessions *session.Manager
	Login    LoginFlow
	Panels   *panels.Service
	History  HistoryReader
	Ready    ReadyProbe
	Version  string

	UpgradeURL string
	PlanName   string

	MaxBodyBytes   int64
	RateLimitRPS   float64
	RateLimitBurst int
	TrustedProxies TrustedProxies
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	gate     *gate.Gate
	sessions *session.Manager
	login    LoginFlow
	panels   *panels.Service
	history  HistoryReader

	upgradeURL string
	planName   string

	maxBody    int64
	rateBurst  int
	ratePerSec float64
	proxies    TrustedProxies
}

func New(d Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: d.Ready,
		version:    d.Version,
		gate:       d.Gate,
		sessions:   d.Sessions,
		login:      d.Login,
		panels:     d.Panels,
		history:    d.History,
		upgradeURL: d.UpgradeURL,
		planName:   d.PlanName,
		maxBody:    d.MaxBodyBytes,
		rateBurst:  d.RateLimitBurst,
		ratePerSec: d.RateLimitRPS,
		proxies:    d.TrustedProxies,
	}
	if a.gate == nil {
		a.gate = gate.New(nil)
	}
	if a.panels == nil {
		a.panels = panels.NewService(nil)
	}
	if a.maxBody <= 0 {
		a.maxBody = 5 << 20
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 5
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	// login
	a.mux.HandleFunc("/login", a.handleLogin)
	a.mux.HandleFunc("/auth/callback", a.handleCallback)
	a.mux.HandleFunc("/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/me", a.handleMe)

	// panels
	a.mux.HandleFunc("/v1/panels/keywords", a.handleKeywords)
	a.mux.HandleFunc("/v1/panels/ideas", a.handleIdeas)
	a.mux.HandleFunc("/v1/panels/retention", a.handleRetention)
	a.mux.HandleFunc("/v1/history", a.handleHistory)

	// dashboard
	a.mux.Handle("/assets/", http.StripPrefix("/assets/", http.FileServer(http.FS(assetFS))))
	a.mux.HandleFunc("/", a.handleDashboard)

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec, a.proxies)
	h = SecurityHeaders(h)
	h = LoggingJSON(h, a.proxies)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
		"features": map[string]bool{
			"login":   a.login != nil,
			"llm":     a.panels.LLMEnabled(),
			"history": a.history != nil,
		},
	})
}

// evaluate runs the access gate for r and returns the request carrying the
// resolved principal.
func (a *API) evaluate(r *http.Request) (gate.Outcome, *http.Request) {
	out := a.gate.Evaluate(r.Context(), a.sessions.FromRequest(r))
	if out.Authenticated() {
		r = r.WithContext(identity.ContextWithPrincipal(r.Context(), out.Principal))
	}
	return out, r
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is required")
		case errors.As(err, &maxErr):
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}
