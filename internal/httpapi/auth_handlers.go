package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"tubepilot.app/internal/audit"
	"tubepilot.app/internal/identity"
	"tubepilot.app/internal/obs"
	"tubepilot.app/internal/session"
)

type meResponse struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	HasAccess   bool   `json:"has_access"`
	Plan        string `json:"plan,omitempty"`
	UpgradeURL  string `json:"upgrade_url,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.login == nil || a.sessions == nil {
		writeError(w, r, http.StatusServiceUnavailable, "login is not configured")
		return
	}
	target, err := a.login.BeginLogin(r.Context(), r.URL.Query().Get("return_to"))
	if errors.Is(err, session.ErrStateCacheFull) {
		w.Header().Set("Retry-After", "60")
		writeError(w, r, http.StatusServiceUnavailable, "too many pending logins, try again shortly")
		return
	}
	if err != nil {
		obs.Logger().Error("begin login failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.login == nil || a.sessions == nil {
		writeError(w, r, http.StatusServiceUnavailable, "login is not configured")
		return
	}
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{"reason": e})
		http.Redirect(w, r, "/?login=cancelled", http.StatusFound)
		return
	}

	profile, returnTo, err := a.login.CompleteLogin(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{"error": err.Error()})
		switch {
		case errors.Is(err, session.ErrUnknownState):
			writeError(w, r, http.StatusBadRequest, "login expired, please try again")
		case errors.Is(err, session.ErrEmailUnverified):
			writeError(w, r, http.StatusForbidden, "google account email is not verified")
		default:
			writeError(w, r, http.StatusBadGateway, "login failed")
		}
		return
	}
	if err := a.sessions.Login(w, profile); err != nil {
		obs.Logger().Error("issue session failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	ctx := identity.ContextWithPrincipal(r.Context(), identity.Resolve(identity.Map{
		identity.FieldEmail: profile.Email,
		identity.FieldName:  profile.Name,
	}))
	_ = audit.LogEvent(ctx, audit.EventLogin, nil)
	http.Redirect(w, r, returnTo, http.StatusFound)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.sessions != nil {
		if sess := a.sessions.FromRequest(r); sess.IsLoggedIn() {
			ctx := identity.ContextWithPrincipal(r.Context(), identity.Resolve(sess))
			_ = audit.LogEvent(ctx, audit.EventLogout, nil)
		}
		a.sessions.Clear(w)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	out, r := a.evaluate(r)
	if !out.Authenticated() {
		writeError(w, r, http.StatusUnauthorized, "login required")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		Email:       out.Principal.Email,
		DisplayName: out.Principal.DisplayName,
		HasAccess:   out.HasAccess,
		Plan:        a.planName,
		UpgradeURL:  a.upgradeURL,
	})
}
