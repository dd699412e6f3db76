package httpapi

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"net/http"

	"go.uber.org/zap"

	"tubepilot.app/internal/gate"
	"tubepilot.app/internal/identity"
	"tubepilot.app/internal/obs"
	"tubepilot.app/internal/panels"
)

//go:embed templates/*.html
var templateFiles embed.FS

//go:embed assets
var assetFiles embed.FS

var (
	pageTemplates = template.Must(template.ParseFS(templateFiles, "templates/*.html"))
	assetFS       = mustSub(assetFiles, "assets")
)

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// dashboardView drives templates/dashboard.html. Exactly one of the login,
// upgrade or panels sections renders.
type dashboardView struct {
	Authenticated bool
	HasAccess     bool
	LoginEnabled  bool
	LoginNotice   string

	Name    string
	Email   string
	Picture string

	PlanName   string
	UpgradeURL string

	LLMEnabled     bool
	HistoryEnabled bool
	MaxIdeas       int
	DefaultIdeas   int
	Version        string
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, r, http.MethodGet, http.MethodHead)
		return
	}

	sess := a.sessions.FromRequest(r)
	out := a.gate.Evaluate(r.Context(), sess)
	view := a.dashboardView(out, sess)
	if r.URL.Query().Get("login") == "cancelled" {
		view.LoginNotice = "Login was cancelled."
	}

	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, "dashboard.html", view); err != nil {
		obs.Logger().Error("render dashboard failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) dashboardView(out gate.Outcome, sess identity.Session) dashboardView {
	v := dashboardView{
		Authenticated:  out.Authenticated(),
		HasAccess:      out.HasAccess,
		LoginEnabled:   a.login != nil && a.sessions != nil,
		Name:           out.Principal.DisplayName,
		Email:          out.Principal.Email,
		PlanName:       a.planName,
		UpgradeURL:     a.upgradeURL,
		LLMEnabled:     a.panels.LLMEnabled(),
		HistoryEnabled: a.history != nil,
		MaxIdeas:       panels.MaxIdeaCount,
		DefaultIdeas:   panels.DefaultIdeaCount,
		Version:        a.version,
	}
	if out.Authenticated() && sess != nil {
		v.Picture, _ = sess.Field(identity.FieldPicture)
	}
	return v
}
