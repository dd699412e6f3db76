package httpapi

import (
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"tubepilot.app/internal/audit"
	"tubepilot.app/internal/gate"
	"tubepilot.app/internal/history"
	"tubepilot.app/internal/llm"
	"tubepilot.app/internal/obs"
	"tubepilot.app/internal/panels"
)

const retentionFormField = "file"

type keywordsRequest struct {
	Topic string `json:"topic"`
}

type ideasRequest struct {
	Niche string `json:"niche"`
	Count int    `json:"count,omitempty"`
}

type retentionResponse struct {
	File string `json:"file"`
	panels.RetentionReport
}

// authorize evaluates the gate and writes 401 or 402 when the caller may not
// use the panels. Denials never carry the gate reason.
func (a *API) authorize(w http.ResponseWriter, r *http.Request) (gate.Outcome, *http.Request, bool) {
	out, r := a.evaluate(r)
	if !out.Authenticated() {
		writeError(w, r, http.StatusUnauthorized, "login required")
		return out, r, false
	}
	if !out.HasAccess {
		_ = audit.LogEvent(r.Context(), audit.EventAccessDenied, map[string]any{
			"path":   r.URL.Path,
			"reason": string(out.Reason),
		})
		payload := map[string]any{
			"error":       "subscription required",
			"upgrade_url": a.upgradeURL,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusPaymentRequired, payload)
		return out, r, false
	}
	return out, r, true
}

func (a *API) handleKeywords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	out, r, ok := a.authorize(w, r)
	if !ok {
		return
	}
	var req keywordsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.panels.Keywords(r.Context(), out.Principal.Email, req.Topic)
	if err != nil {
		handlePanelError(w, r, err)
		return
	}
	auditPanelRun(r.Context(), panels.PanelKeywords, res.RunID)
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleIdeas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	out, r, ok := a.authorize(w, r)
	if !ok {
		return
	}
	var req ideasRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.panels.Ideas(r.Context(), out.Principal.Email, req.Niche, req.Count)
	if err != nil {
		handlePanelError(w, r, err)
		return
	}
	auditPanelRun(r.Context(), panels.PanelIdeas, res.RunID)
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRetention(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	out, r, ok := a.authorize(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(a.maxBody); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "multipart form with a csv file is required")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, hdr, err := r.FormFile(retentionFormField)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	report, err := a.panels.Retention(r.Context(), out.Principal.Email, hdr.Filename, file)
	if err != nil {
		handlePanelError(w, r, err)
		return
	}
	auditPanelRun(r.Context(), panels.PanelRetention, "")
	writeJSON(w, http.StatusOK, retentionResponse{File: hdr.Filename, RetentionReport: report})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	out, r, ok := a.authorize(w, r)
	if !ok {
		return
	}
	if a.history == nil {
		writeError(w, r, http.StatusServiceUnavailable, "feature_disabled")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := a.history.Recent(r.Context(), out.Principal.Email, limit)
	if err != nil {
		obs.Logger().Error("history query failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if runs == nil {
		runs = []panels.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func parseLimit(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return history.DefaultLimit, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < 1 || val > history.MaxLimit {
		return 0, errors.New("limit must be between 1 and " + strconv.Itoa(history.MaxLimit))
	}
	return val, nil
}

func handlePanelError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, panels.ErrEmptyInput):
		writeError(w, r, http.StatusBadRequest, "input is required")
	case errors.Is(err, panels.ErrInputTooLong):
		writeError(w, r, http.StatusBadRequest, "input is too long")
	case errors.Is(err, panels.ErrMissingColumns):
		writeError(w, r, http.StatusBadRequest, "csv is missing the Duration or Average percentage viewed (%) column")
	case errors.Is(err, panels.ErrNoData):
		writeError(w, r, http.StatusBadRequest, "csv has no usable rows")
	case errors.Is(err, panels.ErrDisabled):
		writeError(w, r, http.StatusServiceUnavailable, "feature_disabled")
	case errors.Is(err, llm.ErrGeneration), errors.Is(err, llm.ErrEmptyResponse),
		errors.Is(err, context.DeadlineExceeded):
		obs.Logger().Warn("panel generation failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeError(w, r, http.StatusBadGateway, "generation failed, try again")
	case isCSVError(err):
		writeError(w, r, http.StatusBadRequest, "file is not a valid csv")
	default:
		obs.Logger().Error("panel failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func isCSVError(err error) bool {
	var perr *csv.ParseError
	return errors.As(err, &perr)
}

func auditPanelRun(ctx context.Context, panel, runID string) {
	fields := map[string]any{"panel": panel}
	if runID != "" {
		fields["run_id"] = runID
	}
	_ = audit.LogEvent(ctx, audit.EventPanelRun, fields)
}
