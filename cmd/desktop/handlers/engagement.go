package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kimhsiao/wishwell/backend/internal/app"
	"github.com/kimhsiao/wishwell/backend/internal/models"
)

// EngagementHandler handles streak and milestone operations.
type EngagementHandler struct {
	app *app.App
}

// NewEngagementHandler creates a new EngagementHandler.
func NewEngagementHandler(a *app.App) *EngagementHandler {
	return &EngagementHandler{app: a}
}

// userID returns the ?user= query value or the session user.
func (h *EngagementHandler) userID(r *http.Request) string {
	if u := r.URL.Query().Get("user"); u != "" {
		return u
	}
	return h.app.UserID()
}

// Record handles POST /api/engagement/{kind}
func (h *EngagementHandler) Record(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.app.Service.Record(h.app.Context(r.Context()), h.userID(r), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	if res == nil {
		// not signed in or not allowed: nothing was recorded
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Stats handles GET /api/engagement/stats
func (h *EngagementHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Service.Stats(h.app.Context(r.Context()), h.userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// NextMilestone handles GET /api/engagement/{kind}/next
func (h *EngagementHandler) NextMilestone(w http.ResponseWriter, r *http.Request) {
	m, err := h.app.Service.NextMilestone(h.app.Context(r.Context()), h.userID(r), models.EngagementKind(mux.Vars(r)["kind"]))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"next": m})
}

// PostTypes handles GET /api/preferences/post-types
func (h *EngagementHandler) PostTypes(w http.ResponseWriter, r *http.Request) {
	usage, err := h.app.Service.PostTypeUsage(r.Context(), h.userID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}
