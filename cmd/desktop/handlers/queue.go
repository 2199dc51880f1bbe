package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/wishwell/backend/internal/app"
	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
	"github.com/kimhsiao/wishwell/backend/internal/models"
)

// QueueHandler handles wish posting and offline queue operations.
type QueueHandler struct {
	app *app.App
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(a *app.App) *QueueHandler {
	return &QueueHandler{app: a}
}

// PostWish handles POST /api/wishes
func (h *QueueHandler) PostWish(w http.ResponseWriter, r *http.Request) {
	var payload models.WishPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}
	if payload.UserID == "" {
		payload.UserID = h.app.UserID()
	}

	ctx := h.app.Context(r.Context())
	res, err := h.app.Service.Post(ctx, payload)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Queued {
		status = http.StatusAccepted
		h.app.Scheduler.TriggerFlush(ctx)
	}
	writeJSON(w, status, res)
}

// Status handles GET /api/queue/status
func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.Queue.Status(h.app.Context(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue":     st,
		"maxLength": h.app.Queue.MaxLength(),
		"scheduler": h.app.Scheduler.GetStatus(),
	})
}

// Flush handles POST /api/queue/flush
func (h *QueueHandler) Flush(w http.ResponseWriter, r *http.Request) {
	res, err := h.app.Scheduler.FlushNow(h.app.Context(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Clear handles DELETE /api/queue
func (h *QueueHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Queue.Clear(h.app.Context(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetConnectivity handles POST /api/connectivity with {"online": bool}, the
// platform's network reachability signal.
func (h *QueueHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil || request.Online == nil {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "online is required"))
		return
	}
	h.app.Scheduler.SetOnlineStatus(*request.Online)
	writeJSON(w, http.StatusOK, map[string]bool{"online": *request.Online})
}
