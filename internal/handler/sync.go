package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/mealsync/internal/auth"
	"github.com/dukerupert/mealsync/internal/datekey"
	"github.com/dukerupert/mealsync/internal/diarysync"
	"github.com/dukerupert/mealsync/internal/gateway"
	"github.com/dukerupert/mealsync/internal/model"
	"github.com/dukerupert/mealsync/internal/websocket"
)

const historyDays = 7

type SyncHandler struct {
	userID    string
	orch      *diarysync.Orchestrator
	scheduler *diarysync.Scheduler
	gateway   *gateway.Client
	hub       websocket.Broadcaster
	logger    *slog.Logger
}

func NewSyncHandler(userID string, orch *diarysync.Orchestrator, sched *diarysync.Scheduler, gw *gateway.Client, hub websocket.Broadcaster, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{userID: userID, orch: orch, scheduler: sched, gateway: gw, hub: hub, logger: logger}
}

type syncStatusResponse struct {
	diarysync.Status
	UserID        string `json:"user_id"`
	Authenticated bool   `json:"authenticated"`
	Remote        bool   `json:"remote"`
	Scheduled     bool   `json:"scheduled"`
}

func (h *SyncHandler) status(r *http.Request) syncStatusResponse {
	uid := auth.UserID(r.Context())
	if uid == "" {
		uid = h.userID
	}
	return syncStatusResponse{
		Status:        h.orch.Status(r.Context()),
		UserID:        uid,
		Authenticated: auth.IsAuthenticated(r.Context()),
		Remote:        h.gateway.Configured(),
		Scheduled:     h.scheduler.Running(),
	}
}

// Push runs a push pass now. Unlike the background pass its error is
// reported to the caller.
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	err := h.scheduler.ForceNow(r.Context())

	var se *gateway.StatusError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.status(r))
	case errors.Is(err, diarysync.ErrPushInProgress):
		writeError(w, http.StatusConflict, "a push is already running")
	case errors.Is(err, gateway.ErrOffline):
		writeError(w, http.StatusServiceUnavailable, "no remote backend configured")
	case errors.As(err, &se):
		writeError(w, http.StatusBadGateway, se.Error())
	default:
		h.logger.Error("forced push failed", "error", err)
		writeError(w, http.StatusBadGateway, "push failed")
	}
}

// Pull merges remote entries. Failures are visible in the returned status,
// not as an error response.
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	n := h.orch.Pull(r.Context())
	if n > 0 && h.hub != nil {
		h.hub.Broadcast(websocket.NewMessage(websocket.EntitySync, "pulled", "", map[string]any{"inserted": n}))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"inserted": n,
		"status":   h.status(r),
	})
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status(r))
}

// History lists the remote day blobs expanded into entries. It is read
// only and does not touch the local diary. The range defaults to the last
// historyDays days.
func (h *SyncHandler) History(w http.ResponseWriter, r *http.Request) {
	from, to, ok := dateRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "from and to must be YYYY-MM-DD")
		return
	}
	now := time.Now()
	if to == "" {
		to = datekey.Key(now.Local())
	}
	if from == "" {
		from = datekey.Key(now.Local().AddDate(0, 0, -historyDays+1))
	}

	entries, err := h.gateway.History(r.Context(), h.userID, from, to)
	if errors.Is(err, gateway.ErrOffline) {
		writeError(w, http.StatusServiceUnavailable, "no remote backend configured")
		return
	}
	if err != nil {
		h.logger.Error("load history", "error", err)
		writeError(w, http.StatusBadGateway, "failed to load history")
		return
	}
	if entries == nil {
		entries = []model.FoodEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
