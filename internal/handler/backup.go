package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/mealsync/internal/backup"
	"github.com/dukerupert/mealsync/internal/websocket"
)

type BackupHandler struct {
	manager *backup.Manager
	hub     websocket.Broadcaster
	logger  *slog.Logger
}

func NewBackupHandler(m *backup.Manager, hub websocket.Broadcaster, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{manager: m, hub: hub, logger: logger}
}

func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status())
}

func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	objects, err := h.manager.List(r.Context())
	if errors.Is(err, backup.ErrDisabled) {
		writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	}
	if err != nil {
		h.logger.Error("list backups", "error", err)
		writeError(w, http.StatusBadGateway, "failed to list backups")
		return
	}
	if objects == nil {
		objects = []backup.Object{}
	}
	writeJSON(w, http.StatusOK, objects)
}

func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	key, err := h.manager.RunNow(r.Context())
	if errors.Is(err, backup.ErrDisabled) {
		writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	}
	if err != nil {
		h.logger.Error("run backup", "error", err)
		writeError(w, http.StatusBadGateway, "backup failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

type restoreRequest struct {
	Key string `json:"key"`
}

// Restore merges a backup into the diary. An empty body restores the
// newest backup.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	n, err := h.manager.Restore(r.Context(), req.Key)
	switch {
	case errors.Is(err, backup.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, "backups are not configured")
		return
	case errors.Is(err, backup.ErrNoBackups):
		writeError(w, http.StatusNotFound, "no backups found")
		return
	case err != nil:
		h.logger.Error("restore backup", "key", req.Key, "error", err)
		writeError(w, http.StatusBadGateway, "restore failed")
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(websocket.NewMessage(websocket.EntityBackup, "restored", req.Key, map[string]any{"inserted": n}))
	}
	writeJSON(w, http.StatusOK, map[string]int{"inserted": n})
}
