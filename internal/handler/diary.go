package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/mealsync/internal/datekey"
	"github.com/dukerupert/mealsync/internal/model"
	"github.com/dukerupert/mealsync/internal/store"
	"github.com/dukerupert/mealsync/internal/websocket"
)

type DiaryHandler struct {
	entries *store.EntryStore
	hub     websocket.Broadcaster
	logger  *slog.Logger
}

func NewDiaryHandler(es *store.EntryStore, hub websocket.Broadcaster, logger *slog.Logger) *DiaryHandler {
	return &DiaryHandler{entries: es, hub: hub, logger: logger}
}

func (h *DiaryHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

type entryRequest struct {
	PhotoURI  string         `json:"photo_uri"`
	UserHints string         `json:"user_hints"`
	MealType  model.MealType `json:"meal_type"`
}

// dateRange reads the from/to query parameters. "today" is accepted for
// either bound.
func dateRange(r *http.Request) (from, to string, ok bool) {
	q := r.URL.Query()
	from, to = q.Get("from"), q.Get("to")
	for _, p := range []*string{&from, &to} {
		if *p == "today" {
			*p = datekey.Today(nil)
		}
		if *p != "" && !datekey.Valid(*p) {
			return "", "", false
		}
	}
	return from, to, true
}

func (h *DiaryHandler) List(w http.ResponseWriter, r *http.Request) {
	from, to, ok := dateRange(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "from and to must be YYYY-MM-DD")
		return
	}

	entries, err := h.entries.Query(r.Context(), from, to)
	if err != nil {
		h.logger.Error("list entries", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list entries")
		return
	}
	if entries == nil {
		entries = []model.FoodEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *DiaryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.PhotoURI = strings.TrimSpace(req.PhotoURI)
	if req.PhotoURI == "" {
		writeError(w, http.StatusBadRequest, "photo_uri is required")
		return
	}
	req.MealType = model.MealType(strings.ToUpper(string(req.MealType)))
	if !req.MealType.Valid() {
		writeError(w, http.StatusBadRequest, "meal_type must be BREAKFAST, LUNCH, DINNER, or SNACK")
		return
	}

	entry, err := h.entries.Append(r.Context(), req.PhotoURI, req.UserHints, req.MealType)
	if err != nil {
		h.logger.Error("append entry", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create entry")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityEntry, "created", entry.ID, map[string]any{"date": entry.Date}))

	writeJSON(w, http.StatusCreated, entry)
}

func (h *DiaryHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.entries.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		h.logger.Error("get entry", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func validAnalysis(a model.Analysis) bool {
	for _, v := range []float64{a.Calories, a.Protein, a.Fats, a.Carbs, a.Weight} {
		if v < 0 {
			return false
		}
	}
	return true
}

func (h *DiaryHandler) UpdateAnalysis(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var a model.Analysis
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !validAnalysis(a) {
		writeError(w, http.StatusBadRequest, "nutrient values must not be negative")
		return
	}

	err := h.entries.UpdateAnalysis(r.Context(), id, a)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		h.logger.Error("update analysis", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update entry")
		return
	}

	entry, err := h.entries.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get entry")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityEntry, "analyzed", id, map[string]any{"date": entry.Date}))

	writeJSON(w, http.StatusOK, entry)
}

func (h *DiaryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	entry, err := h.entries.Get(r.Context(), id)
	if err == nil {
		err = h.entries.Remove(r.Context(), id)
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		h.logger.Error("remove entry", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete entry")
		return
	}

	h.broadcast(websocket.NewMessage(websocket.EntityEntry, "deleted", id, map[string]any{"date": entry.Date}))

	w.WriteHeader(http.StatusNoContent)
}

func (h *DiaryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if date == "today" {
		date = datekey.Today(nil)
	}
	if !datekey.Valid(date) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	var target model.NutritionTarget
	for name, dst := range map[string]*float64{
		"calories": &target.Calories,
		"protein":  &target.Protein,
		"fats":     &target.Fats,
		"carbs":    &target.Carbs,
	} {
		v, ok := queryFloat(r, name)
		if !ok {
			writeError(w, http.StatusBadRequest, name+" must be a non-negative number")
			return
		}
		*dst = v
	}

	summary, err := h.entries.Summary(r.Context(), date, &target)
	if err != nil {
		h.logger.Error("daily summary", "date", date, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
