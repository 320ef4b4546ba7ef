package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dukerupert/mealsync/internal/model"
	"github.com/google/uuid"
)

const (
	diaryPath  = "/rest/v1/food_diary"
	appendPath = "/rest/v1/rpc/append_to_food_diary"
)

// Pull returns every diary row of userID.
func (c *Client) Pull(ctx context.Context, userID string) ([]model.RemoteRow, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("user_id", "eq."+userID)

	var rows []model.RemoteRow
	if err := c.do(ctx, http.MethodGet, diaryPath, q, nil, &rows); err != nil {
		return nil, fmt.Errorf("pull diary: %w", err)
	}
	return rows, nil
}

// Push appends a batch of entries to the user's day through the
// append_to_food_diary procedure.
func (c *Client) Push(ctx context.Context, req model.PushRequest) error {
	if err := c.do(ctx, http.MethodPost, appendPath, nil, req, nil); err != nil {
		return fmt.Errorf("append to diary: %w", err)
	}
	return nil
}

type historyRow struct {
	Date    string          `json:"date"`
	DayJSON json.RawMessage `json:"day_json"`
}

type historyItem struct {
	ID       string         `json:"id"`
	Name     *string        `json:"name"`
	Calories *float64       `json:"calories"`
	Protein  *float64       `json:"protein"`
	Fats     *float64       `json:"fats"`
	Carbs    *float64       `json:"carbs"`
	Portion  *string        `json:"portion"`
	Weight   *float64       `json:"weight"`
	FoodType *string        `json:"foodType"`
	Meal     model.MealType `json:"meal"`
}

// HistoryRemoteID is the remote id given to entries read back from day
// blobs, which carry no row id of their own.
const HistoryRemoteID = "json-loaded"

// History reads the per-day JSON blobs of userID between from and to,
// newest day first, and expands them into analyzed, synced entries.
// Rows whose day_json is not an array are skipped.
func (c *Client) History(ctx context.Context, userID, from, to string) ([]model.FoodEntry, error) {
	q := url.Values{}
	q.Set("select", "date,day_json")
	q.Set("user_id", "eq."+userID)
	q.Add("date", "gte."+from)
	q.Add("date", "lte."+to)
	q.Set("order", "date.desc")

	var rows []historyRow
	if err := c.do(ctx, http.MethodGet, diaryPath, q, nil, &rows); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	entries := []model.FoodEntry{}
	for _, row := range rows {
		var items []historyItem
		if err := json.Unmarshal(row.DayJSON, &items); err != nil {
			c.logger.Warn("skipping history day", "date", row.Date, "error", err)
			continue
		}

		created, err := parseNoon(row.Date)
		if err != nil {
			c.logger.Warn("skipping history day", "date", row.Date, "error", err)
			continue
		}

		for _, it := range items {
			id := it.ID
			if id == "" {
				id = "hist-" + uuid.NewString()
			}
			remoteID := HistoryRemoteID
			entries = append(entries, model.FoodEntry{
				ID:        id,
				RemoteID:  &remoteID,
				UserID:    userID,
				CreatedAt: created,
				Date:      row.Date,
				MealType:  it.Meal,
				Analyzed:  true,
				Synced:    true,
				FoodName:  it.Name,
				Calories:  it.Calories,
				Protein:   it.Protein,
				Fats:      it.Fats,
				Carbs:     it.Carbs,
				Portion:   it.Portion,
				Weight:    it.Weight,
				FoodType:  it.FoodType,
			})
		}
	}

	c.logger.Info("loaded history", "entries", len(entries), "from", from, "to", to)
	return entries, nil
}

// parseNoon places a history day at 12:00 UTC; day blobs carry no
// per-entry timestamps.
func parseNoon(date string) (time.Time, error) {
	return time.Parse(time.RFC3339, date+"T12:00:00Z")
}
