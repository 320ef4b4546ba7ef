package model

import (
	"strings"
	"time"
)

type MealType string

const (
	MealBreakfast MealType = "BREAKFAST"
	MealLunch     MealType = "LUNCH"
	MealDinner    MealType = "DINNER"
	MealSnack     MealType = "SNACK"
)

// Valid reports whether m is one of the known meal types. The empty
// meal type is valid: meal category is optional.
func (m MealType) Valid() bool {
	switch m {
	case "", MealBreakfast, MealLunch, MealDinner, MealSnack:
		return true
	}
	return false
}

// FoodEntry is one logged meal photo. Nutrition fields are nil until the
// entry has been analyzed.
type FoodEntry struct {
	ID        string    `json:"id"`
	RemoteID  *string   `json:"remote_id,omitempty"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Date      string    `json:"date"`
	PhotoURI  string    `json:"photo_uri"`
	UserHints string    `json:"user_hints,omitempty"`
	MealType  MealType  `json:"meal_type,omitempty"`
	Analyzed  bool      `json:"analyzed"`
	Synced    bool      `json:"synced"`

	Calories *float64 `json:"calories,omitempty"`
	Protein  *float64 `json:"protein,omitempty"`
	Fats     *float64 `json:"fats,omitempty"`
	Carbs    *float64 `json:"carbs,omitempty"`
	FoodName *string  `json:"food_name,omitempty"`
	FoodType *string  `json:"food_type,omitempty"`
	Portion  *string  `json:"portion,omitempty"`
	Weight   *float64 `json:"weight,omitempty"`
}

// Remote ids with this prefix name a per-day blob shared by many entries
// rather than a single backend row.
const blobRemoteIDPrefix = "json-"

// RowRemoteID returns the remote id when it identifies a single backend
// row, and "" otherwise.
func (e FoodEntry) RowRemoteID() string {
	if e.RemoteID == nil || strings.HasPrefix(*e.RemoteID, blobRemoteIDPrefix) {
		return ""
	}
	return *e.RemoteID
}

// Analysis is the result of photo analysis, applied to an entry once.
type Analysis struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Fats     float64 `json:"fats"`
	Carbs    float64 `json:"carbs"`
	FoodName string  `json:"food_name"`
	Portion  string  `json:"portion"`
	Weight   float64 `json:"weight"`
	FoodType string  `json:"food_type"`
}

// Apply copies the analysis into e and flags it analyzed.
func (a Analysis) Apply(e *FoodEntry) {
	e.Analyzed = true
	e.Calories = &a.Calories
	e.Protein = &a.Protein
	e.Fats = &a.Fats
	e.Carbs = &a.Carbs
	e.FoodName = &a.FoodName
	e.Portion = &a.Portion
	e.Weight = &a.Weight
	e.FoodType = &a.FoodType
}
