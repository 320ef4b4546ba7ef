package model

import "math"

// Default daily targets, used per field when the caller supplies none or a
// non-positive value.
const (
	DefaultTargetCalories = 2000
	DefaultTargetProtein  = 150
	DefaultTargetFats     = 65
	DefaultTargetCarbs    = 250
)

type NutritionTarget struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Fats     float64 `json:"fats"`
	Carbs    float64 `json:"carbs"`
}

// WithDefaults returns a copy of t with every field that is not a positive
// finite number replaced by its default. A nil target yields all defaults.
func (t *NutritionTarget) WithDefaults() NutritionTarget {
	var out NutritionTarget
	if t != nil {
		out = *t
	}
	if !usable(out.Calories) {
		out.Calories = DefaultTargetCalories
	}
	if !usable(out.Protein) {
		out.Protein = DefaultTargetProtein
	}
	if !usable(out.Fats) {
		out.Fats = DefaultTargetFats
	}
	if !usable(out.Carbs) {
		out.Carbs = DefaultTargetCarbs
	}
	return out
}

type DailyNutritionSummary struct {
	Date             string      `json:"date"`
	TotalCalories    float64     `json:"total_calories"`
	TotalProtein     float64     `json:"total_protein"`
	TotalFats        float64     `json:"total_fats"`
	TotalCarbs       float64     `json:"total_carbs"`
	CaloriesProgress int         `json:"calories_progress"`
	ProteinProgress  int         `json:"protein_progress"`
	FatsProgress     int         `json:"fats_progress"`
	CarbsProgress    int         `json:"carbs_progress"`
	Entries          []FoodEntry `json:"entries"`
}

// Summarize aggregates the analyzed entries of one day against target.
// Entries are kept in the summary whether analyzed or not.
func Summarize(date string, entries []FoodEntry, target *NutritionTarget) DailyNutritionSummary {
	s := DailyNutritionSummary{Date: date, Entries: entries}
	if s.Entries == nil {
		s.Entries = []FoodEntry{}
	}
	for _, e := range entries {
		if !e.Analyzed {
			continue
		}
		s.TotalCalories += deref(e.Calories)
		s.TotalProtein += deref(e.Protein)
		s.TotalFats += deref(e.Fats)
		s.TotalCarbs += deref(e.Carbs)
	}

	t := target.WithDefaults()
	s.CaloriesProgress = percent(s.TotalCalories, t.Calories)
	s.ProteinProgress = percent(s.TotalProtein, t.Protein)
	s.FatsProgress = percent(s.TotalFats, t.Fats)
	s.CarbsProgress = percent(s.TotalCarbs, t.Carbs)
	return s
}

func usable(f float64) bool {
	return f > 0 && !math.IsInf(f, 1)
}

func percent(total, target float64) int {
	return int(math.Round(total / target * 100))
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
