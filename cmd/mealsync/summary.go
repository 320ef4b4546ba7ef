package main

import (
	"fmt"

	"github.com/dukerupert/mealsync/internal/datekey"
	"github.com/dukerupert/mealsync/internal/model"
	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:     "summary [date]",
	GroupID: "diary",
	Short:   "Show nutrition totals and progress for a day (default today)",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date := datekey.Today(nil)
		if len(args) == 1 {
			date = args[0]
		}
		if !datekey.Valid(date) {
			return fmt.Errorf("invalid date %q, want YYYY-MM-DD", date)
		}

		var target model.NutritionTarget
		f := cmd.Flags()
		target.Calories, _ = f.GetFloat64("calories")
		target.Protein, _ = f.GetFloat64("protein")
		target.Fats, _ = f.GetFloat64("fats")
		target.Carbs, _ = f.GetFloat64("carbs")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.srv.Entries().Summary(cmd.Context(), date, &target)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(s)
		}

		t := target.WithDefaults()
		fmt.Printf("%s  (%d entries)\n", s.Date, len(s.Entries))
		fmt.Printf("  calories  %7.0f / %-6.0f %3d%%\n", s.TotalCalories, t.Calories, s.CaloriesProgress)
		fmt.Printf("  protein   %7.1f / %-6.0f %3d%%\n", s.TotalProtein, t.Protein, s.ProteinProgress)
		fmt.Printf("  fats      %7.1f / %-6.0f %3d%%\n", s.TotalFats, t.Fats, s.FatsProgress)
		fmt.Printf("  carbs     %7.1f / %-6.0f %3d%%\n", s.TotalCarbs, t.Carbs, s.CarbsProgress)
		return nil
	},
}

func init() {
	f := summaryCmd.Flags()
	f.Float64("calories", 0, "Daily calorie target (default 2000)")
	f.Float64("protein", 0, "Daily protein target in grams (default 150)")
	f.Float64("fats", 0, "Daily fat target in grams (default 65)")
	f.Float64("carbs", 0, "Daily carbohydrate target in grams (default 250)")
	rootCmd.AddCommand(summaryCmd)
}
