package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dukerupert/mealsync/internal/datekey"
	"github.com/dukerupert/mealsync/internal/model"
	"github.com/spf13/cobra"
)

var entriesCmd = &cobra.Command{
	Use:     "entries",
	GroupID: "diary",
	Short:   "List and edit diary entries",
}

var entriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries, optionally within a date range",
	Example: `  mealsync entries list
  mealsync entries list --from 2026-10-01 --to 2026-10-16`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		for _, d := range []string{from, to} {
			if d != "" && !datekey.Valid(d) {
				return fmt.Errorf("invalid date %q, want YYYY-MM-DD", d)
			}
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.srv.Entries().Query(cmd.Context(), from, to)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(entries)
		}
		printEntries(entries)
		return nil
	},
}

var entriesAddCmd = &cobra.Command{
	Use:   "add <photo-uri>",
	Short: "Log a new entry for today",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hints, _ := cmd.Flags().GetString("hints")
		meal, _ := cmd.Flags().GetString("meal")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.srv.Entries().Append(cmd.Context(), args[0], hints, model.MealType(strings.ToUpper(meal)))
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(e)
		}
		fmt.Printf("Added %s (%s)\n", e.ID, e.Date)
		return nil
	},
}

var entriesAnalyzeCmd = &cobra.Command{
	Use:   "analyze <id>",
	Short: "Record analysis results for an entry",
	Example: `  mealsync entries analyze 3f2c... --name "Chicken rice" --calories 450 \
    --protein 35 --fats 10 --carbs 50 --portion "1 bowl" --weight 300`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		var an model.Analysis
		an.FoodName, _ = f.GetString("name")
		an.FoodType, _ = f.GetString("type")
		an.Portion, _ = f.GetString("portion")
		an.Calories, _ = f.GetFloat64("calories")
		an.Protein, _ = f.GetFloat64("protein")
		an.Fats, _ = f.GetFloat64("fats")
		an.Carbs, _ = f.GetFloat64("carbs")
		an.Weight, _ = f.GetFloat64("weight")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.srv.Entries().Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := a.srv.Entries().UpdateAnalysis(cmd.Context(), e.ID, an); err != nil {
			return err
		}
		an.Apply(e)
		if jsonOutput {
			return printJSON(e)
		}
		printEntries([]model.FoodEntry{*e})
		return nil
	},
}

var entriesRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.srv.Entries().Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

func init() {
	entriesListCmd.Flags().String("from", "", "First date (YYYY-MM-DD)")
	entriesListCmd.Flags().String("to", "", "Last date (YYYY-MM-DD)")

	entriesAddCmd.Flags().String("hints", "", "Free-text hints for analysis")
	entriesAddCmd.Flags().String("meal", "", "Meal type: breakfast, lunch, dinner or snack")

	f := entriesAnalyzeCmd.Flags()
	f.String("name", "", "Food name")
	f.String("type", "", "Food type")
	f.String("portion", "", "Portion description")
	f.Float64("calories", 0, "Calories (kcal)")
	f.Float64("protein", 0, "Protein (g)")
	f.Float64("fats", 0, "Fats (g)")
	f.Float64("carbs", 0, "Carbohydrates (g)")
	f.Float64("weight", 0, "Weight (g)")

	entriesCmd.AddCommand(entriesListCmd, entriesAddCmd, entriesAnalyzeCmd, entriesRmCmd)
	rootCmd.AddCommand(entriesCmd)
}

func printEntries(entries []model.FoodEntry) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tMEAL\tFOOD\tKCAL\tSTATE")
	for _, e := range entries {
		name, kcal := "-", "-"
		if e.FoodName != nil && *e.FoodName != "" {
			name = *e.FoodName
		}
		if e.Calories != nil {
			kcal = fmt.Sprintf("%.0f", *e.Calories)
		}
		meal := string(e.MealType)
		if meal == "" {
			meal = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.Date, meal, name, kcal, entryState(e))
	}
	tw.Flush()
}

func entryState(e model.FoodEntry) string {
	switch {
	case e.Synced:
		return "synced"
	case e.Analyzed:
		return "analyzed"
	default:
		return "pending"
	}
}
