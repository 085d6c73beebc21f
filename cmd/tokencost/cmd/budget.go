package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AbdullahTarakji/tokencost/internal/budget"
	"github.com/AbdullahTarakji/tokencost/internal/pricing"
	"github.com/AbdullahTarakji/tokencost/internal/utils"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Manage spending budgets",
}

var budgetSetCmd = &cobra.Command{
	Use:   "set <period> <amount>",
	Short: "Set a budget limit in dollars",
	Long: `Set a spending limit for a period (daily, weekly, monthly). The amount
is in dollars. Setting a period that already has a limit replaces it.`,
	Args: cobra.ExactArgs(2),
	RunE: runBudgetSet,
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show spend against each budget",
	RunE:  runBudgetStatus,
}

func init() {
	rootCmd.AddCommand(budgetCmd)
	budgetCmd.AddCommand(budgetSetCmd)
	budgetCmd.AddCommand(budgetStatusCmd)
}

func runBudgetSet(cmd *cobra.Command, args []string) error {
	period := args[0]
	dollars, err := strconv.ParseFloat(args[1], 64)
	if err != nil || dollars < 0 {
		return fmt.Errorf("invalid amount %q (want a non-negative dollar value)", args[1])
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	limit := pricing.FromDollars(dollars)
	if err := app.store.SetBudgetLimit(cmd.Context(), period, limit); err != nil {
		return err
	}
	fmt.Printf("Budget set: %s limit %s\n", period, limit)
	return nil
}

func runBudgetStatus(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	statuses, err := app.monitor.All(cmd.Context())
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		type jsonStatus struct {
			Period     string  `json:"period"`
			SpentUSD   float64 `json:"spent_usd"`
			LimitUSD   float64 `json:"limit_usd,omitempty"`
			HasLimit   bool    `json:"has_limit"`
			Ratio      float64 `json:"ratio"`
			AlertLevel string  `json:"alert_level"`
		}
		out := make([]jsonStatus, 0, len(statuses))
		for _, st := range statuses {
			out = append(out, jsonStatus{
				Period:     st.Period,
				SpentUSD:   st.Spent.Dollars(),
				LimitUSD:   st.Limit.Dollars(),
				HasLimit:   st.HasLimit,
				Ratio:      st.Ratio,
				AlertLevel: st.AlertLevel,
			})
		}
		data, err := utils.MarshalNoEscape(out)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PERIOD\tSPENT\tLIMIT\tUSED\tSTATUS")
	for _, st := range statuses {
		limit, used := "-", "-"
		if st.HasLimit {
			limit = st.Limit.String()
			used = fmt.Sprintf("%.0f%%", st.Ratio*100)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", st.Period, st.Spent, limit, used, statusLabel(st))
	}
	return w.Flush()
}

func statusLabel(st budget.Status) string {
	if !st.HasLimit {
		return "no limit"
	}
	return st.AlertLevel
}
