package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AbdullahTarakji/tokencost/internal/budget"
	"github.com/AbdullahTarakji/tokencost/internal/ledger"
	"github.com/AbdullahTarakji/tokencost/internal/utils"
)

var (
	summaryPeriod string
	summaryBy     string
	summarySince  string
	summaryUntil  string
	summaryTrend  int
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize recorded spend",
	Long: `Summarize recorded spend over a time window, grouped by model, project,
or provider. The window defaults to the current calendar period; --since and
--until select an explicit range instead.`,
	RunE: runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)

	summaryCmd.Flags().StringVarP(&summaryPeriod, "period", "p", ledger.PeriodMonthly, "Window (daily, weekly, monthly, all)")
	summaryCmd.Flags().StringVar(&summaryBy, "by", string(ledger.GroupModel), "Group by (model, project, provider, none)")
	summaryCmd.Flags().StringVar(&summarySince, "since", "", "Window start (YYYY-MM-DD, overrides --period)")
	summaryCmd.Flags().StringVar(&summaryUntil, "until", "", "Window end, exclusive (YYYY-MM-DD)")
	summaryCmd.Flags().IntVar(&summaryTrend, "trend", 0, "Also show a daily cost trend for the last N days")
}

func runSummary(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	since, until, err := summaryWindow()
	if err != nil {
		return err
	}

	groupBy := ledger.GroupBy(summaryBy)
	rows, err := app.store.Aggregate(cmd.Context(), since, until, groupBy)
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return printSummaryJSON(rows)
	}

	printWindow(since, until)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if groupBy == ledger.GroupNone {
		fmt.Fprintln(w, "CALLS\tINPUT TOK\tOUTPUT TOK\tCOST")
		for _, r := range rows {
			fmt.Fprintf(w, "%d\t%d\t%d\t%s\n", r.Calls, r.InputTokens, r.OutputTokens, r.TotalCost)
		}
	} else {
		fmt.Fprintf(w, "%s\tCALLS\tINPUT TOK\tOUTPUT TOK\tCOST\n", headerFor(groupBy))
		var total ledger.AggregateRow
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", r.Key, r.Calls, r.InputTokens, r.OutputTokens, r.TotalCost)
			total.Calls += r.Calls
			total.InputTokens += r.InputTokens
			total.OutputTokens += r.OutputTokens
			total.TotalCost += r.TotalCost
		}
		fmt.Fprintf(w, "TOTAL\t%d\t%d\t%d\t%s\n", total.Calls, total.InputTokens, total.OutputTokens, total.TotalCost)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if summaryTrend > 0 {
		return printTrend(cmd, app, summaryTrend)
	}
	return nil
}

// summaryWindow resolves the query window from flags. Explicit dates win;
// otherwise the current calendar period applies; "all" means unbounded.
func summaryWindow() (time.Time, time.Time, error) {
	var since, until time.Time
	var err error

	if summarySince != "" {
		if since, err = parseDay(summarySince); err != nil {
			return since, until, err
		}
	} else if summaryPeriod != "all" {
		if since, err = budget.PeriodStart(time.Now().UTC(), summaryPeriod); err != nil {
			return since, until, err
		}
	}
	if summaryUntil != "" {
		if until, err = parseDay(summaryUntil); err != nil {
			return since, until, err
		}
	}
	return since, until, nil
}

func printWindow(since, until time.Time) {
	switch {
	case since.IsZero() && until.IsZero():
		fmt.Println("All recorded usage")
	case until.IsZero():
		fmt.Printf("Usage since %s\n", since.Format("2006-01-02"))
	default:
		fmt.Printf("Usage from %s to %s\n", since.Format("2006-01-02"), until.Format("2006-01-02"))
	}
}

func headerFor(g ledger.GroupBy) string {
	switch g {
	case ledger.GroupProject:
		return "PROJECT"
	case ledger.GroupProvider:
		return "PROVIDER"
	default:
		return "MODEL"
	}
}

func printSummaryJSON(rows []ledger.AggregateRow) error {
	type jsonRow struct {
		Key          string  `json:"key,omitempty"`
		Calls        int64   `json:"calls"`
		InputTokens  int64   `json:"input_tokens"`
		OutputTokens int64   `json:"output_tokens"`
		CostUSD      float64 `json:"cost_usd"`
	}
	out := make([]jsonRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, jsonRow{
			Key:          r.Key,
			Calls:        r.Calls,
			InputTokens:  r.InputTokens,
			OutputTokens: r.OutputTokens,
			CostUSD:      r.TotalCost.Dollars(),
		})
	}
	data, err := utils.MarshalNoEscape(out)
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printTrend(cmd *cobra.Command, app *app, days int) error {
	trend, err := app.store.DailyCosts(cmd.Context(), days)
	if err != nil {
		return err
	}
	fmt.Printf("\nDaily costs (last %d days)\n", days)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tCALLS\tCOST")
	for _, d := range trend {
		fmt.Fprintf(w, "%s\t%d\t%s\n", d.Date, d.Calls, d.TotalCost)
	}
	return w.Flush()
}
