package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var modelsProvider string

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List known models and their rates",
	RunE:  runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)

	modelsCmd.Flags().StringVar(&modelsProvider, "provider", "", "Only models from this provider")
}

func runModels(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	entries := app.catalog.Entries(modelsProvider)
	if len(entries) == 0 {
		fmt.Println("No models found")
		return nil
	}

	maxName := maxModelColumn()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tPROVIDER\tINPUT $/MTOK\tOUTPUT $/MTOK")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%.4f\t%.4f\n",
			truncate(e.CanonicalID, maxName), e.Provider,
			e.InputPerMTok.Dollars(), e.OutputPerMTok.Dollars())
	}
	return w.Flush()
}

// maxModelColumn sizes the model column to the terminal, leaving room for
// the rate columns. Non-terminal output gets no truncation.
func maxModelColumn() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 0
	}
	const rateColumns = 44
	if width-rateColumns < 16 {
		return 16
	}
	return width - rateColumns
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
