package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AbdullahTarakji/tokencost/internal/ledger"
	"github.com/AbdullahTarakji/tokencost/internal/meter"
)

var (
	logModel    string
	logProvider string
	logInput    int64
	logOutput   int64
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Record an API call manually",
	Long: `Record one API call in the ledger. The model name is resolved against
the pricing catalog; unrecognized models are still recorded, with zero cost,
so the call count stays accurate.`,
	RunE: runLog,
}

func init() {
	rootCmd.AddCommand(logCmd)

	logCmd.Flags().StringVarP(&logModel, "model", "m", "", "Model name as reported by the provider (required)")
	logCmd.Flags().StringVar(&logProvider, "provider", "", "Provider hint (openai, anthropic)")
	logCmd.Flags().Int64VarP(&logInput, "input", "i", 0, "Input (prompt) token count")
	logCmd.Flags().Int64VarP(&logOutput, "output", "O", 0, "Output (completion) token count")
	_ = logCmd.MarkFlagRequired("model")
}

func runLog(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	rec, err := app.meter.Log(cmd.Context(), meter.Params{
		Model:        logModel,
		Provider:     logProvider,
		InputTokens:  logInput,
		OutputTokens: logOutput,
		Project:      app.project(),
		Source:       ledger.SourceManual,
	})
	if err != nil {
		return err
	}

	if rec.Unresolved {
		fmt.Printf("Recorded %q with zero cost: model not in pricing catalog\n", rec.RequestedModel)
		return nil
	}
	fmt.Printf("Recorded %s: %d input + %d output tokens, %s\n",
		rec.Model, rec.InputTokens, rec.OutputTokens, rec.Cost)
	return nil
}
