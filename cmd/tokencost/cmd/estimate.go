package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AbdullahTarakji/tokencost/internal/estimator"
	"github.com/AbdullahTarakji/tokencost/internal/ledger"
	"github.com/AbdullahTarakji/tokencost/internal/meter"
)

var (
	estimateModel string
	estimateLog   bool
)

var estimateCmd = &cobra.Command{
	Use:   "estimate [text]",
	Short: "Estimate the input cost of a prompt",
	Long: `Estimate the token count and input cost of a prompt before sending it.
Reads text from arguments, or from stdin when no argument (or "-") is given.

OpenAI models are counted with a real tokenizer; other providers use an
approximation of four characters per token.`,
	RunE: runEstimate,
}

func init() {
	rootCmd.AddCommand(estimateCmd)

	estimateCmd.Flags().StringVarP(&estimateModel, "model", "m", "", "Model to price against (required)")
	estimateCmd.Flags().BoolVar(&estimateLog, "log", false, "Also record the estimate in the ledger (excluded from spend)")
	_ = estimateCmd.MarkFlagRequired("model")
}

func runEstimate(cmd *cobra.Command, args []string) error {
	text, err := estimateInput(args)
	if err != nil {
		return err
	}

	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	est, err := estimator.New(app.catalog).Estimate(text, estimateModel)
	if err != nil {
		return err
	}

	precision := "approximate"
	if est.ExactTokens {
		precision = "tokenizer"
	}
	fmt.Printf("Model:        %s\n", est.Model)
	fmt.Printf("Input tokens: %d (%s)\n", est.TokenCount, precision)
	fmt.Printf("Input cost:   %s\n", est.InputCost)

	if estimateLog {
		rec, err := app.meter.Log(cmd.Context(), meter.Params{
			Model:       estimateModel,
			InputTokens: est.TokenCount,
			Project:     app.project(),
			Source:      ledger.SourceEstimate,
		})
		if err != nil {
			return fmt.Errorf("failed to log estimate: %w", err)
		}
		fmt.Printf("Logged estimate as record %d (not counted toward spend)\n", rec.ID)
	}
	return nil
}

func estimateInput(args []string) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("no text to estimate: pass it as an argument or on stdin")
	}
	return string(data), nil
}
