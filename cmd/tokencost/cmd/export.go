package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AbdullahTarakji/tokencost/internal/export"
	"github.com/AbdullahTarakji/tokencost/internal/ledger"
)

var (
	exportFormat   string
	exportOut      string
	exportSince    string
	exportUntil    string
	exportModel    string
	exportProject  string
	exportProvider string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export raw ledger records",
	Long:  `Export ledger records as CSV or JSON, to stdout or a file.`,
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", export.FormatCSV, "Output format (csv, json)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Write to file instead of stdout")
	exportCmd.Flags().StringVar(&exportSince, "since", "", "Only records on or after this date (YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportUntil, "until", "", "Only records before this date (YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportModel, "model", "", "Only records for this model")
	exportCmd.Flags().StringVar(&exportProject, "filter-project", "", "Only records for this project")
	exportCmd.Flags().StringVar(&exportProvider, "provider", "", "Only records for this provider")
}

func runExport(cmd *cobra.Command, args []string) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()

	f := ledger.Filter{
		Provider: exportProvider,
		Model:    exportModel,
		Project:  exportProject,
	}
	if exportSince != "" {
		if f.Since, err = parseDay(exportSince); err != nil {
			return err
		}
	}
	if exportUntil != "" {
		if f.Until, err = parseDay(exportUntil); err != nil {
			return err
		}
	}

	records, err := app.store.Records(cmd.Context(), f)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if exportOut != "" {
		file, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer func() { _ = file.Close() }()
		w = file
	}

	if err := export.Write(w, exportFormat, records); err != nil {
		return err
	}
	if exportOut != "" {
		fmt.Printf("Exported %d records to %s\n", len(records), exportOut)
	}
	return nil
}
