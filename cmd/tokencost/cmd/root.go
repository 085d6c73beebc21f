// Package cmd implements the tokencost command line interface.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/AbdullahTarakji/tokencost/internal/budget"
	"github.com/AbdullahTarakji/tokencost/internal/config"
	"github.com/AbdullahTarakji/tokencost/internal/ledger"
	"github.com/AbdullahTarakji/tokencost/internal/meter"
	"github.com/AbdullahTarakji/tokencost/internal/pricing"
)

var (
	configPath   string
	projectFlag  string
	debugFlag    bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "tokencost",
	Short: "Track and meter LLM API spend",
	Long: `tokencost records LLM API usage and turns token counts into dollar costs.

It can log calls manually, run a transparent metering proxy in front of
OpenAI- and Anthropic-style APIs, summarize spend over time, and enforce
budget alerts.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(debugFlag)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default ~/.tokencost/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&projectFlag, "project", "", "Project tag for recorded usage")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
}

// setupLogging configures the global zerolog logger. CLI output goes to
// stdout; logs go to stderr so they never corrupt piped output.
func setupLogging(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
}

// app bundles the shared dependencies a command needs: config, the ledger
// store, and the pricing catalog with any custom models applied.
type app struct {
	cfg     *config.Config
	store   *ledger.Store
	catalog *pricing.Catalog
	meter   *meter.Meter
	monitor *budget.Monitor
}

func openApp() (*app, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, err := ledger.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger at %s: %w", cfg.DatabasePath, err)
	}

	catalog := pricing.NewCatalog()
	if len(cfg.CustomModels) > 0 {
		custom := make([]pricing.Entry, 0, len(cfg.CustomModels))
		for name, cm := range cfg.CustomModels {
			custom = append(custom, pricing.Entry{
				CanonicalID:   name,
				Provider:      cm.Provider,
				InputPerMTok:  pricing.FromDollars(cm.InputPerMTok),
				OutputPerMTok: pricing.FromDollars(cm.OutputPerMTok),
			})
		}
		catalog.RegisterCustom(custom)
	}

	return &app{
		cfg:     cfg,
		store:   store,
		catalog: catalog,
		meter:   meter.New(catalog, store),
		monitor: budget.NewMonitor(store),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Debug().Err(err).Msg("failed to close ledger")
	}
}

// project returns the effective project tag: flag first, then config.
func (a *app) project() string {
	if projectFlag != "" {
		return projectFlag
	}
	return a.cfg.DefaultProject
}

// parseDay parses a YYYY-MM-DD date as midnight UTC.
func parseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}
